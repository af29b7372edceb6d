// Package report renders self-contained HTML KPI reports for a zone:
// an occupancy time series and a visit-duration histogram, charted with
// echarts. Operators grab these ad hoc; dashboards use the JSON API.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/retailsense/venueflow/internal/kpi"
)

// Generator renders zone reports from the KPI calculator.
type Generator struct {
	calc *kpi.Calculator
}

// New creates a generator.
func New(calc *kpi.Calculator) *Generator {
	return &Generator{calc: calc}
}

// WriteZoneReport renders the occupancy and dwell charts for one zone into w.
func (g *Generator) WriteZoneReport(w io.Writer, zoneID string, win kpi.Window) error {
	zr, err := g.calc.ZoneReport(zoneID, win)
	if err != nil {
		return fmt.Errorf("report %s: %w", zoneID, err)
	}
	series, err := g.calc.OccupancySeries(zoneID, win, time.Minute)
	if err != nil {
		return fmt.Errorf("report %s: %w", zoneID, err)
	}

	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("Zone %s", zoneID)
	page.AddCharts(occupancyChart(zoneID, series), dwellChart(zoneID, zr))

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report %s: %w", zoneID, err)
	}
	return nil
}

func occupancyChart(zoneID string, series []kpi.OccupancyPoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Occupancy: %s", zoneID),
			Subtitle: "average and peak per minute",
		}),
	)

	labels := make([]string, len(series))
	avg := make([]opts.LineData, len(series))
	peak := make([]opts.LineData, len(series))
	for i, p := range series {
		labels[i] = time.UnixMilli(p.TimestampMs).UTC().Format("15:04")
		avg[i] = opts.LineData{Value: p.Avg}
		peak[i] = opts.LineData{Value: p.Peak}
	}

	line.SetXAxis(labels).
		AddSeries("avg", avg).
		AddSeries("peak", peak)
	return line
}

func dwellChart(zoneID string, zr *kpi.ZoneReport) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Visit durations: %s", zoneID),
			Subtitle: fmt.Sprintf("%d visits, %d dwells", zr.Visits, zr.DwellCount),
		}),
	)

	labels := make([]string, len(zr.DwellHistogram))
	values := make([]opts.BarData, len(zr.DwellHistogram))
	for i, b := range zr.DwellHistogram {
		if b.UpToMs > 0 {
			labels[i] = fmt.Sprintf("<%ds", b.UpToMs/1000)
		} else {
			labels[i] = "longer"
		}
		values[i] = opts.BarData{Value: b.Count}
	}

	bar.SetXAxis(labels).AddSeries("visits", values)
	return bar
}
