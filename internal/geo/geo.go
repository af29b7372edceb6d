// Package geo provides the venue coordinate transform and polygon
// containment tests used by the tracking pipeline.
package geo

import "math"

// Point is a position in the shared venue frame. X and Z span the floor
// plane; Y is height above the floor.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vertex is a single polygon corner on the floor plane.
type Vertex struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// Placement describes where a sensing device is mounted in the venue:
// its position, its yaw rotation around the vertical axis (radians),
// and the height of the mount above the floor.
type Placement struct {
	Position    Point   `json:"position"`
	YawRad      float64 `json:"yaw_rad"`
	MountHeight float64 `json:"mount_height"`
}

// ToVenue maps a device-local observation position into the venue frame:
// rotate by the placement yaw, translate by the placement position, and
// normalise height relative to the mount height.
func (p Placement) ToVenue(local Point) Point {
	sin, cos := math.Sincos(p.YawRad)
	rotatedX := local.X*cos - local.Z*sin
	rotatedZ := local.X*sin + local.Z*cos
	return Point{
		X: rotatedX + p.Position.X,
		Y: p.MountHeight - local.Y,
		Z: rotatedZ + p.Position.Z,
	}
}

// ContainsPoint reports whether the polygon described by vertices contains
// the floor-plane projection of pt, using ray casting: a vertical ray from
// the point is inside when it crosses an odd number of polygon edges. The
// half-open edge rule avoids double-counting shared vertices.
//
// Polygons with fewer than 3 vertices never contain any point.
func ContainsPoint(vertices []Vertex, pt Point) bool {
	if len(vertices) < 3 {
		return false
	}
	inside := false
	j := len(vertices) - 1
	for i := 0; i < len(vertices); i++ {
		vi, vj := vertices[i], vertices[j]
		if (vi.Z > pt.Z) != (vj.Z > pt.Z) &&
			pt.X < (vj.X-vi.X)*(pt.Z-vi.Z)/(vj.Z-vi.Z)+vi.X {
			inside = !inside
		}
		j = i
	}
	return inside
}
