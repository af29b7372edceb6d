// Package ingest receives raw device observations over MQTT and feeds them
// to the track aggregator. Sensing devices publish one JSON message per
// detected object per frame; malformed messages are dropped with a log line
// rather than wedging the subscription.
package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/retailsense/venueflow/internal/geo"
	"github.com/retailsense/venueflow/internal/monitoring"
	"github.com/retailsense/venueflow/internal/track"
)

// observationMessage is the wire format devices publish.
type observationMessage struct {
	DeviceID    string  `json:"device_id"`
	LocalID     string  `json:"local_id"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Z           float64 `json:"z"`
	Velocity    float64 `json:"velocity"`
	ObjectType  string  `json:"object_type"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// DecodeObservation parses one device message. Positions stay in the device
// frame; the aggregator applies the placement transform.
func DecodeObservation(payload []byte) (track.Observation, error) {
	var m observationMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return track.Observation{}, fmt.Errorf("parse observation: %w", err)
	}
	if m.DeviceID == "" || m.LocalID == "" {
		return track.Observation{}, fmt.Errorf("observation missing device_id or local_id")
	}
	if m.TimestampMs <= 0 {
		return track.Observation{}, fmt.Errorf("observation missing timestamp_ms")
	}
	return track.Observation{
		DeviceID:   m.DeviceID,
		LocalID:    m.LocalID,
		Position:   geo.Point{X: m.X, Y: m.Y, Z: m.Z},
		Velocity:   m.Velocity,
		ObjectType: m.ObjectType,
		Timestamp:  time.UnixMilli(m.TimestampMs).UTC(),
	}, nil
}

// Sink is where decoded observations go.
type Sink interface {
	AddObservation(track.Observation)
}

// Subscriber is the MQTT ingest worker.
type Subscriber struct {
	broker string
	topic  string
	sink   Sink
	client mqtt.Client
}

// NewSubscriber creates a subscriber for the given broker URL (for example
// tcp://localhost:1883) and topic filter.
func NewSubscriber(broker, topic string, sink Sink) *Subscriber {
	return &Subscriber{broker: broker, topic: topic, sink: sink}
}

// Start connects and subscribes. The paho client reconnects and resubscribes
// on its own after broker hiccups.
func (s *Subscriber) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.broker)
	opts.SetClientID(fmt.Sprintf("venueflow-ingest-%d", time.Now().Unix()))
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.OnConnect = func(c mqtt.Client) {
		monitoring.Logf("mqtt connected, subscribing to %s", s.topic)
		if token := c.Subscribe(s.topic, 1, s.handleMessage); token.Wait() && token.Error() != nil {
			monitoring.Logf("mqtt subscribe failed: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		monitoring.Logf("mqtt connection lost: %v", err)
	}

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w", s.broker, token.Error())
	}
	return nil
}

func (s *Subscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	obs, err := DecodeObservation(msg.Payload())
	if err != nil {
		monitoring.Debugf("dropping observation on %s: %v", msg.Topic(), err)
		return
	}
	s.sink.AddObservation(obs)
}

// Stop disconnects, allowing in-flight handlers a moment to finish.
func (s *Subscriber) Stop() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}
