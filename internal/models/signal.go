package models

import (
	"encoding/json"
	"time"
)

// Sample is one reading in a signal series. Timestamps within a series are
// strictly increasing; the parser synthesizes ordering when the source omits it.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// sampleWire is the JSON shape used on every external surface:
// epoch milliseconds plus the raw value.
type sampleWire struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal(sampleWire{
		Timestamp: s.Timestamp.UnixMilli(),
		Value:     s.Value,
	})
}

func (s *Sample) UnmarshalJSON(data []byte) error {
	var w sampleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.Timestamp = time.UnixMilli(w.Timestamp).UTC()
	s.Value = w.Value
	return nil
}

// BroadcastMessage carries one inserted sample to live subscribers.
// Ephemeral: delivery is at-most-once and only to currently connected listeners.
type BroadcastMessage struct {
	EntityID string `json:"entityId"`
	Sample   Sample `json:"sample"`
}

// SignalReading is a live reading arriving over MQTT before it enters the pipeline.
type SignalReading struct {
	Timestamp time.Time `json:"timestamp"`
	EntityID  string    `json:"entity_id"`
	Value     float64   `json:"value"`
}

// Entity is one tracked subject (a cultivated mushroom) owning a signal series.
type Entity struct {
	EntityID  string    `json:"entity_id"`
	Name      string    `json:"name"`
	Species   string    `json:"species"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
	IsActive  bool      `json:"is_active"`
}
