package mapper

import (
	"time"
)

// Kind identifies which platform collection a mapped entity belongs to.
type Kind string

const (
	KindMeasurement Kind = "measurement"
	KindEvent       Kind = "event"
	KindAlarm       Kind = "alarm"
)

// Entity is the mapped form of a device payload, ready for submission to the
// platform. It is a closed union: the only implementations are *Measurement,
// *Event and *Alarm, so callers can dispatch with an exhaustive type switch.
// Every entity carries a non-empty device identifier and a UTC timestamp.
type Entity interface {
	Kind() Kind
	// Device returns the external identifier of the originating device.
	Device() string
	// Timestamp returns the entity time, always in UTC.
	Timestamp() time.Time

	isEntity()
}

// Sample is a single named reading within a measurement series.
type Sample struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// Measurement is a set of named samples taken by a device at one instant.
type Measurement struct {
	DeviceID string
	Type     string
	Time     time.Time
	Series   map[string]Sample
}

func (m *Measurement) Kind() Kind           { return KindMeasurement }
func (m *Measurement) Device() string       { return m.DeviceID }
func (m *Measurement) Timestamp() time.Time { return m.Time }
func (m *Measurement) isEntity()            {}

// Event is a discrete occurrence reported by a device.
type Event struct {
	DeviceID string
	Type     string
	Text     string
	Time     time.Time
}

func (e *Event) Kind() Kind           { return KindEvent }
func (e *Event) Device() string       { return e.DeviceID }
func (e *Event) Timestamp() time.Time { return e.Time }
func (e *Event) isEntity()            {}

// Alarm is an event that requires operator attention. Severity is never
// empty; payloads without one get the configured default.
type Alarm struct {
	DeviceID string
	Type     string
	Text     string
	Severity string
	Time     time.Time
}

func (a *Alarm) Kind() Kind           { return KindAlarm }
func (a *Alarm) Device() string       { return a.DeviceID }
func (a *Alarm) Timestamp() time.Time { return a.Time }
func (a *Alarm) isEntity()            {}
