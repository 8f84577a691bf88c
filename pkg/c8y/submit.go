package c8y

import (
	"context"
	"fmt"
	"net/http"

	"github.com/illmade-knight/go-pulsar-mapper/pkg/mapper"
)

type sourceRef struct {
	ID string `json:"id"`
}

type eventRequest struct {
	Source sourceRef `json:"source"`
	Type   string    `json:"type"`
	Text   string    `json:"text"`
	Time   string    `json:"time"`
}

type alarmRequest struct {
	Source   sourceRef `json:"source"`
	Type     string    `json:"type"`
	Text     string    `json:"text"`
	Severity string    `json:"severity"`
	Time     string    `json:"time"`
}

// Submit posts one mapped entity to the platform, dispatching on the entity
// kind. sourceID is the platform managed object id the entity is attributed
// to. Exactly one HTTP call is made; the caller owns any retry policy.
func (c *Client) Submit(ctx context.Context, entity mapper.Entity, sourceID string) error {
	if sourceID == "" {
		return &RequestError{Op: "submit", Class: ClassPermanent, Err: fmt.Errorf("empty source id for device %q", entity.Device())}
	}
	switch e := entity.(type) {
	case *mapper.Measurement:
		return c.createMeasurement(ctx, e, sourceID)
	case *mapper.Event:
		return c.createEvent(ctx, e, sourceID)
	case *mapper.Alarm:
		return c.createAlarm(ctx, e, sourceID)
	default:
		return &RequestError{Op: "submit", Class: ClassPermanent, Err: fmt.Errorf("unsupported entity kind %q", entity.Kind())}
	}
}

func (c *Client) createMeasurement(ctx context.Context, m *mapper.Measurement, sourceID string) error {
	// The series fragment is keyed by the measurement type, per the platform
	// measurement model.
	body := map[string]any{
		"source": sourceRef{ID: sourceID},
		"time":   formatTime(m.Time),
		"type":   m.Type,
		m.Type:   m.Series,
	}
	return c.do(ctx, "create measurement", http.MethodPost, "/measurement/measurements", body, nil)
}

func (c *Client) createEvent(ctx context.Context, e *mapper.Event, sourceID string) error {
	body := eventRequest{
		Source: sourceRef{ID: sourceID},
		Type:   e.Type,
		Text:   e.Text,
		Time:   formatTime(e.Time),
	}
	return c.do(ctx, "create event", http.MethodPost, "/event/events", body, nil)
}

func (c *Client) createAlarm(ctx context.Context, a *mapper.Alarm, sourceID string) error {
	body := alarmRequest{
		Source:   sourceRef{ID: sourceID},
		Type:     a.Type,
		Text:     a.Text,
		Severity: a.Severity,
		Time:     formatTime(a.Time),
	}
	return c.do(ctx, "create alarm", http.MethodPost, "/alarm/alarms", body, nil)
}
