package mapper

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the deployment-specific mapping defaults.
type Config struct {
	// DefaultMeasurementType names measurements whose payload carries no type.
	DefaultMeasurementType string
	// DefaultEventType names events whose payload carries no type.
	DefaultEventType string
	// DefaultAlarmType names alarms whose payload carries no type.
	DefaultAlarmType string
	// DefaultAlarmSeverity is applied to alarms without a severity field.
	DefaultAlarmSeverity string
	// Units maps known series names to their unit, applied when the payload
	// does not state one.
	Units map[string]string
}

// LoadDefaultConfig returns the mapping defaults used when no overrides are
// configured.
func LoadDefaultConfig() Config {
	return Config{
		DefaultMeasurementType: "mqtt_Measurement",
		DefaultEventType:       "mqtt_Event",
		DefaultAlarmType:       "mqtt_Alarm",
		DefaultAlarmSeverity:   "MINOR",
		Units: map[string]string{
			"temperature": "°C",
			"pressure":    "kPa",
		},
	}
}

// Mapper turns decoded payloads into platform entities. It is pure and
// stateless apart from an injectable clock, so a single instance is safe for
// concurrent use across all pipeline workers.
type Mapper struct {
	cfg Config
	now func() time.Time
}

// NewMapper creates a Mapper. Zero-valued config fields fall back to the
// defaults from LoadDefaultConfig.
func NewMapper(cfg Config) *Mapper {
	defaults := LoadDefaultConfig()
	if cfg.DefaultMeasurementType == "" {
		cfg.DefaultMeasurementType = defaults.DefaultMeasurementType
	}
	if cfg.DefaultEventType == "" {
		cfg.DefaultEventType = defaults.DefaultEventType
	}
	if cfg.DefaultAlarmType == "" {
		cfg.DefaultAlarmType = defaults.DefaultAlarmType
	}
	if cfg.DefaultAlarmSeverity == "" {
		cfg.DefaultAlarmSeverity = defaults.DefaultAlarmSeverity
	}
	if cfg.Units == nil {
		cfg.Units = defaults.Units
	}
	return &Mapper{cfg: cfg, now: time.Now}
}

// WithClock replaces the ingestion-time source used for payloads that carry
// no timestamp. Intended for tests.
func (m *Mapper) WithClock(now func() time.Time) *Mapper {
	m.now = now
	return m
}

// Map converts one decoded payload into exactly one entity. The payload's
// "type" field selects the entity kind; payloads without a recognized type
// map to a measurement built from their numeric fields. Map performs no I/O
// and, given a fixed clock, is idempotent.
func (m *Mapper) Map(p DecodedPayload) (Entity, error) {
	device := deviceID(p)
	if device == "" {
		return nil, &MappingError{
			Fault:  FaultMissingDeviceID,
			Detail: "payload has no device identifier field",
		}
	}

	ts, err := m.timestamp(p)
	if err != nil {
		return nil, err
	}

	data, _ := p["data"].(map[string]any)

	switch strings.ToLower(stringField(p, "type")) {
	case "measurement":
		return m.measurement(p, data, device, ts), nil
	case "event":
		return m.event(p, data, device, ts), nil
	case "alarm":
		return m.alarm(p, data, device, ts), nil
	default:
		// Any unrecognized or absent type lands here; a telemetry payload
		// is a measurement unless it says otherwise.
		return m.flatMeasurement(p, data, device, ts), nil
	}
}

// deviceKeys are the payload fields inspected for a device identifier, in
// precedence order.
var deviceKeys = []string{"device_id", "deviceId", "source"}

func deviceID(p DecodedPayload) string {
	for _, k := range deviceKeys {
		if s, ok := p[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// timestampKeys are the payload fields accepted for the entity time.
var timestampKeys = []string{"timestamp", "time"}

func (m *Mapper) timestamp(p DecodedPayload) (time.Time, error) {
	for _, k := range timestampKeys {
		v, ok := p[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return time.Time{}, &MappingError{
					Fault:  FaultInvalidTimestamp,
					Detail: fmt.Sprintf("cannot parse %q as RFC 3339", t),
				}
			}
			return parsed.UTC(), nil
		case float64:
			// JSON numbers decode to float64; treat them as epoch milliseconds.
			return time.UnixMilli(int64(t)).UTC(), nil
		default:
			return time.Time{}, &MappingError{
				Fault:  FaultInvalidTimestamp,
				Detail: fmt.Sprintf("unsupported timestamp type %T", v),
			}
		}
	}
	// No timestamp at all: stamp with ingestion time.
	return m.now().UTC(), nil
}

// measurement builds an explicitly typed measurement: the data object, when
// present, is the sample source.
func (m *Mapper) measurement(p DecodedPayload, data map[string]any, device string, ts time.Time) *Measurement {
	fields := map[string]any(p)
	if data != nil {
		fields = data
	}
	series := make(map[string]Sample)
	collectSamples(fields, m.cfg.Units, series)
	return &Measurement{
		DeviceID: device,
		Type:     m.typeName(p, data, m.cfg.DefaultMeasurementType),
		Time:     ts,
		Series:   series,
	}
}

// flatMeasurement builds a measurement from the top-level numeric fields of
// an untyped payload, reaching into the data object only when the top level
// has none.
func (m *Mapper) flatMeasurement(p DecodedPayload, data map[string]any, device string, ts time.Time) *Measurement {
	series := make(map[string]Sample)
	collectSamples(p, m.cfg.Units, series)
	if len(series) == 0 && data != nil {
		collectSamples(data, m.cfg.Units, series)
	}
	return &Measurement{
		DeviceID: device,
		Type:     m.typeName(p, data, m.cfg.DefaultMeasurementType),
		Time:     ts,
		Series:   series,
	}
}

func (m *Mapper) event(p DecodedPayload, data map[string]any, device string, ts time.Time) *Event {
	typ := m.typeName(p, data, m.cfg.DefaultEventType)
	text := stringField2(p, data, "text")
	if text == "" {
		text = typ
	}
	return &Event{DeviceID: device, Type: typ, Text: text, Time: ts}
}

func (m *Mapper) alarm(p DecodedPayload, data map[string]any, device string, ts time.Time) *Alarm {
	typ := m.typeName(p, data, m.cfg.DefaultAlarmType)
	text := stringField2(p, data, "text")
	if text == "" {
		text = typ
	}
	severity := strings.ToUpper(stringField2(p, data, "severity"))
	if severity == "" {
		severity = m.cfg.DefaultAlarmSeverity
	}
	return &Alarm{DeviceID: device, Type: typ, Text: text, Severity: severity, Time: ts}
}

// typeName picks the entity type name: the data object's "type" wins, then a
// top-level "type" that is not one of the kind keywords, then the fallback.
func (m *Mapper) typeName(p DecodedPayload, data map[string]any, fallback string) string {
	if data != nil {
		if s, ok := data["type"].(string); ok && s != "" {
			return s
		}
	}
	if s := stringField(p, "type"); s != "" {
		switch strings.ToLower(s) {
		case "measurement", "event", "alarm":
		default:
			return s
		}
	}
	return fallback
}

// reservedFields never become measurement samples.
var reservedFields = map[string]struct{}{
	"device_id": {},
	"deviceId":  {},
	"source":    {},
	"timestamp": {},
	"time":      {},
	"type":      {},
	"data":      {},
	"text":      {},
	"severity":  {},
}

// collectSamples extracts numeric readings from a field map. A field is
// either a bare number or an object carrying a numeric "value" and an
// optional "unit". Non-numeric and reserved fields are ignored.
func collectSamples(fields map[string]any, units map[string]string, into map[string]Sample) {
	for key, value := range fields {
		if _, reserved := reservedFields[key]; reserved {
			continue
		}
		switch v := value.(type) {
		case float64:
			into[key] = Sample{Value: v, Unit: units[key]}
		case map[string]any:
			val, ok := v["value"].(float64)
			if !ok {
				continue
			}
			unit, _ := v["unit"].(string)
			if unit == "" {
				unit = units[key]
			}
			into[key] = Sample{Value: val, Unit: unit}
		}
	}
}

func stringField(p DecodedPayload, key string) string {
	s, _ := p[key].(string)
	return s
}

// stringField2 looks a string field up in the data object first, then at the
// payload top level.
func stringField2(p DecodedPayload, data map[string]any, key string) string {
	if data != nil {
		if s, ok := data[key].(string); ok && s != "" {
			return s
		}
	}
	return stringField(p, key)
}
