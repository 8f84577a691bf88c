package mapper

import (
	"encoding/json"
	"unicode/utf8"
)

// DecodedPayload is the parsed form of a device message: a single JSON
// object with arbitrary fields. It only exists between decoding and mapping.
type DecodedPayload map[string]any

// Decode parses raw broker bytes into a DecodedPayload. The bytes must be
// valid UTF-8 encoding a JSON object; anything else returns a *DecodeError
// carrying a truncated snippet of the offending payload.
func Decode(raw []byte) (DecodedPayload, error) {
	if len(raw) == 0 {
		return nil, &DecodeError{Reason: "empty payload", Snippet: snippet(raw)}
	}
	if !utf8.Valid(raw) {
		return nil, &DecodeError{Reason: "payload is not valid UTF-8", Snippet: snippet(raw)}
	}

	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &DecodeError{Reason: "payload is not valid JSON: " + err.Error(), Snippet: snippet(raw)}
	}

	obj, ok := probe.(map[string]any)
	if !ok {
		return nil, &DecodeError{Reason: "payload is not a JSON object", Snippet: snippet(raw)}
	}
	return DecodedPayload(obj), nil
}

// MergeDeviceID adopts fallback as the payload's device identifier when the
// payload itself does not carry one. Used to fall back on the broker-level
// client id property set by the MQTT-to-broker proxy.
func MergeDeviceID(p DecodedPayload, fallback string) {
	if fallback == "" {
		return
	}
	if deviceID(p) == "" {
		p["device_id"] = fallback
	}
}
