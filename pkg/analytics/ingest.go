package analytics

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ValidationError rejects a raw event during ingest.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid analytics event: field %q %s", e.Field, e.Reason)
}

// CoerceEvent converts a raw decoded JSON object into an Event. `source`
// and `kind` must be non-empty strings. `value` and `metrics` entries are
// coerced to floats where possible; metrics entries that cannot be
// coerced are dropped silently. Timestamps accept RFC 3339, four-digit
// offsets, and naive local time; absent or unparseable timestamps get
// the current time.
func CoerceEvent(raw map[string]any, now time.Time) (Event, error) {
	source, ok := stringField(raw["source"])
	if !ok || source == "" {
		return Event{}, &ValidationError{Field: "source", Reason: "must be a non-empty string"}
	}
	kind, ok := stringField(raw["kind"])
	if !ok || kind == "" {
		return Event{}, &ValidationError{Field: "kind", Reason: "must be a non-empty string"}
	}

	event := Event{Source: source, Kind: kind, Timestamp: now}

	if v, present := raw["value"]; present && v != nil {
		if f, ok := coerceFloat(v); ok {
			event.Value = &f
		} else {
			return Event{}, &ValidationError{Field: "value", Reason: "is not numeric"}
		}
	}
	if unit, ok := stringField(raw["unit"]); ok {
		event.Unit = unit
	}
	if metrics, ok := raw["metrics"].(map[string]any); ok {
		coerced := make(map[string]float64, len(metrics))
		for key, value := range metrics {
			if f, ok := coerceFloat(value); ok {
				coerced[key] = f
			}
		}
		if len(coerced) > 0 {
			event.Metrics = coerced
		}
	}
	if metadata, ok := raw["metadata"].(map[string]any); ok {
		event.Metadata = metadata
	}
	if ts, ok := stringField(raw["timestamp"]); ok && ts != "" {
		if parsed, ok := parseTimestamp(ts); ok {
			event.Timestamp = parsed
		}
	}
	return event, nil
}

// timestampLayouts covers the formats emitted by the tools we ingest
// from. Naive timestamps are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(value string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func stringField(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func coerceFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	case json.Number:
		f, err := value.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(value, 64)
		return f, err == nil
	case bool:
		if value {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
