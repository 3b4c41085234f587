// Package audit implements the append-only audit trail: one JSONL file per
// UTC day, plus an optional queryable index.
package audit

import (
	"fmt"
	"reflect"
	"sort"
	"time"
)

// Status classifies the outcome of an audited operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusDenied  Status = "denied"
	StatusFailed  Status = "failed"
)

// Protocol names the adapter that served the operation.
type Protocol string

const (
	ProtocolREST Protocol = "rest"
	ProtocolGRPC Protocol = "grpc"
)

// Event is a single audit record. Parameters are limited to the request
// surface; bearer tokens never appear here.
type Event struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Principal  string         `json:"principal"`
	KeyID      string         `json:"key_id"`
	Operation  string         `json:"operation"`
	Status     Status         `json:"status"`
	Protocol   Protocol       `json:"protocol,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Outcome    map[string]any `json:"outcome,omitempty"`
}

// Sanitize recursively converts a value into a JSON-safe form: maps stay
// maps (string keys), slices and sets become arrays, scalars pass through,
// anything else becomes its string form.
func Sanitize(v any) any {
	switch val := v.(type) {
	case nil, bool, string, float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case error:
		return val.Error()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		for _, key := range rv.MapKeys() {
			out[fmt.Sprintf("%v", key.Interface())] = Sanitize(rv.MapIndex(key).Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Sanitize(rv.Index(i).Interface())
		}
		return out
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Sanitize(rv.Elem().Interface())
	default:
		return fmt.Sprintf("%v", v)
	}
}

// SanitizeMap applies Sanitize to every value of a parameter map, returning
// a new map with deterministic contents.
func SanitizeMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[k] = Sanitize(in[k])
	}
	return out
}
