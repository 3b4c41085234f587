// Package rpc adapts the service operations to gRPC. Messages travel as
// JSON through a custom codec; the service descriptors are assembled by
// hand against the contract documented in proto/hephaestus.proto.
package rpc

import (
	"encoding/json"
	"fmt"
)

// CodecName identifies the JSON codec in content subtypes.
const CodecName = "json"

// jsonCodec marshals RPC messages as JSON.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode JSON message: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return CodecName }
