package rpc

import "github.com/hephaestus-forge/hephaestus/pkg/analytics"

// Wire messages for the three services. Shapes mirror the service
// facade types so handlers mostly pass values through.

// GuardRailsRequest selects what a guard-rails evaluation covers.
type GuardRailsRequest struct {
	NoFormat      bool   `json:"no_format"`
	Workspace     string `json:"workspace"`
	DriftCheck    bool   `json:"drift_check"`
	AutoRemediate bool   `json:"auto_remediate"`
}

// Empty is the request for operations that take no arguments.
type Empty struct{}

// ProgressEvent is one frame of the guard-rails stream: a gate event
// per evaluated gate, then a final complete event.
type ProgressEvent struct {
	Type      string         `json:"type"`
	Gate      string         `json:"gate,omitempty"`
	Success   bool           `json:"success,omitempty"`
	Skipped   bool           `json:"skipped,omitempty"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Completed *bool          `json:"completed,omitempty"`
	Gates     int            `json:"gates,omitempty"`
	Duration  float64        `json:"duration,omitempty"`
}

// CleanRequest selects the cleanup root and depth.
type CleanRequest struct {
	Root      string `json:"root"`
	DeepClean bool   `json:"deep_clean"`
}

// RankingsRequest selects the ranking strategy and result size.
type RankingsRequest struct {
	Strategy string `json:"strategy"`
	Limit    int    `json:"limit"`
}

// HotspotsRequest bounds a hotspots query.
type HotspotsRequest struct {
	Limit int `json:"limit"`
}

// RawEvent is one streamed analytics record before coercion.
type RawEvent map[string]any

// HotspotList wraps a hotspots response.
type HotspotList struct {
	Hotspots []analytics.Hotspot `json:"hotspots"`
}
