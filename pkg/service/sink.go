package service

// ProgressSink receives streaming progress events from long-running
// operations. Each protocol adapter implements it once.
type ProgressSink interface {
	Emit(event map[string]any) error
	Close() error
}

// NopSink discards every event. Used by unary callers.
type NopSink struct{}

func (NopSink) Emit(map[string]any) error { return nil }
func (NopSink) Close() error              { return nil }
