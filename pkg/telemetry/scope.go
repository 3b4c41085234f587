package telemetry

import "context"

type scopeKey struct{}

// WithScope attaches operation-scoped fields to the context. Fields merge
// over any enclosing scope; inner values win on key collision.
func WithScope(ctx context.Context, fields map[string]any) context.Context {
	merged := mergeScope(ctx, nil)
	for k, v := range fields {
		merged[k] = v
	}
	return context.WithValue(ctx, scopeKey{}, merged)
}

// mergeScope combines the context's scoped fields with the emission fields.
// Emission fields win on collision.
func mergeScope(ctx context.Context, fields map[string]any) map[string]any {
	out := make(map[string]any)
	if scoped, ok := ctx.Value(scopeKey{}).(map[string]any); ok {
		for k, v := range scoped {
			out[k] = v
		}
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}
