// Package correlation carries the per-causal-chain correlation id through
// context.Context. Every consumer stamps the envelope's correlation id into
// the context before dispatching, and every log record picks it up from there,
// so concurrent chains in one process never observe each other's id.
package correlation

import "context"

type ctxKey struct{}

// Unknown is logged when a context carries no correlation id.
const Unknown = "-"

// With returns a child context carrying the correlation id.
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the correlation id carried by ctx, or Unknown.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return Unknown
}
