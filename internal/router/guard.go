package router

import (
	"context"
	"fmt"

	"github.com/zxeenu/heavy-telegram-bot/internal/correlation"
	"github.com/zxeenu/heavy-telegram-bot/pkg/envelopes"
)

// Correlation guard middleware names. Register the pair globally so every
// dispatch verifies the correlation id survived the handler.
const (
	GuardPrepareName = "correlation_guard_prepare"
	GuardAssertName  = "correlation_guard_assert"
)

// GuardPrepare snapshots the live correlation id into the dispatch scratch.
func GuardPrepare() Middleware {
	return func(ctx context.Context, env *envelopes.Envelope, sc *Scratch) (any, error) {
		sc.CorrelationSnapshot = correlation.FromContext(ctx)
		return sc.CorrelationSnapshot, nil
	}
}

// GuardAssert verifies the live correlation id still matches the snapshot.
// A mismatch means some async boundary lost or crossed the chain; the caller
// must treat it as fatal.
func GuardAssert() Middleware {
	return func(ctx context.Context, env *envelopes.Envelope, sc *Scratch) (any, error) {
		live := correlation.FromContext(ctx)
		if live != sc.CorrelationSnapshot {
			return nil, fmt.Errorf("%w: expected %q, got %q",
				ErrContextCorrupted, sc.CorrelationSnapshot, live)
		}
		return live, nil
	}
}

// RegisterGuard wires the guard pair as global before/after middleware.
func RegisterGuard(r *Router) {
	r.MustRegisterBefore(GuardPrepareName, GuardPrepare())
	r.MustRegisterAfter(GuardAssertName, GuardAssert())
}
