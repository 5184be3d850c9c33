// Package router dispatches event envelopes to registered handlers through a
// named before/after middleware pipeline. Routes and middleware are declared
// at startup; Dispatch is the only runtime entry point.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/zxeenu/heavy-telegram-bot/internal/correlation"
	"github.com/zxeenu/heavy-telegram-bot/pkg/envelopes"
)

var (
	// ErrRouteNotFound is returned by Dispatch when no handler is registered
	// for the envelope's (type, version) pair.
	ErrRouteNotFound = errors.New("no route for event")

	// ErrContextCorrupted indicates the correlation id observed after the
	// handler differs from the one snapshotted before it. This is a bug
	// indicator; callers abort the process.
	ErrContextCorrupted = errors.New("correlation context corrupted")
)

// MiddlewareError reports a middleware that failed during dispatch.
type MiddlewareError struct {
	Name  string
	Phase string // "before" or "after"
	Err   error
}

func (e *MiddlewareError) Error() string {
	return fmt.Sprintf("middleware %q failed in %s phase: %v", e.Name, e.Phase, e.Err)
}

func (e *MiddlewareError) Unwrap() error { return e.Err }

// RegistrationError reports an invalid route or middleware registration.
// Services treat it as fatal at startup.
type RegistrationError struct {
	Name   string
	Reason string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registration of %q failed: %s", e.Name, e.Reason)
}

// Scratch is the per-dispatch side-band shared by middleware and handler.
// Control flags live here instead of in the envelope payload so downstream
// consumers of the envelope never observe in-process state.
type Scratch struct {
	// CorrelationSnapshot is stamped by the correlation guard before the
	// handler runs and asserted against the live context afterwards.
	CorrelationSnapshot string

	// IncrementRateLimit asks the rate-limit after-middleware to charge the
	// user and send the optimistic reply.
	IncrementRateLimit bool
	UserID             int64
	ChatID             int64
	MessageID          int64

	// CleanupCorrelationStart asks the cleanup after-middleware to delete the
	// correlation start-time record.
	CleanupCorrelationStart bool

	// Values holds anything middleware want to hand to each other.
	Values map[string]any
}

// Handler processes a single envelope. The returned value is surfaced in the
// dispatch result; a non-nil error aborts dispatch before the after phase.
type Handler func(ctx context.Context, env *envelopes.Envelope, sc *Scratch) (any, error)

// Middleware runs before or after a handler. A non-nil error aborts dispatch.
type Middleware func(ctx context.Context, env *envelopes.Envelope, sc *Scratch) (any, error)

// Options tunes a single route.
type Options struct {
	// Before and After name opt-in middleware appended to the global lists.
	Before []string
	After  []string

	// RetryAttempt is advisory; the dispatch loop relies on broker redelivery.
	RetryAttempt int
}

// Result is what Dispatch returns on success.
type Result struct {
	HandlerResult any
	CorrelationID string
	Before        map[string]any
	After         map[string]any
}

type route struct {
	handler Handler
	opts    Options
}

// Router holds the route table and middleware registry for one service.
// Registration is not safe for concurrent use; do it all at startup.
type Router struct {
	routes map[string]map[int]route

	middlewares  map[string]Middleware
	globalBefore []string
	globalAfter  []string
}

// New creates an empty router.
func New() *Router {
	return &Router{
		routes:      map[string]map[int]route{},
		middlewares: map[string]Middleware{},
	}
}

// Route registers a handler for (eventType, version). Re-registration of the
// same pair replaces the previous handler.
func (r *Router) Route(eventType string, version int, opts Options, h Handler) error {
	if eventType == "" {
		return &RegistrationError{Name: eventType, Reason: "empty event type"}
	}
	if version < 1 {
		return &RegistrationError{Name: eventType, Reason: fmt.Sprintf("version %d", version)}
	}
	if h == nil {
		return &RegistrationError{Name: eventType, Reason: "nil handler"}
	}
	if r.routes[eventType] == nil {
		r.routes[eventType] = map[int]route{}
	}
	r.routes[eventType][version] = route{handler: h, opts: opts}
	return nil
}

// MustRoute is Route for startup wiring; it panics on registration errors.
func (r *Router) MustRoute(eventType string, version int, opts Options, h Handler) {
	if err := r.Route(eventType, version, opts, h); err != nil {
		panic(err)
	}
}

func (r *Router) registerNamed(name string, m Middleware) error {
	if name == "" {
		return &RegistrationError{Name: name, Reason: "empty middleware name"}
	}
	if m == nil {
		return &RegistrationError{Name: name, Reason: "nil middleware"}
	}
	if _, exists := r.middlewares[name]; exists {
		return &RegistrationError{Name: name, Reason: "middleware name already registered"}
	}
	r.middlewares[name] = m
	return nil
}

// RegisterMiddleware registers an opt-in middleware: named but inactive until
// a route names it in Options.
func (r *Router) RegisterMiddleware(name string, m Middleware) error {
	return r.registerNamed(name, m)
}

// RegisterBefore registers a middleware applied to every route ahead of the
// handler.
func (r *Router) RegisterBefore(name string, m Middleware) error {
	if err := r.registerNamed(name, m); err != nil {
		return err
	}
	r.globalBefore = append(r.globalBefore, name)
	return nil
}

// RegisterAfter registers a middleware applied to every route after the
// handler.
func (r *Router) RegisterAfter(name string, m Middleware) error {
	if err := r.registerNamed(name, m); err != nil {
		return err
	}
	r.globalAfter = append(r.globalAfter, name)
	return nil
}

// MustRegisterMiddleware panics on error; startup wiring only.
func (r *Router) MustRegisterMiddleware(name string, m Middleware) {
	if err := r.RegisterMiddleware(name, m); err != nil {
		panic(err)
	}
}

// MustRegisterBefore panics on error; startup wiring only.
func (r *Router) MustRegisterBefore(name string, m Middleware) {
	if err := r.RegisterBefore(name, m); err != nil {
		panic(err)
	}
}

// MustRegisterAfter panics on error; startup wiring only.
func (r *Router) MustRegisterAfter(name string, m Middleware) {
	if err := r.RegisterAfter(name, m); err != nil {
		panic(err)
	}
}

// Lookup returns the handler registered for the envelope, or nil.
func (r *Router) Lookup(env *envelopes.Envelope) Handler {
	if versions, ok := r.routes[env.Type]; ok {
		if rt, ok := versions[env.Version]; ok {
			return rt.handler
		}
	}
	return nil
}

// dedupe keeps the first occurrence of every name.
func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func (r *Router) runChain(ctx context.Context, names []string, phase string, env *envelopes.Envelope, sc *Scratch) (map[string]any, error) {
	results := make(map[string]any, len(names))
	for _, name := range names {
		m, ok := r.middlewares[name]
		if !ok {
			return nil, &RegistrationError{Name: name, Reason: "middleware not registered"}
		}
		result, err := m(ctx, env, sc)
		if err != nil {
			return nil, &MiddlewareError{Name: name, Phase: phase, Err: err}
		}
		results[name] = result
	}
	return results, nil
}

// Dispatch runs the before chain, the handler, then the after chain for the
// envelope. The effective middleware lists are the global lists followed by
// the route's opt-in names, deduplicated keeping the first occurrence.
func (r *Router) Dispatch(ctx context.Context, env *envelopes.Envelope) (*Result, error) {
	versions, ok := r.routes[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s v%d", ErrRouteNotFound, env.Type, env.Version)
	}
	rt, ok := versions[env.Version]
	if !ok {
		return nil, fmt.Errorf("%w: %s v%d", ErrRouteNotFound, env.Type, env.Version)
	}

	sc := &Scratch{Values: map[string]any{}}

	before := dedupe(append(append([]string{}, r.globalBefore...), rt.opts.Before...))
	after := dedupe(append(append([]string{}, r.globalAfter...), rt.opts.After...))

	beforeResults, err := r.runChain(ctx, before, "before", env, sc)
	if err != nil {
		return nil, err
	}

	handlerResult, err := rt.handler(ctx, env, sc)
	if err != nil {
		return nil, fmt.Errorf("handler for %s v%d: %w", env.Type, env.Version, err)
	}

	afterResults, err := r.runChain(ctx, after, "after", env, sc)
	if err != nil {
		return nil, err
	}

	return &Result{
		HandlerResult: handlerResult,
		CorrelationID: correlation.FromContext(ctx),
		Before:        beforeResults,
		After:         afterResults,
	}, nil
}
