package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed     bool
	Limit       int
	Remaining   int
	WindowStart time.Time
	ResetTime   time.Time
	// RetryAfter is only set on denials, in whole seconds.
	RetryAfter int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine enforces fixed-window limits per user and operation kind.
type Engine struct {
	store Store
	table *Table
	now   func() time.Time
}

// NewEngine creates a rate limit engine over store using the limits in table.
func NewEngine(store Store, table *Table, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		table: table,
		now:   time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Table returns the limits the engine enforces.
func (e *Engine) Table() *Table {
	return e.table
}

// CheckAndIncrement admits or denies one request of op for userID.
// windowStart pins the window explicitly; nil means the current window.
// Denials never write to the store.
func (e *Engine) CheckAndIncrement(
	ctx context.Context, userID string, op Operation, windowStart *time.Time,
) (Decision, error) {
	limit, ok := e.table.Lookup(op)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}

	now := e.now()

	key := Key{UserID: userID, Operation: op, WindowStart: WindowStart(limit.Window, now)}
	if windowStart != nil {
		key.WindowStart = windowStart.UTC()
	}

	record, found, err := e.store.Lookup(ctx, key)
	if err != nil {
		return Decision{}, &InfrastructureError{Op: "lookup", Err: err}
	}

	current := 0
	if found {
		current = record.RequestCount
	}

	if current >= limit.Max {
		return e.deny(key, limit, now), nil
	}

	// The lookup above is advisory; the store re-checks the committed count so
	// concurrent callers cannot admit more than limit.Max.
	record, applied, err := e.store.Increment(ctx, key, limit.Max)
	if err != nil {
		return Decision{}, &InfrastructureError{Op: "increment", Err: err}
	}

	if !applied {
		return e.deny(key, limit, now), nil
	}

	return Decision{
		Allowed:     true,
		Limit:       limit.Max,
		Remaining:   max(0, limit.Max-record.RequestCount),
		WindowStart: key.WindowStart,
		ResetTime:   NextReset(key.WindowStart, limit.Window),
	}, nil
}

func (e *Engine) deny(key Key, limit Limit, now time.Time) Decision {
	reset := NextReset(key.WindowStart, limit.Window)

	return Decision{
		Allowed:     false,
		Limit:       limit.Max,
		Remaining:   0,
		WindowStart: key.WindowStart,
		ResetTime:   reset,
		RetryAfter:  SecondsUntil(reset, now),
	}
}
