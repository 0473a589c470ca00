package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Key identifies one counter: a user, an operation kind and a fixed window.
// Stores must keep at most one record per Key.
type Key struct {
	UserID      string
	Operation   Operation
	WindowStart time.Time
}

// Record is the persisted admission counter for a Key.
type Record struct {
	Key
	RequestCount int
	UpdatedAt    time.Time
}

// Store defines the interface for the persistent counter table.
type Store interface {
	// Lookup returns the record for key without mutating state.
	// The boolean is false when no record exists yet.
	Lookup(ctx context.Context, key Key) (Record, bool, error)

	// Increment atomically inserts the record with a count of one, or adds one
	// to the committed count, but only while that count is below maxRequests.
	// The returned boolean reports whether the increment was applied; the
	// returned record reflects the committed state after the call.
	Increment(ctx context.Context, key Key, maxRequests int) (Record, bool, error)
}

// InfrastructureError wraps a failure of the counter store.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("counter store %s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}
