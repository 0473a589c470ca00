package ratelimit

import (
	"context"
	"fmt"
)

// Status reports the remaining allowance of op for userID in the current
// window. It never writes to the store.
func (e *Engine) Status(ctx context.Context, userID string, op Operation) (Decision, error) {
	limit, ok := e.table.Lookup(op)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}

	now := e.now()
	key := Key{UserID: userID, Operation: op, WindowStart: WindowStart(limit.Window, now)}

	record, found, err := e.store.Lookup(ctx, key)
	if err != nil {
		return Decision{}, &InfrastructureError{Op: "lookup", Err: err}
	}

	current := 0
	if found {
		current = record.RequestCount
	}

	return Decision{
		Allowed:     current < limit.Max,
		Limit:       limit.Max,
		Remaining:   max(0, limit.Max-current),
		WindowStart: key.WindowStart,
		ResetTime:   NextReset(key.WindowStart, limit.Window),
	}, nil
}
