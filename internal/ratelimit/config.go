package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownOperation is returned when an operation kind has no configured limit.
var ErrUnknownOperation = errors.New("unknown operation")

// Operation is the closed category of privileged action being rate limited.
type Operation string

const (
	OperationImport     Operation = "import"
	OperationExport     Operation = "export"
	OperationReport     Operation = "report"
	OperationBulkDelete Operation = "bulk_delete"
)

// ParseOperation validates a raw operation kind against the closed enumeration.
func ParseOperation(raw string) (Operation, error) {
	switch op := Operation(raw); op {
	case OperationImport, OperationExport, OperationReport, OperationBulkDelete:
		return op, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, raw)
	}
}

// Limit is the admission budget of one operation kind per fixed window.
type Limit struct {
	Max    int
	Window time.Duration
}

// Table maps operation kinds to their limits. It is immutable once built.
type Table struct {
	limits map[Operation]Limit
	order  []Operation
}

// DefaultTable returns the production limits.
func DefaultTable() *Table {
	return NewTableBuilder().
		Set(OperationImport, 10, time.Hour).
		Set(OperationExport, 20, time.Hour).
		Set(OperationReport, 40, time.Hour).
		Set(OperationBulkDelete, 10, 5*time.Minute).
		Build()
}

// Lookup returns the limit configured for op.
func (t *Table) Lookup(op Operation) (Limit, bool) {
	limit, ok := t.limits[op]

	return limit, ok
}

// Operations returns the configured operation kinds in registration order.
func (t *Table) Operations() []Operation {
	ops := make([]Operation, len(t.order))
	copy(ops, t.order)

	return ops
}

// TableBuilder assembles a Table. Setting the same operation twice keeps the last limit.
type TableBuilder struct {
	limits map[Operation]Limit
	order  []Operation
}

// NewTableBuilder creates an empty builder.
func NewTableBuilder() *TableBuilder {
	return &TableBuilder{limits: make(map[Operation]Limit)}
}

// Set configures max admissions per window for op.
func (b *TableBuilder) Set(op Operation, maxRequests int, window time.Duration) *TableBuilder {
	if _, exists := b.limits[op]; !exists {
		b.order = append(b.order, op)
	}

	b.limits[op] = Limit{Max: maxRequests, Window: window}

	return b
}

// Build freezes the configured limits into a Table.
func (b *TableBuilder) Build() *Table {
	limits := make(map[Operation]Limit, len(b.limits))
	for op, limit := range b.limits {
		limits[op] = limit
	}

	order := make([]Operation, len(b.order))
	copy(order, b.order)

	return &Table{limits: limits, order: order}
}
