package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/serroba/consultation-ratelimit/internal/ratelimit"
)

// CounterMemoryStore is an in-memory implementation of ratelimit.Store.
type CounterMemoryStore struct {
	mu      sync.Mutex
	records map[string]ratelimit.Record
	now     func() time.Time
}

// NewCounterMemoryStore creates a new in-memory counter store.
func NewCounterMemoryStore() *CounterMemoryStore {
	return &CounterMemoryStore{
		records: make(map[string]ratelimit.Record),
		now:     time.Now,
	}
}

func (s *CounterMemoryStore) Lookup(_ context.Context, key ratelimit.Key) (ratelimit.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[memoryKey(key)]

	return record, ok, nil
}

func (s *CounterMemoryStore) Increment(
	_ context.Context, key ratelimit.Key, maxRequests int,
) (ratelimit.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memoryKey(key)

	record, ok := s.records[k]
	if !ok {
		record = ratelimit.Record{Key: key}
	}

	if record.RequestCount >= maxRequests {
		return record, false, nil
	}

	record.RequestCount++
	record.UpdatedAt = s.now()
	s.records[k] = record

	return record, true, nil
}

// Len returns the number of stored records.
func (s *CounterMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}

func memoryKey(key ratelimit.Key) string {
	return fmt.Sprintf("%s|%s|%d", key.UserID, key.Operation, key.WindowStart.UnixMilli())
}

// Compile-time check.
var _ ratelimit.Store = (*CounterMemoryStore)(nil)
