package quota

import (
	"context"
	"sync"
	"time"

	"book_finder/internal/domain"
)

// MemoryStore keeps counters in process. It is used when no database is
// configured and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]domain.QuotaRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]domain.QuotaRecord)}
}

func (s *MemoryStore) Increment(_ context.Context, periodKey string, n, ceiling int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[periodKey]
	if rec.Count+n > ceiling {
		return false, nil
	}
	s.records[periodKey] = domain.QuotaRecord{
		PeriodKey:   periodKey,
		Count:       rec.Count + n,
		LastUpdated: at,
	}
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, periodKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[periodKey].Count, nil
}

// Period keys sort lexically in date order.
func (s *MemoryStore) DeleteBefore(_ context.Context, periodKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key := range s.records {
		if key < periodKey {
			delete(s.records, key)
			deleted++
		}
	}
	return deleted, nil
}
