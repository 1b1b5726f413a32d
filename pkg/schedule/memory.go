package schedule

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryDelayStore is an in-process DelayStore for development and tests.
type MemoryDelayStore struct {
	mu          sync.Mutex
	resumptions map[string]Resumption
}

func NewMemoryDelayStore() *MemoryDelayStore {
	return &MemoryDelayStore{resumptions: make(map[string]Resumption)}
}

func (s *MemoryDelayStore) Schedule(_ context.Context, resumption Resumption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resumptions[encodeMember(resumption)] = resumption

	return nil
}

func (s *MemoryDelayStore) Due(_ context.Context, now time.Time, limit int) ([]Resumption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]Resumption, 0)

	for key, resumption := range s.resumptions {
		if !resumption.ResumeAt.After(now) {
			due = append(due, resumption)
			delete(s.resumptions, key)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].ResumeAt.Before(due[j].ResumeAt)
	})

	if limit > 0 && len(due) > limit {
		for _, extra := range due[limit:] {
			s.resumptions[encodeMember(extra)] = extra
		}

		due = due[:limit]
	}

	return due, nil
}

func (s *MemoryDelayStore) Remove(_ context.Context, tenantID, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, resumption := range s.resumptions {
		if resumption.TenantID == tenantID && resumption.ExecutionID == executionID {
			delete(s.resumptions, key)
		}
	}

	return nil
}

func (s *MemoryDelayStore) Close() error {
	return nil
}
