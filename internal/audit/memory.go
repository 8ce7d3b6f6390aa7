package audit

import (
	"context"
	"sort"
	"sync"
)

// InMemory implements Store for tests and DSN-less deployments.
type InMemory struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewInMemory creates an empty append-only store.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, cloneEntry(*entry))
	return nil
}

func (s *InMemory) Query(ctx context.Context, subjectID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Entry
	for _, e := range s.entries {
		if e.SubjectID == subjectID {
			res = append(res, cloneEntry(e))
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].OccurredAt.Before(res[j].OccurredAt)
	})
	return res, nil
}

func cloneEntry(e Entry) Entry {
	if len(e.Detail) > 0 {
		detail := make(map[string]string, len(e.Detail))
		for k, v := range e.Detail {
			detail[k] = v
		}
		e.Detail = detail
	}
	return e
}
