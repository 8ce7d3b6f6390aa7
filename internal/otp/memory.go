package otp

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu         sync.Mutex
	challenges map[string]*Challenge
}

// NewInMemory creates an empty challenge store.
func NewInMemory() *InMemory {
	return &InMemory{challenges: make(map[string]*Challenge)}
}

func (s *InMemory) Create(ctx context.Context, ch *Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.challenges[ch.TokenID]; ok {
		return ErrAlreadyExists
	}
	cp := *ch
	s.challenges[ch.TokenID] = &cp
	return nil
}

func (s *InMemory) Find(ctx context.Context, tokenID string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[tokenID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ch
	return &cp, nil
}

func (s *InMemory) IncrementAttempts(ctx context.Context, tokenID string) (*Challenge, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[tokenID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if ch.Attempts >= ch.MaxAttempts {
		cp := *ch
		return &cp, true, nil
	}
	ch.Attempts++
	cp := *ch
	return &cp, false, nil
}

func (s *InMemory) MarkVerified(ctx context.Context, tokenID string, at time.Time) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[tokenID]
	if !ok {
		return nil, ErrNotFound
	}
	if !ch.Verified {
		ch.Verified = true
		verifiedAt := at
		ch.VerifiedAt = &verifiedAt
	}
	cp := *ch
	return &cp, nil
}

func (s *InMemory) SweepExpired(ctx context.Context, now time.Time) ([]Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var swept []Challenge
	for _, ch := range s.challenges {
		if ch.Expired || ch.Verified {
			continue
		}
		if now.Before(ch.ExpiresAt) {
			continue
		}
		ch.Expired = true
		swept = append(swept, *ch)
	}
	return swept, nil
}
