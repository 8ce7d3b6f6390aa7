package token

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store with in-process concurrency safety. Used in
// tests and DSN-less deployments; the mutex provides the same claim
// linearizability the conditional SQL update provides in Postgres.
type InMemory struct {
	mu       sync.Mutex
	byID     map[string]*ActionToken
	bySecret map[string]string // secret -> id
}

// NewInMemory creates an empty token store.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:     make(map[string]*ActionToken),
		bySecret: make(map[string]string),
	}
}

func (s *InMemory) Insert(ctx context.Context, tok *ActionToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tok
	s.byID[tok.ID] = &cp
	s.bySecret[tok.Secret] = tok.ID
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, id string) (*ActionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s *InMemory) FindBySecret(ctx context.Context, secret string) (*ActionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bySecret[secret]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *InMemory) Claim(ctx context.Context, secret string, purpose Purpose, now time.Time) (*ActionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bySecret[secret]
	if !ok {
		return nil, errNotClaimed
	}
	tok := s.byID[id]
	if tok.Purpose != purpose || !tok.Usable(now) {
		return nil, errNotClaimed
	}
	tok.Used = true
	usedAt := now
	tok.UsedAt = &usedAt
	cp := *tok
	return &cp, nil
}

func (s *InMemory) Revoke(ctx context.Context, id string) (*ActionToken, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.byID[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if tok.Revoked {
		cp := *tok
		return &cp, false, nil
	}
	tok.Revoked = true
	cp := *tok
	return &cp, true, nil
}

func (s *InMemory) SweepExpired(ctx context.Context, now time.Time) ([]ActionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var swept []ActionToken
	for _, tok := range s.byID {
		if tok.Expired || tok.Used || tok.Revoked {
			continue
		}
		if now.Before(tok.ExpiresAt) {
			continue
		}
		tok.Expired = true
		swept = append(swept, *tok)
	}
	return swept, nil
}
