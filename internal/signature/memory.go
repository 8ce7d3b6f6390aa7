package signature

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory is a map-backed Store used in tests and when no database is
// configured. The mutex gives Apply the same at-most-once behaviour as the
// conditional update in the Postgres store.
type InMemory struct {
	mu   sync.Mutex
	rows map[string]*ContractSignature
}

func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[string]*ContractSignature)}
}

func rowKey(dealID string, role Role) string {
	return dealID + "|" + string(role)
}

func (m *InMemory) Ensure(_ context.Context, dealID string, role Role, signerName, signerEmail string, now time.Time) (*ContractSignature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rows[rowKey(dealID, role)]; ok {
		return clone(existing), nil
	}
	row := &ContractSignature{
		DealID:      dealID,
		Role:        role,
		SignerName:  signerName,
		SignerEmail: signerEmail,
		CreatedAt:   now,
	}
	m.rows[rowKey(dealID, role)] = row
	return clone(row), nil
}

func (m *InMemory) Find(_ context.Context, dealID string, role Role) (*ContractSignature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[rowKey(dealID, role)]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(row), nil
}

func (m *InMemory) FindByToken(_ context.Context, tokenID string) (*ContractSignature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.TokenID == tokenID && tokenID != "" {
			return clone(row), nil
		}
	}
	return nil, ErrNotFound
}

func (m *InMemory) List(_ context.Context, dealID string) ([]ContractSignature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ContractSignature
	for _, row := range m.rows {
		if row.DealID == dealID {
			out = append(out, *clone(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out, nil
}

func (m *InMemory) SetToken(_ context.Context, dealID string, role Role, tokenID string) (*ContractSignature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[rowKey(dealID, role)]
	if !ok {
		return nil, ErrNotFound
	}
	row.TokenID = tokenID
	return clone(row), nil
}

func (m *InMemory) Apply(_ context.Context, dealID string, role Role, signerName string, at time.Time) (*ContractSignature, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[rowKey(dealID, role)]
	if !ok {
		return nil, false, ErrNotFound
	}
	if row.Signed {
		return clone(row), false, nil
	}
	row.Signed = true
	signedAt := at
	row.SignedAt = &signedAt
	row.OTPVerified = true
	row.OTPVerifiedAt = &signedAt
	if signerName != "" {
		row.SignerName = signerName
	}
	return clone(row), true, nil
}

func (m *InMemory) Reset(_ context.Context, dealID string, role Role) (*ContractSignature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[rowKey(dealID, role)]
	if !ok {
		return nil, ErrNotFound
	}
	row.Signed = false
	row.SignedAt = nil
	row.OTPVerified = false
	row.OTPVerifiedAt = nil
	row.TokenID = ""
	return clone(row), nil
}

func clone(row *ContractSignature) *ContractSignature {
	cp := *row
	if row.SignedAt != nil {
		t := *row.SignedAt
		cp.SignedAt = &t
	}
	if row.OTPVerifiedAt != nil {
		t := *row.OTPVerifiedAt
		cp.OTPVerifiedAt = &t
	}
	return &cp
}
