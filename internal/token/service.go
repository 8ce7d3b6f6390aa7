package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pratyushraj/noticebazaar-sub012/internal/audit"
	"github.com/pratyushraj/noticebazaar-sub012/internal/ids"
	"github.com/pratyushraj/noticebazaar-sub012/internal/notify"
	"github.com/pratyushraj/noticebazaar-sub012/internal/obs"
)

const secretBytes = 32 // 256 bits of entropy

// Service mints, claims and revokes action tokens. Every call writes
// exactly one audit entry describing its outcome.
type Service struct {
	store      Store
	recorder   *audit.Recorder
	dispatcher notify.Dispatcher
	now        func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithDispatcher sets the notification collaborator invoked on issue.
func WithDispatcher(d notify.Dispatcher) Option {
	return func(s *Service) {
		s.dispatcher = d
	}
}

// NewService constructs a token Service.
func NewService(store Store, recorder *audit.Recorder, opts ...Option) *Service {
	s := &Service{
		store:    store,
		recorder: recorder,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueParams describes a token grant request by an internal actor.
type IssueParams struct {
	Purpose       Purpose
	SubjectID     string
	TTL           time.Duration
	RecipientHint string
}

// Issue mints a new token with a cryptographically random secret, persists
// it and hands it to the notification dispatcher. The returned token is the
// only place the plaintext secret exists outside the recipient's inbox.
func (s *Service) Issue(ctx context.Context, p IssueParams) (*ActionToken, error) {
	policy, ok := PolicyFor(p.Purpose)
	if !ok {
		return nil, fmt.Errorf("%w: unknown purpose %q", ErrInvalidInput, p.Purpose)
	}
	p.SubjectID = strings.TrimSpace(p.SubjectID)
	if p.SubjectID == "" {
		return nil, fmt.Errorf("%w: subject_id is required", ErrInvalidInput)
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = policy.DefaultTTL
	}

	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	tok := &ActionToken{
		ID:            ids.New(),
		Secret:        secret,
		Purpose:       p.Purpose,
		SubjectID:     p.SubjectID,
		RecipientHint: strings.TrimSpace(p.RecipientHint),
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
	if err := s.store.Insert(ctx, tok); err != nil {
		return nil, err
	}

	s.audit(ctx, audit.EventTokenIssued, tok, map[string]string{
		"recipient_hint": tok.RecipientHint,
		"expires_at":     tok.ExpiresAt.Format(time.RFC3339),
	})
	s.dispatch(ctx, tok)
	return tok, nil
}

// dispatch hands the secret to the notification collaborator. Failure does
// not roll back token creation; it is audited as a delivery failure.
func (s *Service) dispatch(ctx context.Context, tok *ActionToken) {
	if s.dispatcher == nil {
		return
	}
	err := s.dispatcher.Send(ctx, notify.Message{
		RecipientHint: tok.RecipientHint,
		Purpose:       string(tok.Purpose),
		SubjectID:     tok.SubjectID,
		Secret:        tok.Secret,
	})
	if err != nil {
		s.audit(ctx, audit.EventTokenDeliveryFailed, tok, map[string]string{
			"error": err.Error(),
		})
	}
}

// Claim looks up the token by secret and, for single-use purposes,
// atomically consumes it. A token issued for a different purpose than
// expected is reported as not found so callers cannot probe for existence.
func (s *Service) Claim(ctx context.Context, secret string, purpose Purpose) (*ActionToken, error) {
	policy, ok := PolicyFor(purpose)
	if !ok {
		return nil, fmt.Errorf("%w: unknown purpose %q", ErrInvalidInput, purpose)
	}
	if strings.TrimSpace(secret) == "" {
		return nil, s.claimFailure(ctx, nil, purpose, ErrNotFound)
	}
	now := s.now().UTC()

	if !policy.SingleUse {
		tok, err := s.store.FindBySecret(ctx, secret)
		if errors.Is(err, ErrNotFound) {
			return nil, s.claimFailure(ctx, nil, purpose, ErrNotFound)
		}
		if err != nil {
			return nil, err
		}
		if tok.Purpose != purpose {
			return nil, s.claimFailure(ctx, nil, purpose, ErrNotFound)
		}
		if err := classify(tok, now); err != nil {
			return nil, s.claimFailure(ctx, tok, purpose, err)
		}
		s.audit(ctx, audit.EventTokenViewed, tok, nil)
		obs.TokenClaims.WithLabelValues(string(purpose), "ok").Inc()
		return tok, nil
	}

	tok, err := s.store.Claim(ctx, secret, purpose, now)
	if err == nil {
		s.audit(ctx, audit.EventTokenClaimed, tok, nil)
		obs.TokenClaims.WithLabelValues(string(purpose), "ok").Inc()
		return tok, nil
	}
	if !errors.Is(err, errNotClaimed) {
		return nil, err
	}

	// The conditional update matched nothing: classify why for the audit
	// trail and the typed error. A racer that lost the claim lands here
	// and observes the winner's used flag.
	prior, ferr := s.store.FindBySecret(ctx, secret)
	if errors.Is(ferr, ErrNotFound) {
		return nil, s.claimFailure(ctx, nil, purpose, ErrNotFound)
	}
	if ferr != nil {
		return nil, ferr
	}
	if prior.Purpose != purpose {
		return nil, s.claimFailure(ctx, nil, purpose, ErrNotFound)
	}
	return nil, s.claimFailure(ctx, prior, purpose, classify(prior, now))
}

// classify orders failure checks: expiry wins over the used and revoked
// flags so an expired token always reports expired.
func classify(tok *ActionToken, now time.Time) error {
	switch {
	case !now.Before(tok.ExpiresAt):
		return ErrExpired
	case tok.Revoked:
		return ErrRevoked
	case tok.Used:
		return ErrAlreadyUsed
	default:
		return nil
	}
}

func (s *Service) claimFailure(ctx context.Context, tok *ActionToken, purpose Purpose, err error) error {
	if err == nil {
		// A usable token reached the failure path: the conditional update
		// lost a race that resolved the token between the two reads.
		err = ErrAlreadyUsed
	}
	event := audit.EventTokenClaimNotFound
	outcome := "not_found"
	switch {
	case errors.Is(err, ErrExpired):
		event, outcome = audit.EventTokenClaimExpired, "expired"
	case errors.Is(err, ErrRevoked):
		event, outcome = audit.EventTokenClaimRevoked, "revoked"
	case errors.Is(err, ErrAlreadyUsed):
		event, outcome = audit.EventTokenClaimUsed, "already_used"
	}
	s.audit(ctx, event, tok, nil)
	obs.TokenClaims.WithLabelValues(string(purpose), outcome).Inc()
	return err
}

// Lookup finds a token by secret for the given purpose without claiming it.
// Used by the OTP confirmation path after the token was already consumed.
func (s *Service) Lookup(ctx context.Context, secret string, purpose Purpose) (*ActionToken, error) {
	tok, err := s.store.FindBySecret(ctx, secret)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if tok.Purpose != purpose {
		return nil, ErrNotFound
	}
	return tok, nil
}

// Get returns a token by its internal id.
func (s *Service) Get(ctx context.Context, id string) (*ActionToken, error) {
	return s.store.FindByID(ctx, id)
}

// Revoke marks the token revoked. Idempotent; only the first call writes an
// audit entry.
func (s *Service) Revoke(ctx context.Context, tokenID string) error {
	tok, done, err := s.store.Revoke(ctx, tokenID)
	if err != nil {
		return err
	}
	if done {
		s.audit(ctx, audit.EventTokenRevoked, tok, nil)
	}
	return nil
}

// SweepExpired flags unresolved expired tokens for reporting and audits
// each one. Invoked by the periodic sweep, never by request paths.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	swept, err := s.store.SweepExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	for i := range swept {
		s.audit(ctx, audit.EventTokenExpiredSwept, &swept[i], nil)
	}
	return len(swept), nil
}

func (s *Service) audit(ctx context.Context, event string, tok *ActionToken, detail map[string]string) {
	if s.recorder == nil {
		return
	}
	entry := audit.Entry{EventType: event, Detail: detail}
	if tok != nil {
		entry.SubjectID = tok.SubjectID
		if entry.Detail == nil {
			entry.Detail = map[string]string{}
		}
		entry.Detail["token_id"] = tok.ID
		entry.Detail["purpose"] = string(tok.Purpose)
	}
	s.recorder.Record(ctx, entry)
}

func newSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
