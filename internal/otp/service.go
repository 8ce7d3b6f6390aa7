package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pratyushraj/noticebazaar-sub012/internal/audit"
	"github.com/pratyushraj/noticebazaar-sub012/internal/obs"
)

const (
	codeDigits         = 6
	codeSpace          = 1000000
	defaultTTL         = 10 * time.Minute
	defaultMaxAttempts = 5
)

// Service generates and verifies one-time codes. Attempt accounting is
// persisted before the hash comparison so the budget is consumed even under
// a crash or concurrent duplicate submissions.
type Service struct {
	store       Store
	recorder    *audit.Recorder
	now         func() time.Time
	ttl         time.Duration
	maxAttempts int
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

// WithPolicy overrides challenge lifetime and attempt budget.
func WithPolicy(ttl time.Duration, maxAttempts int) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
	}
}

// NewService constructs an OTP Service.
func NewService(store Store, recorder *audit.Recorder, opts ...Option) *Service {
	s := &Service{
		store:       store,
		recorder:    recorder,
		now:         time.Now,
		ttl:         defaultTTL,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Challenge generates a uniformly random 6-digit code for the token,
// persists only its salted hash, and returns the plaintext exactly once for
// the caller to hand to the notification dispatcher. The plaintext is never
// persisted or logged.
func (s *Service) Challenge(ctx context.Context, tokenID, subjectID string) (string, *Challenge, error) {
	code, err := newCode()
	if err != nil {
		return "", nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, err
	}

	ch := &Challenge{
		TokenID:     tokenID,
		SubjectID:   subjectID,
		CodeHash:    string(hash),
		ExpiresAt:   s.now().UTC().Add(s.ttl),
		MaxAttempts: s.maxAttempts,
	}
	if err := s.store.Create(ctx, ch); err != nil {
		return "", nil, err
	}

	s.audit(ctx, audit.EventOTPIssued, ch, map[string]string{
		"expires_at": ch.ExpiresAt.Format(time.RFC3339),
	})
	return code, ch, nil
}

// Verify consumes one attempt and compares the submitted code against the
// stored hash. The increment persists before the comparison; bcrypt keeps
// the comparison constant-time. Mismatch audit entries never carry the
// submitted code.
func (s *Service) Verify(ctx context.Context, tokenID, submitted string) (*Challenge, error) {
	existing, err := s.store.Find(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if existing.Verified {
		// Idempotent read of the final state.
		return existing, nil
	}

	ch, exceeded, err := s.store.IncrementAttempts(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if !now.Before(ch.ExpiresAt) {
		s.audit(ctx, audit.EventOTPExpired, ch, nil)
		obs.OTPVerifications.WithLabelValues("expired").Inc()
		return nil, ErrExpired
	}
	if exceeded {
		s.audit(ctx, audit.EventOTPAttemptsExceeded, ch, nil)
		obs.OTPVerifications.WithLabelValues("attempts_exceeded").Inc()
		return nil, ErrAttemptsExceeded
	}

	if bcrypt.CompareHashAndPassword([]byte(ch.CodeHash), []byte(submitted)) != nil {
		s.audit(ctx, audit.EventOTPMismatch, ch, map[string]string{
			"attempts": fmt.Sprintf("%d", ch.Attempts),
		})
		obs.OTPVerifications.WithLabelValues("mismatch").Inc()
		return nil, ErrMismatch
	}

	verified, err := s.store.MarkVerified(ctx, tokenID, now)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, audit.EventOTPVerified, verified, nil)
	obs.OTPVerifications.WithLabelValues("ok").Inc()
	return verified, nil
}

// Find returns the challenge bound to the token, if any.
func (s *Service) Find(ctx context.Context, tokenID string) (*Challenge, error) {
	return s.store.Find(ctx, tokenID)
}

// RemainingAttempts reports how many attempts are left for UI hints.
func (s *Service) RemainingAttempts(ch *Challenge) int {
	left := ch.MaxAttempts - ch.Attempts
	if left < 0 {
		return 0
	}
	return left
}

// SweepExpired flags unresolved expired challenges for reporting.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	swept, err := s.store.SweepExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	for i := range swept {
		s.audit(ctx, audit.EventOTPExpired, &swept[i], map[string]string{"swept": "true"})
	}
	return len(swept), nil
}

func (s *Service) audit(ctx context.Context, event string, ch *Challenge, detail map[string]string) {
	if s.recorder == nil {
		return
	}
	if detail == nil {
		detail = map[string]string{}
	}
	detail["token_id"] = ch.TokenID
	s.recorder.Record(ctx, audit.Entry{
		SubjectID: ch.SubjectID,
		EventType: event,
		Detail:    detail,
	})
}

// newCode draws a 6-digit code uniformly from crypto/rand.
func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

// IsTerminal reports whether the error ends the challenge for good.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrExpired) || errors.Is(err, ErrAttemptsExceeded)
}
