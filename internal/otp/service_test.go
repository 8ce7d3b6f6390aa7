package otp

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/pratyushraj/noticebazaar-sub012/internal/audit"
)

var sixDigits = regexp.MustCompile(`^\d{6}$`)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, opts ...Option) (*Service, *testClock, *audit.InMemory) {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)}
	auditStore := audit.NewInMemory()
	all := append([]Option{WithClock(clock.Now)}, opts...)
	svc := NewService(NewInMemory(), audit.NewRecorder(auditStore).WithClock(clock.Now), all...)
	return svc, clock, auditStore
}

func TestChallengeAndVerify(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	code, ch, err := svc.Challenge(ctx, "tok-1", "deal-1")
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if !sixDigits.MatchString(code) {
		t.Fatalf("expected 6-digit code, got %q", code)
	}
	if ch.CodeHash == code {
		t.Fatal("plaintext stored as hash")
	}

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	if _, err := svc.Verify(ctx, "tok-1", wrong); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}

	verified, err := svc.Verify(ctx, "tok-1", code)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !verified.Verified || verified.VerifiedAt == nil {
		t.Fatalf("challenge not marked verified: %+v", verified)
	}
	if verified.Attempts != 2 {
		t.Fatalf("expected 2 consumed attempts, got %d", verified.Attempts)
	}
}

func TestAttemptBudget(t *testing.T) {
	svc, _, _ := newTestService(t, WithPolicy(10*time.Minute, 5))
	ctx := context.Background()

	code, _, err := svc.Challenge(ctx, "tok-2", "deal-2")
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	wrong := "999999"
	if wrong == code {
		wrong = "999998"
	}

	for i := 1; i <= 5; i++ {
		_, err := svc.Verify(ctx, "tok-2", wrong)
		if !errors.Is(err, ErrMismatch) {
			t.Fatalf("attempt %d: expected ErrMismatch, got %v", i, err)
		}
	}
	// The budget is spent: even the correct code is rejected.
	if _, err := svc.Verify(ctx, "tok-2", code); !errors.Is(err, ErrAttemptsExceeded) {
		t.Fatalf("expected ErrAttemptsExceeded, got %v", err)
	}

	ch, err := svc.store.Find(ctx, "tok-2")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if ch.Attempts != 5 {
		t.Fatalf("attempts must clamp at max, got %d", ch.Attempts)
	}
}

func TestVerifyAfterExpiry(t *testing.T) {
	svc, clock, _ := newTestService(t)
	ctx := context.Background()

	code, _, err := svc.Challenge(ctx, "tok-3", "deal-3")
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	clock.Advance(11 * time.Minute)
	if _, err := svc.Verify(ctx, "tok-3", code); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestConcurrentVerifyAttemptsAllLand(t *testing.T) {
	svc, _, _ := newTestService(t, WithPolicy(10*time.Minute, 50))
	ctx := context.Background()

	code, _, err := svc.Challenge(ctx, "tok-4", "deal-4")
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	wrong := "111111"
	if wrong == code {
		wrong = "111112"
	}

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _ = svc.Verify(ctx, "tok-4", wrong)
		}()
	}
	wg.Wait()

	ch, err := svc.store.Find(ctx, "tok-4")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if ch.Attempts != n {
		t.Fatalf("expected all %d increments to land, got %d", n, ch.Attempts)
	}
}

func TestVerifiedIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	code, _, err := svc.Challenge(ctx, "tok-5", "deal-5")
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if _, err := svc.Verify(ctx, "tok-5", code); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	// A repeat submission reads the final state without consuming attempts.
	again, err := svc.Verify(ctx, "tok-5", "000000")
	if err != nil {
		t.Fatalf("repeat Verify: %v", err)
	}
	if !again.Verified || again.Attempts != 1 {
		t.Fatalf("unexpected state on repeat verify: %+v", again)
	}
}

func TestNoPlaintextInAudit(t *testing.T) {
	svc, _, auditStore := newTestService(t)
	ctx := context.Background()

	code, _, err := svc.Challenge(ctx, "tok-6", "deal-6")
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	wrong := "222222"
	if wrong == code {
		wrong = "222223"
	}
	_, _ = svc.Verify(ctx, "tok-6", wrong)
	_, _ = svc.Verify(ctx, "tok-6", code)

	entries, _ := auditStore.Query(ctx, "deal-6")
	if len(entries) == 0 {
		t.Fatal("expected audit entries")
	}
	for _, e := range entries {
		for k, v := range e.Detail {
			if v == code || v == wrong {
				t.Fatalf("plaintext code leaked into audit detail %q of %s", k, e.EventType)
			}
		}
	}
}

func TestRemainingAttempts(t *testing.T) {
	svc, _, _ := newTestService(t, WithPolicy(time.Minute, 3))
	ch := &Challenge{Attempts: 2, MaxAttempts: 3}
	if got := svc.RemainingAttempts(ch); got != 1 {
		t.Fatalf("expected 1 remaining, got %d", got)
	}
	ch.Attempts = 3
	if got := svc.RemainingAttempts(ch); got != 0 {
		t.Fatalf("expected 0 remaining, got %d", got)
	}
}

func TestSweepExpiredChallenges(t *testing.T) {
	svc, clock, _ := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Challenge(ctx, "tok-7", "deal-7"); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	code, _, err := svc.Challenge(ctx, "tok-8", "deal-8")
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if _, err := svc.Verify(ctx, "tok-8", code); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	clock.Advance(time.Hour)
	n, err := svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept challenge, got %d", n)
	}
	if n, _ := svc.SweepExpired(ctx); n != 0 {
		t.Fatalf("expected idempotent sweep, got %d", n)
	}
}
