package token

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pratyushraj/noticebazaar-sub012/internal/audit"
	"github.com/pratyushraj/noticebazaar-sub012/internal/notify"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []notify.Message
	fail error
}

func (d *recordingDispatcher) Send(ctx context.Context, msg notify.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.sent = append(d.sent, msg)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeClock, *audit.InMemory, *recordingDispatcher) {
	t.Helper()
	clock := newFakeClock(time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC))
	auditStore := audit.NewInMemory()
	dispatcher := &recordingDispatcher{}
	svc := NewService(
		NewInMemory(),
		audit.NewRecorder(auditStore).WithClock(clock.Now),
		WithClock(clock.Now),
		WithDispatcher(dispatcher),
	)
	return svc, clock, auditStore, dispatcher
}

func TestIssueAndClaimSingleUse(t *testing.T) {
	svc, _, auditStore, dispatcher := newTestService(t)
	ctx := context.Background()

	tok, err := svc.Issue(ctx, IssueParams{
		Purpose:       PurposeBrandReply,
		SubjectID:     "deal-1",
		TTL:           14 * 24 * time.Hour,
		RecipientHint: "brand@example.com",
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(tok.Secret) < 43 {
		t.Fatalf("secret too short for 256 bits: %d chars", len(tok.Secret))
	}
	if len(dispatcher.sent) != 1 || dispatcher.sent[0].Secret != tok.Secret {
		t.Fatalf("expected one dispatched message carrying the secret")
	}

	claimed, err := svc.Claim(ctx, tok.Secret, PurposeBrandReply)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !claimed.Used || claimed.UsedAt == nil {
		t.Fatalf("claimed token not marked used: %+v", claimed)
	}

	if _, err := svc.Claim(ctx, tok.Secret, PurposeBrandReply); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("expected ErrAlreadyUsed, got %v", err)
	}

	entries, err := auditStore.Query(ctx, "deal-1")
	if err != nil {
		t.Fatalf("audit query: %v", err)
	}
	var events []string
	for _, e := range entries {
		events = append(events, e.EventType)
	}
	want := []string{audit.EventTokenIssued, audit.EventTokenClaimed, audit.EventTokenClaimUsed}
	if len(events) != len(want) {
		t.Fatalf("expected events %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, events)
		}
	}
}

func TestConcurrentClaimsExactlyOneWinner(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	tok, err := svc.Issue(ctx, IssueParams{Purpose: PurposeShippingUpdate, SubjectID: "deal-9"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const n = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		usedErr int
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := svc.Claim(ctx, tok.Secret, PurposeShippingUpdate)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrAlreadyUsed):
				usedErr++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", wins)
	}
	if usedErr != n-1 {
		t.Fatalf("expected %d ErrAlreadyUsed, got %d", n-1, usedErr)
	}
}

func TestClaimExpiredToken(t *testing.T) {
	svc, clock, _, _ := newTestService(t)
	ctx := context.Background()

	tok, err := svc.Issue(ctx, IssueParams{Purpose: PurposeBrandReply, SubjectID: "deal-3", TTL: 14 * 24 * time.Hour})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock.Advance(15 * 24 * time.Hour)
	if _, err := svc.Claim(ctx, tok.Secret, PurposeBrandReply); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestExpiryWinsOverRevoked(t *testing.T) {
	svc, clock, _, _ := newTestService(t)
	ctx := context.Background()

	tok, err := svc.Issue(ctx, IssueParams{Purpose: PurposeBrandReply, SubjectID: "deal-4", TTL: time.Hour})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := svc.Revoke(ctx, tok.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	clock.Advance(2 * time.Hour)
	if _, err := svc.Claim(ctx, tok.Secret, PurposeBrandReply); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired for expired+revoked token, got %v", err)
	}
}

func TestClaimRevokedToken(t *testing.T) {
	svc, _, auditStore, _ := newTestService(t)
	ctx := context.Background()

	tok, err := svc.Issue(ctx, IssueParams{Purpose: PurposeBrandReply, SubjectID: "deal-5"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := svc.Revoke(ctx, tok.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	// Revocation is idempotent and audited once.
	if err := svc.Revoke(ctx, tok.ID); err != nil {
		t.Fatalf("second Revoke: %v", err)
	}

	if _, err := svc.Claim(ctx, tok.Secret, PurposeBrandReply); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}

	entries, _ := auditStore.Query(ctx, "deal-5")
	revocations := 0
	for _, e := range entries {
		if e.EventType == audit.EventTokenRevoked {
			revocations++
		}
	}
	if revocations != 1 {
		t.Fatalf("expected one revocation audit entry, got %d", revocations)
	}
}

func TestPurposeMismatchReportsNotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	tok, err := svc.Issue(ctx, IssueParams{Purpose: PurposeBrandReply, SubjectID: "deal-6"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.Claim(ctx, tok.Secret, PurposeSignContract); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on purpose mismatch, got %v", err)
	}
	// The mismatch must not consume the token.
	if _, err := svc.Claim(ctx, tok.Secret, PurposeBrandReply); err != nil {
		t.Fatalf("token consumed by mismatched claim: %v", err)
	}
}

func TestViewContractIsReusable(t *testing.T) {
	svc, _, auditStore, _ := newTestService(t)
	ctx := context.Background()

	tok, err := svc.Issue(ctx, IssueParams{Purpose: PurposeViewContract, SubjectID: "deal-7"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := svc.Claim(ctx, tok.Secret, PurposeViewContract); err != nil {
			t.Fatalf("view claim %d: %v", i, err)
		}
	}

	entries, _ := auditStore.Query(ctx, "deal-7")
	views := 0
	for _, e := range entries {
		if e.EventType == audit.EventTokenViewed {
			views++
		}
	}
	if views != 3 {
		t.Fatalf("expected 3 view audit entries, got %d", views)
	}
}

func TestDeliveryFailureDoesNotBlockIssue(t *testing.T) {
	svc, _, auditStore, dispatcher := newTestService(t)
	dispatcher.fail = errors.New("smtp unreachable")
	ctx := context.Background()

	tok, err := svc.Issue(ctx, IssueParams{Purpose: PurposeBrandReply, SubjectID: "deal-8"})
	if err != nil {
		t.Fatalf("Issue should survive delivery failure: %v", err)
	}
	if _, err := svc.Claim(ctx, tok.Secret, PurposeBrandReply); err != nil {
		t.Fatalf("token unusable after delivery failure: %v", err)
	}

	entries, _ := auditStore.Query(ctx, "deal-8")
	found := false
	for _, e := range entries {
		if e.EventType == audit.EventTokenDeliveryFailed {
			found = true
		}
	}
	if !found {
		t.Fatal("expected delivery failure audit entry")
	}
}

func TestSweepExpiredFlagsOnlyUnresolved(t *testing.T) {
	svc, clock, _, _ := newTestService(t)
	ctx := context.Background()

	expired, _ := svc.Issue(ctx, IssueParams{Purpose: PurposeBrandReply, SubjectID: "deal-10", TTL: time.Hour})
	used, _ := svc.Issue(ctx, IssueParams{Purpose: PurposeBrandReply, SubjectID: "deal-10", TTL: time.Hour})
	if _, err := svc.Claim(ctx, used.Secret, PurposeBrandReply); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	live, _ := svc.Issue(ctx, IssueParams{Purpose: PurposeBrandReply, SubjectID: "deal-10", TTL: 48 * time.Hour})

	clock.Advance(2 * time.Hour)
	n, err := svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept token, got %d", n)
	}
	// Second sweep is a no-op.
	if n, _ := svc.SweepExpired(ctx); n != 0 {
		t.Fatalf("expected idempotent sweep, got %d", n)
	}

	got, err := svc.Get(ctx, expired.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Expired {
		t.Fatal("expected expired flag set")
	}
	if _, err := svc.Claim(ctx, live.Secret, PurposeBrandReply); err != nil {
		t.Fatalf("live token should still claim: %v", err)
	}
}

func TestNoSecretInAudit(t *testing.T) {
	svc, _, auditStore, _ := newTestService(t)
	ctx := context.Background()

	tok, err := svc.Issue(ctx, IssueParams{Purpose: PurposeSignContract, SubjectID: "deal-11"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	entries, _ := auditStore.Query(ctx, "deal-11")
	for _, e := range entries {
		for k, v := range e.Detail {
			if v == tok.Secret {
				t.Fatalf("secret leaked into audit detail %q", k)
			}
		}
	}
}
