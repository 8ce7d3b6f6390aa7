package audit

import (
	"context"
	"strings"
	"time"

	"github.com/pratyushraj/noticebazaar-sub012/internal/auth"
	"github.com/pratyushraj/noticebazaar-sub012/internal/ids"
	"github.com/pratyushraj/noticebazaar-sub012/internal/obs"
)

// Event types recorded by the token, OTP and signature services. Every
// sensitive state transition maps to exactly one of these.
const (
	EventTokenIssued          = "token.issued"
	EventTokenClaimed         = "token.claimed"
	EventTokenViewed          = "token.viewed"
	EventTokenClaimNotFound   = "token.claim.not_found"
	EventTokenClaimExpired    = "token.claim.expired"
	EventTokenClaimUsed       = "token.claim.already_used"
	EventTokenClaimRevoked    = "token.claim.revoked"
	EventTokenRevoked         = "token.revoked"
	EventTokenExpiredSwept    = "token.expired_swept"
	EventTokenDeliveryFailed  = "token.delivery_failed"
	EventOTPIssued            = "otp.issued"
	EventOTPVerified          = "otp.verified"
	EventOTPMismatch          = "otp.verify.mismatch"
	EventOTPExpired           = "otp.verify.expired"
	EventOTPAttemptsExceeded  = "otp.verify.attempts_exceeded"
	EventSignatureApplied     = "signature.applied"
	EventSignatureReset       = "signature.reset"
	EventSignatureReRequested = "signature.re_requested"
)

// Entry is an immutable record of one sensitive state transition.
type Entry struct {
	ID         string            `json:"id"`
	SubjectID  string            `json:"subject_id"`
	EventType  string            `json:"event_type"`
	ActorHint  string            `json:"actor_hint,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Detail     map[string]string `json:"detail,omitempty"`
}

// Store appends and queries immutable entries. Entries are never updated
// or deleted.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	Query(ctx context.Context, subjectID string) ([]Entry, error)
}

// Recorder writes audit entries. Record never fails the triggering
// operation: a persistence failure is escalated as an alert log line
// instead, since losing an audit record is less harmful than losing a
// legitimate signature.
type Recorder struct {
	store Store
	now   func() time.Time
}

// NewRecorder constructs a Recorder over the given store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// WithClock overrides the time source. Only intended for tests.
func (r *Recorder) WithClock(fn func() time.Time) *Recorder {
	if fn != nil {
		r.now = fn
	}
	return r
}

// Record appends the entry and emits a structured audit log line. The
// caller's actor identity and request id are taken from context when the
// entry does not carry an actor hint itself.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = r.now().UTC()
	}
	if entry.ActorHint == "" {
		if userID, ok := auth.UserIDFromContext(ctx); ok {
			entry.ActorHint = userID
		}
	}

	line := map[string]any{
		"ts":      entry.OccurredAt.Format(time.RFC3339Nano),
		"type":    "audit",
		"event":   entry.EventType,
		"subject": entry.SubjectID,
	}
	if entry.ActorHint != "" {
		line["actor"] = entry.ActorHint
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		line["request_id"] = rid
	}
	if len(entry.Detail) > 0 {
		line["detail"] = entry.Detail
	}
	obs.LogLine(line)

	if r.store == nil {
		return
	}
	if err := r.store.Append(ctx, &entry); err != nil {
		obs.LogLine(map[string]any{
			"level": "error",
			"msg":   "audit append failed",
			"event": entry.EventType,
			"error": err.Error(),
		})
	}
}

// Query returns all entries for a subject ordered by timestamp.
func (r *Recorder) Query(ctx context.Context, subjectID string) ([]Entry, error) {
	if r.store == nil {
		return nil, nil
	}
	return r.store.Query(ctx, subjectID)
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit lines.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
