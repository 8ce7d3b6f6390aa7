package signature

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pratyushraj/noticebazaar-sub012/internal/audit"
	"github.com/pratyushraj/noticebazaar-sub012/internal/notify"
	"github.com/pratyushraj/noticebazaar-sub012/internal/obs"
	"github.com/pratyushraj/noticebazaar-sub012/internal/otp"
	"github.com/pratyushraj/noticebazaar-sub012/internal/stream"
	"github.com/pratyushraj/noticebazaar-sub012/internal/token"
)

// Workflow drives the OTP-gated signing ceremony for a deal: request a
// signing token, claim it to receive a one-time code, confirm the code to
// apply the signature. The token service enforces at-most-once claims and
// the store enforces at-most-once application, so the workflow itself holds
// no locks.
type Workflow struct {
	store      Store
	tokens     *token.Service
	codes      *otp.Service
	recorder   *audit.Recorder
	events     *stream.Stream
	dispatcher notify.Dispatcher
	now        func() time.Time
}

// Option configures Workflow behavior.
type Option func(*Workflow)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(w *Workflow) {
		if fn != nil {
			w.now = fn
		}
	}
}

// WithEvents sets the stream completed signatures are published to.
func WithEvents(st *stream.Stream) Option {
	return func(w *Workflow) {
		w.events = st
	}
}

// WithDispatcher sets the collaborator that delivers one-time codes.
func WithDispatcher(d notify.Dispatcher) Option {
	return func(w *Workflow) {
		w.dispatcher = d
	}
}

// NewWorkflow constructs a signing Workflow.
func NewWorkflow(store Store, tokens *token.Service, codes *otp.Service, recorder *audit.Recorder, opts ...Option) *Workflow {
	w := &Workflow{
		store:    store,
		tokens:   tokens,
		codes:    codes,
		recorder: recorder,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RequestParams describes a dashboard request for a signing link.
type RequestParams struct {
	DealID      string
	Role        Role
	SignerName  string
	SignerEmail string
	TTL         time.Duration
}

// RequestSignature ensures the signature row exists and mints a signing
// token for it. Requesting again before the previous token resolves
// revokes the old link, binds the row to the fresh token and audits the
// re-request.
func (w *Workflow) RequestSignature(ctx context.Context, p RequestParams) (*token.ActionToken, error) {
	p.DealID = strings.TrimSpace(p.DealID)
	if p.DealID == "" {
		return nil, fmt.Errorf("%w: deal_id is required", ErrInvalidInput)
	}
	row, err := w.store.Ensure(ctx, p.DealID, p.Role, p.SignerName, p.SignerEmail, w.now().UTC())
	if err != nil {
		return nil, err
	}
	if row.Signed {
		return nil, ErrAlreadyApplied
	}
	reRequest := row.TokenID != ""
	if reRequest {
		// The superseded link reports revoked instead of silently burning
		// its single-use claim.
		if err := w.tokens.Revoke(ctx, row.TokenID); err != nil && !errors.Is(err, token.ErrNotFound) {
			return nil, err
		}
	}

	tok, err := w.tokens.Issue(ctx, token.IssueParams{
		Purpose:       token.PurposeSignContract,
		SubjectID:     p.DealID,
		TTL:           p.TTL,
		RecipientHint: p.SignerEmail,
	})
	if err != nil {
		return nil, err
	}
	if _, err := w.store.SetToken(ctx, p.DealID, p.Role, tok.ID); err != nil {
		return nil, err
	}
	if reRequest {
		w.audit(ctx, audit.EventSignatureReRequested, row, map[string]string{
			"token_id": tok.ID,
		})
	}
	return tok, nil
}

// BeginVerification claims the signing token and issues the one-time code
// for it. The claim consumes the link; a second open observes already_used.
// The plaintext code goes only to the dispatcher.
func (w *Workflow) BeginVerification(ctx context.Context, secret string) (*ContractSignature, *otp.Challenge, error) {
	tok, err := w.tokens.Claim(ctx, secret, token.PurposeSignContract)
	if err != nil {
		return nil, nil, err
	}
	row, err := w.store.FindByToken(ctx, tok.ID)
	if err != nil {
		return nil, nil, err
	}
	if row.Signed {
		return row, nil, ErrAlreadyApplied
	}

	code, ch, err := w.codes.Challenge(ctx, tok.ID, tok.SubjectID)
	if err != nil {
		return nil, nil, err
	}
	w.dispatchCode(ctx, tok, code)
	return row, ch, nil
}

// dispatchCode hands the plaintext code to the notification collaborator.
// Failure does not roll back the challenge; it is audited.
func (w *Workflow) dispatchCode(ctx context.Context, tok *token.ActionToken, code string) {
	if w.dispatcher == nil {
		return
	}
	err := w.dispatcher.Send(ctx, notify.Message{
		RecipientHint: tok.RecipientHint,
		Purpose:       string(tok.Purpose),
		SubjectID:     tok.SubjectID,
		Code:          code,
	})
	if err != nil && w.recorder != nil {
		w.recorder.Record(ctx, audit.Entry{
			SubjectID: tok.SubjectID,
			EventType: audit.EventTokenDeliveryFailed,
			Detail: map[string]string{
				"token_id": tok.ID,
				"kind":     "otp_code",
				"error":    err.Error(),
			},
		})
	}
}

// ConfirmSignature verifies the submitted code against the challenge bound
// to the claimed token and, on success, applies the signature. A repeat
// confirmation returns the signed row with ErrAlreadyApplied so callers can
// render the final state. The token stays authoritative until the row
// signs: revocation or expiry between claim and confirmation blocks the
// signature even while the code window is still open.
func (w *Workflow) ConfirmSignature(ctx context.Context, secret, submittedCode, signerName string) (*ContractSignature, error) {
	tok, err := w.tokens.Lookup(ctx, secret, token.PurposeSignContract)
	if err != nil {
		return nil, err
	}
	row, err := w.store.FindByToken(ctx, tok.ID)
	if err != nil {
		return nil, err
	}
	if row.Signed {
		return row, ErrAlreadyApplied
	}

	// The used flag is expected here since the claim consumed the token,
	// so only the terminal conditions are checked. Expiry wins over
	// revocation, same ordering the claim path applies.
	now := w.now().UTC()
	switch {
	case !now.Before(tok.ExpiresAt):
		w.audit(ctx, audit.EventTokenClaimExpired, row, map[string]string{
			"token_id": tok.ID, "stage": "confirm",
		})
		return nil, token.ErrExpired
	case tok.Revoked:
		w.audit(ctx, audit.EventTokenClaimRevoked, row, map[string]string{
			"token_id": tok.ID, "stage": "confirm",
		})
		return nil, token.ErrRevoked
	}

	if _, err := w.codes.Verify(ctx, tok.ID, submittedCode); err != nil {
		return nil, err
	}

	signed, applied, err := w.store.Apply(ctx, row.DealID, row.Role, signerName, w.now().UTC())
	if err != nil {
		return nil, err
	}
	if !applied {
		return signed, ErrAlreadyApplied
	}

	w.audit(ctx, audit.EventSignatureApplied, signed, map[string]string{
		"token_id": tok.ID,
	})
	obs.SignaturesCompleted.WithLabelValues(string(signed.Role)).Inc()
	if w.events != nil {
		w.events.Publish(stream.Event{
			Type:      stream.EventSignatureCompleted,
			DealID:    signed.DealID,
			Role:      string(signed.Role),
			Timestamp: w.now().UTC(),
		})
	}
	return signed, nil
}

// Reset clears the signature so the role must run a fresh token and code
// cycle. The outstanding token, if any, is revoked. Admin-only at the API
// layer.
func (w *Workflow) Reset(ctx context.Context, dealID string, role Role) (*ContractSignature, error) {
	row, err := w.store.Find(ctx, dealID, role)
	if err != nil {
		return nil, err
	}
	if row.TokenID != "" {
		if err := w.tokens.Revoke(ctx, row.TokenID); err != nil && !errors.Is(err, token.ErrNotFound) {
			return nil, err
		}
	}
	cleared, err := w.store.Reset(ctx, dealID, role)
	if err != nil {
		return nil, err
	}
	w.audit(ctx, audit.EventSignatureReset, cleared, nil)
	return cleared, nil
}

// Status is one role's signature row with its derived state.
type Status struct {
	ContractSignature
	State string `json:"state"`
}

// StatusForDeal returns every signature row of the deal with its state.
func (w *Workflow) StatusForDeal(ctx context.Context, dealID string) ([]Status, error) {
	rows, err := w.store.List(ctx, dealID)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(rows))
	for i := range rows {
		state, err := w.deriveState(ctx, &rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, Status{ContractSignature: rows[i], State: state})
	}
	return out, nil
}

// deriveState folds the row, its bound token and the token's challenge into
// one of the signing states. Expiry of the token or the challenge reads as
// expired; a revoked token reads as revoked until a new link is requested.
func (w *Workflow) deriveState(ctx context.Context, row *ContractSignature) (string, error) {
	if row.Signed {
		return StateSigned, nil
	}
	if row.TokenID == "" {
		return StateNotReady, nil
	}
	tok, err := w.tokens.Get(ctx, row.TokenID)
	if errors.Is(err, token.ErrNotFound) {
		return StateNotReady, nil
	}
	if err != nil {
		return "", err
	}
	now := w.now().UTC()
	switch {
	case !now.Before(tok.ExpiresAt):
		return StateExpired, nil
	case tok.Revoked:
		return StateRevoked, nil
	case !tok.Used:
		return StateAwaitingSignature, nil
	}
	ch, err := w.codes.Find(ctx, tok.ID)
	if errors.Is(err, otp.ErrNotFound) {
		return StateAwaitingSignature, nil
	}
	if err != nil {
		return "", err
	}
	if !now.Before(ch.ExpiresAt) || ch.Attempts >= ch.MaxAttempts {
		return StateExpired, nil
	}
	return StateOTPPending, nil
}

func (w *Workflow) audit(ctx context.Context, event string, row *ContractSignature, detail map[string]string) {
	if w.recorder == nil {
		return
	}
	if detail == nil {
		detail = map[string]string{}
	}
	detail["signer_role"] = string(row.Role)
	w.recorder.Record(ctx, audit.Entry{
		SubjectID: row.DealID,
		EventType: event,
		Detail:    detail,
	})
}
