package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pratyushraj/noticebazaar-sub012/internal/otp"
	"github.com/pratyushraj/noticebazaar-sub012/internal/signature"
	"github.com/pratyushraj/noticebazaar-sub012/internal/token"
)

type issueTokenRequest struct {
	Purpose       string `json:"purpose"`
	SubjectID     string `json:"subject_id"`
	RecipientHint string `json:"recipient_hint"`
	TTLSeconds    int64  `json:"ttl_seconds"`
}

// issueTokenResponse carries the secret. Issuance is the only moment it
// leaves the service; every other payload omits it.
type issueTokenResponse struct {
	ID        string    `json:"id"`
	Secret    string    `json:"secret"`
	Purpose   string    `json:"purpose"`
	SubjectID string    `json:"subject_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type claimResponse struct {
	Status    string    `json:"status"`
	Purpose   string    `json:"purpose"`
	SubjectID string    `json:"subject_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type verifyOTPRequest struct {
	Code       string `json:"code"`
	SignerName string `json:"signer_name"`
}

func (a *API) handleTokensCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.issueToken(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleTokenResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/tokens/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if rest, ok := strings.CutSuffix(path, "/verify-otp"); ok {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.verifyOTP(w, r, rest)
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.claimToken(w, r, path)
	case http.MethodDelete:
		a.revokeToken(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) issueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	purpose, ok := token.ParsePurpose(req.Purpose)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown purpose")
		return
	}
	if req.TTLSeconds < 0 {
		writeError(w, r, http.StatusBadRequest, "ttl_seconds must be >= 0")
		return
	}

	tok, err := a.tokens.Issue(r.Context(), token.IssueParams{
		Purpose:       purpose,
		SubjectID:     req.SubjectID,
		RecipientHint: req.RecipientHint,
		TTL:           time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		a.handleTokenError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/tokens/"+tok.ID)
	writeJSON(w, http.StatusCreated, issueTokenResponse{
		ID:        tok.ID,
		Secret:    tok.Secret,
		Purpose:   string(tok.Purpose),
		SubjectID: tok.SubjectID,
		ExpiresAt: tok.ExpiresAt,
	})
}

// claimToken is the recipient-facing link open. Signing links do not
// resolve here to a subject payload; they start the code ceremony instead.
func (a *API) claimToken(w http.ResponseWriter, r *http.Request, secret string) {
	purpose, ok := token.ParsePurpose(r.URL.Query().Get("purpose"))
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown purpose")
		return
	}

	if purpose == token.PurposeSignContract {
		row, ch, err := a.workflow.BeginVerification(r.Context(), secret)
		if err != nil {
			a.handleSignatureError(w, r, err, row)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":             "otp_required",
			"deal_id":            row.DealID,
			"signer_role":        string(row.Role),
			"attempts_remaining": a.codes.RemainingAttempts(ch),
			"code_expires_at":    ch.ExpiresAt,
		})
		return
	}

	tok, err := a.tokens.Claim(r.Context(), secret, purpose)
	if err != nil {
		a.handleTokenError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{
		Status:    "ok",
		Purpose:   string(tok.Purpose),
		SubjectID: tok.SubjectID,
		ExpiresAt: tok.ExpiresAt,
	})
}

func (a *API) verifyOTP(w http.ResponseWriter, r *http.Request, secret string) {
	var req verifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, r, http.StatusBadRequest, "code is required")
		return
	}

	signed, err := a.workflow.ConfirmSignature(r.Context(), secret, req.Code, req.SignerName)
	if errors.Is(err, otp.ErrMismatch) {
		writeErrorCode(w, r, http.StatusUnauthorized, "otp_mismatch", "incorrect code", map[string]any{
			"attempts_remaining": a.remainingAttempts(r, secret),
		})
		return
	}
	if err != nil {
		a.handleSignatureError(w, r, err, signed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "signed",
		"signature": signed,
	})
}

func (a *API) revokeToken(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.tokens.Revoke(r.Context(), id); err != nil {
		a.handleTokenError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) remainingAttempts(r *http.Request, secret string) int {
	tok, err := a.tokens.Lookup(r.Context(), secret, token.PurposeSignContract)
	if err != nil {
		return 0
	}
	ch, err := a.codes.Find(r.Context(), tok.ID)
	if err != nil {
		return 0
	}
	return a.codes.RemainingAttempts(ch)
}

// handleTokenError maps token lifecycle errors. Not found, expired, used
// and revoked all read to the recipient as a dead link; the code field
// lets the dashboard explain more when it is the caller.
func (a *API) handleTokenError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, token.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, token.ErrNotFound):
		writeErrorCode(w, r, http.StatusNotFound, "link_invalid", "this link is not valid", nil)
	case errors.Is(err, token.ErrExpired):
		writeErrorCode(w, r, http.StatusGone, "link_expired", "this link has expired", nil)
	case errors.Is(err, token.ErrAlreadyUsed):
		writeErrorCode(w, r, http.StatusConflict, "link_already_used", "this link has already been used", nil)
	case errors.Is(err, token.ErrRevoked):
		writeErrorCode(w, r, http.StatusGone, "link_revoked", "this link is no longer active", nil)
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) handleSignatureError(w http.ResponseWriter, r *http.Request, err error, row *signature.ContractSignature) {
	switch {
	case errors.Is(err, signature.ErrAlreadyApplied):
		extra := map[string]any{}
		if row != nil {
			extra["signature"] = row
		}
		writeErrorCode(w, r, http.StatusConflict, "already_signed", "this contract is already signed", extra)
	case errors.Is(err, signature.ErrNotFound):
		writeErrorCode(w, r, http.StatusNotFound, "link_invalid", "this link is not valid", nil)
	case errors.Is(err, signature.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, otp.ErrExpired):
		writeErrorCode(w, r, http.StatusGone, "otp_expired", "the code has expired, request a new link", nil)
	case errors.Is(err, otp.ErrAttemptsExceeded):
		writeErrorCode(w, r, http.StatusGone, "otp_exhausted", "too many incorrect codes, request a new link", nil)
	case errors.Is(err, otp.ErrNotFound):
		writeErrorCode(w, r, http.StatusNotFound, "link_invalid", "this link is not valid", nil)
	default:
		a.handleTokenError(w, r, err)
	}
}
