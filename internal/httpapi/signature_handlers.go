package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/pratyushraj/noticebazaar-sub012/internal/signature"
)

type requestSignatureRequest struct {
	SignerName  string `json:"signer_name"`
	SignerEmail string `json:"signer_email"`
	TTLSeconds  int64  `json:"ttl_seconds"`
}

func (a *API) handleDeals(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/deals/")
	parts := strings.Split(rest, "/")
	// Shapes: {dealID}/signatures, {dealID}/signatures/{role}/request,
	// {dealID}/signatures/{role}/reset.
	if len(parts) < 2 || parts[0] == "" || parts[1] != "signatures" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	dealID := parts[0]

	switch {
	case len(parts) == 2:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.signatureStatus(w, r, dealID)
	case len(parts) == 4:
		role, ok := signature.ParseRole(parts[2])
		if !ok {
			writeError(w, r, http.StatusBadRequest, "unknown signer role")
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		switch parts[3] {
		case "request":
			a.requestSignature(w, r, dealID, role)
		case "reset":
			RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				a.resetSignature(w, r, dealID, role)
			})).ServeHTTP(w, r)
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) requestSignature(w http.ResponseWriter, r *http.Request, dealID string, role signature.Role) {
	var req requestSignatureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.TTLSeconds < 0 {
		writeError(w, r, http.StatusBadRequest, "ttl_seconds must be >= 0")
		return
	}

	tok, err := a.workflow.RequestSignature(r.Context(), signature.RequestParams{
		DealID:      dealID,
		Role:        role,
		SignerName:  req.SignerName,
		SignerEmail: req.SignerEmail,
		TTL:         time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		a.handleSignatureError(w, r, err, nil)
		return
	}

	writeJSON(w, http.StatusCreated, issueTokenResponse{
		ID:        tok.ID,
		Secret:    tok.Secret,
		Purpose:   string(tok.Purpose),
		SubjectID: tok.SubjectID,
		ExpiresAt: tok.ExpiresAt,
	})
}

func (a *API) resetSignature(w http.ResponseWriter, r *http.Request, dealID string, role signature.Role) {
	cleared, err := a.workflow.Reset(r.Context(), dealID, role)
	if err != nil {
		a.handleSignatureError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "reset",
		"signature": cleared,
	})
}

func (a *API) signatureStatus(w http.ResponseWriter, r *http.Request, dealID string) {
	statuses, err := a.workflow.StatusForDeal(r.Context(), dealID)
	if err != nil {
		a.handleSignatureError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deal_id": dealID,
		"items":   statuses,
	})
}
