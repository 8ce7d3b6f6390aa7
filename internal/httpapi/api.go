package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pratyushraj/noticebazaar-sub012/internal/audit"
	"github.com/pratyushraj/noticebazaar-sub012/internal/obs"
	"github.com/pratyushraj/noticebazaar-sub012/internal/otp"
	"github.com/pratyushraj/noticebazaar-sub012/internal/signature"
	"github.com/pratyushraj/noticebazaar-sub012/internal/stream"
	"github.com/pratyushraj/noticebazaar-sub012/internal/token"
)

const maxBodyBytes = 1 << 20

// ReadyProbe reports whether the service can take traffic.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the token, verification and signature
// services.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	tokens   *token.Service
	codes    *otp.Service
	workflow *signature.Workflow
	recorder *audit.Recorder
	stream   *stream.Stream

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, tokens *token.Service, codes *otp.Service, workflow *signature.Workflow, recorder *audit.Recorder, st *stream.Stream) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		tokens:     tokens,
		codes:      codes,
		workflow:   workflow,
		recorder:   recorder,
		stream:     st,
		rateBurst:  20,
		ratePerSec: 10,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/v1/tokens", a.handleTokensCollection)
	a.mux.HandleFunc("/v1/tokens/", a.handleTokenResource)
	a.mux.HandleFunc("/v1/deals/", a.handleDeals)
	a.mux.HandleFunc("/v1/audit/", a.handleAuditQuery)
	a.mux.HandleFunc("/v1/events", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// SetRateLimit overrides the default per-IP rate limit. Call before
// Handler.
func (a *API) SetRateLimit(burst, perSecond int) {
	if burst > 0 {
		a.rateBurst = burst
	}
	if perSecond > 0 {
		a.ratePerSec = perSecond
	}
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, maxBodyBytes)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "noticebazaar-core",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// handleAuditQuery serves the audit trail for one subject. Dashboard only.
func (a *API) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	subjectID := strings.TrimPrefix(r.URL.Path, "/v1/audit/")
	if subjectID == "" || strings.Contains(subjectID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	entries, err := a.recorder.Query(r.Context(), subjectID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subject_id": subjectID,
		"items":      entries,
		"as_of":      time.Now().UTC(),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code, msg string, extra map[string]any) {
	payload := map[string]any{
		"error": msg,
		"code":  code,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
