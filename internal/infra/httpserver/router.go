package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/bryanwahyu/support-guardrail/internal/application/guardrail"
	"github.com/bryanwahyu/support-guardrail/internal/domain/disclosure"
	"github.com/bryanwahyu/support-guardrail/internal/domain/messages"
	"github.com/bryanwahyu/support-guardrail/internal/domain/outcome"
	"github.com/bryanwahyu/support-guardrail/internal/domain/session"
	"github.com/bryanwahyu/support-guardrail/internal/middleware"
)

const maxBodyBytes = 1 << 20

// errBadBody marks an undecodable request body.
var errBadBody = errors.New("malformed request body")

// MetricsSink is what the router needs from the metrics package.
type MetricsSink interface {
	middleware.HTTPMetrics
	Handler() http.Handler
}

// Options wires the transport concerns around the service.
type Options struct {
	APIKeys     map[string]string
	RateLimiter *middleware.RateLimiter
	Metrics     MetricsSink
	CORSOrigins []string
	Checkers    map[string]middleware.HealthChecker
	Readiness   *middleware.Readiness
	Logger      *slog.Logger
}

type Router struct {
	svc    *guardrail.Service
	logger *slog.Logger
}

func NewRouter(svc *guardrail.Service, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{svc: svc, logger: logger}
	mux := chi.NewRouter()

	mux.Use(middleware.RequestID)
	mux.Use(middleware.Logging(logger))
	if opts.Metrics != nil {
		mux.Use(middleware.Metrics(opts.Metrics))
	}
	if len(opts.CORSOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "Accept-Language"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}
	mux.Use(middleware.APIKeyAuth(opts.APIKeys))
	if opts.RateLimiter != nil {
		mux.Use(middleware.RateLimit(opts.RateLimiter))
	}

	mux.Get("/health", middleware.HealthHandler(opts.Checkers))
	readiness := opts.Readiness
	if readiness == nil {
		readiness = &middleware.Readiness{}
	}
	mux.Method(http.MethodGet, "/ready", readiness)
	mux.Get("/live", middleware.LivenessHandler)
	if opts.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	mux.Route("/v1/{tenant}", func(rt chi.Router) {
		rt.Use(middleware.RequireTenant(func(_ *http.Request, authTenant, urlTenant string) {
			svc.ReportTenantMismatch(authTenant, urlTenant)
		}))
		rt.Post("/turns/evaluate", r.wrap(r.handleEvaluateTurn))
		rt.Post("/verification/gate", r.wrap(r.handleGate))
		rt.Get("/sessions/{session}/verification", r.wrap(r.handleVerificationStatus))
		rt.Post("/disclosure/stock", r.wrap(r.handleDiscloseStock))
		rt.Post("/disclosure/candidates", r.wrap(r.handleDiscloseCandidates))
		rt.Post("/leak/scan", r.wrap(r.handleLeakScan))
		rt.Post("/grounding/check", r.wrap(r.handleGroundingCheck))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// langError carries the request language to the error response.
type langError struct {
	err  error
	lang string
}

func (e langError) Error() string { return e.err.Error() }
func (e langError) Unwrap() error { return e.err }

func withLang(err error, lang string) error {
	if err == nil {
		return nil
	}
	return langError{err: err, lang: lang}
}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		switch {
		case errors.Is(err, guardrail.ErrInvalidRequest), errors.Is(err, errBadBody):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		case errors.Is(err, session.ErrLockTimeout):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "session busy, retry"})
			return
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "request aborted"})
			return
		}

		// corrupted state, contract violations and store faults: the user
		// gets the catalog message, never the error text
		lang := req.Header.Get("Accept-Language")
		var le langError
		if errors.As(err, &le) && le.lang != "" {
			lang = le.lang
		}
		r.logger.Error("guardrail request failed",
			"path", req.URL.Path,
			"tenant", chi.URLParam(req, "tenant"),
			"request_id", middleware.GetRequestID(req.Context()),
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, r.systemError(lang))
	}
}

func (r *Router) systemError(lang string) outcome.Response {
	c := r.svc.Catalog
	if c == nil {
		c = messages.Default()
	}
	return outcome.Response{
		Text: c.ForOutcome(messages.ParseLanguage(lang), outcome.SystemError, ""),
		Metadata: outcome.ResponseMetadata{
			Outcome:         outcome.SystemError,
			GuardrailAction: outcome.ActionBlock,
			GuardrailReason: "system_error",
			MessageType:     outcome.MessageTypeFor(outcome.SystemError),
		},
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, req *http.Request, v any) error {
	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

func checkSession(id string) error {
	if err := middleware.ValidateSessionID(id); err != nil {
		return fmt.Errorf("%w: %v", guardrail.ErrInvalidRequest, err)
	}
	return nil
}

// POST /v1/{tenant}/turns/evaluate
func (r *Router) handleEvaluateTurn(w http.ResponseWriter, req *http.Request) error {
	var body guardrail.TurnRequest
	if err := decode(w, req, &body); err != nil {
		return err
	}
	if err := checkSession(body.SessionID); err != nil {
		return err
	}
	body.BusinessID = chi.URLParam(req, "tenant")
	body.UserMessage = middleware.SanitizeString(body.UserMessage)

	resp, err := r.svc.EvaluateTurn(req.Context(), body)
	if err != nil {
		return withLang(err, body.Language)
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

// POST /v1/{tenant}/verification/gate
func (r *Router) handleGate(w http.ResponseWriter, req *http.Request) error {
	var body guardrail.GateRequest
	if err := decode(w, req, &body); err != nil {
		return err
	}
	if err := checkSession(body.SessionID); err != nil {
		return err
	}
	body.BusinessID = chi.URLParam(req, "tenant")

	res, err := r.svc.GateRecord(req.Context(), body)
	if err != nil {
		return withLang(err, body.Language)
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

// GET /v1/{tenant}/sessions/{session}/verification
func (r *Router) handleVerificationStatus(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "session")
	if err := checkSession(id); err != nil {
		return err
	}
	v, err := r.svc.VerificationStatus(req.Context(), chi.URLParam(req, "tenant"), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, v)
	return nil
}

// POST /v1/{tenant}/disclosure/stock
func (r *Router) handleDiscloseStock(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Record       disclosure.StockRecord `json:"record"`
		UserRole     string                 `json:"userRole"`
		RequestedQty int                    `json:"requestedQty"`
	}
	if err := decode(w, req, &body); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, r.svc.DiscloseStock(body.Record, body.UserRole, body.RequestedQty))
	return nil
}

// POST /v1/{tenant}/disclosure/candidates
func (r *Router) handleDiscloseCandidates(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Candidates   []disclosure.StockRecord `json:"candidates"`
		UserRole     string                   `json:"userRole"`
		RequestedQty int                      `json:"requestedQty"`
	}
	if err := decode(w, req, &body); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, r.svc.DiscloseCandidates(body.Candidates, body.UserRole, body.RequestedQty))
	return nil
}

// POST /v1/{tenant}/leak/scan
func (r *Router) handleLeakScan(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Text               string                     `json:"text"`
		VerificationStatus outcome.VerificationStatus `json:"verificationStatus"`
		Language           string                     `json:"language"`
		KnownSafe          []string                   `json:"knownSafe"`
	}
	if err := decode(w, req, &body); err != nil {
		return err
	}
	if strings.TrimSpace(body.Text) == "" {
		return fmt.Errorf("%w: text is required", guardrail.ErrInvalidRequest)
	}
	res, err := r.svc.ScanLeak(body.Text, body.VerificationStatus, body.Language, body.KnownSafe)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

// POST /v1/{tenant}/grounding/check
func (r *Router) handleGroundingCheck(w http.ResponseWriter, req *http.Request) error {
	var body guardrail.GroundingRequest
	if err := decode(w, req, &body); err != nil {
		return err
	}
	res, err := r.svc.CheckGrounding(body)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}
