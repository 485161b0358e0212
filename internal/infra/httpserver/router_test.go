package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/support-guardrail/internal/application"
	"github.com/bryanwahyu/support-guardrail/internal/application/guardrail"
	"github.com/bryanwahyu/support-guardrail/internal/domain/audit"
	"github.com/bryanwahyu/support-guardrail/internal/domain/leak"
	"github.com/bryanwahyu/support-guardrail/internal/domain/messages"
	"github.com/bryanwahyu/support-guardrail/internal/domain/outcome"
	"github.com/bryanwahyu/support-guardrail/internal/domain/session"
	"github.com/bryanwahyu/support-guardrail/internal/domain/verification"
	"github.com/bryanwahyu/support-guardrail/internal/infra/db/memory"
	"github.com/bryanwahyu/support-guardrail/internal/infra/metrics"
	"github.com/bryanwahyu/support-guardrail/internal/middleware"
)

type fixture struct {
	handler http.Handler
	svc     *guardrail.Service
	sink    *memory.Sink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f, err := leak.NewFilter()
	require.NoError(t, err)
	sink := memory.NewSink()
	m := metrics.New()
	svc := &guardrail.Service{
		Leak:     f,
		Verifier: &verification.Machine{},
		States:   memory.NewStateStore(),
		Locks:    memory.NewLocker(),
		Audit:    audit.NewRecorder(sink, nil, audit.RecorderOptions{}),
		Observer: m,
		Clock:    application.NewManualClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)),
	}
	h := NewRouter(svc, Options{
		APIKeys:     map[string]string{"biz-1": "k1", "biz-2": "k2"},
		RateLimiter: middleware.NewRateLimiter(1000, 1000),
		Metrics:     m,
		CORSOrigins: []string{"https://panel.example.com"},
		Logger:      nil,
	})
	return &fixture{handler: h, svc: svc, sink: sink}
}

func (fx *fixture) do(method, path, key string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, _ := json.Marshal(b)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	return rec
}

func turn(name, reply string) map[string]any {
	return map[string]any{
		"sessionId": "sess-1",
		"language":  "tr",
		"reply":     reply,
		"verification": map[string]any{
			"record": map[string]any{
				"order_number":  "123456",
				"customer_name": "Ahmet Yılmaz",
				"status":        "shipped",
			},
			"anchorType":   "order",
			"anchorValue":  "123456",
			"providedName": name,
			"queryType":    "order_status",
		},
	}
}

func TestEvaluateTurnEndpoint(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(http.MethodPost, "/v1/biz-1/turns/evaluate", "k1", turn("", "Siparişinizi kontrol ediyorum."))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp outcome.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, outcome.VerificationRequired, resp.Metadata.Outcome)
	assert.NotEmpty(t, resp.Text)

	rec = fx.do(http.MethodPost, "/v1/biz-1/turns/evaluate", "k1", turn("Ahmet Yılmaz", "Siparişiniz kargoya verildi."))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, outcome.OK, resp.Metadata.Outcome)
	assert.Equal(t, outcome.StatusVerified, resp.Metadata.VerificationStatus)

	rec = fx.do(http.MethodGet, "/v1/biz-1/sessions/sess-1/verification", "k1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view guardrail.StatusView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, outcome.StatusVerified, view.Status)
	assert.NotContains(t, rec.Body.String(), "Ahmet")

	// same session id under another tenant is a different session
	rec = fx.do(http.MethodGet, "/v1/biz-2/sessions/sess-1/verification", "k2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, outcome.StatusNone, view.Status)
}

func TestBadRequests(t *testing.T) {
	fx := newFixture(t)
	assert.Equal(t, http.StatusBadRequest, fx.do(http.MethodPost, "/v1/biz-1/turns/evaluate", "k1", "{").Code)
	assert.Equal(t, http.StatusBadRequest, fx.do(http.MethodPost, "/v1/biz-1/turns/evaluate", "k1", map[string]any{"reply": "x"}).Code)
	assert.Equal(t, http.StatusBadRequest, fx.do(http.MethodPost, "/v1/biz-1/turns/evaluate", "k1",
		map[string]any{"sessionId": "s", "reply": "x", "outcome": "MAYBE"}).Code)
	assert.Equal(t, http.StatusBadRequest, fx.do(http.MethodPost, "/v1/biz-1/leak/scan", "k1",
		map[string]any{"text": "x", "verificationStatus": "half"}).Code)
	assert.Equal(t, http.StatusBadRequest, fx.do(http.MethodPost, "/v1/biz-1/leak/scan", "k1", map[string]any{"text": " "}).Code)
}

func TestAuthAndTenantMismatch(t *testing.T) {
	fx := newFixture(t)
	assert.Equal(t, http.StatusUnauthorized, fx.do(http.MethodPost, "/v1/biz-1/leak/scan", "", map[string]any{"text": "x"}).Code)
	assert.Equal(t, http.StatusUnauthorized, fx.do(http.MethodPost, "/v1/biz-1/leak/scan", "wrong", map[string]any{"text": "x"}).Code)

	rec := fx.do(http.MethodPost, "/v1/biz-2/leak/scan", "k1", map[string]any{"text": "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	fx.svc.Audit.Wait()
	events := fx.sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventCrossTenant, events[0].Type)
	assert.Equal(t, "biz-1", events[0].BusinessID)
}

type corruptStore struct{}

func (corruptStore) Get(context.Context, string) (verification.State, error) {
	return verification.State{Status: outcome.StatusVerified}, nil
}

func (corruptStore) Set(context.Context, string, verification.State) error { return nil }

func TestSystemErrorUsesCatalogMessage(t *testing.T) {
	fx := newFixture(t)
	fx.svc.States = corruptStore{}

	body := turn("", "x")
	body["language"] = "en"
	rec := fx.do(http.MethodPost, "/v1/biz-1/turns/evaluate", "k1", body)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp outcome.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, outcome.SystemError, resp.Metadata.Outcome)
	assert.Equal(t, messages.Default().ForOutcome(messages.EN, outcome.SystemError, ""), resp.Text)
	assert.NotContains(t, rec.Body.String(), "corrupted")
}

type busyLocker struct{}

func (busyLocker) Lock(context.Context, string) (func(), error) { return nil, session.ErrLockTimeout }

func TestLockTimeoutIsConflict(t *testing.T) {
	fx := newFixture(t)
	fx.svc.Locks = busyLocker{}
	rec := fx.do(http.MethodPost, "/v1/biz-1/turns/evaluate", "k1", turn("", "x"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStandaloneToolEndpoints(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(http.MethodPost, "/v1/biz-1/leak/scan", "k1", map[string]any{
		"text":               "Müşterinin numarası 0554 260 11 64.",
		"verificationStatus": "verified",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var lr leak.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&lr))
	assert.NotEqual(t, outcome.ActionPass, lr.Action)
	assert.NotContains(t, lr.Text, "260 11 64")

	rec = fx.do(http.MethodPost, "/v1/biz-1/grounding/check", "k1", map[string]any{
		"reply":       "Siparişiniz kargoya verildi.",
		"toolsCalled": []string{},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"passed":false`)

	rec = fx.do(http.MethodPost, "/v1/biz-1/disclosure/stock", "k1", map[string]any{
		"record":       map[string]any{"product_name": "Kalem", "sku": "K-1", "in_stock": true, "quantity": 3},
		"requestedQty": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"quantity":3`)

	rec = fx.do(http.MethodPost, "/v1/biz-1/disclosure/candidates", "k1", map[string]any{
		"candidates": []map[string]any{
			{"product_name": "Kalem Mavi", "sku": "K-1", "in_stock": true, "quantity": 3},
			{"product_name": "Kalem Kırmızı", "sku": "K-2", "in_stock": false, "quantity": 0},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":2`)

	rec = fx.do(http.MethodPost, "/v1/biz-1/verification/gate", "k1", map[string]any{
		"sessionId":   "sess-9",
		"anchorType":  "order",
		"anchorValue": "123456",
		"queryType":   "order_status",
		"record":      map[string]any{"order_number": "123456", "customer_name": "Ahmet Yılmaz"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var tr outcome.ToolResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tr))
	assert.Equal(t, outcome.VerificationRequired, tr.Outcome)
}

func TestPublicEndpoints(t *testing.T) {
	fx := newFixture(t)
	fx.do(http.MethodPost, "/v1/biz-1/leak/scan", "k1", map[string]any{"text": "Merhaba"})

	assert.Equal(t, http.StatusOK, fx.do(http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, fx.do(http.MethodGet, "/ready", "", nil).Code)
	assert.Equal(t, "ok", fx.do(http.MethodGet, "/live", "", nil).Body.String())

	rec := fx.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `guardrail_decisions_total{action="PASS"`)
	assert.Contains(t, rec.Body.String(), `route="/v1/{tenant}/leak/scan"`)
}

func TestCORSPreflight(t *testing.T) {
	fx := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/biz-1/leak/scan", nil)
	req.Header.Set("Origin", "https://panel.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://panel.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
