package router

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/llm-router-waf/internal/audit"
	"github.com/tributary-ai/llm-router-waf/internal/config"
	"github.com/tributary-ai/llm-router-waf/internal/metrics"
)

func newTestRouter(t *testing.T, backendURL string) *Router {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "router.yaml")
	contents := `
caching:
  enabled: true
  ttl: 60s
  max_size: 10
retry:
  max_retries: 1
  initial_backoff_ms: 1
circuit_breaker:
  enabled: true
  failure_threshold: 2
  reset_timeout_secs: 60
load_balancing_strategy: round_robin
policies:
  - name: default
    classifier_url: http://classifier.invalid/classify
    llms:
      - name: echo
        api_base: ` + backendURL + `
        api_key: test-key
        model: echo-model
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store, err := config.NewStore(path, logger)
	require.NoError(t, err)

	return New(store, metrics.New(), logger)
}

func TestServeHTTP_RoutesByExplicitModelAndCachesResponse(t *testing.T) {
	var hits int
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"resp-1"}`))
	}))
	defer backend.Close()

	rt := newTestRouter(t, backend.URL)

	body := []byte(`{"nim-llm-router":{"policy":"default","model":"echo"},"model":"placeholder","temperature":0,"top_p":1}`)

	req1 := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w1 := httptest.NewRecorder()
	rt.ServeHTTP(w1, req1)
	require.Equal(t, http.StatusOK, w1.Code)
	assert.Equal(t, 1, hits)

	req2 := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w2 := httptest.NewRecorder()
	rt.ServeHTTP(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, 1, hits, "second identical request should be served from cache")
	assert.Equal(t, w1.Body.String(), w2.Body.String())
}

func TestServeHTTP_MissingEnvelopeRejected(t *testing.T) {
	rt := newTestRouter(t, "http://unused.invalid")

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte(`{"model":"m"}`)))
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServeHTTP_UnknownPolicyRejected(t *testing.T) {
	rt := newTestRouter(t, "http://unused.invalid")

	body := []byte(`{"nim-llm-router":{"policy":"missing","model":"echo"}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServeHTTP_UnknownModelRejected(t *testing.T) {
	rt := newTestRouter(t, "http://unused.invalid")

	body := []byte(`{"nim-llm-router":{"policy":"default","model":"does-not-exist"}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServeHTTP_ProviderFailureOpensBreakerAfterThreshold(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	rt := newTestRouter(t, backend.URL)
	body := []byte(`{"nim-llm-router":{"policy":"default","model":"echo"},"stream":false}`)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
		w := httptest.NewRecorder()
		rt.ServeHTTP(w, req)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "breaker should now be open, refusing before dispatch")
}

func TestServeHTTP_UnknownPolicyEmitsPolicyRejectedAudit(t *testing.T) {
	rt := newTestRouter(t, "http://unused.invalid")
	auditLogger := audit.NewLogger(rt.Logger)
	defer auditLogger.Stop()
	rt.Audit = auditLogger

	body := []byte(`{"nim-llm-router":{"policy":"missing","model":"echo"}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, int64(1), auditLogger.Count())
}

func newTestRouterWithResetTimeout(t *testing.T, backendURL string, resetTimeoutSecs int) *Router {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "router.yaml")
	contents := `
retry:
  max_retries: 0
  initial_backoff_ms: 1
circuit_breaker:
  enabled: true
  failure_threshold: 2
  reset_timeout_secs: ` + strconv.Itoa(resetTimeoutSecs) + `
load_balancing_strategy: round_robin
policies:
  - name: default
    classifier_url: http://classifier.invalid/classify
    llms:
      - name: echo
        api_base: ` + backendURL + `
        api_key: test-key
        model: echo-model
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store, err := config.NewStore(path, logger)
	require.NoError(t, err)

	return New(store, metrics.New(), logger)
}

type auditEventHook struct {
	events []audit.EventType
}

func (h *auditEventHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *auditEventHook) Fire(e *logrus.Entry) error {
	if v, ok := e.Data["audit_event"]; ok {
		if et, ok := v.(audit.EventType); ok {
			h.events = append(h.events, et)
		}
	}
	return nil
}

func TestServeHTTP_BreakerRecoveryEmitsBreakerClosedAudit(t *testing.T) {
	var failing int32 = 1
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&failing) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer backend.Close()

	rt := newTestRouterWithResetTimeout(t, backend.URL, 1)
	hook := &auditEventHook{}
	rt.Logger.AddHook(hook)
	auditLogger := audit.NewLogger(rt.Logger)
	rt.Audit = auditLogger

	body := []byte(`{"nim-llm-router":{"policy":"default","model":"echo"},"stream":false}`)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
		w := httptest.NewRecorder()
		rt.ServeHTTP(w, req)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	}

	atomic.StoreInt32(&failing, 0)
	time.Sleep(1100 * time.Millisecond)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "breaker should admit the half-open probe and succeed")

	auditLogger.Stop()

	assert.Contains(t, hook.events, audit.BreakerClosed)
}

func TestLastDecisionAndAllDecisions(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer backend.Close()

	rt := newTestRouter(t, backend.URL)
	body := []byte(`{"nim-llm-router":{"policy":"default","model":"echo"}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	dec, ok := rt.LastDecision("default")
	require.True(t, ok)
	assert.Equal(t, "echo", dec.SelectedLLM)

	all := rt.AllDecisions()
	assert.Len(t, all, 1)

	_, ok = rt.LastDecision("missing")
	assert.False(t, ok)
}
