package admission

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/llm-router-waf/internal/audit"
)

func httpRequestWithHeaders(headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/default", nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_PassesValidRequestThrough(t *testing.T) {
	a := &Admission{Auth: NewAuthenticator(nil, "", silentLogger())}
	handler := a.Middleware(okHandler())

	r := httptest.NewRequest(http.MethodPost, "/default", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_ValidationFailureShortCircuits(t *testing.T) {
	v, err := NewValidator(ValidationConfig{AllowedMethods: []string{http.MethodGet}})
	require.NoError(t, err)

	a := &Admission{Validator: v, Auth: NewAuthenticator(nil, "", silentLogger())}
	handler := a.Middleware(okHandler())

	r := httptest.NewRequest(http.MethodPost, "/default", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMiddleware_AuthFailureLogsAuditEvent(t *testing.T) {
	logger := silentLogger()
	auditLogger := audit.NewLogger(logger)
	defer auditLogger.Stop()

	a := &Admission{Auth: NewAuthenticator([]string{"secret"}, "", logger), Audit: auditLogger}
	handler := a.Middleware(okHandler())

	r := httptest.NewRequest(http.MethodPost, "/default", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, int64(1), auditLogger.Count())
}

func TestMiddleware_RateLimitRefusalReturns429(t *testing.T) {
	rl := NewRateLimiter(1, 0, false)
	a := &Admission{Auth: NewAuthenticator(nil, "", silentLogger()), RateLimit: rl}
	handler := a.Middleware(okHandler())

	r := httptest.NewRequest(http.MethodPost, "/default", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestMiddleware_RateLimitBypassedForHealthPath(t *testing.T) {
	rl := NewRateLimiter(1, 0, false)
	a := &Admission{Auth: NewAuthenticator(nil, "", silentLogger()), RateLimit: rl}
	handler := a.Middleware(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}
