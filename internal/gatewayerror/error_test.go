package gatewayerror

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCode_DefaultsWhenUnset(t *testing.T) {
	e := &GatewayError{KindSlug: KindInfrastructure}
	assert.Equal(t, http.StatusInternalServerError, e.StatusCode())
}

func TestToResponse_IncludesProviderAndCode(t *testing.T) {
	e := ProviderError(http.StatusBadGateway, "openai", "timeout")
	body, status := e.ToResponse()

	assert.Equal(t, http.StatusBadGateway, status)

	var env wireEnvelope
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, KindProviderError, env.Error.Type)
	assert.Equal(t, "openai", env.Error.Provider)
	assert.Equal(t, "timeout", env.Error.Details)
}

func TestConstructors_StableKindsAndStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    *GatewayError
		kind   Kind
		status int
	}{
		{"policy not found", PolicyNotFound("default"), KindRoutingPolicyNotFound, http.StatusBadRequest},
		{"model not found", ModelNotFound("small"), KindRoutingModelNotFound, http.StatusNotFound},
		{"no routing strategy", NoRoutingStrategy("bad"), KindRoutingNoStrategy, http.StatusBadRequest},
		{"invalid configuration", InvalidConfiguration("bad"), KindRoutingInvalidConfig, http.StatusInternalServerError},
		{"classifier unavailable", ClassifierUnavailable("down"), KindRoutingClassifierDown, http.StatusServiceUnavailable},
		{"invalid request", InvalidRequest("bad body"), KindInvalidRequest, http.StatusBadRequest},
		{"infrastructure", Infrastructure("boom"), KindInfrastructure, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, tc.err.KindSlug)
			assert.Equal(t, tc.status, tc.err.StatusCode())
		})
	}
}

func TestClassifierError_DefaultsStatusWhenZero(t *testing.T) {
	e := ClassifierError(0, "unreachable")
	assert.Equal(t, http.StatusServiceUnavailable, e.StatusCode())
}

func TestWrite_WrapsNonGatewayError(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var env wireEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, KindInfrastructure, env.Error.Type)
}

func TestWrite_PreservesGatewayErrorStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, ModelNotFound("small"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAs(t *testing.T) {
	ge, ok := As(ModelNotFound("small"))
	require.True(t, ok)
	assert.Equal(t, KindRoutingModelNotFound, ge.KindSlug)

	_, ok = As(assert.AnError)
	assert.False(t, ok)
}
