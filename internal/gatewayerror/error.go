// Package gatewayerror defines the stable error taxonomy the gateway presents to callers.
// Every failure that reaches a client is wrapped in a GatewayError before it is serialized;
// nothing propagates as a bare string.
package gatewayerror

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Source identifies which layer of the gateway produced an error.
type Source string

const (
	SourceClassifier  Source = "classifier"
	SourceLLMProvider Source = "llm_provider"
	SourceRouter      Source = "router"
	SourceClient      Source = "client"
	SourceInfra       Source = "infra"
)

// Kind is a stable slug identifying the specific failure. Kinds are part of the external
// contract; renaming one is a breaking change.
type Kind string

const (
	KindClassifierError           Kind = "classifier_error"
	KindProviderError             Kind = "provider_error"
	KindRoutingPolicyNotFound     Kind = "routing_error_policy_not_found"
	KindRoutingModelNotFound      Kind = "routing_error_model_not_found"
	KindRoutingNoStrategy         Kind = "routing_error_no_routing_strategy"
	KindRoutingInvalidConfig      Kind = "routing_error_invalid_configuration"
	KindRoutingClassifierDown     Kind = "routing_error_classifier_unavailable"
	KindClientError               Kind = "client_error"
	KindInvalidRequest            Kind = "invalid_request"
	KindInfrastructure            Kind = "infrastructure_error"
)

// GatewayError is the single error type every gateway stage surfaces.
type GatewayError struct {
	KindSlug Kind
	Src      Source
	Status   int
	Msg      string
	Provider string
	Code     string
	Details  string
}

func (e *GatewayError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s (%s, provider=%s): %s", e.KindSlug, e.Src, e.Provider, e.Msg)
	}
	return fmt.Sprintf("%s (%s): %s", e.KindSlug, e.Src, e.Msg)
}

// StatusCode returns the HTTP status to present to the caller.
func (e *GatewayError) StatusCode() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

type wireError struct {
	Type     Kind   `json:"type"`
	Message  string `json:"message"`
	Status   int    `json:"status"`
	Source   Source `json:"source"`
	Provider string `json:"provider,omitempty"`
	Code     string `json:"code,omitempty"`
	Details  string `json:"details,omitempty"`
}

type wireEnvelope struct {
	Error wireError `json:"error"`
}

// ToResponse serializes the error into the wire envelope and returns it alongside the status
// code the caller should receive.
func (e *GatewayError) ToResponse() ([]byte, int) {
	env := wireEnvelope{Error: wireError{
		Type:     e.KindSlug,
		Message:  e.Msg,
		Status:   e.StatusCode(),
		Source:   e.Src,
		Provider: e.Provider,
		Code:     e.Code,
		Details:  e.Details,
	}}
	body, err := json.Marshal(env)
	if err != nil {
		// Marshaling a fixed, known-good struct should never fail; fall back to a minimal
		// hand-built body rather than panicking in an error path.
		body = []byte(`{"error":{"type":"infrastructure_error","message":"failed to encode error","status":500,"source":"infra"}}`)
		return body, http.StatusInternalServerError
	}
	return body, e.StatusCode()
}

// ClassifierError wraps a classifier-layer failure, defaulting to 503 when no status is known.
func ClassifierError(code int, msg string) *GatewayError {
	status := code
	if status == 0 {
		status = http.StatusServiceUnavailable
	}
	return &GatewayError{KindSlug: KindClassifierError, Src: SourceClassifier, Status: status, Msg: msg}
}

// ProviderError wraps an outbound provider call failure.
func ProviderError(status int, provider, details string) *GatewayError {
	return &GatewayError{
		KindSlug: KindProviderError,
		Src:      SourceLLMProvider,
		Status:   status,
		Msg:      "provider call failed",
		Provider: provider,
		Details:  details,
	}
}

func PolicyNotFound(policy string) *GatewayError {
	return &GatewayError{
		KindSlug: KindRoutingPolicyNotFound,
		Src:      SourceRouter,
		Status:   http.StatusBadRequest,
		Msg:      fmt.Sprintf("policy %q not found", policy),
	}
}

func ModelNotFound(model string) *GatewayError {
	return &GatewayError{
		KindSlug: KindRoutingModelNotFound,
		Src:      SourceRouter,
		Status:   http.StatusNotFound,
		Msg:      fmt.Sprintf("model %q not found", model),
	}
}

func NoRoutingStrategy(msg string) *GatewayError {
	return &GatewayError{KindSlug: KindRoutingNoStrategy, Src: SourceRouter, Status: http.StatusBadRequest, Msg: msg}
}

func InvalidConfiguration(msg string) *GatewayError {
	return &GatewayError{KindSlug: KindRoutingInvalidConfig, Src: SourceRouter, Status: http.StatusInternalServerError, Msg: msg}
}

func ClassifierUnavailable(msg string) *GatewayError {
	return &GatewayError{KindSlug: KindRoutingClassifierDown, Src: SourceRouter, Status: http.StatusServiceUnavailable, Msg: msg}
}

// ClientError wraps a caller-facing failure with an explicit subtype, e.g. "rate_limited" or
// "invalid_api_key".
func ClientError(status int, subtype, msg string) *GatewayError {
	return &GatewayError{KindSlug: KindClientError, Src: SourceClient, Status: status, Msg: msg, Code: subtype}
}

func InvalidRequest(msg string) *GatewayError {
	return &GatewayError{KindSlug: KindInvalidRequest, Src: SourceClient, Status: http.StatusBadRequest, Msg: msg}
}

func Infrastructure(msg string) *GatewayError {
	return &GatewayError{KindSlug: KindInfrastructure, Src: SourceInfra, Status: http.StatusInternalServerError, Msg: msg}
}

// Write serializes err (wrapping it in Infrastructure if it is not already a GatewayError) and
// writes it to w.
func Write(w http.ResponseWriter, err error) {
	ge, ok := err.(*GatewayError)
	if !ok {
		ge = Infrastructure(err.Error())
	}
	body, status := ge.ToResponse()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// As reports whether err is a *GatewayError and returns it.
func As(err error) (*GatewayError, bool) {
	ge, ok := err.(*GatewayError)
	return ge, ok
}
