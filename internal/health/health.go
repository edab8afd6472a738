// Package health implements the gateway's liveness and readiness checks.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tributary-ai/llm-router-waf/internal/breaker"
	"github.com/tributary-ai/llm-router-waf/internal/classifier"
	"github.com/tributary-ai/llm-router-waf/internal/config"
)

const Version = "1.0.0"

var startTime = time.Now()

// Checker aggregates the readiness signals: the config store (for policies/LLMs), the breaker
// registry, and the typed-SDK-or-HTTP provider probe.
type Checker struct {
	Store    *config.Store
	Breakers *breaker.Registry
}

// BasicResponse is the /health payload.
type BasicResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadinessResponse is the /health/readiness payload.
type ReadinessResponse struct {
	Status           string          `json:"status"`
	ClassifierStatus string          `json:"classifier_status"`
	LLMProviders     map[string]bool `json:"llm_providers"`
	UptimeSeconds    float64         `json:"uptime_seconds"`
	Version          string          `json:"version"`
	CircuitBreakers  map[string]string `json:"circuit_breakers"`
}

// ServeBasic writes the liveness payload.
func ServeBasic(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BasicResponse{Status: "OK", Version: Version})
}

// ServeReadiness writes the aggregated readiness payload. Overall status is Critical if the
// classifier is unreachable, Degraded if any provider check fails or any breaker is open, else
// OK.
func (c *Checker) ServeReadiness(w http.ResponseWriter, r *http.Request) {
	cfg := c.Store.Snapshot()

	classifierStatus := "unknown"
	classifierOK := true
	if len(cfg.Policies) > 0 {
		classifierOK = classifier.Reachable(cfg.Policies[0].ClassifierURL)
		if classifierOK {
			classifierStatus = "reachable"
		} else {
			classifierStatus = "unreachable"
		}
	}

	providers := make(map[string]bool)
	seen := make(map[string]bool)
	for _, p := range cfg.Policies {
		for _, l := range p.LLMs {
			if seen[l.APIBase] {
				continue
			}
			seen[l.APIBase] = true
			providers[l.APIBase] = ProbeProvider(l)
		}
	}

	breakerStates := make(map[string]string)
	anyOpen := false
	for endpoint, s := range c.Breakers.Snapshot() {
		breakerStates[endpoint] = s.String()
		if s == breaker.Open {
			anyOpen = true
		}
	}

	anyProviderDown := false
	for _, ok := range providers {
		if !ok {
			anyProviderDown = true
		}
	}

	status := "OK"
	if !classifierOK {
		status = "Critical"
	} else if anyProviderDown || anyOpen {
		status = "Degraded"
	}

	writeJSON(w, http.StatusOK, ReadinessResponse{
		Status:           status,
		ClassifierStatus: classifierStatus,
		LLMProviders:     providers,
		UptimeSeconds:    time.Since(startTime).Seconds(),
		Version:          Version,
		CircuitBreakers:  breakerStates,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
