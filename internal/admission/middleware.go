package admission

import (
	"net/http"

	"github.com/tributary-ai/llm-router-waf/internal/audit"
	"github.com/tributary-ai/llm-router-waf/internal/gatewayerror"
)

// Admission composes request validation, authentication, and rate limiting into a single
// middleware, matching the order prescribed by the router core: validate, then auth, then
// rate limit.
type Admission struct {
	Validator *Validator
	Auth      *Authenticator
	RateLimit *RateLimiter
	Audit     *audit.Logger
}

// Middleware returns an http.Handler wrapper enforcing validation, then auth, then rate limiting.
func (a *Admission) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.Validator != nil {
			if err := a.Validator.ValidateRequest(r); err != nil {
				gatewayerror.Write(w, err)
				return
			}
		}

		if err := a.Auth.Authenticate(r); err != nil {
			a.logAudit(audit.AuthFailure, r, "authentication failed")
			gatewayerror.Write(w, err)
			return
		}

		if a.RateLimit != nil && !bypassPath(r.URL.Path) {
			if !a.RateLimit.Allow(PeerAddr(r)) {
				a.logAudit(audit.RateLimited, r, "rate limit exceeded")
				gatewayerror.Write(w, gatewayerror.ClientError(http.StatusTooManyRequests, "rate_limited", "rate limit exceeded"))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (a *Admission) logAudit(eventType audit.EventType, r *http.Request, message string) {
	if a.Audit == nil {
		return
	}
	a.Audit.Log(eventType, PeerAddr(r), r.URL.Path, message, nil)
}
