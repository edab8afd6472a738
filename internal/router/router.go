// Package router implements the gateway's request lifecycle: cache lookup, classifier-driven
// model selection, load balancing, circuit-breaker-gated dispatch, retrying, and response
// caching. It is the glue component tying every other package together.
package router

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-router-waf/internal/admission"
	"github.com/tributary-ai/llm-router-waf/internal/audit"
	"github.com/tributary-ai/llm-router-waf/internal/breaker"
	"github.com/tributary-ai/llm-router-waf/internal/cache"
	"github.com/tributary-ai/llm-router-waf/internal/classifier"
	"github.com/tributary-ai/llm-router-waf/internal/config"
	"github.com/tributary-ai/llm-router-waf/internal/loadbalance"
	"github.com/tributary-ai/llm-router-waf/internal/metrics"
)

// Router is the process-wide runtime handle threaded through every proxy request: the config
// store, breaker registry, cache, load balancer, classifier client, and metrics are all
// constructed once at startup and referenced by pointer from here on.
type Router struct {
	Store      *config.Store
	Breakers   *breaker.Registry
	Cache      *cache.Cache
	Balancer   *loadbalance.Balancer
	Classifier *classifier.Client
	Metrics    *metrics.Metrics
	HTTPClient *http.Client
	Logger     *logrus.Logger
	Validator  *admission.Validator
	Audit      *audit.Logger

	decisions *decisionBoard
}

// New builds a Router from an already-loaded config Store. The breaker registry, cache, and
// load balancer are sized from the store's current snapshot.
func New(store *config.Store, m *metrics.Metrics, logger *logrus.Logger) *Router {
	cfg := store.Snapshot()

	transport := &http.Transport{
		MaxIdleConnsPerHost: cfg.Server.ConnectionPoolSize,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{Transport: transport}

	validator, _ := admission.NewValidator(admission.ValidationConfig{
		AllowedMethods: []string{http.MethodPost},
		ContentTypes:   []string{"application/json"},
	})

	return &Router{
		Store:      store,
		Breakers:   breaker.NewRegistry(cfg.CircuitBreaker.FailureThreshold, time.Duration(cfg.CircuitBreaker.ResetTimeoutSecs)*time.Second, logger),
		Cache:      cache.New(cfg.Caching.MaxSize, cfg.Caching.TTL),
		Balancer:   loadbalance.New(cfg.LoadBalancingStrategy),
		Classifier: classifier.New(httpClient),
		Metrics:    m,
		HTTPClient: httpClient,
		Logger:     logger,
		Validator:  validator,
		decisions:  newDecisionBoard(),
	}
}

// LastDecision returns the most recently recorded routing decision for policy, if any.
func (rt *Router) LastDecision(policy string) (RoutingDecision, bool) {
	return rt.decisions.get(policy)
}

// AllDecisions returns every recorded routing decision, one per policy.
func (rt *Router) AllDecisions() []RoutingDecision {
	return rt.decisions.all()
}
