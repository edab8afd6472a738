// Package server wires the gateway's HTTP surface: the proxy catch-all, health/readiness,
// Prometheus metrics, the OpenAPI diagnostic document, and the routing-decision inspector.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-router-waf/internal/admission"
	"github.com/tributary-ai/llm-router-waf/internal/gatewayerror"
	"github.com/tributary-ai/llm-router-waf/internal/health"
	"github.com/tributary-ai/llm-router-waf/internal/router"
)

// Config holds the HTTP listener settings. The caller fills them in; cmd/llm-router derives the
// address and timeouts from the loaded configuration's server section.
type Config struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxHeaderBytes int
}

// Server binds a Router, its admission middleware, and the diagnostic handlers onto a gorilla/mux
// mux.Router, then serves it over a standard http.Server.
type Server struct {
	cfg        Config
	router     *router.Router
	admission  *admission.Admission
	checker    *health.Checker
	logger     *logrus.Logger
	openapiDoc *openapi3.T

	httpServer *http.Server
}

// New constructs a Server. It loads and validates the embedded OpenAPI document eagerly so a
// malformed spec fails fast at startup rather than on first /swagger.json request.
func New(cfg Config, rt *router.Router, adm *admission.Admission, checker *health.Checker, logger *logrus.Logger) (*Server, error) {
	doc, err := loadOpenAPIDoc()
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:        cfg,
		router:     rt,
		admission:  adm,
		checker:    checker,
		logger:     logger,
		openapiDoc: doc,
	}, nil
}

// Start builds the route tree and blocks serving it until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:           s.cfg.Addr,
		Handler:        s.routes(),
		ReadTimeout:    s.cfg.ReadTimeout,
		WriteTimeout:   s.cfg.WriteTimeout,
		MaxHeaderBytes: s.cfg.MaxHeaderBytes,
	}

	s.logger.WithField("addr", s.cfg.Addr).Info("starting llm-router gateway")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the listener down gracefully, honoring ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping llm-router gateway")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/health", health.ServeBasic).Methods(http.MethodGet)
	r.HandleFunc("/health/readiness", s.checker.ServeReadiness).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.router.Metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/swagger.json", s.handleSwaggerJSON).Methods(http.MethodGet)
	r.HandleFunc("/routing/decision", s.handleRoutingDecisions).Methods(http.MethodGet)

	// Every other path is an LLM proxy request, admission-gated then dispatched to the router.
	r.PathPrefix("/").Handler(s.admission.Middleware(s.router)).Methods(http.MethodPost)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusCapture{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("request")
	})
}

// handleRoutingDecisions exposes the most recently recorded routing decision for every policy
// that has handled at least one request, for ad hoc diagnostics.
func (s *Server) handleRoutingDecisions(w http.ResponseWriter, r *http.Request) {
	if policy := r.URL.Query().Get("policy"); policy != "" {
		dec, ok := s.router.LastDecision(policy)
		if !ok {
			gatewayerror.Write(w, gatewayerror.PolicyNotFound(policy))
			return
		}
		writeJSON(w, dec)
		return
	}
	writeJSON(w, s.router.AllDecisions())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

type statusCapture struct {
	http.ResponseWriter
	status int
}

func (s *statusCapture) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusCapture) Flush() {
	if flusher, ok := s.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
