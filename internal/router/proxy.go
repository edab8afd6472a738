package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/tributary-ai/llm-router-waf/internal/audit"
	"github.com/tributary-ai/llm-router-waf/internal/breaker"
	"github.com/tributary-ai/llm-router-waf/internal/cache"
	"github.com/tributary-ai/llm-router-waf/internal/classifier"
	"github.com/tributary-ai/llm-router-waf/internal/config"
	"github.com/tributary-ai/llm-router-waf/internal/gatewayerror"
	"github.com/tributary-ai/llm-router-waf/internal/retry"
	"github.com/tributary-ai/llm-router-waf/internal/sanitize"
)

const envelopeKey = "nim-llm-router"

var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade",
	"Proxy-Authenticate", "Proxy-Authorization", "TE", "Trailer",
}

type envelope struct {
	Policy    string   `json:"policy"`
	Model     string   `json:"model,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// ServeHTTP implements the proxy entry point: steps 2-11 of the router/proxy core. Admission
// (step 1) is applied by admission.Admission.Middleware upstream of this handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	raw, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		gatewayerror.Write(w, gatewayerror.InvalidRequest("failed to read request body"))
		return
	}

	if rt.Validator != nil {
		if err := rt.Validator.ValidateBody(raw); err != nil {
			gatewayerror.Write(w, err)
			return
		}
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		gatewayerror.Write(w, gatewayerror.InvalidRequest("request body must be a JSON object"))
		return
	}

	env, err := extractEnvelope(body)
	if err != nil {
		gatewayerror.Write(w, err)
		return
	}

	cfg := rt.Store.Snapshot()
	policy, ok := cfg.FindPolicy(env.Policy)
	if !ok {
		if rt.Audit != nil {
			rt.Audit.Log(audit.PolicyRejected, "", env.Policy, "unknown policy", nil)
		}
		gatewayerror.Write(w, gatewayerror.PolicyNotFound(env.Policy))
		return
	}

	rt.Metrics.NumRequests.Inc()
	rt.Metrics.RequestsPerPolicy.WithLabelValues(policy.Name).Inc()

	normalized := cache.Normalize(body)
	cacheable := cfg.Caching.Enabled && cache.IsCacheable(body)
	cacheKey, keyErr := cache.GenerateKey(r.URL.Path, normalized)

	if cacheable && keyErr == nil {
		if entry, hit := rt.Cache.Get(cacheKey); hit {
			rt.Metrics.CacheHitCount.Inc()
			writeCachedEntry(w, entry)
			return
		}
		rt.Metrics.CacheMissCount.Inc()
	}

	llmName, scores, err := rt.resolveLLMName(r.Context(), policy, body, env)
	if err != nil {
		gatewayerror.Write(w, err)
		return
	}

	instances := policy.Instances(llmName)
	instance, err := rt.Balancer.Pick(llmName, instances)
	if err != nil {
		gatewayerror.Write(w, err)
		return
	}
	rt.Metrics.LoadBalancerUsage.WithLabelValues(llmName, instance.APIBase).Inc()
	rt.Metrics.RoutingPolicyUsage.WithLabelValues(cfg.LoadBalancingStrategy).Inc()
	rt.Metrics.RequestsPerModel.WithLabelValues(instance.Model).Inc()

	rt.recordDecision(policy.Name, instance, llmName, scores, instances, false)

	br := rt.Breakers.Get(instance.APIBase)
	done, allowed := br.Allow()
	if !allowed {
		rt.Metrics.UpdateBreakerStatus(instance.APIBase, br.Status().String())
		if rt.Audit != nil {
			rt.Audit.Log(audit.BreakerOpened, "", instance.APIBase, "circuit breaker refused request", nil)
		}
		gatewayerror.Write(w, gatewayerror.ProviderError(http.StatusServiceUnavailable, llmName, "circuit breaker open"))
		return
	}

	outboundBody, err := rt.rewriteBody(body, instance)
	if err != nil {
		gatewayerror.Write(w, gatewayerror.Infrastructure("failed to rewrite request body: "+err.Error()))
		return
	}

	isStreaming := isStreamingRequest(body)

	ctx, cancel := context.WithTimeout(r.Context(), cfg.Server.RequestTimeout)
	defer cancel()

	path := providerPath(r.URL.Path)

	var lastResp *http.Response
	attempt := retry.Do(ctx, cfg.Retry.MaxRetries, time.Duration(cfg.Retry.InitialBackoffMs)*time.Millisecond,
		func(n int) { rt.Metrics.RetryCount.WithLabelValues(llmName).Inc() },
		func(ctx context.Context) retry.Attempt {
			if lastResp != nil {
				lastResp.Body.Close()
			}
			resp, err := rt.doOutboundCall(ctx, instance, path, outboundBody)
			if err != nil {
				lastResp = nil
				return retry.Attempt{Err: err}
			}
			lastResp = resp
			return retry.Attempt{Status: resp.StatusCode}
		},
	)

	if attempt.Err != nil || lastResp == nil {
		if lastResp != nil {
			lastResp.Body.Close()
		}
		done(false)
		rt.Metrics.UpdateBreakerStatus(instance.APIBase, br.Status().String())
		rt.Metrics.RequestFailure.WithLabelValues("provider_error").Inc()
		msg := "provider call failed"
		if attempt.Err != nil {
			msg = attempt.Err.Error()
		}
		gatewayerror.Write(w, gatewayerror.ProviderError(http.StatusServiceUnavailable, llmName, msg))
		return
	}
	defer lastResp.Body.Close()

	prevStatus := br.Status()
	if lastResp.StatusCode >= 200 && lastResp.StatusCode < 300 {
		done(true)
		rt.Metrics.RequestSuccess.Inc()
	} else {
		done(false)
		rt.Metrics.RequestFailure.WithLabelValues("provider_error").Inc()
	}
	newStatus := br.Status()
	rt.Metrics.UpdateBreakerStatus(instance.APIBase, newStatus.String())
	if rt.Audit != nil && prevStatus != breaker.Closed && newStatus == breaker.Closed {
		rt.Audit.Log(audit.BreakerClosed, "", instance.APIBase, "circuit breaker closed", nil)
	}

	rt.Metrics.LLMResponseTime.WithLabelValues(llmName).Observe(time.Since(start).Seconds())

	if isStreaming {
		rt.streamResponse(w, lastResp)
		rt.Metrics.RequestLatency.Observe(time.Since(start).Seconds())
		return
	}

	respBody, err := io.ReadAll(lastResp.Body)
	if err != nil {
		gatewayerror.Write(w, gatewayerror.Infrastructure("failed to read provider response"))
		return
	}

	if lastResp.StatusCode < 200 || lastResp.StatusCode >= 300 {
		gatewayerror.Write(w, gatewayerror.ProviderError(lastResp.StatusCode, llmName, string(respBody)))
		return
	}

	rt.Metrics.TrackTokenUsage(respBody, llmName)

	if cacheable && keyErr == nil {
		rt.Cache.Set(cacheKey, lastResp.StatusCode, lastResp.Header, respBody)
		rt.Metrics.CacheSize.Set(float64(rt.Cache.Size()))
	}

	writeResponse(w, lastResp.StatusCode, lastResp.Header, respBody)
	rt.Metrics.RequestLatency.Observe(time.Since(start).Seconds())
}

func extractEnvelope(body map[string]json.RawMessage) (envelope, error) {
	raw, ok := body[envelopeKey]
	if !ok {
		return envelope{}, gatewayerror.InvalidRequest("missing " + envelopeKey + " field")
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, gatewayerror.InvalidRequest("malformed " + envelopeKey + " field")
	}
	if env.Policy == "" {
		return envelope{}, gatewayerror.InvalidRequest("missing " + envelopeKey + ".policy field")
	}
	return env, nil
}

// resolveLLMName determines the logical LLM name to dispatch to: the explicit override in the
// envelope, or the classifier's argmax.
func (rt *Router) resolveLLMName(ctx context.Context, policy *config.Policy, body map[string]json.RawMessage, env envelope) (string, classifier.Scores, error) {
	if env.Model != "" {
		if len(policy.Instances(env.Model)) == 0 {
			return "", nil, gatewayerror.ModelNotFound(env.Model)
		}
		return env.Model, nil, nil
	}

	classifierBody := make(map[string]json.RawMessage, len(body))
	for k, v := range body {
		if k != envelopeKey {
			classifierBody[k] = v
		}
	}

	scores, err := rt.Classifier.Classify(ctx, policy.ClassifierURL, classifierBody, env.Threshold)
	if err != nil {
		return "", nil, err
	}

	allowed := make(map[string]bool)
	for _, l := range policy.LLMs {
		allowed[l.Name] = true
	}

	name, found := scores.ArgMax(allowed)
	if !found {
		return "", scores, gatewayerror.ModelNotFound("no candidate scored by classifier")
	}
	return name, scores, nil
}

// rewriteBody strips the envelope, overrides model, and sanitizes text per step 8.
func (rt *Router) rewriteBody(body map[string]json.RawMessage, instance config.LLM) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(body))
	for k, v := range body {
		if k == envelopeKey {
			continue
		}
		sanitized, err := sanitize.JSON(v)
		if err != nil {
			sanitized = v
		}
		out[k] = sanitized
	}
	modelJSON, _ := json.Marshal(instance.Model)
	out["model"] = modelJSON

	return json.Marshal(out)
}

func (rt *Router) doOutboundCall(ctx context.Context, instance config.LLM, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, instance.APIBase+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+instance.APIKey)
	req.Header.Set("Content-Type", "application/json")
	return rt.HTTPClient.Do(req)
}

func isStreamingRequest(body map[string]json.RawMessage) bool {
	raw, ok := body["stream"]
	if !ok {
		return false
	}
	var stream bool
	_ = json.Unmarshal(raw, &stream)
	return stream
}

// providerPath strips nothing; the proxy forwards whatever path the caller hit (e.g.
// /v1/chat/completions) onto instance.APIBase.
func providerPath(path string) string {
	return path
}

func (rt *Router) streamResponse(w http.ResponseWriter, resp *http.Response) {
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
			if canFlush {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func writeResponse(w http.ResponseWriter, status int, header http.Header, body []byte) {
	copyHeaders(w.Header(), header)
	w.WriteHeader(status)
	w.Write(body)
}

func writeCachedEntry(w http.ResponseWriter, entry *cache.Entry) {
	copyHeaders(w.Header(), entry.Header)
	w.WriteHeader(entry.Status)
	w.Write(entry.Body)
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func isHopByHop(header string) bool {
	for _, h := range hopByHopHeaders {
		if http.CanonicalHeaderKey(header) == http.CanonicalHeaderKey(h) {
			return true
		}
	}
	return false
}

func (rt *Router) recordDecision(policyName string, instance config.LLM, llmName string, scores classifier.Scores, considered []config.LLM, cacheHit bool) {
	names := make([]string, 0, len(considered))
	for _, c := range considered {
		names = append(names, c.Name)
	}
	breakerStates := make(map[string]string)
	for k, v := range rt.Breakers.Snapshot() {
		breakerStates[k] = v.String()
	}

	reasoning := []string{"resolved logical LLM " + llmName, "selected instance at " + instance.APIBase}

	rt.decisions.record(RoutingDecision{
		Policy:           policyName,
		SelectedLLM:      llmName,
		SelectedAPIBase:  instance.APIBase,
		Reasoning:        reasoning,
		ClassifierScores: scores,
		Context: RoutingContext{
			Strategy:       rt.Store.Snapshot().LoadBalancingStrategy,
			ConsideredLLMs: names,
			BreakerStates:  breakerStates,
			Timestamp:      time.Now(),
			CacheHit:       cacheHit,
		},
	})
}
