// Package classifier calls the Triton-served scoring model to pick the best logical LLM under a
// policy.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tributary-ai/llm-router-waf/internal/gatewayerror"
)

// Client scores a request body against a policy's classifier endpoint. Concurrent identical
// calls are coalesced through a singleflight.Group so a burst of identical traffic produces one
// upstream round trip.
type Client struct {
	httpClient *http.Client
	group      singleflight.Group
}

// New creates a Client using httpClient for outbound calls.
func New(httpClient *http.Client) *Client {
	return &Client{httpClient: httpClient}
}

// Scores maps LLM logical name to classifier score.
type Scores map[string]float64

// Classify posts body (with an optional threshold field) to classifierURL and returns the
// per-LLM scores. Concurrent calls sharing the same classifierURL+body are coalesced.
func (c *Client) Classify(ctx context.Context, classifierURL string, body map[string]json.RawMessage, threshold *float64) (Scores, error) {
	payload := make(map[string]json.RawMessage, len(body)+1)
	for k, v := range body {
		payload[k] = v
	}
	if threshold != nil {
		raw, _ := json.Marshal(*threshold)
		payload["threshold"] = raw
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, gatewayerror.Infrastructure("failed to encode classifier request: " + err.Error())
	}

	key := classifierURL + ":" + string(encoded)

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.doClassify(ctx, classifierURL, encoded)
	})
	if err != nil {
		return nil, err
	}
	return result.(Scores), nil
}

func (c *Client) doClassify(ctx context.Context, classifierURL string, encoded []byte) (Scores, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, classifierURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, gatewayerror.ClassifierUnavailable("failed to build classifier request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, gatewayerror.ClassifierUnavailable("classifier request failed: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, gatewayerror.ClassifierUnavailable("classifier returned non-2xx status")
	}

	var scores Scores
	if err := json.NewDecoder(resp.Body).Decode(&scores); err != nil {
		return nil, gatewayerror.ClassifierUnavailable("failed to decode classifier response: " + err.Error())
	}
	return scores, nil
}

// ArgMax returns the candidate name with the highest score among candidates, restricted to
// names present in allowed.
func (s Scores) ArgMax(allowed map[string]bool) (string, bool) {
	best := ""
	bestScore := 0.0
	found := false
	for name, score := range s {
		if !allowed[name] {
			continue
		}
		if !found || score > bestScore {
			best, bestScore, found = name, score, true
		}
	}
	return best, found
}

// Reachable performs a lightweight HEAD probe against url with a 2s timeout, used by the
// readiness handler.
func Reachable(url string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}
