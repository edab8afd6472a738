package router

import (
	"sync"
	"time"
)

// RoutingDecision records why a request was routed the way it was, kept for the /routing/decision
// diagnostic endpoint. It mirrors what the classifier/load-balancer stages actually computed,
// not a separate estimate.
type RoutingDecision struct {
	Policy           string          `json:"policy"`
	SelectedLLM      string          `json:"selected_llm"`
	SelectedAPIBase  string          `json:"selected_api_base"`
	Reasoning        []string        `json:"reasoning"`
	ClassifierScores map[string]float64 `json:"classifier_scores,omitempty"`
	Context          RoutingContext  `json:"routing_context"`
}

// RoutingContext captures the ambient state at the time a decision was made.
type RoutingContext struct {
	Strategy          string            `json:"strategy"`
	ConsideredLLMs    []string          `json:"considered_llms"`
	BreakerStates     map[string]string `json:"breaker_states"`
	Timestamp         time.Time         `json:"timestamp"`
	CacheHit          bool              `json:"cache_hit"`
}

// decisionBoard stores the most recent RoutingDecision per policy for operator inspection.
type decisionBoard struct {
	mu       sync.Mutex
	byPolicy map[string]RoutingDecision
}

func newDecisionBoard() *decisionBoard {
	return &decisionBoard{byPolicy: make(map[string]RoutingDecision)}
}

func (d *decisionBoard) record(dec RoutingDecision) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byPolicy[dec.Policy] = dec
}

func (d *decisionBoard) get(policy string) (RoutingDecision, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dec, ok := d.byPolicy[policy]
	return dec, ok
}

func (d *decisionBoard) all() []RoutingDecision {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]RoutingDecision, 0, len(d.byPolicy))
	for _, dec := range d.byPolicy {
		out = append(out, dec)
	}
	return out
}
