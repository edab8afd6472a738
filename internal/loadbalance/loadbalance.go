// Package loadbalance selects one concrete LLM instance among peers sharing a logical name.
package loadbalance

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/tributary-ai/llm-router-waf/internal/config"
	"github.com/tributary-ai/llm-router-waf/internal/gatewayerror"
)

// Strategy names supported by the balancer.
const (
	StrategyRoundRobin = "round_robin"
	StrategyRandom     = "random"
	StrategyFirst      = "first"
)

// Balancer holds per-logical-name round-robin counters. Counters are atomic; loss of a counter
// on process restart is benign.
type Balancer struct {
	strategy string

	mu       sync.Mutex
	counters map[string]*atomic.Uint64
}

// New creates a Balancer using strategy ("round_robin", "random", or "first").
func New(strategy string) *Balancer {
	return &Balancer{strategy: strategy, counters: make(map[string]*atomic.Uint64)}
}

// Pick selects one instance from instances (all sharing the same logical name). An empty slice
// is a programming error surfaced as RoutingError(ModelNotFound) rather than a panic.
func (b *Balancer) Pick(name string, instances []config.LLM) (config.LLM, error) {
	if len(instances) == 0 {
		return config.LLM{}, gatewayerror.ModelNotFound(name)
	}
	if len(instances) == 1 {
		return instances[0], nil
	}

	switch b.strategy {
	case StrategyRandom:
		return instances[rand.IntN(len(instances))], nil
	case StrategyFirst:
		return instances[0], nil
	case StrategyRoundRobin:
		counter := b.counterFor(name)
		idx := counter.Add(1) - 1
		return instances[idx%uint64(len(instances))], nil
	default:
		return config.LLM{}, gatewayerror.NoRoutingStrategy("unknown load balancing strategy: " + b.strategy)
	}
}

func (b *Balancer) counterFor(name string) *atomic.Uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.counters[name]
	if !ok {
		c = &atomic.Uint64{}
		b.counters[name] = c
	}
	return c
}
