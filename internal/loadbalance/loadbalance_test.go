package loadbalance

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/llm-router-waf/internal/config"
	"github.com/tributary-ai/llm-router-waf/internal/gatewayerror"
)

func instances() []config.LLM {
	return []config.LLM{
		{Name: "small", APIBase: "http://a.local", Model: "m"},
		{Name: "small", APIBase: "http://b.local", Model: "m"},
		{Name: "small", APIBase: "http://c.local", Model: "m"},
	}
}

func TestPick_EmptyInstancesReturnsModelNotFound(t *testing.T) {
	b := New(StrategyRoundRobin)
	_, err := b.Pick("small", nil)

	require.Error(t, err)
	ge, ok := gatewayerror.As(err)
	require.True(t, ok)
	assert.Equal(t, gatewayerror.KindRoutingModelNotFound, ge.KindSlug)
}

func TestPick_SingleInstanceShortCircuits(t *testing.T) {
	b := New(StrategyRoundRobin)
	only := []config.LLM{{Name: "small", APIBase: "http://only.local"}}

	got, err := b.Pick("small", only)
	require.NoError(t, err)
	assert.Equal(t, only[0], got)
}

func TestPick_RoundRobinCyclesInOrder(t *testing.T) {
	b := New(StrategyRoundRobin)
	inst := instances()

	var seen []string
	for i := 0; i < 6; i++ {
		got, err := b.Pick("small", inst)
		require.NoError(t, err)
		seen = append(seen, got.APIBase)
	}

	assert.Equal(t, []string{
		"http://a.local", "http://b.local", "http://c.local",
		"http://a.local", "http://b.local", "http://c.local",
	}, seen)
}

func TestPick_RoundRobinCountersAreIndependentPerName(t *testing.T) {
	b := New(StrategyRoundRobin)
	inst := instances()

	first, err := b.Pick("small", inst)
	require.NoError(t, err)
	assert.Equal(t, "http://a.local", first.APIBase)

	otherInst := []config.LLM{{Name: "large", APIBase: "http://x.local"}, {Name: "large", APIBase: "http://y.local"}}
	otherFirst, err := b.Pick("large", otherInst)
	require.NoError(t, err)
	assert.Equal(t, "http://x.local", otherFirst.APIBase)
}

func TestPick_First(t *testing.T) {
	b := New(StrategyFirst)
	inst := instances()

	for i := 0; i < 3; i++ {
		got, err := b.Pick("small", inst)
		require.NoError(t, err)
		assert.Equal(t, "http://a.local", got.APIBase)
	}
}

func TestPick_RandomAlwaysReturnsAMember(t *testing.T) {
	b := New(StrategyRandom)
	inst := instances()
	valid := map[string]bool{"http://a.local": true, "http://b.local": true, "http://c.local": true}

	for i := 0; i < 20; i++ {
		got, err := b.Pick("small", inst)
		require.NoError(t, err)
		assert.True(t, valid[got.APIBase])
	}
}

func TestPick_UnknownStrategyReturnsNoRoutingStrategy(t *testing.T) {
	b := New("quantum")
	_, err := b.Pick("small", instances())

	require.Error(t, err)
	ge, ok := gatewayerror.As(err)
	require.True(t, ok)
	assert.Equal(t, gatewayerror.KindRoutingNoStrategy, ge.KindSlug)
}

func TestPick_RoundRobinConcurrentSafe(t *testing.T) {
	b := New(StrategyRoundRobin)
	inst := instances()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Pick("small", inst)
		}()
	}
	wg.Wait()
}
