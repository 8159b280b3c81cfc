package selector

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keruru-amuri/magpie-sub001/internal/complexity"
	"github.com/keruru-amuri/magpie-sub001/internal/registry"
	"github.com/keruru-amuri/magpie-sub001/internal/tracker"
)

// fakeMetrics serves canned comparative metrics and counts fetches per model.
type fakeMetrics struct {
	metrics map[string]*tracker.ComparativeMetrics
	fetches map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		metrics: make(map[string]*tracker.ComparativeMetrics),
		fetches: make(map[string]int),
	}
}

func (f *fakeMetrics) GetComparativePerformance(ctx context.Context, modelIDs []string, g tracker.Granularity) (map[string]*tracker.ComparativeMetrics, error) {
	out := make(map[string]*tracker.ComparativeMetrics, len(modelIDs))
	for _, id := range modelIDs {
		f.fetches[id]++
		if m, ok := f.metrics[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func adaptiveFixture(t *testing.T, opts ...AdaptiveOption) (*Adaptive, *fakeMetrics, *registry.Registry) {
	t.Helper()
	reg := newRegistry(t,
		newModel("medium-a", registry.SizeMedium),
		newModel("medium-b", registry.SizeMedium),
	)
	metrics := newFakeMetrics()
	base := []AdaptiveOption{WithRand(rand.New(rand.NewSource(42)))}
	return NewAdaptive(reg, metrics, append(base, opts...)...), metrics, reg
}

func TestSelectAdaptively_EmptyCandidates(t *testing.T) {
	a, _, _ := adaptiveFixture(t)

	model, err := a.SelectAdaptively(context.Background(), complexity.LevelComplex, nil, PriorityNone, true)
	require.NoError(t, err)
	assert.Nil(t, model, "no large models registered")
}

func TestSelectAdaptively_AlwaysExploresAtEpsilonOne(t *testing.T) {
	a, metrics, _ := adaptiveFixture(t, WithEpsilon(1.0))

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		model, err := a.SelectAdaptively(context.Background(), complexity.LevelMedium, nil, PriorityNone, true)
		require.NoError(t, err)
		require.NotNil(t, model)
		seen[model.ID] = true
	}

	assert.True(t, seen["medium-a"] && seen["medium-b"], "uniform exploration should hit both candidates")
	assert.Empty(t, metrics.fetches, "exploration must not consult metrics")
}

func TestSelectAdaptively_NeverExploresAtEpsilonZero(t *testing.T) {
	a, metrics, _ := adaptiveFixture(t, WithEpsilon(0))
	metrics.metrics["medium-b"] = &tracker.ComparativeMetrics{
		ModelID:      "medium-b",
		SuccessRate:  1.0,
		LatencyMs:    0,
		Quality:      10,
		CostPerToken: 0,
	}

	for i := 0; i < 20; i++ {
		model, err := a.SelectAdaptively(context.Background(), complexity.LevelMedium, nil, PriorityNone, true)
		require.NoError(t, err)
		require.NotNil(t, model)
		// medium-b scores a perfect 1.0; medium-a sits at neutral defaults.
		assert.Equal(t, "medium-b", model.ID)
	}
}

func TestSelectAdaptively_ExploreFlagDisablesExploration(t *testing.T) {
	a, metrics, _ := adaptiveFixture(t, WithEpsilon(1.0))
	metrics.metrics["medium-a"] = &tracker.ComparativeMetrics{
		ModelID: "medium-a", SuccessRate: 1.0, LatencyMs: 0, Quality: 10, CostPerToken: 0,
	}

	model, err := a.SelectAdaptively(context.Background(), complexity.LevelMedium, nil, PriorityNone, false)
	require.NoError(t, err)
	require.NotNil(t, model)
	assert.Equal(t, "medium-a", model.ID, "explore=false must rank even at epsilon 1")
}

func TestSelectAdaptively_NeutralDefaultsForUnmeasuredModels(t *testing.T) {
	a, metrics, _ := adaptiveFixture(t, WithEpsilon(0))
	// medium-a has measured metrics worse than the neutral defaults
	// (success 0.2 vs neutral 0.5, latency 5000 vs neutral 2500).
	metrics.metrics["medium-a"] = &tracker.ComparativeMetrics{
		ModelID: "medium-a", SuccessRate: 0.2, LatencyMs: 5000, Quality: 3, CostPerToken: 0,
	}

	model, err := a.SelectAdaptively(context.Background(), complexity.LevelMedium, nil, PriorityNone, true)
	require.NoError(t, err)
	require.NotNil(t, model)
	assert.Equal(t, "medium-b", model.ID, "unmeasured model with neutral defaults should outrank a bad measured one")
}

func TestSelectAdaptively_CostSensitivePrefersCheaperPerToken(t *testing.T) {
	reg := newRegistry(t,
		newModel("a-pricey", registry.SizeMedium),
		newModel("b-cheap", registry.SizeMedium),
	)
	metrics := newFakeMetrics()
	// Identical measured success, latency, and quality; only the per-token
	// cost differs. a-pricey sits at the normalization cap (cost sub-score
	// 0), b-cheap far below it. Lexical order would favor a-pricey on a tie,
	// so only the cost factor can make b-cheap win.
	metrics.metrics["a-pricey"] = &tracker.ComparativeMetrics{
		ModelID: "a-pricey", SuccessRate: 0.9, LatencyMs: 400, Quality: 7, CostPerToken: 0.01,
	}
	metrics.metrics["b-cheap"] = &tracker.ComparativeMetrics{
		ModelID: "b-cheap", SuccessRate: 0.9, LatencyMs: 400, Quality: 7, CostPerToken: 0.0000001,
	}
	a := NewAdaptive(reg, metrics, WithEpsilon(0), WithRand(rand.New(rand.NewSource(42))))

	model, err := a.SelectAdaptively(context.Background(), complexity.LevelMedium, nil, PriorityCost, true)
	require.NoError(t, err)
	require.NotNil(t, model)
	assert.Equal(t, "b-cheap", model.ID, "cost_sensitive mode must reward lower measured per-token cost")
}

func TestSelectAdaptively_ScoreCaching(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	a, metrics, _ := adaptiveFixture(t, WithEpsilon(0), WithAdaptiveClock(clock))

	for i := 0; i < 3; i++ {
		_, err := a.SelectAdaptively(context.Background(), complexity.LevelMedium, nil, PriorityNone, true)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, metrics.fetches["medium-a"], "repeated selections should hit the cache")
	assert.Equal(t, 1, metrics.fetches["medium-b"])

	// Expiry forces a recompute.
	now = now.Add(DefaultScoreTTL + time.Minute)
	_, err := a.SelectAdaptively(context.Background(), complexity.LevelMedium, nil, PriorityNone, true)
	require.NoError(t, err)
	assert.Equal(t, 2, metrics.fetches["medium-a"], "expired entries must be recomputed")

	// Feedback invalidates only the updated model.
	a.UpdateModelWeights("medium-b", true, 100, nil)
	_, err = a.SelectAdaptively(context.Background(), complexity.LevelMedium, nil, PriorityNone, true)
	require.NoError(t, err)
	assert.Equal(t, 2, metrics.fetches["medium-a"], "untouched model stays cached")
	assert.Equal(t, 3, metrics.fetches["medium-b"], "updated model must be rescored")
}

func TestUpdateModelWeights_EMA(t *testing.T) {
	a, _, reg := adaptiveFixture(t)

	// signal = 0.7 + 0.2*(1 - 100/5000) + 0.1*(9/10) = 0.986
	// new    = 5.0*0.8 + 0.986*10*0.2 = 5.972
	quality := 9.0
	require.True(t, a.UpdateModelWeights("medium-a", true, 100, &quality))
	assert.InDelta(t, 5.972, reg.Get("medium-a").PerformanceScore, 1e-9)
}

func TestUpdateModelWeights_FailureAndMissingQuality(t *testing.T) {
	a, _, reg := adaptiveFixture(t)

	// Failure drops the success bonus; missing quality contributes nothing.
	// signal = 0.2*(1 - 1000/5000) = 0.16; new = 5.0*0.8 + 1.6*0.2 = 4.32.
	require.True(t, a.UpdateModelWeights("medium-a", false, 1000, nil))
	assert.InDelta(t, 4.32, reg.Get("medium-a").PerformanceScore, 1e-9)

	// Latency beyond the cap contributes zero rather than going negative.
	// signal = 0.7; new = 4.32*0.8 + 7*0.2 = 4.856.
	require.True(t, a.UpdateModelWeights("medium-a", true, 60000, nil))
	assert.InDelta(t, 4.856, reg.Get("medium-a").PerformanceScore, 1e-9)
}

func TestUpdateModelWeights_UnknownModel(t *testing.T) {
	a, _, _ := adaptiveFixture(t)
	assert.False(t, a.UpdateModelWeights("ghost", true, 100, nil))
}

func TestScoreCache_TTL(t *testing.T) {
	now := time.Now()
	c := newScoreCache(time.Hour, func() time.Time { return now })

	if _, ok := c.get("m"); ok {
		t.Fatal("empty cache should miss")
	}

	c.set("m", 0.75)
	if got, ok := c.get("m"); !ok || got != 0.75 {
		t.Fatalf("get = %v, %v; want 0.75 hit", got, ok)
	}

	now = now.Add(time.Hour + time.Second)
	if _, ok := c.get("m"); ok {
		t.Fatal("expired entry should miss")
	}

	now = now.Add(-time.Hour)
	c.set("m", 0.5)
	c.invalidate("m")
	if _, ok := c.get("m"); ok {
		t.Fatal("invalidated entry should miss")
	}
}
