package selector

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/keruru-amuri/magpie-sub001/internal/complexity"
	"github.com/keruru-amuri/magpie-sub001/internal/logging"
	"github.com/keruru-amuri/magpie-sub001/internal/registry"
	"github.com/keruru-amuri/magpie-sub001/internal/tracker"
)

// Epsilon-greedy and feedback-blending defaults.
const (
	DefaultEpsilon      = 0.1
	DefaultLearningRate = 0.2

	// feedbackLatencyCapMs caps the latency sub-score in feedback signals;
	// a call slower than this contributes nothing.
	feedbackLatencyCapMs = 5000.0
)

// Feedback signal component weights. A successful call contributes the full
// success weight; latency and quality scale their weights by sub-scores.
const (
	successWeight = 0.7
	latencyWeight = 0.2
	qualityWeight = 0.1
)

// MetricsSource supplies recent comparative performance per model.
type MetricsSource interface {
	GetComparativePerformance(ctx context.Context, modelIDs []string, g tracker.Granularity) (map[string]*tracker.ComparativeMetrics, error)
}

// Adaptive selects models epsilon-greedily over measured performance instead
// of static descriptor fields, and feeds usage outcomes back into the
// registry's performance scores.
type Adaptive struct {
	registry     *registry.Registry
	metrics      MetricsSource
	cache        *scoreCache
	log          *logging.Logger
	rng          *rand.Rand
	epsilon      float64
	learningRate float64
	now          func() time.Time
}

// AdaptiveOption configures an Adaptive selector.
type AdaptiveOption func(*Adaptive)

// WithEpsilon overrides the exploration probability.
func WithEpsilon(eps float64) AdaptiveOption {
	return func(a *Adaptive) { a.epsilon = eps }
}

// WithLearningRate overrides the feedback blending rate.
func WithLearningRate(lr float64) AdaptiveOption {
	return func(a *Adaptive) { a.learningRate = lr }
}

// WithRand injects the randomness source, for deterministic tests.
func WithRand(rng *rand.Rand) AdaptiveOption {
	return func(a *Adaptive) { a.rng = rng }
}

// WithAdaptiveLogger sets the logger.
func WithAdaptiveLogger(log *logging.Logger) AdaptiveOption {
	return func(a *Adaptive) { a.log = log }
}

// WithAdaptiveClock overrides the time source, for tests.
func WithAdaptiveClock(now func() time.Time) AdaptiveOption {
	return func(a *Adaptive) {
		a.now = now
		a.cache = newScoreCache(DefaultScoreTTL, now)
	}
}

// NewAdaptive builds an Adaptive selector over a registry and a metrics
// source (normally the performance tracker).
func NewAdaptive(reg *registry.Registry, metrics MetricsSource, opts ...AdaptiveOption) *Adaptive {
	a := &Adaptive{
		registry:     reg,
		metrics:      metrics,
		log:          logging.Nop(),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		epsilon:      DefaultEpsilon,
		learningRate: DefaultLearningRate,
		now:          time.Now,
	}
	a.cache = newScoreCache(DefaultScoreTTL, time.Now)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SelectAdaptively filters candidates the same way static selection does
// (preferred size class plus capability superset, no fallback ladder), then
// either explores, returning a uniformly random candidate with probability
// epsilon, or exploits, returning the candidate with the best blended score
// from recent measured metrics. An empty candidate set returns nil.
func (a *Adaptive) SelectAdaptively(ctx context.Context, level complexity.Level, required []registry.Capability, mode PriorityMode, explore bool) (*registry.ModelDescriptor, error) {
	candidates := a.candidates(sizeForLevel(level), required)
	if len(candidates) == 0 {
		a.log.Warn("no adaptive candidates for %s level", level)
		return nil, nil
	}

	if explore && a.rng.Float64() < a.epsilon {
		pick := candidates[a.rng.Intn(len(candidates))]
		a.log.Debug("exploring: random pick %s", pick.ID)
		return pick, nil
	}

	scores, err := a.blendedScores(ctx, candidates, mode)
	if err != nil {
		return nil, fmt.Errorf("score candidates: %w", err)
	}

	best := candidates[0]
	bestScore := math.Inf(-1)
	for _, m := range candidates {
		sc := scores[m.ID]
		if sc > bestScore || (sc == bestScore && m.ID < best.ID) {
			best, bestScore = m, sc
		}
	}
	a.log.Debug("exploiting: %s scored %.3f", best.ID, bestScore)
	return best, nil
}

func (a *Adaptive) candidates(size registry.SizeClass, required []registry.Capability) []*registry.ModelDescriptor {
	models := a.registry.List(registry.ListFilter{Size: size, ActiveOnly: true})
	out := models[:0]
	for _, m := range models {
		if m.HasAllCapabilities(required) {
			out = append(out, m)
		}
	}
	return out
}

// blendedScores returns a per-model score from measured metrics, serving
// cached values while fresh and fetching comparative metrics only for the
// models that need recomputation.
func (a *Adaptive) blendedScores(ctx context.Context, candidates []*registry.ModelDescriptor, mode PriorityMode) (map[string]float64, error) {
	out := make(map[string]float64, len(candidates))
	var stale []string
	for _, m := range candidates {
		if sc, ok := a.cache.get(m.ID); ok {
			out[m.ID] = sc
		} else {
			stale = append(stale, m.ID)
		}
	}
	if len(stale) == 0 {
		return out, nil
	}

	comparative, err := a.metrics.GetComparativePerformance(ctx, stale, tracker.GranularityDaily)
	if err != nil {
		return nil, err
	}

	w, ok := weightTuples[mode]
	if !ok {
		w = weightTuples[PriorityNone]
	}
	for _, id := range stale {
		cm := comparative[id]
		if cm == nil {
			cm = &tracker.ComparativeMetrics{
				ModelID:      id,
				SuccessRate:  tracker.NeutralSuccessRate,
				LatencyMs:    tracker.NeutralLatencyMs,
				Quality:      tracker.NeutralQuality,
				CostPerToken: tracker.NeutralCost,
			}
		}
		sc := blendMetrics(cm, w)
		a.cache.set(id, sc)
		out[id] = sc
	}
	return out, nil
}

// blendMetrics applies the static four-factor weight tuple to measured
// values: success rate drives the performance factor, quality the capability
// factor, and cost and latency their own factors, each normalized to [0,1].
// Cost is the measured per-token cost, on the same scale as capCostPerToken.
func blendMetrics(cm *tracker.ComparativeMetrics, w weights) float64 {
	return w.capability*clamp01(cm.Quality/10.0) +
		w.performance*clamp01(cm.SuccessRate) +
		w.cost*clamp01(1-cm.CostPerToken/capCostPerToken) +
		w.latency*clamp01(1-cm.LatencyMs/capLatencyMs)
}

// UpdateModelWeights folds one observed outcome into the model's stored
// performance score via an exponential moving average:
//
//	signal = 0.7·success + 0.2·max(0, 1-latency/5000) + 0.1·quality/10
//	new    = old·(1-lr) + signal·10·lr, clamped to [0,10]
//
// An unknown model id is a logged no-op. The EMA step runs under the
// registry's write lock so concurrent feedback calls serialize instead of
// overwriting each other. The model's cached blended score is invalidated so
// the next adaptive selection sees the update.
func (a *Adaptive) UpdateModelWeights(modelID string, success bool, latencyMs int64, qualityScore *float64) bool {
	signal := latencyWeight * math.Max(0, 1-float64(latencyMs)/feedbackLatencyCapMs)
	if success {
		signal += successWeight
	}
	if qualityScore != nil {
		signal += qualityWeight * clamp01(*qualityScore/10.0)
	}

	newScore, ok := a.registry.AdjustPerformanceScore(modelID, func(old float64) float64 {
		return old*(1-a.learningRate) + signal*10*a.learningRate
	})
	if !ok {
		a.log.Warn("weight update for unknown model %s, skipping", modelID)
		return false
	}
	a.cache.invalidate(modelID)
	a.log.Debug("performance score for %s updated to %.3f (signal %.3f)", modelID, newScore, signal)
	return true
}
