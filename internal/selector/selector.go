// Package selector ranks registry models against analyzed query complexity,
// statically via descriptor fields or adaptively via measured performance.
package selector

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/keruru-amuri/magpie-sub001/internal/complexity"
	"github.com/keruru-amuri/magpie-sub001/internal/logging"
	"github.com/keruru-amuri/magpie-sub001/internal/registry"
)

// ErrNoModelAvailable is returned when no active model satisfies the
// required capabilities even after the size fallback ladder.
var ErrNoModelAvailable = errors.New("no model available for query requirements")

// PriorityMode biases the ranking weight tuple toward one factor.
type PriorityMode string

const (
	PriorityNone        PriorityMode = "none"
	PriorityCost        PriorityMode = "cost_sensitive"
	PriorityPerformance PriorityMode = "performance_sensitive"
	PriorityLatency     PriorityMode = "latency_sensitive"
)

// ParsePriorityMode validates a mode name; the empty string means none.
func ParsePriorityMode(s string) (PriorityMode, error) {
	switch PriorityMode(s) {
	case "", PriorityNone:
		return PriorityNone, nil
	case PriorityCost, PriorityPerformance, PriorityLatency:
		return PriorityMode(s), nil
	}
	return "", fmt.Errorf("unknown priority mode %q", s)
}

// weights is one four-factor ranking tuple. Every tuple keeps all factors
// non-zero so no dimension is ever fully ignored.
type weights struct {
	capability  float64
	performance float64
	cost        float64
	latency     float64
}

var weightTuples = map[PriorityMode]weights{
	PriorityNone:        {capability: 0.4, performance: 0.3, cost: 0.2, latency: 0.1},
	PriorityCost:        {capability: 0.3, performance: 0.2, cost: 0.4, latency: 0.1},
	PriorityPerformance: {capability: 0.3, performance: 0.5, cost: 0.1, latency: 0.1},
	PriorityLatency:     {capability: 0.3, performance: 0.2, cost: 0.1, latency: 0.4},
}

// Normalization caps for the cost and latency sub-scores. A model at or
// beyond the cap scores zero on that factor.
const (
	capCostPerToken = 0.0001
	capLatencyMs    = 10000.0
)

// dimensionCapability maps complexity dimensions onto the model capability
// that serves them; a dimension only contributes to capability_score when
// the candidate holds the mapped capability.
var dimensionCapability = map[complexity.Dimension]registry.Capability{
	complexity.DimTokenCount:           registry.CapBasicCompletion,
	complexity.DimReasoningDepth:       registry.CapReasoning,
	complexity.DimSpecializedKnowledge: registry.CapSpecializedKnowledge,
	complexity.DimContextDependency:    registry.CapLongContext,
	complexity.DimOutputStructure:      registry.CapStructuredOutput,
}

// sizeForLevel maps a complexity level to its preferred size class.
func sizeForLevel(level complexity.Level) registry.SizeClass {
	switch level {
	case complexity.LevelSimple:
		return registry.SizeSmall
	case complexity.LevelMedium:
		return registry.SizeMedium
	default:
		return registry.SizeLarge
	}
}

// Selector performs static, non-learning model selection.
type Selector struct {
	registry *registry.Registry
	analyzer *complexity.Analyzer
	log      *logging.Logger
}

// Option configures a Selector.
type Option func(*Selector)

// WithLogger sets the selector logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Selector) { s.log = log }
}

// New builds a Selector over a registry and an analyzer.
func New(reg *registry.Registry, analyzer *complexity.Analyzer, opts ...Option) *Selector {
	s := &Selector{registry: reg, analyzer: analyzer, log: logging.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RankedModel pairs a candidate with its composite ranking score.
type RankedModel struct {
	Model *registry.ModelDescriptor `json:"model"`
	Score float64                   `json:"score"`
}

// Select filters active models by the score's preferred size class and the
// required capabilities, then returns them ranked best first. No fallback
// ladder; an empty result is an empty slice, not an error.
func (s *Selector) Select(score *complexity.Score, required []registry.Capability, mode PriorityMode) []RankedModel {
	candidates := s.candidates(sizeForLevel(score.Level), required)
	return s.rank(candidates, score, mode)
}

// SelectModel analyzes the query and picks the single best model, walking
// the size fallback ladder when the preferred class has no match: degrade
// the size one step at a time, then consider the full active catalog
// filtered by capability alone, and only then fail with ErrNoModelAvailable.
func (s *Selector) SelectModel(ctx context.Context, query string, history []string, required []registry.Capability, mode PriorityMode) (*registry.ModelDescriptor, *complexity.Score, error) {
	score, err := s.analyzer.Analyze(ctx, query, history)
	if err != nil {
		return nil, nil, fmt.Errorf("analyze query: %w", err)
	}

	size := sizeForLevel(score.Level)
	candidates := s.candidates(size, required)
	for len(candidates) == 0 && size != registry.SizeSmall {
		next := size.Degrade()
		s.log.Debug("no %s candidates, degrading to %s", size, next)
		size = next
		candidates = s.candidates(size, required)
	}
	if len(candidates) == 0 {
		candidates = s.capabilityOnly(required)
	}
	if len(candidates) == 0 {
		return nil, score, ErrNoModelAvailable
	}

	ranked := s.rank(candidates, score, mode)
	best := ranked[0]
	s.log.Info("selected %s (score %.3f) for %s query", best.Model.ID, best.Score, score.Level)
	return best.Model, score, nil
}

// candidates returns active models of one size holding every required
// capability.
func (s *Selector) candidates(size registry.SizeClass, required []registry.Capability) []*registry.ModelDescriptor {
	models := s.registry.List(registry.ListFilter{Size: size, ActiveOnly: true})
	out := models[:0]
	for _, m := range models {
		if m.HasAllCapabilities(required) {
			out = append(out, m)
		}
	}
	return out
}

// capabilityOnly is the last ladder rung: any active model with the
// required capabilities, regardless of size.
func (s *Selector) capabilityOnly(required []registry.Capability) []*registry.ModelDescriptor {
	models := s.registry.List(registry.ListFilter{ActiveOnly: true})
	out := models[:0]
	for _, m := range models {
		if m.HasAllCapabilities(required) {
			out = append(out, m)
		}
	}
	return out
}

// rank scores candidates with the mode's weight tuple and sorts best first,
// breaking score ties by lexical id order so results are deterministic.
func (s *Selector) rank(candidates []*registry.ModelDescriptor, score *complexity.Score, mode PriorityMode) []RankedModel {
	w, ok := weightTuples[mode]
	if !ok {
		w = weightTuples[PriorityNone]
	}

	ranked := make([]RankedModel, 0, len(candidates))
	for _, m := range candidates {
		composite := w.capability*capabilityScore(m, score) +
			w.performance*m.PerformanceScore/10.0 +
			w.cost*costScore(m.AvgCostPerToken()) +
			w.latency*latencyScore(m.AverageLatencyMs)
		ranked = append(ranked, RankedModel{Model: m, Score: composite})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Model.ID < ranked[j].Model.ID
	})
	return ranked
}

// capabilityScore measures how well a model's capabilities cover the
// dimensions the query actually exercises. Each mapped dimension contributes
// its intensity when the model holds the capability; the result is the
// covered share of total demanded intensity, in [0,1]. A query demanding
// nothing scores full coverage.
func capabilityScore(m *registry.ModelDescriptor, score *complexity.Score) float64 {
	var demanded, covered float64
	for dim, c := range dimensionCapability {
		v, ok := score.Dimensions[dim]
		if !ok || v <= 0 {
			continue
		}
		demanded += v
		if m.HasCapability(c) {
			covered += v
		}
	}
	if demanded == 0 {
		return 1.0
	}
	return covered / demanded
}

func costScore(avgCostPerToken float64) float64 {
	return clamp01(1 - avgCostPerToken/capCostPerToken)
}

func latencyScore(avgLatencyMs float64) float64 {
	return clamp01(1 - avgLatencyMs/capLatencyMs)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
