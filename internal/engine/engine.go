// Package engine wires the analyzer, registry, selectors, and tracker into
// the single facade the CLI and embedding callers use.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/keruru-amuri/magpie-sub001/internal/complexity"
	"github.com/keruru-amuri/magpie-sub001/internal/config"
	"github.com/keruru-amuri/magpie-sub001/internal/logging"
	"github.com/keruru-amuri/magpie-sub001/internal/registry"
	"github.com/keruru-amuri/magpie-sub001/internal/selector"
	"github.com/keruru-amuri/magpie-sub001/internal/store"
	"github.com/keruru-amuri/magpie-sub001/internal/tracker"
)

// Engine is the routing engine facade. Construct it with New and close it
// when done; all methods are safe for concurrent use.
type Engine struct {
	cfg      *config.Config
	log      *logging.Logger
	registry *registry.Registry
	analyzer *complexity.Analyzer
	static   *selector.Selector
	adaptive *selector.Adaptive
	tracker  *tracker.Tracker
	store    *store.Store
}

// New builds an Engine from configuration: opens the SQLite store, loads
// the model catalog (configured file or the embedded default), and wires
// the analyzer, selectors, and tracker together. The refinement completer
// is attached only when enabled and reachable.
func New(cfg *config.Config, log *logging.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if log == nil {
		log = logging.Nop()
	}

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	reg := registry.New(registry.WithLogger(log.WithComponent("registry")))
	if cfg.Catalog.Path != "" {
		err = reg.LoadCatalogFile(cfg.Catalog.Path)
	} else {
		err = reg.LoadDefaultCatalog()
	}
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load model catalog: %w", err)
	}

	analyzerOpts := []complexity.AnalyzerOption{
		complexity.WithLogger(log.WithComponent("analyzer")),
		complexity.WithRefinementTimeout(time.Duration(cfg.Analyzer.RefinementTimeoutMs) * time.Millisecond),
	}
	if cfg.Analyzer.RefinementEnabled {
		completer := NewOllamaCompleter(cfg.Analyzer.OllamaEndpoint, cfg.Analyzer.RefinementModel)
		if completer.Available() {
			analyzerOpts = append(analyzerOpts, complexity.WithCompleter(completer))
		} else {
			log.Warn("refinement enabled but ollama unreachable at %s, running rule-only", cfg.Analyzer.OllamaEndpoint)
		}
	}
	analyzer := complexity.NewAnalyzer(analyzerOpts...)

	trk := tracker.New(st, reg, tracker.WithLogger(log.WithComponent("tracker")))

	e := &Engine{
		cfg:      cfg,
		log:      log,
		registry: reg,
		analyzer: analyzer,
		static:   selector.New(reg, analyzer, selector.WithLogger(log.WithComponent("selector"))),
		adaptive: selector.NewAdaptive(reg, trk,
			selector.WithEpsilon(cfg.Selection.Epsilon),
			selector.WithLearningRate(cfg.Selection.LearningRate),
			selector.WithAdaptiveLogger(log.WithComponent("adaptive")),
		),
		tracker: trk,
		store:   st,
	}
	return e, nil
}

// Close releases the underlying storage.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Registry exposes the model catalog for listing and administration.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// AnalyzeComplexity scores a query's difficulty.
func (e *Engine) AnalyzeComplexity(ctx context.Context, query string, history []string) (*complexity.Score, error) {
	return e.analyzer.Analyze(ctx, query, history)
}

// SelectModel analyzes the query and statically picks the best model,
// walking the size fallback ladder before giving up with
// selector.ErrNoModelAvailable.
func (e *Engine) SelectModel(ctx context.Context, query string, history []string, required []registry.Capability, mode selector.PriorityMode) (*registry.ModelDescriptor, *complexity.Score, error) {
	if mode == "" {
		mode = e.defaultMode()
	}
	return e.static.SelectModel(ctx, query, history, required, mode)
}

// RankModels returns the statically ranked candidates for an already
// analyzed query, best first, without the fallback ladder.
func (e *Engine) RankModels(score *complexity.Score, required []registry.Capability, mode selector.PriorityMode) []selector.RankedModel {
	if mode == "" {
		mode = e.defaultMode()
	}
	return e.static.Select(score, required, mode)
}

// SelectModelAdaptive picks a model epsilon-greedily from measured
// performance. A nil model with nil error means no candidate satisfied the
// filters.
func (e *Engine) SelectModelAdaptive(ctx context.Context, level complexity.Level, required []registry.Capability, mode selector.PriorityMode, explore bool) (*registry.ModelDescriptor, error) {
	if mode == "" {
		mode = e.defaultMode()
	}
	return e.adaptive.SelectAdaptively(ctx, level, required, mode, explore)
}

// RecordUsage persists one observed model invocation and refreshes the
// model's rolling registry fields.
func (e *Engine) RecordUsage(ctx context.Context, in tracker.UsageInput) (*tracker.UsageRecord, error) {
	return e.tracker.RecordUsage(ctx, in)
}

// UpdateModelWeights folds one outcome into the model's adaptive score.
// Unknown ids are a no-op returning false.
func (e *Engine) UpdateModelWeights(modelID string, success bool, latencyMs int64, qualityScore *float64) bool {
	return e.adaptive.UpdateModelWeights(modelID, success, latencyMs, qualityScore)
}

// ModelPerformance derives a usage snapshot for one model over a trailing
// window ending now.
func (e *Engine) ModelPerformance(ctx context.Context, modelID string, window time.Duration) (*tracker.Snapshot, error) {
	end := time.Now().UTC()
	return e.tracker.GetModelPerformance(ctx, modelID, end.Add(-window), end)
}

// AggregateMetrics runs one aggregation pass over all models and
// granularities.
func (e *Engine) AggregateMetrics(ctx context.Context, force bool) (*tracker.AggregateResult, error) {
	return e.tracker.AggregateMetrics(ctx, tracker.AggregateOptions{Force: force})
}

// ResolveDeployment maps an external deployment name onto a registry model
// id; the empty string means no alias matched.
func (e *Engine) ResolveDeployment(externalName string) string {
	return e.registry.ResolveDeploymentAlias(externalName)
}

// RunAggregationLoop periodically aggregates metrics until ctx is
// cancelled. It returns immediately when the configured interval is zero.
func (e *Engine) RunAggregationLoop(ctx context.Context) {
	interval := time.Duration(e.cfg.Storage.AggregationIntervalMin) * time.Minute
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.tracker.AggregateMetrics(ctx, tracker.AggregateOptions{}); err != nil {
				e.log.Err(err, "background aggregation failed")
			}
		}
	}
}

func (e *Engine) defaultMode() selector.PriorityMode {
	mode, err := selector.ParsePriorityMode(e.cfg.Selection.DefaultPriorityMode)
	if err != nil {
		return selector.PriorityNone
	}
	return mode
}
