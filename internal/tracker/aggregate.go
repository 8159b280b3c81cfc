package tracker

import (
	"context"
	"fmt"
	"time"
)

// minAggregationGap is the idempotence guard: a model×granularity pair is
// skipped when its freshest metric row was created within this interval,
// unless the caller forces a re-run.
const minAggregationGap = time.Hour

// AggregateOptions controls one aggregation run.
type AggregateOptions struct {
	// ModelIDs restricts the run; empty means every registered model.
	ModelIDs []string
	// Granularities restricts the windows; empty means all four.
	Granularities []Granularity
	// Force skips the recent-run guard.
	Force bool
}

// AggregateResult reports what one run produced.
type AggregateResult struct {
	MetricsWritten int
	PairsSkipped   int
}

// AggregateMetrics derives metric rows from usage records for each
// model×granularity pair. Each run aggregates the trailing window ending
// now: success rate and latency from the snapshot, token usage and cost as
// window totals, quality only when at least one record in the window
// carries a score. Pairs aggregated within the last hour are skipped unless
// forced. Per-pair failures are logged and the run continues.
func (t *Tracker) AggregateMetrics(ctx context.Context, opts AggregateOptions) (*AggregateResult, error) {
	modelIDs := opts.ModelIDs
	if len(modelIDs) == 0 {
		modelIDs = t.registry.IDs()
	}
	grans := opts.Granularities
	if len(grans) == 0 {
		grans = AllGranularities()
	}

	res := &AggregateResult{}
	now := t.now().UTC()
	for _, id := range modelIDs {
		for _, g := range grans {
			wrote, err := t.aggregatePair(ctx, id, g, now, opts.Force)
			if err != nil {
				t.log.Err(err, "aggregation failed for %s/%s", id, g)
				continue
			}
			if wrote == 0 {
				res.PairsSkipped++
			}
			res.MetricsWritten += wrote
		}
	}
	t.log.Info("aggregation run complete: %d metrics written, %d pairs skipped", res.MetricsWritten, res.PairsSkipped)
	return res, nil
}

func (t *Tracker) aggregatePair(ctx context.Context, modelID string, g Granularity, now time.Time, force bool) (int, error) {
	if !force {
		last, err := t.storage.LatestMetricCreatedAt(ctx, modelID, g)
		if err != nil {
			return 0, fmt.Errorf("check last aggregation: %w", err)
		}
		if !last.IsZero() && now.Sub(last) < minAggregationGap {
			return 0, nil
		}
	}

	start := now.Add(-g.Window())
	snap, err := t.GetModelPerformance(ctx, modelID, start, now)
	if err != nil {
		return 0, err
	}
	if snap.TotalRequests == 0 {
		return 0, nil
	}

	rows := []*PerformanceMetric{
		{Type: MetricSuccessRate, Value: snap.SuccessRate, SampleSize: snap.TotalRequests},
		{Type: MetricLatency, Value: snap.AverageLatencyMs, SampleSize: snap.SuccessfulRequests},
		{Type: MetricTokenUsage, Value: float64(snap.TotalTokens), SampleSize: snap.TotalRequests},
		{Type: MetricCost, Value: snap.TotalCost, SampleSize: snap.TotalRequests},
	}
	if snap.AverageQualityScore != nil {
		rows = append(rows, &PerformanceMetric{
			Type: MetricQualityScore, Value: *snap.AverageQualityScore, SampleSize: snap.TotalRequests,
		})
	}

	wrote := 0
	for _, m := range rows {
		m.ModelID = modelID
		m.Granularity = g
		m.WindowStart = start
		m.WindowEnd = now
		m.CreatedAt = now
		if err := t.storage.InsertPerformanceMetric(ctx, m); err != nil {
			return wrote, fmt.Errorf("insert %s metric: %w", m.Type, err)
		}
		wrote++
	}
	return wrote, nil
}
