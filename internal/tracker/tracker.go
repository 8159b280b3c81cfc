package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/keruru-amuri/magpie-sub001/internal/logging"
	"github.com/keruru-amuri/magpie-sub001/internal/registry"
)

// Tracker records usage, derives snapshots, and serves comparative
// performance data for adaptive selection.
type Tracker struct {
	storage  Storage
	registry *registry.Registry
	log      *logging.Logger
	now      func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the tracker logger.
func WithLogger(log *logging.Logger) Option {
	return func(t *Tracker) { t.log = log }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New builds a Tracker over a storage backend and the model registry.
func New(storage Storage, reg *registry.Registry, opts ...Option) *Tracker {
	t := &Tracker{
		storage:  storage,
		registry: reg,
		log:      logging.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// UsageInput carries the caller-observed fields of one model invocation.
// Cost is computed by the tracker from registry rates.
type UsageInput struct {
	ModelID        string
	QueryID        string
	ConversationID string
	InputTokens    int
	OutputTokens   int
	LatencyMs      int64
	Success        bool
	ErrorMessage   string
	QualityScore   *float64
	Feedback       string
}

// RecordUsage persists one usage record. The cost is computed exactly as
// (input_tokens/1000)*input_rate + (output_tokens/1000)*output_rate using
// the registry's current rates; an unknown model records zero cost rather
// than rejecting the observation. After a successful insert the model's
// rolling registry fields are refreshed from a trailing 24h snapshot.
//
// A storage failure is reported to the caller but must not break the
// request path that observed the usage, so callers typically log and move
// on; RecordUsage itself already logs the failure.
func (t *Tracker) RecordUsage(ctx context.Context, in UsageInput) (*UsageRecord, error) {
	if in.ModelID == "" {
		return nil, fmt.Errorf("record usage: model id required")
	}
	if in.QualityScore != nil {
		q := clamp(*in.QualityScore, 0, 10)
		in.QualityScore = &q
	}

	rec := &UsageRecord{
		ID:             uuid.NewString(),
		ModelID:        in.ModelID,
		QueryID:        in.QueryID,
		ConversationID: in.ConversationID,
		InputTokens:    in.InputTokens,
		OutputTokens:   in.OutputTokens,
		LatencyMs:      in.LatencyMs,
		Success:        in.Success,
		ErrorMessage:   in.ErrorMessage,
		QualityScore:   in.QualityScore,
		Feedback:       in.Feedback,
		Timestamp:      t.now().UTC(),
	}
	if rec.QueryID == "" {
		rec.QueryID = uuid.NewString()
	}

	if desc := t.registry.Get(in.ModelID); desc != nil {
		rec.Cost = float64(in.InputTokens)/1000.0*desc.InputCostPer1K +
			float64(in.OutputTokens)/1000.0*desc.OutputCostPer1K
	} else {
		t.log.Warn("recording usage for model absent from registry: %s", in.ModelID)
	}

	if err := t.storage.InsertUsageRecord(ctx, rec); err != nil {
		t.log.Err(err, "failed to persist usage record for %s", in.ModelID)
		return nil, fmt.Errorf("record usage: %w", err)
	}

	t.refreshRollingFields(ctx, in.ModelID)
	return rec, nil
}

// refreshRollingFields recomputes the registry's convenience performance
// fields from the trailing 24h of usage. Best effort; a read failure leaves
// the registry untouched.
func (t *Tracker) refreshRollingFields(ctx context.Context, modelID string) {
	end := t.now().UTC()
	snap, err := t.GetModelPerformance(ctx, modelID, end.Add(-24*time.Hour), end)
	if err != nil {
		t.log.Err(err, "failed to refresh rolling fields for %s", modelID)
		return
	}
	if snap.TotalRequests == 0 {
		return
	}
	upd := registry.PerformanceUpdate{
		SuccessRate:      &snap.SuccessRate,
		AverageLatencyMs: &snap.AverageLatencyMs,
	}
	if snap.AverageQualityScore != nil {
		upd.PerformanceScore = snap.AverageQualityScore
	}
	t.registry.UpdatePerformance(modelID, upd)
}

// GetModelPerformance derives a snapshot from usage records in [start, end).
// Latency averages only successful requests. The quality average covers only
// quality-bearing records and is nil when none carry a score. A window with
// no records yields a zeroed snapshot, never an error.
func (t *Tracker) GetModelPerformance(ctx context.Context, modelID string, start, end time.Time) (*Snapshot, error) {
	recs, err := t.storage.UsageRecordsInRange(ctx, modelID, start, end)
	if err != nil {
		return nil, fmt.Errorf("load usage records for %s: %w", modelID, err)
	}

	snap := &Snapshot{
		ModelID:     modelID,
		WindowStart: start,
		WindowEnd:   end,
	}
	var (
		latencySum int64
		qualitySum float64
		qualityN   int
	)
	for _, r := range recs {
		snap.TotalRequests++
		snap.TotalTokens += int64(r.InputTokens + r.OutputTokens)
		snap.TotalCost += r.Cost
		if r.Success {
			snap.SuccessfulRequests++
			latencySum += r.LatencyMs
		}
		if r.QualityScore != nil {
			qualitySum += *r.QualityScore
			qualityN++
		}
	}
	if snap.TotalRequests > 0 {
		snap.SuccessRate = float64(snap.SuccessfulRequests) / float64(snap.TotalRequests)
	}
	if snap.SuccessfulRequests > 0 {
		snap.AverageLatencyMs = float64(latencySum) / float64(snap.SuccessfulRequests)
	}
	if qualityN > 0 {
		avg := qualitySum / float64(qualityN)
		snap.AverageQualityScore = &avg
	}
	return snap, nil
}

// ComparativeMetrics is the per-model view used for adaptive blending.
// Values come from the freshest aggregated metrics at one granularity, with
// neutral defaults where no metric row exists yet. CostPerToken is derived
// from the window's cost and token totals so models with different traffic
// volumes stay comparable.
type ComparativeMetrics struct {
	ModelID      string  `json:"model_id"`
	SuccessRate  float64 `json:"success_rate"`
	LatencyMs    float64 `json:"latency_ms"`
	Quality      float64 `json:"quality"`
	CostPerToken float64 `json:"cost_per_token"`
}

// GetComparativePerformance returns comparable metrics for each requested
// model at one granularity. Models with no aggregated data get neutral
// defaults so they still participate in ranking.
func (t *Tracker) GetComparativePerformance(ctx context.Context, modelIDs []string, g Granularity) (map[string]*ComparativeMetrics, error) {
	out := make(map[string]*ComparativeMetrics, len(modelIDs))
	for _, id := range modelIDs {
		cm := &ComparativeMetrics{
			ModelID:     id,
			SuccessRate: NeutralSuccessRate,
			LatencyMs:   NeutralLatencyMs,
			Quality:     NeutralQuality,
		}
		var totalCost, totalTokens float64
		for _, mt := range []MetricType{MetricSuccessRate, MetricLatency, MetricQualityScore, MetricCost, MetricTokenUsage} {
			m, err := t.storage.LatestMetric(ctx, id, mt, g)
			if err != nil {
				return nil, fmt.Errorf("load %s metric for %s: %w", mt, id, err)
			}
			if m == nil {
				continue
			}
			switch mt {
			case MetricSuccessRate:
				cm.SuccessRate = m.Value
			case MetricLatency:
				cm.LatencyMs = m.Value
			case MetricQualityScore:
				cm.Quality = m.Value
			case MetricCost:
				totalCost = m.Value
			case MetricTokenUsage:
				totalTokens = m.Value
			}
		}
		// Cost rows hold window totals; per-token cost is what selection
		// compares across models.
		if totalTokens > 0 {
			cm.CostPerToken = totalCost / totalTokens
		}
		out[id] = cm
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
