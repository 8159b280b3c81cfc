// Package tracker records per-request model outcomes and aggregates them
// into time-windowed performance metrics consumed by adaptive selection.
package tracker

import (
	"context"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// USAGE RECORDS
// ═══════════════════════════════════════════════════════════════════════════════

// UsageRecord is one observed model invocation. Append-only once created.
type UsageRecord struct {
	ID             string    `json:"id"`
	ModelID        string    `json:"model_id"`
	QueryID        string    `json:"query_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	LatencyMs      int64     `json:"latency_ms"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	Cost           float64   `json:"cost"`
	QualityScore   *float64  `json:"quality_score,omitempty"`
	Feedback       string    `json:"feedback,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// METRICS
// ═══════════════════════════════════════════════════════════════════════════════

// MetricType identifies one aggregated measurement.
type MetricType string

const (
	MetricSuccessRate  MetricType = "success_rate"
	MetricLatency      MetricType = "latency"
	MetricTokenUsage   MetricType = "token_usage"
	MetricCost         MetricType = "cost"
	MetricQualityScore MetricType = "quality_score"
)

// Granularity is a fixed aggregation window size.
type Granularity string

const (
	GranularityHourly  Granularity = "hourly"
	GranularityDaily   Granularity = "daily"
	GranularityWeekly  Granularity = "weekly"
	GranularityMonthly Granularity = "monthly"
)

// AllGranularities returns every aggregation granularity.
func AllGranularities() []Granularity {
	return []Granularity{GranularityHourly, GranularityDaily, GranularityWeekly, GranularityMonthly}
}

// Window returns the window duration for a granularity. Monthly uses a
// fixed 30-day window.
func (g Granularity) Window() time.Duration {
	switch g {
	case GranularityHourly:
		return time.Hour
	case GranularityDaily:
		return 24 * time.Hour
	case GranularityWeekly:
		return 7 * 24 * time.Hour
	case GranularityMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// ParseGranularity maps period names (hour/day/week/month and the
// granularity names themselves) onto a Granularity.
func ParseGranularity(s string) (Granularity, bool) {
	switch s {
	case "hour", "hourly":
		return GranularityHourly, true
	case "day", "daily":
		return GranularityDaily, true
	case "week", "weekly":
		return GranularityWeekly, true
	case "month", "monthly":
		return GranularityMonthly, true
	}
	return "", false
}

// PerformanceMetric is one aggregated row, produced only by the aggregation
// job. Append-only.
type PerformanceMetric struct {
	ID          int64       `json:"id"`
	ModelID     string      `json:"model_id"`
	Type        MetricType  `json:"type"`
	Granularity Granularity `json:"granularity"`
	WindowStart time.Time   `json:"window_start"`
	WindowEnd   time.Time   `json:"window_end"`
	Value       float64     `json:"value"`
	SampleSize  int         `json:"sample_size"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ═══════════════════════════════════════════════════════════════════════════════

// Snapshot is derived on demand from usage records in a window. Never
// persisted. Latency averages only successful calls; failure latency is not
// representative. Token and cost totals cover all records.
type Snapshot struct {
	ModelID             string    `json:"model_id"`
	WindowStart         time.Time `json:"window_start"`
	WindowEnd           time.Time `json:"window_end"`
	TotalRequests       int       `json:"total_requests"`
	SuccessfulRequests  int       `json:"successful_requests"`
	SuccessRate         float64   `json:"success_rate"`
	AverageLatencyMs    float64   `json:"average_latency_ms"`
	TotalTokens         int64     `json:"total_tokens"`
	TotalCost           float64   `json:"total_cost"`
	AverageQualityScore *float64  `json:"average_quality_score,omitempty"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// NEUTRAL DEFAULTS
// ═══════════════════════════════════════════════════════════════════════════════

// Neutral values substituted for models with no aggregated metric, so
// unscored models are not unfairly penalized during comparison.
const (
	NeutralSuccessRate = 0.5
	NeutralLatencyMs   = 2500.0
	NeutralQuality     = 5.0
	NeutralCost        = 0.0
)

// NeutralValue returns the neutral default for a metric type.
func NeutralValue(t MetricType) float64 {
	switch t {
	case MetricSuccessRate:
		return NeutralSuccessRate
	case MetricLatency:
		return NeutralLatencyMs
	case MetricQualityScore:
		return NeutralQuality
	case MetricCost:
		return NeutralCost
	default:
		return 0
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// STORAGE COLLABORATOR
// ═══════════════════════════════════════════════════════════════════════════════

// Storage is the persistence collaborator boundary. The engine ships a
// SQLite implementation; the schema and engine choice stay behind this
// interface.
type Storage interface {
	// InsertUsageRecord appends one usage record.
	InsertUsageRecord(ctx context.Context, rec *UsageRecord) error

	// UsageRecordsInRange returns records for a model within [start, end).
	UsageRecordsInRange(ctx context.Context, modelID string, start, end time.Time) ([]*UsageRecord, error)

	// InsertPerformanceMetric appends one aggregated metric row.
	InsertPerformanceMetric(ctx context.Context, m *PerformanceMetric) error

	// LatestMetric returns the freshest metric for (model, type, granularity),
	// or nil when none exists.
	LatestMetric(ctx context.Context, modelID string, t MetricType, g Granularity) (*PerformanceMetric, error)

	// LatestMetricCreatedAt returns the creation time of the freshest metric
	// row for (model, granularity); the zero time when none exists.
	LatestMetricCreatedAt(ctx context.Context, modelID string, g Granularity) (time.Time, error)
}
