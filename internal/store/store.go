// Package store provides the SQLite-backed persistence layer for usage
// records and aggregated performance metrics. It uses modernc.org/sqlite
// for pure-Go, CGO-free database access.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/keruru-amuri/magpie-sub001/internal/tracker"
)

//go:embed schema.sql
var schema string

// Store implements tracker.Storage on SQLite.
type Store struct {
	db *sql.DB
}

// Open creates the database file (and its directory) if needed, configures
// the connection, and applies the schema. The schema is idempotent.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initPragmas(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize pragmas: %w", err)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return s, nil
}

// OpenInMemory opens a throwaway in-memory database, for tests.
func OpenInMemory() (*Store, error) {
	return Open(":memory:")
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",   // Write-Ahead Logging for concurrent reads
		"PRAGMA synchronous = NORMAL", // Balance safety and performance
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000", // Wait 5 seconds if locked
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// USAGE RECORDS
// ═══════════════════════════════════════════════════════════════════════════════

// InsertUsageRecord appends one usage record.
func (s *Store) InsertUsageRecord(ctx context.Context, rec *tracker.UsageRecord) error {
	quality := sql.NullFloat64{}
	if rec.QualityScore != nil {
		quality = sql.NullFloat64{Float64: *rec.QualityScore, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (
			id, model_id, query_id, conversation_id,
			input_tokens, output_tokens, latency_ms, success,
			error_message, cost, quality_score, feedback, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ModelID, rec.QueryID, rec.ConversationID,
		rec.InputTokens, rec.OutputTokens, rec.LatencyMs, rec.Success,
		rec.ErrorMessage, rec.Cost, quality, rec.Feedback, rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// UsageRecordsInRange returns a model's usage records with
// start <= timestamp < end, oldest first.
func (s *Store) UsageRecordsInRange(ctx context.Context, modelID string, start, end time.Time) ([]*tracker.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, model_id, query_id, conversation_id,
		       input_tokens, output_tokens, latency_ms, success,
		       error_message, cost, quality_score, feedback, timestamp
		FROM usage_records
		WHERE model_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC`,
		modelID, start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	var records []*tracker.UsageRecord
	for rows.Next() {
		rec := &tracker.UsageRecord{}
		var quality sql.NullFloat64
		if err := rows.Scan(
			&rec.ID, &rec.ModelID, &rec.QueryID, &rec.ConversationID,
			&rec.InputTokens, &rec.OutputTokens, &rec.LatencyMs, &rec.Success,
			&rec.ErrorMessage, &rec.Cost, &quality, &rec.Feedback, &rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		if quality.Valid {
			q := quality.Float64
			rec.QualityScore = &q
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage records: %w", err)
	}
	return records, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// PERFORMANCE METRICS
// ═══════════════════════════════════════════════════════════════════════════════

// InsertPerformanceMetric appends one aggregated metric row and fills in
// its assigned id.
func (s *Store) InsertPerformanceMetric(ctx context.Context, m *tracker.PerformanceMetric) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO performance_metrics (
			model_id, metric_type, granularity,
			window_start, window_end, value, sample_size, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ModelID, string(m.Type), string(m.Granularity),
		m.WindowStart.UTC(), m.WindowEnd.UTC(), m.Value, m.SampleSize, m.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert performance metric: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		m.ID = id
	}
	return nil
}

// LatestMetric returns the freshest metric row for the triple, or nil when
// no row exists.
func (s *Store) LatestMetric(ctx context.Context, modelID string, t tracker.MetricType, g tracker.Granularity) (*tracker.PerformanceMetric, error) {
	m := &tracker.PerformanceMetric{}
	var mt, gran string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, model_id, metric_type, granularity,
		       window_start, window_end, value, sample_size, created_at
		FROM performance_metrics
		WHERE model_id = ? AND metric_type = ? AND granularity = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		modelID, string(t), string(g),
	).Scan(&m.ID, &m.ModelID, &mt, &gran, &m.WindowStart, &m.WindowEnd, &m.Value, &m.SampleSize, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest metric: %w", err)
	}
	m.Type = tracker.MetricType(mt)
	m.Granularity = tracker.Granularity(gran)
	return m, nil
}

// LatestMetricCreatedAt returns when the freshest metric row for
// (model, granularity) was created; the zero time when none exists.
func (s *Store) LatestMetricCreatedAt(ctx context.Context, modelID string, g tracker.Granularity) (time.Time, error) {
	var created time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at FROM performance_metrics
		WHERE model_id = ? AND granularity = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		modelID, string(g),
	).Scan(&created)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query latest aggregation time: %w", err)
	}
	return created, nil
}
