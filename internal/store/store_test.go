package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/keruru-amuri/magpie-sub001/internal/tracker"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "magpie.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUsageRecordRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	q := 8.5
	rec := &tracker.UsageRecord{
		ID:             "rec-1",
		ModelID:        "m1",
		QueryID:        "q-1",
		ConversationID: "c-1",
		InputTokens:    120,
		OutputTokens:   80,
		LatencyMs:      950,
		Success:        true,
		Cost:           0.0123,
		QualityScore:   &q,
		Feedback:       "helpful",
		Timestamp:      base,
	}
	if err := s.InsertUsageRecord(ctx, rec); err != nil {
		t.Fatalf("InsertUsageRecord() error = %v", err)
	}

	// Second record without a quality score, outside the queried range.
	rec2 := &tracker.UsageRecord{
		ID: "rec-2", ModelID: "m1", QueryID: "q-2",
		Success: false, ErrorMessage: "timeout",
		Timestamp: base.Add(2 * time.Hour),
	}
	if err := s.InsertUsageRecord(ctx, rec2); err != nil {
		t.Fatal(err)
	}

	got, err := s.UsageRecordsInRange(ctx, "m1", base.Add(-time.Minute), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("UsageRecordsInRange() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1 (range filter)", len(got))
	}

	r := got[0]
	if r.ID != "rec-1" || r.ModelID != "m1" || r.ConversationID != "c-1" {
		t.Errorf("identity fields = %s/%s/%s", r.ID, r.ModelID, r.ConversationID)
	}
	if r.InputTokens != 120 || r.OutputTokens != 80 || r.LatencyMs != 950 {
		t.Errorf("numeric fields = %d/%d/%d", r.InputTokens, r.OutputTokens, r.LatencyMs)
	}
	if !r.Success || r.Cost != 0.0123 || r.Feedback != "helpful" {
		t.Errorf("payload fields = %v/%v/%q", r.Success, r.Cost, r.Feedback)
	}
	if r.QualityScore == nil || *r.QualityScore != 8.5 {
		t.Errorf("quality = %v, want 8.5", r.QualityScore)
	}
	if !r.Timestamp.Equal(base) {
		t.Errorf("timestamp = %v, want %v", r.Timestamp, base)
	}

	// Nullable quality survives as nil.
	all, err := s.UsageRecordsInRange(ctx, "m1", base.Add(-time.Minute), base.Add(3*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d records, want 2", len(all))
	}
	if all[1].QualityScore != nil {
		t.Error("missing quality should scan as nil")
	}
	if all[1].ErrorMessage != "timeout" {
		t.Errorf("error message = %q, want timeout", all[1].ErrorMessage)
	}
}

func TestUsageRecordsInRange_OtherModelExcluded(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"m1", "m2"} {
		err := s.InsertUsageRecord(ctx, &tracker.UsageRecord{
			ID: "rec-" + id, ModelID: id, QueryID: "q", Success: true, Timestamp: now,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.UsageRecordsInRange(ctx, "m1", now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ModelID != "m1" {
		t.Errorf("got %d records, want exactly m1's", len(got))
	}
}

func TestLatestMetric(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	got, err := s.LatestMetric(ctx, "m1", tracker.MetricSuccessRate, tracker.GranularityDaily)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("empty table should yield nil metric")
	}

	for i, v := range []float64{0.8, 0.9, 0.95} {
		m := &tracker.PerformanceMetric{
			ModelID:     "m1",
			Type:        tracker.MetricSuccessRate,
			Granularity: tracker.GranularityDaily,
			WindowStart: base.Add(time.Duration(i) * 24 * time.Hour),
			WindowEnd:   base.Add(time.Duration(i+1) * 24 * time.Hour),
			Value:       v,
			SampleSize:  10,
			CreatedAt:   base.Add(time.Duration(i+1) * 24 * time.Hour),
		}
		if err := s.InsertPerformanceMetric(ctx, m); err != nil {
			t.Fatalf("InsertPerformanceMetric() error = %v", err)
		}
		if m.ID == 0 {
			t.Error("insert should assign an id")
		}
	}

	got, err = s.LatestMetric(ctx, "m1", tracker.MetricSuccessRate, tracker.GranularityDaily)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Value != 0.95 {
		t.Fatalf("latest metric = %+v, want value 0.95", got)
	}
	if got.Type != tracker.MetricSuccessRate || got.Granularity != tracker.GranularityDaily {
		t.Errorf("metric identity = %s/%s", got.Type, got.Granularity)
	}

	// Different granularity is a separate series.
	other, err := s.LatestMetric(ctx, "m1", tracker.MetricSuccessRate, tracker.GranularityHourly)
	if err != nil {
		t.Fatal(err)
	}
	if other != nil {
		t.Error("hourly series should be empty")
	}
}

func TestLatestMetricCreatedAt(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	created, err := s.LatestMetricCreatedAt(ctx, "m1", tracker.GranularityDaily)
	if err != nil {
		t.Fatal(err)
	}
	if !created.IsZero() {
		t.Fatalf("created = %v, want zero time for empty table", created)
	}

	at := time.Date(2026, 8, 2, 9, 30, 0, 0, time.UTC)
	err = s.InsertPerformanceMetric(ctx, &tracker.PerformanceMetric{
		ModelID: "m1", Type: tracker.MetricLatency, Granularity: tracker.GranularityDaily,
		WindowStart: at.Add(-24 * time.Hour), WindowEnd: at, Value: 1200, SampleSize: 4, CreatedAt: at,
	})
	if err != nil {
		t.Fatal(err)
	}

	created, err = s.LatestMetricCreatedAt(ctx, "m1", tracker.GranularityDaily)
	if err != nil {
		t.Fatal(err)
	}
	if !created.Equal(at) {
		t.Errorf("created = %v, want %v", created, at)
	}
}
