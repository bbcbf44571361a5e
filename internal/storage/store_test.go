package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/betterdb/anomaly-engine/internal/models"
)

func sampleEvent(id string, ts int64, metric models.MetricType, sev models.Severity) models.AnomalyEvent {
	return models.AnomalyEvent{
		ID:          id,
		Timestamp:   ts,
		MetricType:  metric,
		AnomalyType: models.AnomalySpike,
		Severity:    sev,
		Value:       150,
		Baseline:    100,
		StdDev:      10,
		ZScore:      5,
		Threshold:   3,
		Message:     "spike",
	}
}

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlStore, err := NewSQLStore(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "anomalies.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = sqlStore.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(100, 100),
		"sqlite": sqlStore,
	}
}

func TestStoreLifecycle(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			events := []models.AnomalyEvent{
				sampleEvent("e1", 1000, models.MetricConnections, models.SeverityWarning),
				sampleEvent("e2", 1500, models.MetricOpsPerSec, models.SeverityCritical),
				sampleEvent("e3", 9000, models.MetricMemoryUsed, models.SeverityWarning),
			}
			if err := store.SaveEvents(ctx, events); err != nil {
				t.Fatalf("save events: %v", err)
			}

			listed, err := store.ListEvents(ctx, EventQuery{})
			if err != nil {
				t.Fatalf("list events: %v", err)
			}
			if len(listed) != 3 || listed[0].ID != "e3" {
				t.Fatalf("expected newest first, got %+v", listed)
			}
			if listed[0].CorrelationID != "" || listed[0].RelatedMetrics != nil || listed[0].ResolvedAt != nil {
				t.Fatalf("optional fields should be absent: %+v", listed[0])
			}

			group := models.CorrelatedAnomalyGroup{
				CorrelationID:   "g1",
				Timestamp:       1000,
				Pattern:         models.PatternTrafficBurst,
				Severity:        models.SeverityCritical,
				Diagnosis:       "burst",
				Recommendations: []string{"scale"},
				Anomalies: []models.AnomalyEvent{
					{ID: "e1", CorrelationID: "g1", RelatedMetrics: []models.MetricType{models.MetricOpsPerSec}},
					{ID: "e2", CorrelationID: "g1", RelatedMetrics: []models.MetricType{models.MetricConnections}},
				},
			}
			if err := store.SaveGroups(ctx, []models.CorrelatedAnomalyGroup{group}); err != nil {
				t.Fatalf("save groups: %v", err)
			}

			n, err := store.ResolveEvents(ctx, []string{"e1", "missing"}, 4000)
			if err != nil || n != 1 {
				t.Fatalf("resolve = %d, %v", n, err)
			}
			n, err = store.ResolveEvents(ctx, []string{"e1"}, 5000)
			if err != nil || n != 0 {
				t.Fatalf("second resolve should be a no-op, got %d, %v", n, err)
			}

			got, err := store.GetGroup(ctx, "g1")
			if err != nil {
				t.Fatalf("get group: %v", err)
			}
			if len(got.Anomalies) != 2 || got.Anomalies[0].ID != "e1" {
				t.Fatalf("unexpected members: %+v", got.Anomalies)
			}
			first := got.Anomalies[0]
			if !first.Resolved || first.ResolvedAt == nil || *first.ResolvedAt != 4000 || first.DurationMs == nil || *first.DurationMs != 3000 {
				t.Fatalf("resolution not reflected: %+v", first)
			}
			if first.CorrelationID != "g1" || len(first.RelatedMetrics) != 1 || first.RelatedMetrics[0] != models.MetricOpsPerSec {
				t.Fatalf("correlation not stamped: %+v", first)
			}
			if first.Value != 150 || first.Message != "spike" {
				t.Fatalf("group member lost stored fields: %+v", first)
			}
			if got.Recommendations[0] != "scale" || got.Pattern != models.PatternTrafficBurst {
				t.Fatalf("unexpected group: %+v", got)
			}

			unresolved, err := store.ListEvents(ctx, EventQuery{UnresolvedOnly: true, Severity: models.SeverityWarning})
			if err != nil {
				t.Fatalf("list unresolved: %v", err)
			}
			if len(unresolved) != 1 || unresolved[0].ID != "e3" {
				t.Fatalf("unexpected unresolved warnings: %+v", unresolved)
			}

			summary, err := store.Summary(ctx, 0)
			if err != nil {
				t.Fatalf("summary: %v", err)
			}
			if summary.TotalEvents != 3 || summary.UnresolvedCount != 2 {
				t.Fatalf("unexpected totals: %+v", summary)
			}
			if summary.BySeverity[models.SeverityWarning] != 2 || summary.ByMetric[models.MetricOpsPerSec] != 1 {
				t.Fatalf("unexpected breakdown: %+v", summary)
			}
			if summary.ByPattern[models.PatternTrafficBurst] != 1 {
				t.Fatalf("unexpected pattern counts: %+v", summary.ByPattern)
			}

			groups, err := store.ListGroups(ctx, GroupQuery{Pattern: models.PatternMemoryPressure})
			if err != nil {
				t.Fatalf("list groups: %v", err)
			}
			if len(groups) != 0 {
				t.Fatalf("expected pattern filter to exclude group, got %d", len(groups))
			}

			removed, err := store.Prune(ctx, 2000)
			if err != nil || removed != 2 {
				t.Fatalf("prune = %d, %v", removed, err)
			}
			if _, err := store.GetGroup(ctx, "g1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after prune, got %v", err)
			}
			remaining, _ := store.ListEvents(ctx, EventQuery{})
			if len(remaining) != 1 || remaining[0].ID != "e3" {
				t.Fatalf("unexpected remaining events: %+v", remaining)
			}
		})
	}
}

func TestStoreListLimitAndRange(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var events []models.AnomalyEvent
			for i := 0; i < 10; i++ {
				events = append(events, sampleEvent(string(rune('a'+i)), int64(i*1000), models.MetricConnections, models.SeverityInfo))
			}
			if err := store.SaveEvents(ctx, events); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := store.ListEvents(ctx, EventQuery{Since: 2000, Until: 6000, Limit: 3})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != 3 || got[0].Timestamp != 6000 || got[2].Timestamp != 4000 {
				t.Fatalf("unexpected page: %+v", got)
			}
		})
	}
}

func TestMemoryStoreBounded(t *testing.T) {
	store := NewMemoryStore(2, 1)
	ctx := context.Background()
	_ = store.SaveEvents(ctx, []models.AnomalyEvent{
		sampleEvent("a", 1, models.MetricConnections, models.SeverityInfo),
		sampleEvent("b", 2, models.MetricConnections, models.SeverityInfo),
		sampleEvent("c", 3, models.MetricConnections, models.SeverityInfo),
	})
	events, _ := store.ListEvents(ctx, EventQuery{})
	if len(events) != 2 || events[1].ID != "b" {
		t.Fatalf("expected oldest evicted, got %+v", events)
	}

	_ = store.SaveGroups(ctx, []models.CorrelatedAnomalyGroup{{CorrelationID: "g1"}, {CorrelationID: "g2"}})
	if _, err := store.GetGroup(ctx, "g1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected g1 evicted")
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore(0, 0)
	ctx := context.Background()
	ev := sampleEvent("a", 1, models.MetricConnections, models.SeverityInfo)
	ev.RelatedMetrics = []models.MetricType{models.MetricOpsPerSec}
	_ = store.SaveEvents(ctx, []models.AnomalyEvent{ev})

	listed, _ := store.ListEvents(ctx, EventQuery{})
	listed[0].RelatedMetrics[0] = models.MetricMemoryUsed

	again, _ := store.ListEvents(ctx, EventQuery{})
	if again[0].RelatedMetrics[0] != models.MetricOpsPerSec {
		t.Fatalf("store exposed internal slice")
	}
}

func TestNewSQLStoreRejectsDriver(t *testing.T) {
	if _, err := NewSQLStore(context.Background(), "mysql", "dsn"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestSQLStoreReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anomalies.db")
	ctx := context.Background()
	store, err := NewSQLStore(ctx, DriverSQLite, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.SaveEvents(ctx, []models.AnomalyEvent{sampleEvent("a", 1, models.MetricConnections, models.SeverityInfo)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = store.Close()

	store, err = NewSQLStore(ctx, DriverSQLite, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	events, err := store.ListEvents(ctx, EventQuery{})
	if err != nil || len(events) != 1 {
		t.Fatalf("expected persisted event, got %v, %v", events, err)
	}
}
