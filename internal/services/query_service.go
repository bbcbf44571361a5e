package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/betterdb/anomaly-engine/internal/api"
	"github.com/betterdb/anomaly-engine/internal/models"
	"github.com/betterdb/anomaly-engine/internal/storage"
)

// ErrNotConfigured is returned when a query needs a dependency that was not
// wired.
var ErrNotConfigured = errors.New("store not configured")

// EventReader is the read side of storage.Store.
type EventReader interface {
	ListEvents(ctx context.Context, q storage.EventQuery) ([]models.AnomalyEvent, error)
	ListGroups(ctx context.Context, q storage.GroupQuery) ([]models.CorrelatedAnomalyGroup, error)
	GetGroup(ctx context.Context, correlationID string) (models.CorrelatedAnomalyGroup, error)
	Summary(ctx context.Context, since int64) (models.Summary, error)
}

// MonitorView exposes the monitor's per-metric buffer snapshots and tick
// latency.
type MonitorView interface {
	BufferStats() map[models.MetricType]models.BufferStats
	TickStats() models.TickStats
}

var _ api.Querier = (*QueryService)(nil)

// QueryService answers read queries for both transports.
type QueryService struct {
	logger  *slog.Logger
	store   EventReader
	monitor MonitorView
}

// NewQueryService constructs the query facade.
func NewQueryService(logger *slog.Logger, store EventReader, monitor MonitorView) *QueryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{logger: logger, store: store, monitor: monitor}
}

func (s *QueryService) Events(ctx context.Context, q storage.EventQuery) ([]models.AnomalyEvent, error) {
	if s.store == nil {
		return nil, ErrNotConfigured
	}
	return s.store.ListEvents(ctx, q)
}

func (s *QueryService) Groups(ctx context.Context, q storage.GroupQuery) ([]models.CorrelatedAnomalyGroup, error) {
	if s.store == nil {
		return nil, ErrNotConfigured
	}
	return s.store.ListGroups(ctx, q)
}

func (s *QueryService) Group(ctx context.Context, correlationID string) (models.CorrelatedAnomalyGroup, error) {
	if s.store == nil {
		return models.CorrelatedAnomalyGroup{}, ErrNotConfigured
	}
	return s.store.GetGroup(ctx, correlationID)
}

func (s *QueryService) Summary(ctx context.Context, since int64) (models.Summary, error) {
	if s.store == nil {
		return models.Summary{}, ErrNotConfigured
	}
	return s.store.Summary(ctx, since)
}

// Buffers returns buffer snapshots in metric order. Metrics without a buffer
// are omitted.
func (s *QueryService) Buffers() []models.BufferStats {
	out := make([]models.BufferStats, 0, len(models.AllMetricTypes()))
	if s.monitor == nil {
		return out
	}
	stats := s.monitor.BufferStats()
	for _, metric := range models.AllMetricTypes() {
		if st, ok := stats[metric]; ok {
			out = append(out, st)
		}
	}
	return out
}

// Ticks returns recent tick latency, or zero stats without a monitor.
func (s *QueryService) Ticks() models.TickStats {
	if s.monitor == nil {
		return models.TickStats{}
	}
	return s.monitor.TickStats()
}
