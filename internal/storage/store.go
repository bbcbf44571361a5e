package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/betterdb/anomaly-engine/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// EventQuery filters stored anomaly events. Zero values disable a filter.
type EventQuery struct {
	Since          int64
	Until          int64
	Metric         models.MetricType
	Severity       models.Severity
	UnresolvedOnly bool
	Limit          int
}

// GroupQuery filters stored correlated groups. Zero values disable a filter.
type GroupQuery struct {
	Since    int64
	Until    int64
	Pattern  models.AnomalyPattern
	Severity models.Severity
	Limit    int
}

// Store persists anomaly events and correlated groups. Listings are ordered
// newest first.
type Store interface {
	SaveEvents(ctx context.Context, events []models.AnomalyEvent) error
	// SaveGroups records groups and stamps correlation fields onto their
	// already stored member events. Resolution fields are left untouched.
	SaveGroups(ctx context.Context, groups []models.CorrelatedAnomalyGroup) error
	// ResolveEvents marks the given events resolved at resolvedAt and returns
	// how many were open.
	ResolveEvents(ctx context.Context, ids []string, resolvedAt int64) (int, error)
	GetGroup(ctx context.Context, correlationID string) (models.CorrelatedAnomalyGroup, error)
	ListEvents(ctx context.Context, q EventQuery) ([]models.AnomalyEvent, error)
	ListGroups(ctx context.Context, q GroupQuery) ([]models.CorrelatedAnomalyGroup, error)
	Summary(ctx context.Context, since int64) (models.Summary, error)
	// Prune drops events and groups older than before and returns the number
	// of events removed.
	Prune(ctx context.Context, before int64) (int, error)
	Close() error
}

func normaliseLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func (q EventQuery) matches(ev models.AnomalyEvent) bool {
	if q.Since > 0 && ev.Timestamp < q.Since {
		return false
	}
	if q.Until > 0 && ev.Timestamp > q.Until {
		return false
	}
	if q.Metric != "" && ev.MetricType != q.Metric {
		return false
	}
	if q.Severity != "" && ev.Severity != q.Severity {
		return false
	}
	if q.UnresolvedOnly && ev.Resolved {
		return false
	}
	return true
}

func (q GroupQuery) matches(g models.CorrelatedAnomalyGroup) bool {
	if q.Since > 0 && g.Timestamp < q.Since {
		return false
	}
	if q.Until > 0 && g.Timestamp > q.Until {
		return false
	}
	if q.Pattern != "" && g.Pattern != q.Pattern {
		return false
	}
	if q.Severity != "" && g.Severity != q.Severity {
		return false
	}
	return true
}

func newSummary() models.Summary {
	return models.Summary{
		BySeverity: make(map[models.Severity]int),
		ByMetric:   make(map[models.MetricType]int),
		ByPattern:  make(map[models.AnomalyPattern]int),
	}
}

func addToSummary(s *models.Summary, ev models.AnomalyEvent) {
	s.TotalEvents++
	if !ev.Resolved {
		s.UnresolvedCount++
	}
	s.BySeverity[ev.Severity]++
	s.ByMetric[ev.MetricType]++
}

func sortEventsNewestFirst(events []models.AnomalyEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp > events[j].Timestamp
	})
}

func resolve(ev *models.AnomalyEvent, resolvedAt int64) {
	duration := resolvedAt - ev.Timestamp
	if duration < 0 {
		duration = 0
	}
	ev.Resolved = true
	ev.ResolvedAt = &resolvedAt
	ev.DurationMs = &duration
}
