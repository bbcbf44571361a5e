package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/betterdb/anomaly-engine/internal/models"
)

// MemoryStore keeps the most recent events and groups in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	maxEvents int
	maxGroups int
	events    []models.AnomalyEvent
	groups    []storedGroup
}

type storedGroup struct {
	group     models.CorrelatedAnomalyGroup
	memberIDs []string
}

// NewMemoryStore creates a store bounded to maxEvents events and maxGroups
// groups; the oldest entries are dropped first.
func NewMemoryStore(maxEvents, maxGroups int) *MemoryStore {
	if maxEvents <= 0 {
		maxEvents = 10000
	}
	if maxGroups <= 0 {
		maxGroups = 2000
	}
	return &MemoryStore{maxEvents: maxEvents, maxGroups: maxGroups}
}

func (s *MemoryStore) SaveEvents(_ context.Context, events []models.AnomalyEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		if i := s.eventIndex(ev.ID); i >= 0 {
			s.events[i] = cloneEvent(ev)
			continue
		}
		s.events = append(s.events, cloneEvent(ev))
	}
	if over := len(s.events) - s.maxEvents; over > 0 {
		copy(s.events, s.events[over:])
		s.events = s.events[:s.maxEvents]
	}
	return nil
}

func (s *MemoryStore) SaveGroups(_ context.Context, groups []models.CorrelatedAnomalyGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range groups {
		ids := make([]string, 0, len(g.Anomalies))
		for _, member := range g.Anomalies {
			ids = append(ids, member.ID)
			if i := s.eventIndex(member.ID); i >= 0 {
				s.events[i].CorrelationID = member.CorrelationID
				s.events[i].RelatedMetrics = append([]models.MetricType(nil), member.RelatedMetrics...)
			}
		}
		stored := storedGroup{group: g, memberIDs: ids}
		stored.group.Anomalies = nil
		stored.group.Recommendations = append([]string(nil), g.Recommendations...)
		s.groups = append(s.groups, stored)
	}
	if over := len(s.groups) - s.maxGroups; over > 0 {
		copy(s.groups, s.groups[over:])
		s.groups = s.groups[:s.maxGroups]
	}
	return nil
}

func (s *MemoryStore) ResolveEvents(_ context.Context, ids []string, resolvedAt int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resolved := 0
	for _, id := range ids {
		i := s.eventIndex(id)
		if i < 0 || s.events[i].Resolved {
			continue
		}
		resolve(&s.events[i], resolvedAt)
		resolved++
	}
	return resolved, nil
}

func (s *MemoryStore) GetGroup(_ context.Context, correlationID string) (models.CorrelatedAnomalyGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, g := range s.groups {
		if g.group.CorrelationID == correlationID {
			return s.hydrate(g), nil
		}
	}
	return models.CorrelatedAnomalyGroup{}, ErrNotFound
}

func (s *MemoryStore) ListEvents(_ context.Context, q EventQuery) ([]models.AnomalyEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.AnomalyEvent, 0)
	for _, ev := range s.events {
		if q.matches(ev) {
			out = append(out, cloneEvent(ev))
		}
	}
	sortEventsNewestFirst(out)
	if limit := normaliseLimit(q.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListGroups(_ context.Context, q GroupQuery) ([]models.CorrelatedAnomalyGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.CorrelatedAnomalyGroup, 0)
	for _, g := range s.groups {
		if q.matches(g.group) {
			out = append(out, s.hydrate(g))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	if limit := normaliseLimit(q.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Summary(_ context.Context, since int64) (models.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := newSummary()
	for _, ev := range s.events {
		if ev.Timestamp >= since {
			addToSummary(&summary, ev)
		}
	}
	for _, g := range s.groups {
		if g.group.Timestamp >= since {
			summary.ByPattern[g.group.Pattern]++
		}
	}
	return summary, nil
}

func (s *MemoryStore) Prune(_ context.Context, before int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keptEvents := s.events[:0]
	for _, ev := range s.events {
		if ev.Timestamp >= before {
			keptEvents = append(keptEvents, ev)
		}
	}
	removed := len(s.events) - len(keptEvents)
	s.events = keptEvents

	keptGroups := s.groups[:0]
	for _, g := range s.groups {
		if g.group.Timestamp >= before {
			keptGroups = append(keptGroups, g)
		}
	}
	s.groups = keptGroups
	return removed, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) eventIndex(id string) int {
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].ID == id {
			return i
		}
	}
	return -1
}

// hydrate rebuilds a group's members from the current event records so
// resolution state is reflected. Members already evicted are skipped.
func (s *MemoryStore) hydrate(g storedGroup) models.CorrelatedAnomalyGroup {
	out := g.group
	out.Recommendations = append([]string(nil), g.group.Recommendations...)
	out.Anomalies = make([]models.AnomalyEvent, 0, len(g.memberIDs))
	for _, id := range g.memberIDs {
		if i := s.eventIndex(id); i >= 0 {
			out.Anomalies = append(out.Anomalies, cloneEvent(s.events[i]))
		}
	}
	return out
}

func cloneEvent(ev models.AnomalyEvent) models.AnomalyEvent {
	if ev.RelatedMetrics != nil {
		ev.RelatedMetrics = append([]models.MetricType(nil), ev.RelatedMetrics...)
	}
	if ev.ResolvedAt != nil {
		v := *ev.ResolvedAt
		ev.ResolvedAt = &v
	}
	if ev.DurationMs != nil {
		v := *ev.DurationMs
		ev.DurationMs = &v
	}
	return ev
}
