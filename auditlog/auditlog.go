// Package auditlog records every Jira sync operation: push, pull,
// progress, and webhook, including the ignored ones. The log is
// append-only and never mutated; consumers query it by integration and
// time range or by mapping.
package auditlog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"ironclad.dev/dpm/model"
)

// Recorder is the append-only log interface. Record must accept
// concurrent appends without reordering a single caller's sequence.
type Recorder interface {
	Record(ctx context.Context, entry *model.JiraSyncLog) error
	ListByIntegration(ctx context.Context, integrationID uuid.UUID, from, to time.Time) ([]*model.JiraSyncLog, error)
	ListByMapping(ctx context.Context, mappingID uuid.UUID) ([]*model.JiraSyncLog, error)
}

// Stats aggregates a log slice for operational dashboards.
type Stats struct {
	Total       int
	ByStatus    map[model.SyncStatus]int
	ByType      map[model.SyncType]int
	AvgDuration time.Duration
}

// Summarize computes Stats over a queried slice.
func Summarize(entries []*model.JiraSyncLog) *Stats {
	s := &Stats{
		Total:    len(entries),
		ByStatus: make(map[model.SyncStatus]int),
		ByType:   make(map[model.SyncType]int),
	}
	var total time.Duration
	for _, e := range entries {
		s.ByStatus[e.Status]++
		s.ByType[e.SyncType]++
		total += time.Duration(e.DurationMS) * time.Millisecond
	}
	if len(entries) > 0 {
		s.AvgDuration = total / time.Duration(len(entries))
	}
	return s
}

// Memory is an in-process Recorder for tests and single-node runs.
// Entries are held in insertion order.
type Memory struct {
	mu      sync.RWMutex
	entries []*model.JiraSyncLog
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(_ context.Context, entry *model.JiraSyncLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	stored := *entry
	m.entries = append(m.entries, &stored)
	return nil
}

func (m *Memory) ListByIntegration(_ context.Context, integrationID uuid.UUID, from, to time.Time) ([]*model.JiraSyncLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.JiraSyncLog
	for _, e := range m.entries {
		if e.IntegrationID != integrationID {
			continue
		}
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && e.Timestamp.After(to) {
			continue
		}
		copied := *e
		out = append(out, &copied)
	}
	return out, nil
}

func (m *Memory) ListByMapping(_ context.Context, mappingID uuid.UUID) ([]*model.JiraSyncLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.JiraSyncLog
	for _, e := range m.entries {
		if e.MappingID != nil && *e.MappingID == mappingID {
			copied := *e
			out = append(out, &copied)
		}
	}
	return out, nil
}
