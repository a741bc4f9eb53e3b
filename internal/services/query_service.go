// Package services exposes the read-only query surface over the in-memory
// correlation and SLA state. Queries never touch the repository: in-memory
// state is authoritative even when durability lags.
package services

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/faultline-io/faultline/internal/alarms"
	"github.com/faultline-io/faultline/internal/engine"
	"github.com/faultline-io/faultline/internal/models"
	"github.com/faultline-io/faultline/internal/sla"
)

// QueryService is the facade the API layer reads from.
type QueryService struct {
	logger  *slog.Logger
	store   *alarms.Store
	tracker *sla.Tracker
	engine  *engine.Engine
}

// NewQueryService constructs the facade.
func NewQueryService(logger *slog.Logger, store *alarms.Store, tracker *sla.Tracker, eng *engine.Engine) *QueryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{
		logger:  logger,
		store:   store,
		tracker: tracker,
		engine:  eng,
	}
}

// ActiveAlarms returns open alarms ordered by first occurrence.
func (s *QueryService) ActiveAlarms() []models.Alarm {
	out := s.store.OpenAlarms()
	slices.SortFunc(out, func(a, b models.Alarm) int {
		if c := a.FirstOccurrence.Compare(b.FirstOccurrence); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// OpenGroups returns open correlation groups ordered by opening time.
func (s *QueryService) OpenGroups() []models.CorrelationGroup {
	out := s.store.OpenGroups()
	slices.SortFunc(out, func(a, b models.CorrelationGroup) int {
		if c := a.OpenedAt.Compare(b.OpenedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// ComplianceSnapshots returns per-instance SLA standing.
func (s *QueryService) ComplianceSnapshots() []models.ComplianceSnapshot {
	if s.tracker == nil {
		return nil
	}
	out := s.tracker.Snapshots()
	slices.SortFunc(out, func(a, b models.ComplianceSnapshot) int {
		return strings.Compare(a.InstanceID, b.InstanceID)
	})
	return out
}

// EngineStats reports ingest counters and latency percentiles.
func (s *QueryService) EngineStats() models.EngineStats {
	if s.engine == nil {
		return models.EngineStats{}
	}
	return s.engine.Stats()
}
