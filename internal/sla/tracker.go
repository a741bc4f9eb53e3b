// Package sla maintains per-instance availability accumulators from alarm
// lifecycle transitions and evaluates them against SLA definitions, recording
// breaches the instant a target is crossed.
package sla

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/faultline-io/faultline/internal/maintenance"
	"github.com/faultline-io/faultline/internal/models"
	"github.com/faultline-io/faultline/internal/repo"
)

const defaultTickInterval = 30 * time.Second

// InstanceResolver maps a resource to its monitored SLA instance, when one
// exists. Alarms on unmonitored resources are ignored by the tracker.
type InstanceResolver func(models.ResourceRef) (*models.SLAInstance, bool)

// MaintenanceFilter answers planned-maintenance lookups for one resource.
type MaintenanceFilter interface {
	ActiveAt(ref models.ResourceRef, t time.Time) maintenance.Status
}

// openInterval is a downtime interval started by an alarm opening and not yet
// closed. planned is fixed at open time by the maintenance filter.
type openInterval struct {
	instanceID string
	start      time.Time
	planned    bool
}

// Tracker consumes the alarm transition stream and owns SLAInstance
// accumulators. Downtime intervals open on alarm open and close into the
// planned or unplanned bucket on clear/resolve; accumulators never decrease
// within a period, and rollover opens a fresh contiguous period.
type Tracker struct {
	logger      *slog.Logger
	resolver    InstanceResolver
	maint       MaintenanceFilter
	detector    *Detector
	repo        repo.Repository
	transitions <-chan models.Transition
	tick        time.Duration

	mu        sync.Mutex
	instances map[string]*models.SLAInstance
	intervals map[string]*openInterval
}

// NewTracker wires the tracker over its collaborators. tick <= 0 selects the
// default evaluation cadence.
func NewTracker(logger *slog.Logger, resolver InstanceResolver, maint MaintenanceFilter, detector *Detector, repository repo.Repository, transitions <-chan models.Transition, tick time.Duration) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if repository == nil {
		repository = repo.NopRepository{}
	}
	if tick <= 0 {
		tick = defaultTickInterval
	}
	return &Tracker{
		logger:      logger,
		resolver:    resolver,
		maint:       maint,
		detector:    detector,
		repo:        repository,
		transitions: transitions,
		tick:        tick,
		instances:   make(map[string]*models.SLAInstance),
		intervals:   make(map[string]*openInterval),
	}
}

// Run consumes transitions and fires the periodic evaluation timer until ctx
// is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case tr, ok := <-t.transitions:
			if !ok {
				return nil
			}
			t.Apply(tr)
		case now := <-ticker.C:
			t.EvaluateAll(now)
		}
	}
}

// Apply folds one alarm lifecycle transition into the accumulators.
func (t *Tracker) Apply(tr models.Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	instance := t.instanceFor(tr.Alarm.Resource)
	if instance == nil {
		return
	}

	switch {
	case tr.To.Open():
		if _, tracked := t.intervals[tr.AlarmID]; !tracked {
			start := tr.Alarm.FirstOccurrence
			planned := t.maint.ActiveAt(tr.Alarm.Resource, start).Active
			t.intervals[tr.AlarmID] = &openInterval{
				instanceID: instance.ID,
				start:      start,
				planned:    planned,
			}
		}
		if tr.To == models.StatusAcknowledged {
			if t.detector.CheckResponse(*instance, tr.Alarm, tr.At) {
				instance.BreachCount++
			}
		}
		t.evaluateLocked(instance, tr.At)

	case tr.To == models.StatusCleared || tr.To == models.StatusResolved:
		if interval, tracked := t.intervals[tr.AlarmID]; tracked {
			// Close before removing so rollover still sees the interval and
			// flushes its pre-boundary portion into the finished period.
			t.closeInterval(instance, interval, tr.At)
			delete(t.intervals, tr.AlarmID)
			t.persist(instance)
		}
		if t.detector.CheckResolution(*instance, tr.Alarm, tr.At) {
			instance.BreachCount++
		}
		t.evaluateLocked(instance, tr.At)
	}
}

// EvaluateAll rolls periods forward and re-evaluates every instance,
// counting in-progress unplanned downtime so an ongoing outage breaches
// before its interval closes.
func (t *Tracker) EvaluateAll(asOf time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, instance := range t.instances {
		t.evaluateLocked(instance, asOf)
	}
}

// RegisterInstance adopts an instance into the tracker, seeding its first
// period when unset. Used at boot for statically configured instances.
func (t *Tracker) RegisterInstance(instance models.SLAInstance) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.adopt(&instance)
}

// Snapshots reports per-instance compliance for the query surface.
func (t *Tracker) Snapshots() []models.ComplianceSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.ComplianceSnapshot, 0, len(t.instances))
	for _, instance := range t.instances {
		out = append(out, models.ComplianceSnapshot{
			InstanceID:        instance.ID,
			CustomerID:        instance.CustomerID,
			ServiceID:         instance.ServiceID,
			PeriodStart:       instance.PeriodStart,
			PeriodEnd:         instance.PeriodEnd,
			Availability:      instance.Availability(),
			Target:            instance.Definition.AvailabilityTarget,
			PlannedDowntime:   instance.PlannedDowntime,
			UnplannedDowntime: instance.UnplannedDowntime,
			OpenBreaches:      t.detector.OpenBreaches(instance.ID),
		})
	}
	return out
}

func (t *Tracker) instanceFor(ref models.ResourceRef) *models.SLAInstance {
	if t.resolver == nil {
		return nil
	}
	resolved, ok := t.resolver(ref)
	if !ok || resolved == nil {
		return nil
	}
	if existing, known := t.instances[resolved.ID]; known {
		return existing
	}
	return t.adopt(resolved)
}

func (t *Tracker) adopt(instance *models.SLAInstance) *models.SLAInstance {
	if existing, known := t.instances[instance.ID]; known {
		return existing
	}
	adopted := *instance
	if adopted.PeriodStart.IsZero() {
		adopted.PeriodStart = time.Now().UTC()
	}
	if adopted.PeriodEnd.IsZero() {
		adopted.PeriodEnd = adopted.PeriodStart.Add(adopted.Definition.PeriodLength)
	}
	t.instances[adopted.ID] = &adopted
	return &adopted
}

// closeInterval attributes a finished downtime interval to the instance's
// buckets, splitting across period boundaries.
func (t *Tracker) closeInterval(instance *models.SLAInstance, interval *openInterval, end time.Time) {
	t.rollForward(instance, end)
	start := interval.start
	if start.Before(instance.PeriodStart) {
		start = instance.PeriodStart
	}
	if end.After(start) {
		t.accumulate(instance, end.Sub(start), interval.planned)
	}
}

// rollForward advances the instance's period until it contains asOf. Open
// intervals are flushed at each boundary and restarted in the new period, so
// a multi-period outage is accounted to every period it spans.
func (t *Tracker) rollForward(instance *models.SLAInstance, asOf time.Time) {
	for !asOf.Before(instance.PeriodEnd) {
		boundary := instance.PeriodEnd
		for _, interval := range t.intervals {
			if interval.instanceID != instance.ID {
				continue
			}
			start := interval.start
			if start.Before(instance.PeriodStart) {
				start = instance.PeriodStart
			}
			if boundary.After(start) {
				t.accumulate(instance, boundary.Sub(start), interval.planned)
				interval.start = boundary
			}
		}
		t.persist(instance)

		instance.PeriodStart = boundary
		instance.PeriodEnd = boundary.Add(instance.Definition.PeriodLength)
		instance.PlannedDowntime = 0
		instance.UnplannedDowntime = 0
		instance.BreachCount = 0
	}
}

func (t *Tracker) accumulate(instance *models.SLAInstance, d time.Duration, planned bool) {
	if planned {
		instance.PlannedDowntime += d
		return
	}
	instance.UnplannedDowntime += d
}

// evaluateLocked runs the breach detector with in-progress unplanned
// downtime folded in. Caller holds t.mu.
func (t *Tracker) evaluateLocked(instance *models.SLAInstance, asOf time.Time) {
	t.rollForward(instance, asOf)

	var inProgress time.Duration
	for _, interval := range t.intervals {
		if interval.instanceID != instance.ID || interval.planned {
			continue
		}
		start := interval.start
		if start.Before(instance.PeriodStart) {
			start = instance.PeriodStart
		}
		if asOf.After(start) {
			inProgress += asOf.Sub(start)
		}
	}

	if t.detector.EvaluateAvailability(*instance, inProgress, asOf) {
		instance.BreachCount++
	}
}

func (t *Tracker) persist(instance *models.SLAInstance) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.repo.SaveInstance(ctx, *instance); err != nil {
		t.logger.Warn("sla instance save failed, in-memory state authoritative",
			slog.String("instance_id", instance.ID), slog.Any("error", err))
	}
}
