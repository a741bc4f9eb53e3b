package sla

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/faultline-io/faultline/internal/metrics"
	"github.com/faultline-io/faultline/internal/models"
	"github.com/faultline-io/faultline/internal/repo"
	"github.com/faultline-io/faultline/internal/utils"
)

// Escalator receives qualifying breaches for outbound handling. Enqueue-only;
// implementations must never block the evaluation path.
type Escalator interface {
	Escalate(req models.EscalationRequest)
	Notify(req models.NotificationRequest)
}

type nopEscalator struct{}

func (nopEscalator) Escalate(models.EscalationRequest) {}
func (nopEscalator) Notify(models.NotificationRequest) {}

type breachKey struct {
	instanceID string
	breachType models.BreachType
}

// Detector evaluates instance accumulators against their definitions and
// records breaches. It keeps open/resolved state per (instance, breach type)
// so repeated evaluation ticks never duplicate a record for the same
// violation window.
type Detector struct {
	logger    *slog.Logger
	formula   CreditFormula
	repo      repo.Repository
	escalator Escalator

	mu   sync.Mutex
	open map[breachKey]models.SLABreach
	// seen blocks a second response/resolution record for the same alarm.
	seen map[string]struct{}
}

// NewDetector wires the detector over its collaborators. A nil formula
// defaults to ProratedCredit, a nil escalator drops requests.
func NewDetector(logger *slog.Logger, formula CreditFormula, repository repo.Repository, escalator Escalator) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if formula == nil {
		formula = ProratedCredit{}
	}
	if repository == nil {
		repository = repo.NopRepository{}
	}
	if escalator == nil {
		escalator = nopEscalator{}
	}
	return &Detector{
		logger:    logger,
		formula:   formula,
		repo:      repository,
		escalator: escalator,
		open:      make(map[breachKey]models.SLABreach),
		seen:      make(map[string]struct{}),
	}
}

// EvaluateAvailability checks provisional availability for an instance at
// asOf, opening a breach the instant the target is crossed and resolving it
// when availability recovers. inProgress is unplanned downtime from intervals
// still open, so an ongoing outage trips the target before it closes.
// Reports whether a new breach was recorded.
func (d *Detector) EvaluateAvailability(instance models.SLAInstance, inProgress time.Duration, asOf time.Time) bool {
	provisional := instance
	provisional.UnplannedDowntime += inProgress

	key := breachKey{instanceID: instance.ID, breachType: models.BreachAvailability}
	target := instance.Definition.AvailabilityTarget
	availability := provisional.Availability()

	d.mu.Lock()
	existing, isOpen := d.open[key]
	d.mu.Unlock()

	if availability < target {
		if isOpen {
			return false
		}
		breach := models.SLABreach{
			ID:          uuid.NewString(),
			InstanceID:  instance.ID,
			Type:        models.BreachAvailability,
			WindowStart: asOf,
			TargetValue: target,
			ActualValue: availability,
		}
		breach.FinancialImpact = d.formula.Compute(instance.Definition, provisional, breach)

		d.mu.Lock()
		d.open[key] = breach
		d.mu.Unlock()

		d.record(breach, instance)
		return true
	}

	if isOpen {
		existing.WindowEnd = asOf
		existing.Resolved = true

		d.mu.Lock()
		delete(d.open, key)
		d.mu.Unlock()

		d.save(existing)
		d.escalator.Notify(models.NotificationRequest{
			EventType: "sla_breach_resolved",
			Severity:  models.SeverityCleared,
			Message:   "availability back above target for instance " + instance.ID,
		})
	}
	return false
}

// CheckResponse records a response-time breach when acknowledgment lag
// exceeds the per-severity target. One record per alarm.
func (d *Detector) CheckResponse(instance models.SLAInstance, alarm models.Alarm, ackedAt time.Time) bool {
	target, ok := instance.Definition.ResponseTargets[alarm.Severity]
	if !ok || target <= 0 {
		return false
	}
	return d.checkHandlingTarget(instance, alarm, models.BreachResponseTime, target, ackedAt)
}

// CheckResolution records a resolution-time breach when the time to close
// exceeds the per-severity target. One record per alarm.
func (d *Detector) CheckResolution(instance models.SLAInstance, alarm models.Alarm, closedAt time.Time) bool {
	target, ok := instance.Definition.ResolutionTargets[alarm.Severity]
	if !ok || target <= 0 {
		return false
	}
	return d.checkHandlingTarget(instance, alarm, models.BreachResolutionTime, target, closedAt)
}

func (d *Detector) checkHandlingTarget(instance models.SLAInstance, alarm models.Alarm, breachType models.BreachType, target time.Duration, at time.Time) bool {
	elapsed := d.elapsed(instance.Definition, alarm.FirstOccurrence, at)
	if elapsed <= target {
		return false
	}

	dedupe := string(breachType) + "/" + alarm.ID
	d.mu.Lock()
	if _, dup := d.seen[dedupe]; dup {
		d.mu.Unlock()
		return false
	}
	d.seen[dedupe] = struct{}{}
	d.mu.Unlock()

	breach := models.SLABreach{
		ID:          uuid.NewString(),
		InstanceID:  instance.ID,
		Type:        breachType,
		WindowStart: alarm.FirstOccurrence,
		WindowEnd:   at,
		TargetValue: target.Seconds(),
		ActualValue: elapsed.Seconds(),
		Resolved:    true,
	}
	breach.FinancialImpact = d.formula.Compute(instance.Definition, instance, breach)
	d.record(breach, instance)
	return true
}

// elapsed measures handling time, restricted to business hours when the
// definition asks for it.
func (d *Detector) elapsed(def models.SLADefinition, start, end time.Time) time.Duration {
	if def.BusinessHoursOnly {
		return utils.BusinessDuration(start, end, def.BusinessDayStart, def.BusinessDayEnd)
	}
	return end.Sub(start)
}

func (d *Detector) record(breach models.SLABreach, instance models.SLAInstance) {
	metrics.ObserveBreach(string(breach.Type))
	d.logger.Warn("sla breach recorded",
		slog.String("breach_id", breach.ID),
		slog.String("instance_id", breach.InstanceID),
		slog.String("type", string(breach.Type)),
		slog.Float64("target", breach.TargetValue),
		slog.Float64("actual", breach.ActualValue),
		slog.Float64("financial_impact", breach.FinancialImpact),
	)
	d.save(breach)

	d.escalator.Escalate(models.EscalationRequest{
		BreachID:            breach.ID,
		Severity:            models.SeverityCritical,
		CustomerImpactCount: 1,
		SuggestedPriority:   1,
	})
	d.escalator.Notify(models.NotificationRequest{
		EventType: "sla_breach",
		Severity:  models.SeverityCritical,
		Message:   "sla " + string(breach.Type) + " breach for instance " + instance.ID,
	})
}

func (d *Detector) save(breach models.SLABreach) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.repo.SaveBreach(ctx, breach); err != nil {
		d.logger.Warn("breach save failed, record kept in memory", slog.String("breach_id", breach.ID), slog.Any("error", err))
	}
}

// OpenBreaches reports how many breach windows are open for an instance.
func (d *Detector) OpenBreaches(instanceID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for key := range d.open {
		if key.instanceID == instanceID {
			n++
		}
	}
	return n
}
