// Package engine ingests normalized fault events and turns them into
// correlated alarms: identity resolution, flapping suppression, rule-driven
// grouping, and root-cause arbitration. Events are partitioned by resource
// key onto shard workers so the hot path never contends on a lock.
package engine

import (
	"log/slog"
	"time"

	"github.com/faultline-io/faultline/internal/maintenance"
	"github.com/faultline-io/faultline/internal/metrics"
	"github.com/faultline-io/faultline/internal/models"
	"github.com/faultline-io/faultline/internal/rules"
)

// MaintenanceFilter answers planned-maintenance lookups for one resource.
type MaintenanceFilter interface {
	ActiveAt(ref models.ResourceRef, t time.Time) maintenance.Status
}

// RuleProvider serves the immutable rule snapshot for an evaluation cycle.
type RuleProvider interface {
	Snapshot() *rules.Set
}

// process runs the per-event correlation algorithm inside the shard worker
// that owns the event's resource key.
func (e *Engine) process(sh *shard, ev models.Event) {
	start := time.Now()
	set := e.ruleProvider.Snapshot()
	key := ev.Key()

	// A cleared event closes this identity key only; children in the same
	// group clear independently. The occurrence window survives the clear
	// so rapid open/clear cycling still counts toward suppression.
	if ev.Severity == models.SeverityCleared {
		if _, ok := e.store.Clear(key, ev.Timestamp); ok {
			sh.pruneFlap(key, ev.Timestamp, set.Flapping)
		}
		e.ingested.Add(1)
		e.observe(metrics.OutcomeIngested, start)
		return
	}

	status := e.maint.ActiveAt(ev.Resource, ev.Timestamp)
	if status.Active && status.Suppresses {
		ev.Suppressed = true
	}

	alarm, created := e.store.UpsertFromEvent(ev)

	flapping := false
	if set.Flapping != nil {
		flapping = sh.recordOccurrence(key, ev.Timestamp, set.Flapping)
		if flapping {
			if alarm.Status != models.StatusSuppressed {
				e.store.Suppress(key, ev.Timestamp)
			}
		} else if alarm.Status == models.StatusSuppressed {
			// The flapping window elapsed; the alarm may correlate again.
			if reactivated, ok := e.store.Reactivate(key, ev.Timestamp); ok {
				alarm = reactivated
			}
		}
	}

	e.ingested.Add(1)
	outcome := metrics.OutcomeIngested
	if ev.Suppressed || flapping {
		e.suppressed.Add(1)
		outcome = metrics.OutcomeSuppressed
	}

	// Suppressed events are recorded for audit but never open or join a
	// root-cause search; re-signals of an already grouped alarm are done.
	if !flapping && !ev.Suppressed && (created || alarm.GroupID == "") {
		e.correlate(sh, set, alarm, ev)
	}

	e.observe(outcome, start)
}

func (e *Engine) observe(outcome string, start time.Time) {
	d := time.Since(start)
	e.latencies.Observe(d)
	metrics.ObserveEvent(outcome, d)
}

// correlate applies grouping rules: topology first, then patterns, then a
// fresh group with this alarm as provisional root cause.
func (e *Engine) correlate(sh *shard, set *rules.Set, alarm models.Alarm, ev models.Event) {
	for _, topo := range set.Topology {
		if !topo.Child.Matches(ev.Resource) {
			continue
		}
		parent, ok := e.findOpenParent(topo, ev, set.CorrelationWindow, alarm.ID)
		if !ok {
			continue
		}
		link := linkRequest{rule: topo, childID: alarm.ID, parentID: parent.ID, at: ev.Timestamp}
		target := e.shardIndex(parent.Resource.Key())
		if target == sh.id {
			e.execLink(link)
			return
		}
		// The parent-shard worker performs the merge under its own
		// single-writer discipline.
		select {
		case e.shards[target].links <- link:
		default:
			e.logger.Warn("link queue full, topology join dropped",
				slog.String("rule", topo.ID),
				slog.String("child", alarm.ID),
				slog.String("parent", parent.ID),
			)
		}
		return
	}

	fields := alarmFields(alarm, ev.Metadata)
	for _, pattern := range set.Patterns {
		if !pattern.Matches(fields) {
			continue
		}
		group, ok := e.findMatchingGroup(pattern, ev.Timestamp, set.CorrelationWindow)
		if !ok {
			continue
		}
		if _, joined := e.store.AddToGroup(group.ID, alarm); joined {
			e.store.ProposeRoot(group.ID, alarm, false)
			return
		}
	}

	e.store.OpenGroup(alarm, ev.Timestamp)
}

// findOpenParent locates the best open alarm matching a topology rule's
// parent side within the correlation window: earliest opened wins so the
// choice is stable under replay.
func (e *Engine) findOpenParent(topo rules.Topology, ev models.Event, window time.Duration, selfID string) (models.Alarm, bool) {
	var best models.Alarm
	found := false
	for _, candidate := range e.store.OpenAlarms() {
		if candidate.ID == selfID || candidate.Status == models.StatusSuppressed {
			continue
		}
		if !topo.Parent.Matches(candidate.Resource) {
			continue
		}
		if absDuration(ev.Timestamp.Sub(candidate.LastOccurrence)) > window {
			continue
		}
		if !found || candidate.FirstOccurrence.Before(best.FirstOccurrence) {
			best = candidate
			found = true
		}
	}
	return best, found
}

// findMatchingGroup returns an open group whose representative (root-cause)
// alarm matches the pattern and whose opening falls within the window.
func (e *Engine) findMatchingGroup(pattern rules.Pattern, at time.Time, window time.Duration) (models.CorrelationGroup, bool) {
	for _, group := range e.store.OpenGroups() {
		if absDuration(at.Sub(group.OpenedAt)) > window {
			continue
		}
		representative, ok := e.store.GetByID(group.RootCauseID)
		if !ok {
			continue
		}
		if pattern.Matches(alarmFields(representative, nil)) {
			return group, true
		}
	}
	return models.CorrelationGroup{}, false
}

// execLink joins a child alarm into the parent alarm's group, merging the
// child's own group when it already opened one.
func (e *Engine) execLink(link linkRequest) {
	parent, ok := e.store.GetByID(link.parentID)
	if !ok || parent.Status == models.StatusSuppressed {
		return
	}
	child, ok := e.store.GetByID(link.childID)
	if !ok {
		return
	}

	groupID := parent.GroupID
	if groupID == "" {
		groupID = e.store.OpenGroup(parent, link.at).ID
	}
	switch {
	case child.GroupID == "":
		e.store.AddToGroup(groupID, child)
	case child.GroupID != groupID:
		e.store.MergeGroups(groupID, child.GroupID, link.at)
	}

	if link.rule.DesignatesRoot {
		e.store.ProposeRoot(groupID, parent, true)
		return
	}
	e.store.ProposeRoot(groupID, parent, false)
	e.store.ProposeRoot(groupID, child, false)
}

func alarmFields(alarm models.Alarm, metadata map[string]string) map[string]string {
	fields := map[string]string{
		"resource_type":  alarm.Resource.Type,
		"resource_id":    alarm.Resource.ID,
		"alarm_type":     alarm.AlarmType,
		"severity":       string(alarm.Severity),
		"source_type":    alarm.SourceType,
		"probable_cause": alarm.ProbableCause,
	}
	for k, v := range metadata {
		fields["metadata."+k] = v
	}
	return fields
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
