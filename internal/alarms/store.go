// Package alarms holds the authoritative in-process index of live alarms
// and their correlation groups. Correlation shard workers are the only
// writers for a given resource key; the segment locks below exist for the
// benefit of readers (SLA tracker, query surface), not for writer-writer
// contention.
package alarms

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/faultline-io/faultline/internal/metrics"
	"github.com/faultline-io/faultline/internal/models"
	"github.com/faultline-io/faultline/internal/repo"
	"github.com/faultline-io/faultline/internal/utils"
)

const (
	defaultSegments     = 16
	defaultTransitions  = 1024
	defaultSaveQueue    = 4096
	defaultSaveAttempts = 5
)

type segment struct {
	mu    sync.RWMutex
	byKey map[models.AlarmKey]*models.Alarm
}

type saveOp struct {
	alarm *models.Alarm
	group *models.CorrelationGroup
}

// Store owns Alarm and CorrelationGroup lifecycles. Every mutation is
// forwarded to the repository through a bounded write-behind queue;
// in-memory state stays authoritative when persistence lags or fails.
type Store struct {
	logger       *slog.Logger
	repository   repo.Repository
	saveAttempts int

	transitions chan models.Transition
	saves       chan saveOp

	segments []*segment

	idMu sync.RWMutex
	byID map[string]models.AlarmKey

	groupMu sync.RWMutex
	groups  map[string]*models.CorrelationGroup
}

// NewStore constructs the alarm state store. A nil repository disables
// write-behind persistence.
func NewStore(logger *slog.Logger, repository repo.Repository) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if repository == nil {
		repository = repo.NopRepository{}
	}
	segments := make([]*segment, defaultSegments)
	for i := range segments {
		segments[i] = &segment{byKey: make(map[models.AlarmKey]*models.Alarm)}
	}
	return &Store{
		logger:       logger,
		repository:   repository,
		saveAttempts: defaultSaveAttempts,
		transitions:  make(chan models.Transition, defaultTransitions),
		saves:        make(chan saveOp, defaultSaveQueue),
		segments:     segments,
		byID:         make(map[string]models.AlarmKey),
		groups:       make(map[string]*models.CorrelationGroup),
	}
}

// Transitions exposes the alarm lifecycle stream consumed by the SLA tracker.
func (s *Store) Transitions() <-chan models.Transition {
	return s.transitions
}

// Run drains the write-behind queue until ctx is cancelled. Each write is
// retried with exponential backoff; exhaustion degrades to a durability
// warning, never to data loss of the in-memory state.
func (s *Store) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case op := <-s.saves:
			s.persist(ctx, op)
		}
	}
}

func (s *Store) persist(ctx context.Context, op saveOp) {
	operation := func() error {
		if op.alarm != nil {
			return s.repository.SaveAlarm(ctx, *op.alarm)
		}
		return s.repository.SaveGroup(ctx, *op.group)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.saveAttempts)), ctx)
	notify := func(error, time.Duration) { metrics.ObserveRepositoryRetry() }
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		wrapped := utils.NewRepositoryError("alarms.persist", "write-behind exhausted retries, durability degraded", err)
		s.logger.Warn("repository write failed", slog.Any("error", wrapped))
	}
}

func (s *Store) segmentFor(key models.AlarmKey) *segment {
	h := fnv.New32a()
	h.Write([]byte(key.Resource().Key()))
	return s.segments[int(h.Sum32()%uint32(len(s.segments)))]
}

func (s *Store) publish(tr models.Transition) {
	if !tr.From.Open() && tr.To.Open() {
		metrics.AlarmOpened()
	} else if tr.From.Open() && !tr.To.Open() {
		metrics.AlarmClosed()
	}
	// Blocking send: backpressure is preferable to silently losing a
	// lifecycle transition the SLA tracker depends on.
	s.transitions <- tr
}

func (s *Store) enqueueSave(op saveOp) {
	select {
	case s.saves <- op:
	default:
		s.logger.Warn("write-behind queue full, dropping save; in-memory state remains authoritative")
	}
}

// UpsertFromEvent performs identity resolution for a normalized event: a
// repeat occurrence increments the open alarm, a first occurrence creates
// one. Returns the post-mutation alarm and whether it was created.
func (s *Store) UpsertFromEvent(event models.Event) (models.Alarm, bool) {
	key := event.Key()
	seg := s.segmentFor(key)

	seg.mu.Lock()
	if existing, ok := seg.byKey[key]; ok {
		existing.OccurrenceCount++
		if event.Timestamp.After(existing.LastOccurrence) {
			existing.LastOccurrence = event.Timestamp
		}
		if event.Severity != models.SeverityCleared {
			existing.Severity = event.Severity
		}
		alarm := *existing
		seg.mu.Unlock()
		s.enqueueSave(saveOp{alarm: &alarm})
		return alarm, false
	}

	alarm := &models.Alarm{
		ID:              uuid.NewString(),
		Resource:        event.Resource,
		AlarmType:       event.AlarmType,
		Severity:        event.Severity,
		Status:          models.StatusActive,
		SourceType:      event.SourceType,
		ProbableCause:   event.Metadata["probable_cause"],
		FirstOccurrence: event.Timestamp,
		LastOccurrence:  event.Timestamp,
		OccurrenceCount: 1,
	}
	seg.byKey[key] = alarm
	copied := *alarm
	seg.mu.Unlock()

	s.idMu.Lock()
	s.byID[copied.ID] = key
	s.idMu.Unlock()

	s.publish(models.Transition{AlarmID: copied.ID, From: "", To: models.StatusActive, Alarm: copied, At: event.Timestamp})
	s.enqueueSave(saveOp{alarm: &copied})
	return copied, true
}

// GetOpenByKey returns the open alarm for an identity key, if any.
func (s *Store) GetOpenByKey(key models.AlarmKey) (models.Alarm, bool) {
	seg := s.segmentFor(key)
	seg.mu.RLock()
	defer seg.mu.RUnlock()
	if alarm, ok := seg.byKey[key]; ok {
		return *alarm, true
	}
	return models.Alarm{}, false
}

// GetByID returns any open alarm by id.
func (s *Store) GetByID(id string) (models.Alarm, bool) {
	s.idMu.RLock()
	key, ok := s.byID[id]
	s.idMu.RUnlock()
	if !ok {
		return models.Alarm{}, false
	}
	return s.GetOpenByKey(key)
}

func (s *Store) setStatus(key models.AlarmKey, status models.AlarmStatus, at time.Time) (models.Alarm, models.AlarmStatus, bool) {
	seg := s.segmentFor(key)
	seg.mu.Lock()
	alarm, ok := seg.byKey[key]
	if !ok || alarm.Status == status {
		seg.mu.Unlock()
		return models.Alarm{}, "", false
	}
	from := alarm.Status
	alarm.Status = status
	switch status {
	case models.StatusAcknowledged:
		alarm.AcknowledgedAt = at
	case models.StatusCleared, models.StatusResolved:
		alarm.ClearedAt = at
	}
	copied := *alarm
	if !status.Open() {
		delete(seg.byKey, key)
	}
	seg.mu.Unlock()

	if !status.Open() {
		s.idMu.Lock()
		delete(s.byID, copied.ID)
		s.idMu.Unlock()
	}
	return copied, from, true
}

func (s *Store) transition(key models.AlarmKey, status models.AlarmStatus, at time.Time) (models.Alarm, bool) {
	copied, from, ok := s.setStatus(key, status, at)
	if !ok {
		return models.Alarm{}, false
	}
	s.publish(models.Transition{AlarmID: copied.ID, From: from, To: status, Alarm: copied, At: at})
	s.enqueueSave(saveOp{alarm: &copied})
	if !status.Open() && copied.GroupID != "" {
		s.maybeCloseGroup(copied.GroupID, at)
	}
	return copied, true
}

// Suppress marks the open alarm for a key as suppressed (flapping).
func (s *Store) Suppress(key models.AlarmKey, at time.Time) (models.Alarm, bool) {
	return s.transition(key, models.StatusSuppressed, at)
}

// Reactivate returns a suppressed alarm to active once its window elapsed.
func (s *Store) Reactivate(key models.AlarmKey, at time.Time) (models.Alarm, bool) {
	return s.transition(key, models.StatusActive, at)
}

// Clear closes the open alarm for a key in response to a cleared event.
// Child alarms in the same group are untouched: each identity key clears
// independently.
func (s *Store) Clear(key models.AlarmKey, at time.Time) (models.Alarm, bool) {
	return s.transition(key, models.StatusCleared, at)
}

// Acknowledge records operator acknowledgment for response-time tracking.
func (s *Store) Acknowledge(id string, at time.Time) (models.Alarm, error) {
	s.idMu.RLock()
	key, ok := s.byID[id]
	s.idMu.RUnlock()
	if !ok {
		return models.Alarm{}, fmt.Errorf("alarm %s not open", id)
	}
	alarm, changed := s.transition(key, models.StatusAcknowledged, at)
	if !changed {
		return models.Alarm{}, fmt.Errorf("alarm %s already acknowledged", id)
	}
	return alarm, nil
}

// Resolve terminates an alarm by id.
func (s *Store) Resolve(id string, at time.Time) (models.Alarm, error) {
	s.idMu.RLock()
	key, ok := s.byID[id]
	s.idMu.RUnlock()
	if !ok {
		return models.Alarm{}, fmt.Errorf("alarm %s not open", id)
	}
	alarm, changed := s.transition(key, models.StatusResolved, at)
	if !changed {
		return models.Alarm{}, fmt.Errorf("alarm %s not open", id)
	}
	return alarm, nil
}

// SetTicketRef records the ticket reference returned by the ticketing
// collaborator. A terminal alarm is left as persisted.
func (s *Store) SetTicketRef(id, ref string) {
	s.idMu.RLock()
	key, ok := s.byID[id]
	s.idMu.RUnlock()
	if !ok {
		s.logger.Debug("ticket ref for closed alarm dropped", slog.String("alarm_id", id), slog.String("ticket", ref))
		return
	}
	seg := s.segmentFor(key)
	seg.mu.Lock()
	alarm, ok := seg.byKey[key]
	if ok {
		alarm.TicketRef = ref
		copied := *alarm
		seg.mu.Unlock()
		s.enqueueSave(saveOp{alarm: &copied})
		return
	}
	seg.mu.Unlock()
}

// OpenGroup creates a correlation group with the alarm as provisional root.
func (s *Store) OpenGroup(alarm models.Alarm, at time.Time) models.CorrelationGroup {
	group := &models.CorrelationGroup{
		ID:          uuid.NewString(),
		RootCauseID: alarm.ID,
		MemberIDs:   []string{alarm.ID},
		OpenedAt:    at,
	}
	s.groupMu.Lock()
	s.groups[group.ID] = group
	copied := cloneGroup(group)
	s.groupMu.Unlock()
	metrics.GroupOpened()

	s.setGroupFields(alarm.Key(), group.ID, true)
	s.enqueueSave(saveOp{group: &copied})
	return copied
}

// AddToGroup appends an alarm to an open group. Membership is append-only.
func (s *Store) AddToGroup(groupID string, alarm models.Alarm) (models.CorrelationGroup, bool) {
	s.groupMu.Lock()
	group, ok := s.groups[groupID]
	if !ok || !group.Open() {
		s.groupMu.Unlock()
		return models.CorrelationGroup{}, false
	}
	if !group.HasMember(alarm.ID) {
		group.MemberIDs = append(group.MemberIDs, alarm.ID)
	}
	copied := cloneGroup(group)
	s.groupMu.Unlock()

	s.setGroupFields(alarm.Key(), groupID, false)
	s.enqueueSave(saveOp{group: &copied})
	return copied, true
}

// ProposeRoot offers a candidate root cause for a group. An explicit
// topology designation always wins; otherwise the earliest-opened alarm
// keeps the designation. The at-most-one-root invariant is enforced here.
func (s *Store) ProposeRoot(groupID string, candidate models.Alarm, designated bool) {
	s.groupMu.Lock()
	group, ok := s.groups[groupID]
	if !ok {
		s.groupMu.Unlock()
		return
	}
	if group.RootCauseID == candidate.ID {
		if designated && !group.RootDesignated {
			group.RootDesignated = true
			copied := cloneGroup(group)
			s.groupMu.Unlock()
			s.enqueueSave(saveOp{group: &copied})
			return
		}
		s.groupMu.Unlock()
		return
	}
	if !designated {
		if group.RootDesignated {
			s.groupMu.Unlock()
			return
		}
		if current, ok := s.alarmByIDLocked(group.RootCauseID); ok && !candidate.FirstOccurrence.Before(current.FirstOccurrence) {
			s.groupMu.Unlock()
			return
		}
	}

	previous := group.RootCauseID
	group.RootCauseID = candidate.ID
	group.RootDesignated = designated
	copied := cloneGroup(group)
	s.groupMu.Unlock()

	if previous != "" {
		s.setRootFlag(previous, false)
	}
	s.setRootFlag(candidate.ID, true)
	s.enqueueSave(saveOp{group: &copied})
}

// MergeGroups folds the source group's members into the target group and
// closes the source. Root-cause arbitration is the caller's concern.
func (s *Store) MergeGroups(targetID, sourceID string, at time.Time) {
	if targetID == sourceID {
		return
	}
	s.groupMu.Lock()
	target, okTarget := s.groups[targetID]
	source, okSource := s.groups[sourceID]
	if !okTarget || !okSource || !target.Open() || !source.Open() {
		s.groupMu.Unlock()
		return
	}
	moved := append([]string(nil), source.MemberIDs...)
	sourceRoot := source.RootCauseID
	for _, memberID := range moved {
		if !target.HasMember(memberID) {
			target.MemberIDs = append(target.MemberIDs, memberID)
		}
	}
	source.ClosedAt = at
	copiedTarget := cloneGroup(target)
	copiedSource := cloneGroup(source)
	s.groupMu.Unlock()
	metrics.GroupClosed()

	if sourceRoot != "" {
		s.setRootFlag(sourceRoot, false)
	}
	for _, memberID := range moved {
		s.idMu.RLock()
		key, ok := s.byID[memberID]
		s.idMu.RUnlock()
		if ok {
			s.setGroupFields(key, targetID, false)
		}
	}
	s.enqueueSave(saveOp{group: &copiedTarget})
	s.enqueueSave(saveOp{group: &copiedSource})
}

// alarmByIDLocked is a read helper safe to call while holding groupMu:
// lock order is groupMu, then idMu, then a segment lock.
func (s *Store) alarmByIDLocked(id string) (models.Alarm, bool) {
	s.idMu.RLock()
	key, ok := s.byID[id]
	s.idMu.RUnlock()
	if !ok {
		return models.Alarm{}, false
	}
	return s.GetOpenByKey(key)
}

// GroupByID returns a copy of the group, if it exists.
func (s *Store) GroupByID(id string) (models.CorrelationGroup, bool) {
	s.groupMu.RLock()
	defer s.groupMu.RUnlock()
	if group, ok := s.groups[id]; ok {
		return cloneGroup(group), true
	}
	return models.CorrelationGroup{}, false
}

// OpenAlarms returns a copy of every live alarm.
func (s *Store) OpenAlarms() []models.Alarm {
	out := make([]models.Alarm, 0, 64)
	for _, seg := range s.segments {
		seg.mu.RLock()
		for _, alarm := range seg.byKey {
			out = append(out, *alarm)
		}
		seg.mu.RUnlock()
	}
	return out
}

// OpenGroups returns a copy of every group still accepting members.
func (s *Store) OpenGroups() []models.CorrelationGroup {
	s.groupMu.RLock()
	defer s.groupMu.RUnlock()
	out := make([]models.CorrelationGroup, 0, len(s.groups))
	for _, group := range s.groups {
		if group.Open() {
			out = append(out, cloneGroup(group))
		}
	}
	return out
}

// Rehydrate seeds the store from repository state at boot and returns the
// synthesized open transitions so the caller can replay them into the SLA
// tracker. They are returned rather than published: at boot no consumer is
// draining the transition channel yet, and a blocking publish would wedge
// startup once the channel fills.
func (s *Store) Rehydrate(alarmList []models.Alarm) []models.Transition {
	var transitions []models.Transition
	for _, alarm := range alarmList {
		if !alarm.Status.Open() {
			continue
		}
		stored := alarm
		key := alarm.Key()
		seg := s.segmentFor(key)
		seg.mu.Lock()
		seg.byKey[key] = &stored
		seg.mu.Unlock()

		s.idMu.Lock()
		s.byID[alarm.ID] = key
		s.idMu.Unlock()

		if alarm.GroupID != "" {
			s.groupMu.Lock()
			group, ok := s.groups[alarm.GroupID]
			if !ok {
				group = &models.CorrelationGroup{ID: alarm.GroupID, OpenedAt: alarm.FirstOccurrence}
				s.groups[alarm.GroupID] = group
			}
			if !group.HasMember(alarm.ID) {
				group.MemberIDs = append(group.MemberIDs, alarm.ID)
			}
			if alarm.IsRootCause {
				group.RootCauseID = alarm.ID
			}
			s.groupMu.Unlock()
		}

		metrics.AlarmOpened()
		transitions = append(transitions, models.Transition{AlarmID: alarm.ID, From: "", To: alarm.Status, Alarm: alarm, At: alarm.FirstOccurrence})
	}
	return transitions
}

func (s *Store) setGroupFields(key models.AlarmKey, groupID string, isRoot bool) {
	seg := s.segmentFor(key)
	seg.mu.Lock()
	if alarm, ok := seg.byKey[key]; ok {
		alarm.GroupID = groupID
		alarm.IsRootCause = isRoot
		copied := *alarm
		seg.mu.Unlock()
		s.enqueueSave(saveOp{alarm: &copied})
		return
	}
	seg.mu.Unlock()
}

func (s *Store) setRootFlag(alarmID string, isRoot bool) {
	s.idMu.RLock()
	key, ok := s.byID[alarmID]
	s.idMu.RUnlock()
	if !ok {
		return
	}
	seg := s.segmentFor(key)
	seg.mu.Lock()
	if alarm, ok := seg.byKey[key]; ok && alarm.IsRootCause != isRoot {
		alarm.IsRootCause = isRoot
		copied := *alarm
		seg.mu.Unlock()
		s.enqueueSave(saveOp{alarm: &copied})
		return
	}
	seg.mu.Unlock()
}

func (s *Store) maybeCloseGroup(groupID string, at time.Time) {
	s.groupMu.Lock()
	defer s.groupMu.Unlock()
	group, ok := s.groups[groupID]
	if !ok || !group.Open() {
		return
	}
	for _, memberID := range group.MemberIDs {
		s.idMu.RLock()
		_, open := s.byID[memberID]
		s.idMu.RUnlock()
		if open {
			return
		}
	}
	group.ClosedAt = at
	copied := cloneGroup(group)
	metrics.GroupClosed()
	s.enqueueSave(saveOp{group: &copied})
}

func cloneGroup(group *models.CorrelationGroup) models.CorrelationGroup {
	copied := *group
	copied.MemberIDs = append([]string(nil), group.MemberIDs...)
	return copied
}
