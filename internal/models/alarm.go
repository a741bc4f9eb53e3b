package models

import (
	"fmt"
	"time"
)

// Severity ranks fault impact. The order is total: critical outranks major,
// major outranks minor, and so on down to cleared.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
	SeverityCleared  Severity = "cleared"
)

// Rank maps a severity onto an integer scale where higher means more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityMajor:
		return 4
	case SeverityMinor:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	case SeverityCleared:
		return 0
	default:
		return -1
	}
}

// Valid reports whether the severity is one of the known values.
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// AlarmStatus tracks the lifecycle state of an alarm.
type AlarmStatus string

const (
	StatusActive       AlarmStatus = "active"
	StatusAcknowledged AlarmStatus = "acknowledged"
	StatusCleared      AlarmStatus = "cleared"
	StatusResolved     AlarmStatus = "resolved"
	StatusSuppressed   AlarmStatus = "suppressed"
)

// Open reports whether the status still counts as a live fault.
func (s AlarmStatus) Open() bool {
	switch s {
	case StatusActive, StatusAcknowledged, StatusSuppressed:
		return true
	default:
		return false
	}
}

// ResourceRef identifies a monitored resource by type and id.
type ResourceRef struct {
	Type string `json:"type" yaml:"type"`
	ID   string `json:"id" yaml:"id"`
}

// Key returns the canonical index key for the resource.
func (r ResourceRef) Key() string {
	return r.Type + "/" + r.ID
}

// IsZero reports whether the reference is missing either component.
func (r ResourceRef) IsZero() bool {
	return r.Type == "" || r.ID == ""
}

// AlarmKey is the identity of an alarm: one resource, one alarm type.
// Repeat events carrying the same key re-signal the same alarm.
type AlarmKey struct {
	ResourceType string
	ResourceID   string
	AlarmType    string
}

func (k AlarmKey) String() string {
	return k.ResourceType + "/" + k.ResourceID + "/" + k.AlarmType
}

// Resource returns the resource portion of the key.
func (k AlarmKey) Resource() ResourceRef {
	return ResourceRef{Type: k.ResourceType, ID: k.ResourceID}
}

// Event is a normalized fault event as delivered by the inbound stream.
type Event struct {
	Resource   ResourceRef       `json:"resource"`
	AlarmType  string            `json:"alarm_type"`
	Severity   Severity          `json:"severity"`
	SourceType string            `json:"source_type"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	// Suppressed is set by the maintenance filter before correlation runs.
	Suppressed bool `json:"-"`
}

// Validate rejects events that cannot be correlated.
func (e Event) Validate() error {
	if e.Resource.IsZero() {
		return fmt.Errorf("event missing resource reference")
	}
	if e.AlarmType == "" {
		return fmt.Errorf("event missing alarm type")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event missing timestamp")
	}
	if !e.Severity.Valid() {
		return fmt.Errorf("event has unknown severity %q", e.Severity)
	}
	return nil
}

// Key computes the alarm identity for the event.
func (e Event) Key() AlarmKey {
	return AlarmKey{
		ResourceType: e.Resource.Type,
		ResourceID:   e.Resource.ID,
		AlarmType:    e.AlarmType,
	}
}

// Alarm is a tracked fault condition tied to one resource and one alarm type.
type Alarm struct {
	ID              string      `json:"id"`
	Resource        ResourceRef `json:"resource"`
	AlarmType       string      `json:"alarm_type"`
	Severity        Severity    `json:"severity"`
	Status          AlarmStatus `json:"status"`
	SourceType      string      `json:"source_type"`
	ProbableCause   string      `json:"probable_cause,omitempty"`
	FirstOccurrence time.Time   `json:"first_occurrence"`
	LastOccurrence  time.Time   `json:"last_occurrence"`
	OccurrenceCount int         `json:"occurrence_count"`
	GroupID         string      `json:"group_id,omitempty"`
	IsRootCause     bool        `json:"is_root_cause"`
	AcknowledgedAt  time.Time   `json:"acknowledged_at,omitzero"`
	ClearedAt       time.Time   `json:"cleared_at,omitzero"`
	TicketRef       string      `json:"ticket_ref,omitempty"`
}

// Key returns the alarm identity.
func (a Alarm) Key() AlarmKey {
	return AlarmKey{
		ResourceType: a.Resource.Type,
		ResourceID:   a.Resource.ID,
		AlarmType:    a.AlarmType,
	}
}

// CorrelationGroup is a set of alarms believed to share one root cause.
// Membership is append-only while the group is open, and at most one member
// carries the root-cause designation.
type CorrelationGroup struct {
	ID          string    `json:"id"`
	RootCauseID string    `json:"root_cause_id,omitempty"`
	MemberIDs   []string  `json:"member_ids"`
	OpenedAt    time.Time `json:"opened_at"`
	ClosedAt    time.Time `json:"closed_at,omitzero"`

	// RootDesignated marks a root cause pinned by an explicit topology rule;
	// a designated root is never displaced by arrival-order arbitration.
	RootDesignated bool `json:"root_designated,omitempty"`
}

// HasMember reports whether the alarm already belongs to the group.
func (g CorrelationGroup) HasMember(alarmID string) bool {
	for _, id := range g.MemberIDs {
		if id == alarmID {
			return true
		}
	}
	return false
}

// Open reports whether the group is still accepting members.
func (g CorrelationGroup) Open() bool {
	return g.ClosedAt.IsZero()
}

// Transition records an alarm lifecycle change published by the alarm store.
type Transition struct {
	AlarmID string
	From    AlarmStatus
	To      AlarmStatus
	Alarm   Alarm
	At      time.Time
}
