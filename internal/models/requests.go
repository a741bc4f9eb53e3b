package models

import "time"

// EscalationRequest asks the ticketing collaborator to open a ticket for a
// qualifying alarm or breach. Exactly one of AlarmID / BreachID is set.
type EscalationRequest struct {
	AlarmID             string   `json:"alarm_id,omitempty"`
	BreachID            string   `json:"breach_id,omitempty"`
	Severity            Severity `json:"severity"`
	CustomerImpactCount int      `json:"customer_impact_count"`
	SuggestedPriority   int      `json:"suggested_priority"`
}

// NotificationRequest asks the notification collaborator to deliver a
// message; the delivery channel is entirely the collaborator's concern.
type NotificationRequest struct {
	EventType string      `json:"event_type"`
	Severity  Severity    `json:"severity"`
	Resource  ResourceRef `json:"resource"`
	Message   string      `json:"message"`
}

// ComplianceSnapshot is a read-only view of one SLA instance's standing,
// served by the query surface.
type ComplianceSnapshot struct {
	InstanceID        string        `json:"instance_id"`
	CustomerID        string        `json:"customer_id"`
	ServiceID         string        `json:"service_id"`
	PeriodStart       time.Time     `json:"period_start"`
	PeriodEnd         time.Time     `json:"period_end"`
	Availability      float64       `json:"availability"`
	Target            float64       `json:"target"`
	PlannedDowntime   time.Duration `json:"planned_downtime"`
	UnplannedDowntime time.Duration `json:"unplanned_downtime"`
	OpenBreaches      int           `json:"open_breaches"`
}

// EngineStats summarises correlation engine health for operators.
type EngineStats struct {
	EventsIngested   uint64        `json:"events_ingested"`
	EventsRejected   uint64        `json:"events_rejected"`
	EventsSuppressed uint64        `json:"events_suppressed"`
	IngestP50        time.Duration `json:"ingest_p50"`
	IngestP95        time.Duration `json:"ingest_p95"`
	IngestP99        time.Duration `json:"ingest_p99"`
	ShardQueueDepths []int         `json:"shard_queue_depths"`
}
