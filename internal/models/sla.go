package models

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// SLADefinition is the contractual target set an instance is measured
// against. Response and resolution targets are keyed by alarm severity.
type SLADefinition struct {
	ID                 string                     `json:"id" yaml:"id"`
	Name               string                     `json:"name" yaml:"name"`
	AvailabilityTarget float64                    `json:"availability_target" yaml:"availability_target"`
	PeriodLength       time.Duration              `json:"period_length" yaml:"period_length"`
	ResponseTargets    map[Severity]time.Duration `json:"response_targets,omitempty" yaml:"response_targets,omitempty"`
	ResolutionTargets  map[Severity]time.Duration `json:"resolution_targets,omitempty" yaml:"resolution_targets,omitempty"`

	// BusinessHoursOnly restricts response/resolution elapsed-time accounting
	// to the [BusinessDayStart, BusinessDayEnd) hour window, Monday-Friday.
	BusinessHoursOnly bool `json:"business_hours_only" yaml:"business_hours_only"`
	BusinessDayStart  int  `json:"business_day_start" yaml:"business_day_start"`
	BusinessDayEnd    int  `json:"business_day_end" yaml:"business_day_end"`

	// MonthlyFee feeds the credit formula when computing financial impact.
	MonthlyFee float64 `json:"monthly_fee" yaml:"monthly_fee"`
}

// UnmarshalYAML accepts durations in Go syntax ("720h", "30m") since the
// definition file is written by hand.
func (d *SLADefinition) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ID                 string              `yaml:"id"`
		Name               string              `yaml:"name"`
		AvailabilityTarget float64             `yaml:"availability_target"`
		PeriodLength       string              `yaml:"period_length"`
		ResponseTargets    map[Severity]string `yaml:"response_targets"`
		ResolutionTargets  map[Severity]string `yaml:"resolution_targets"`
		BusinessHoursOnly  bool                `yaml:"business_hours_only"`
		BusinessDayStart   int                 `yaml:"business_day_start"`
		BusinessDayEnd     int                 `yaml:"business_day_end"`
		MonthlyFee         float64             `yaml:"monthly_fee"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	d.ID = raw.ID
	d.Name = raw.Name
	d.AvailabilityTarget = raw.AvailabilityTarget
	d.BusinessHoursOnly = raw.BusinessHoursOnly
	d.BusinessDayStart = raw.BusinessDayStart
	d.BusinessDayEnd = raw.BusinessDayEnd
	d.MonthlyFee = raw.MonthlyFee

	var err error
	if d.PeriodLength, err = parseOptionalDuration(raw.PeriodLength); err != nil {
		return fmt.Errorf("sla definition %s: period_length: %w", d.ID, err)
	}
	if d.ResponseTargets, err = parseTargetDurations(raw.ResponseTargets); err != nil {
		return fmt.Errorf("sla definition %s: response_targets: %w", d.ID, err)
	}
	if d.ResolutionTargets, err = parseTargetDurations(raw.ResolutionTargets); err != nil {
		return fmt.Errorf("sla definition %s: resolution_targets: %w", d.ID, err)
	}
	return nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func parseTargetDurations(raw map[Severity]string) (map[Severity]time.Duration, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	targets := make(map[Severity]time.Duration, len(raw))
	for severity, s := range raw {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("severity %s: %w", severity, err)
		}
		targets[severity] = d
	}
	return targets, nil
}

// Validate checks target and period sanity.
func (d SLADefinition) Validate() error {
	if d.AvailabilityTarget < 0 || d.AvailabilityTarget > 1 {
		return fmt.Errorf("sla definition %s: availability target must be within [0,1]", d.ID)
	}
	if d.PeriodLength <= 0 {
		return fmt.Errorf("sla definition %s: positive period length required", d.ID)
	}
	if d.BusinessHoursOnly && (d.BusinessDayStart < 0 || d.BusinessDayEnd > 24 || d.BusinessDayStart >= d.BusinessDayEnd) {
		return fmt.Errorf("sla definition %s: invalid business day window", d.ID)
	}
	return nil
}

// SLAInstance binds one (customer, service) pair to a definition for the
// current measurement period. Accumulated downtime never decreases within a
// period; rollover opens a fresh contiguous period.
type SLAInstance struct {
	ID                string        `json:"id"`
	CustomerID        string        `json:"customer_id"`
	ServiceID         string        `json:"service_id"`
	Definition        SLADefinition `json:"definition"`
	PeriodStart       time.Time     `json:"period_start"`
	PeriodEnd         time.Time     `json:"period_end"`
	PlannedDowntime   time.Duration `json:"planned_downtime"`
	UnplannedDowntime time.Duration `json:"unplanned_downtime"`
	BreachCount       int           `json:"breach_count"`
}

// Availability returns 1 - unplanned downtime over the period length.
// Planned downtime is excluded by construction.
func (i SLAInstance) Availability() float64 {
	period := i.Definition.PeriodLength
	if period <= 0 {
		return 1
	}
	avail := 1 - i.UnplannedDowntime.Seconds()/period.Seconds()
	if avail < 0 {
		return 0
	}
	return avail
}

// BreachType classifies an SLA violation.
type BreachType string

const (
	BreachAvailability   BreachType = "availability"
	BreachResponseTime   BreachType = "response_time"
	BreachResolutionTime BreachType = "resolution_time"
	BreachPerformance    BreachType = "performance"
)

// SLABreach records one violation window for an instance. A breach is
// immutable once Resolved is set.
type SLABreach struct {
	ID              string     `json:"id"`
	InstanceID      string     `json:"instance_id"`
	Type            BreachType `json:"type"`
	WindowStart     time.Time  `json:"window_start"`
	WindowEnd       time.Time  `json:"window_end,omitzero"`
	TargetValue     float64    `json:"target_value"`
	ActualValue     float64    `json:"actual_value"`
	FinancialImpact float64    `json:"financial_impact"`
	Resolved        bool       `json:"resolved"`
}
