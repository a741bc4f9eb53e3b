package sla

import "github.com/faultline-io/faultline/internal/models"

// CreditFormula computes the financial impact of a breach. The detector is
// formula-agnostic; operators plug in their contractual credit scheme.
type CreditFormula interface {
	Compute(def models.SLADefinition, instance models.SLAInstance, breach models.SLABreach) float64
}

// ProratedCredit credits the monthly fee in proportion to unplanned downtime
// in excess of the contractual allowance, capped at one full fee. Breach
// types other than availability carry no credit under this formula.
type ProratedCredit struct{}

func (ProratedCredit) Compute(def models.SLADefinition, instance models.SLAInstance, breach models.SLABreach) float64 {
	if breach.Type != models.BreachAvailability || def.PeriodLength <= 0 {
		return 0
	}
	period := def.PeriodLength.Seconds()
	allowance := (1 - def.AvailabilityTarget) * period
	excess := instance.UnplannedDowntime.Seconds() - allowance
	if excess <= 0 {
		return 0
	}
	credit := def.MonthlyFee * excess / period
	if credit > def.MonthlyFee {
		credit = def.MonthlyFee
	}
	return credit
}
