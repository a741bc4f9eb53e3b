package models

import (
	"fmt"
	"time"
)

// WildcardResource matches any resource type or id in a maintenance scope.
const WildcardResource = "*"

// MaintenanceWindow is a scheduled interval during which alarms for a
// resource are expected. Overlapping windows for the same resource are
// treated as a union.
type MaintenanceWindow struct {
	ID               string      `json:"id" yaml:"id"`
	Resource         ResourceRef `json:"resource" yaml:"resource"`
	Start            time.Time   `json:"start" yaml:"start"`
	End              time.Time   `json:"end" yaml:"end"`
	SuppressesAlarms bool        `json:"suppresses_alarms" yaml:"suppresses_alarms"`
}

// Validate enforces a non-empty scope and start < end.
func (w MaintenanceWindow) Validate() error {
	if w.Resource.Type == "" || w.Resource.ID == "" {
		return fmt.Errorf("maintenance window %s: resource scope required", w.ID)
	}
	if !w.Start.Before(w.End) {
		return fmt.Errorf("maintenance window %s: start must precede end", w.ID)
	}
	return nil
}

// Covers reports whether the window's scope includes the resource,
// honouring wildcards on either component.
func (w MaintenanceWindow) Covers(ref ResourceRef) bool {
	if w.Resource.Type != WildcardResource && w.Resource.Type != ref.Type {
		return false
	}
	if w.Resource.ID != WildcardResource && w.Resource.ID != ref.ID {
		return false
	}
	return true
}

// ActiveAt reports whether t falls inside [Start, End).
func (w MaintenanceWindow) ActiveAt(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}
