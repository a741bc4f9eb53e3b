// Package repo defines the persistence boundary. The core depends only on
// the Repository interface: writes are fire-and-forget durability, loads are
// used once at boot for crash rehydration, never per event.
package repo

import (
	"context"

	"github.com/faultline-io/faultline/internal/models"
)

// Repository persists correlation and SLA state. Implementations must be
// safe for concurrent use.
type Repository interface {
	SaveAlarm(ctx context.Context, alarm models.Alarm) error
	SaveGroup(ctx context.Context, group models.CorrelationGroup) error
	SaveInstance(ctx context.Context, instance models.SLAInstance) error
	SaveBreach(ctx context.Context, breach models.SLABreach) error
	LoadOpenAlarms(ctx context.Context) ([]models.Alarm, error)
	LoadActiveMaintenanceWindows(ctx context.Context) ([]models.MaintenanceWindow, error)
}

// NopRepository discards writes and loads nothing. Used when no fault store
// is configured; in-memory state remains authoritative either way.
type NopRepository struct{}

func (NopRepository) SaveAlarm(context.Context, models.Alarm) error               { return nil }
func (NopRepository) SaveGroup(context.Context, models.CorrelationGroup) error    { return nil }
func (NopRepository) SaveInstance(context.Context, models.SLAInstance) error      { return nil }
func (NopRepository) SaveBreach(context.Context, models.SLABreach) error          { return nil }
func (NopRepository) LoadOpenAlarms(context.Context) ([]models.Alarm, error)      { return nil, nil }
func (NopRepository) LoadActiveMaintenanceWindows(context.Context) ([]models.MaintenanceWindow, error) {
	return nil, nil
}
