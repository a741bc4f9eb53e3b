// Package maintenance answers whether a resource is under planned
// maintenance at a point in time. Lookups run once per event and once per
// SLA accumulator tick, so the window set is indexed for logarithmic reads.
package maintenance

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/faultline-io/faultline/internal/models"
)

// Status is the filter's answer for one (resource, timestamp) lookup.
type Status struct {
	Active     bool
	Suppresses bool
}

// Filter indexes maintenance windows by resource scope. Overlapping windows
// for the same resource are a union. Safe for concurrent lookups; Reload
// swaps the whole index.
type Filter struct {
	mu     sync.RWMutex
	logger *slog.Logger
	byKey  map[string]*intervalIndex
}

// NewFilter builds a filter over the supplied calendar. Invalid windows are
// logged and skipped.
func NewFilter(logger *slog.Logger, windows []models.MaintenanceWindow) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Filter{logger: logger}
	f.Reload(windows)
	return f
}

// Reload replaces the indexed calendar. Invalid windows are skipped.
func (f *Filter) Reload(windows []models.MaintenanceWindow) {
	grouped := make(map[string][]models.MaintenanceWindow)
	for _, w := range windows {
		if err := w.Validate(); err != nil {
			f.logger.Warn("skipping invalid maintenance window", slog.String("id", w.ID), slog.Any("error", err))
			continue
		}
		key := w.Resource.Key()
		grouped[key] = append(grouped[key], w)
	}

	byKey := make(map[string]*intervalIndex, len(grouped))
	for key, group := range grouped {
		byKey[key] = newIntervalIndex(group)
	}

	f.mu.Lock()
	f.byKey = byKey
	f.mu.Unlock()
}

// ActiveAt reports whether the resource is under an active window at t,
// and whether any covering window suppresses alarms. Wildcard scopes on
// either component of the resource reference are honoured.
func (f *Filter) ActiveAt(ref models.ResourceRef, t time.Time) Status {
	keys := [4]string{
		ref.Key(),
		ref.Type + "/" + models.WildcardResource,
		models.WildcardResource + "/" + ref.ID,
		models.WildcardResource + "/" + models.WildcardResource,
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var status Status
	for _, key := range keys {
		idx, ok := f.byKey[key]
		if !ok {
			continue
		}
		s := idx.statusAt(t)
		status.Active = status.Active || s.Active
		status.Suppresses = status.Suppresses || s.Suppresses
		if status.Active && status.Suppresses {
			break
		}
	}
	return status
}

// intervalIndex holds windows for one scope sorted by start, with prefix
// maxima over end times so a lookup is one binary search.
type intervalIndex struct {
	starts         []time.Time
	maxEnd         []time.Time
	maxEndSuppress []time.Time
}

func newIntervalIndex(windows []models.MaintenanceWindow) *intervalIndex {
	sort.Slice(windows, func(i, j int) bool {
		return windows[i].Start.Before(windows[j].Start)
	})

	idx := &intervalIndex{
		starts:         make([]time.Time, len(windows)),
		maxEnd:         make([]time.Time, len(windows)),
		maxEndSuppress: make([]time.Time, len(windows)),
	}

	var maxEnd, maxEndSuppress time.Time
	for i, w := range windows {
		idx.starts[i] = w.Start
		if w.End.After(maxEnd) {
			maxEnd = w.End
		}
		if w.SuppressesAlarms && w.End.After(maxEndSuppress) {
			maxEndSuppress = w.End
		}
		idx.maxEnd[i] = maxEnd
		idx.maxEndSuppress[i] = maxEndSuppress
	}
	return idx
}

func (idx *intervalIndex) statusAt(t time.Time) Status {
	// Rightmost window whose start is <= t.
	n := sort.Search(len(idx.starts), func(i int) bool {
		return idx.starts[i].After(t)
	})
	if n == 0 {
		return Status{}
	}
	return Status{
		Active:     idx.maxEnd[n-1].After(t),
		Suppresses: idx.maxEndSuppress[n-1].After(t),
	}
}
