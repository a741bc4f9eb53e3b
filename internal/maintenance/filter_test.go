package maintenance

import (
	"testing"
	"time"

	"github.com/faultline-io/faultline/internal/models"
	"github.com/faultline-io/faultline/internal/utils"
)

func TestFilterActiveAt(t *testing.T) {
	base := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	olt := models.ResourceRef{Type: "olt", ID: "olt-17"}

	filter := NewFilter(utils.NewDiscardLogger(), []models.MaintenanceWindow{
		{
			ID:               "mw-1",
			Resource:         olt,
			Start:            base.Add(1 * time.Hour),
			End:              base.Add(3 * time.Hour),
			SuppressesAlarms: true,
		},
	})

	if s := filter.ActiveAt(olt, base.Add(30*time.Minute)); s.Active {
		t.Fatalf("expected inactive before window, got %+v", s)
	}
	if s := filter.ActiveAt(olt, base.Add(2*time.Hour)); !s.Active || !s.Suppresses {
		t.Fatalf("expected active suppressing window, got %+v", s)
	}
	if s := filter.ActiveAt(olt, base.Add(3*time.Hour)); s.Active {
		t.Fatalf("window end is exclusive, got %+v", s)
	}
	if s := filter.ActiveAt(models.ResourceRef{Type: "olt", ID: "olt-99"}, base.Add(2*time.Hour)); s.Active {
		t.Fatalf("expected other resource unaffected, got %+v", s)
	}
}

func TestFilterOverlappingWindowsAreUnion(t *testing.T) {
	base := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	ref := models.ResourceRef{Type: "router", ID: "r-1"}

	filter := NewFilter(utils.NewDiscardLogger(), []models.MaintenanceWindow{
		{ID: "a", Resource: ref, Start: base, End: base.Add(2 * time.Hour)},
		{ID: "b", Resource: ref, Start: base.Add(1 * time.Hour), End: base.Add(4 * time.Hour), SuppressesAlarms: true},
	})

	// Covered only by the first, non-suppressing window.
	if s := filter.ActiveAt(ref, base.Add(30*time.Minute)); !s.Active || s.Suppresses {
		t.Fatalf("expected active non-suppressing, got %+v", s)
	}
	// Covered by both; suppression wins via union.
	if s := filter.ActiveAt(ref, base.Add(90*time.Minute)); !s.Active || !s.Suppresses {
		t.Fatalf("expected active suppressing, got %+v", s)
	}
	// Tail covered only by the later window.
	if s := filter.ActiveAt(ref, base.Add(3*time.Hour)); !s.Active || !s.Suppresses {
		t.Fatalf("expected active suppressing tail, got %+v", s)
	}
}

func TestFilterWildcardScope(t *testing.T) {
	base := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)

	filter := NewFilter(utils.NewDiscardLogger(), []models.MaintenanceWindow{
		{
			ID:               "site-wide",
			Resource:         models.ResourceRef{Type: "olt", ID: models.WildcardResource},
			Start:            base,
			End:              base.Add(time.Hour),
			SuppressesAlarms: true,
		},
	})

	if s := filter.ActiveAt(models.ResourceRef{Type: "olt", ID: "olt-3"}, base.Add(10*time.Minute)); !s.Active {
		t.Fatalf("expected wildcard window to cover olt-3, got %+v", s)
	}
	if s := filter.ActiveAt(models.ResourceRef{Type: "router", ID: "r-3"}, base.Add(10*time.Minute)); s.Active {
		t.Fatalf("expected router untouched by olt wildcard, got %+v", s)
	}
}

func TestFilterSkipsInvalidWindows(t *testing.T) {
	base := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	ref := models.ResourceRef{Type: "olt", ID: "olt-1"}

	filter := NewFilter(utils.NewDiscardLogger(), []models.MaintenanceWindow{
		{ID: "inverted", Resource: ref, Start: base.Add(time.Hour), End: base},
	})

	if s := filter.ActiveAt(ref, base.Add(30*time.Minute)); s.Active {
		t.Fatalf("invalid window must be dropped, got %+v", s)
	}
}
