package utils

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestOverlap(t *testing.T) {
	base := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)

	d := Overlap(base, base.Add(2*time.Hour), base.Add(time.Hour), base.Add(3*time.Hour))
	if d != time.Hour {
		t.Fatalf("expected 1h overlap, got %v", d)
	}

	if d := Overlap(base, base.Add(time.Hour), base.Add(2*time.Hour), base.Add(3*time.Hour)); d != 0 {
		t.Fatalf("expected no overlap, got %v", d)
	}
}

func TestBusinessDurationSkipsWeekend(t *testing.T) {
	// Friday 16:00 through Monday 11:00, business window 09:00-17:00.
	start := time.Date(2025, time.March, 7, 16, 0, 0, 0, time.UTC)
	end := time.Date(2025, time.March, 10, 11, 0, 0, 0, time.UTC)

	got := BusinessDuration(start, end, 9, 17)
	want := 3 * time.Hour // Friday 16:00-17:00 plus Monday 09:00-11:00
	if got != want {
		t.Fatalf("expected %v business time, got %v", want, got)
	}
}

func TestBusinessDurationInsideSingleDay(t *testing.T) {
	start := time.Date(2025, time.March, 5, 8, 0, 0, 0, time.UTC)
	end := time.Date(2025, time.March, 5, 12, 0, 0, 0, time.UTC)

	if got := BusinessDuration(start, end, 9, 17); got != 3*time.Hour {
		t.Fatalf("expected 3h, got %v", got)
	}
}

func TestErrorKinds(t *testing.T) {
	inner := errors.New("boom")
	err := NewRepositoryError("repo.SaveAlarm", "write failed", inner)

	if !IsKind(err, KindRepository) {
		t.Fatalf("expected repository kind")
	}
	if IsKind(err, KindValidation) {
		t.Fatalf("did not expect validation kind")
	}
	if !errors.Is(err, inner) {
		t.Fatalf("expected wrapped error to surface via errors.Is")
	}

	wrapped := fmt.Errorf("ingest: %w", NewValidationError("engine.Ingest", "missing resource", nil))
	if !IsKind(wrapped, KindValidation) {
		t.Fatalf("expected validation kind through wrapping")
	}
}
