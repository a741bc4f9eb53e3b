package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/faultline-io/faultline/internal/models"
	"github.com/faultline-io/faultline/internal/utils"
)

const samplePack = `
rules:
  - id: olt-down-cascade
    kind: topology
    topology:
      parent_match:
        type: olt
      child_match:
        type: ont
        id_pattern: "^ont-"
      designates_root: true
  - id: correlation-window
    kind: time_window
    time_window:
      window_seconds: 120
  - id: fiber-cut-signature
    kind: pattern
    pattern:
      field_matchers:
        - field: alarm_type
          regex: "^(signal_loss|los)$"
        - field: source_type
          equals: gpon
  - id: flap-guard
    kind: flapping
    flapping:
      max_occurrences: 5
      window_seconds: 60
`

func writePack(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write pack: %v", err)
	}
	return path
}

func TestStoreLoadsPack(t *testing.T) {
	store, err := NewStore(writePack(t, samplePack), utils.NewDiscardLogger())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	set := store.Snapshot()
	if len(set.Topology) != 1 {
		t.Fatalf("expected 1 topology rule, got %d", len(set.Topology))
	}
	if !set.Topology[0].DesignatesRoot {
		t.Fatalf("expected designates_root to survive compilation")
	}
	if set.CorrelationWindow != 120*time.Second {
		t.Fatalf("expected 120s window, got %v", set.CorrelationWindow)
	}
	if len(set.Patterns) != 1 {
		t.Fatalf("expected 1 pattern rule, got %d", len(set.Patterns))
	}
	if set.Flapping == nil || set.Flapping.MaxOccurrences != 5 {
		t.Fatalf("expected flapping rule, got %+v", set.Flapping)
	}
}

func TestTopologyMatching(t *testing.T) {
	store, err := NewStore(writePack(t, samplePack), utils.NewDiscardLogger())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	topo := store.Snapshot().Topology[0]

	if !topo.Parent.Matches(models.ResourceRef{Type: "olt", ID: "olt-17"}) {
		t.Fatalf("expected parent match for any olt")
	}
	if !topo.Child.Matches(models.ResourceRef{Type: "ont", ID: "ont-443"}) {
		t.Fatalf("expected child match for ont- prefix")
	}
	if topo.Child.Matches(models.ResourceRef{Type: "ont", ID: "x-443"}) {
		t.Fatalf("expected id pattern to reject non-prefixed id")
	}
	if topo.Child.Matches(models.ResourceRef{Type: "router", ID: "ont-443"}) {
		t.Fatalf("expected type mismatch to reject")
	}
}

func TestPatternMatching(t *testing.T) {
	store, err := NewStore(writePack(t, samplePack), utils.NewDiscardLogger())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	pattern := store.Snapshot().Patterns[0]

	if !pattern.Matches(map[string]string{"alarm_type": "signal_loss", "source_type": "gpon"}) {
		t.Fatalf("expected signature match")
	}
	if pattern.Matches(map[string]string{"alarm_type": "signal_loss", "source_type": "snmp"}) {
		t.Fatalf("expected source_type mismatch to reject")
	}
}

func TestCompileSkipsBadRegex(t *testing.T) {
	pack := `
rules:
  - id: broken
    kind: pattern
    pattern:
      field_matchers:
        - field: alarm_type
          regex: "(["
  - id: fine
    kind: flapping
    flapping:
      max_occurrences: 3
      window_seconds: 30
`
	store, err := NewStore(writePack(t, pack), utils.NewDiscardLogger())
	if err != nil {
		t.Fatalf("bad rule must not be fatal: %v", err)
	}
	set := store.Snapshot()
	if len(set.Patterns) != 0 {
		t.Fatalf("expected broken pattern skipped")
	}
	if set.Flapping == nil {
		t.Fatalf("expected remaining rules to load")
	}
}

func TestReloadSwapsSnapshotAndNotifies(t *testing.T) {
	path := writePack(t, samplePack)
	store, err := NewStore(path, utils.NewDiscardLogger())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	notified := 0
	store.OnChange(func() { notified++ })

	updated := `
rules:
  - id: correlation-window
    kind: time_window
    time_window:
      window_seconds: 600
`
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewrite pack: %v", err)
	}
	if err := store.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if store.Snapshot().CorrelationWindow != 600*time.Second {
		t.Fatalf("expected new window after reload, got %v", store.Snapshot().CorrelationWindow)
	}
	if len(store.Snapshot().Topology) != 0 {
		t.Fatalf("expected old topology rules dropped")
	}
	if notified != 1 {
		t.Fatalf("expected one change notification, got %d", notified)
	}
}

func TestStoreEmptyPathYieldsEmptySet(t *testing.T) {
	store, err := NewStore("", utils.NewDiscardLogger())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	set := store.Snapshot()
	if set.Flapping != nil || len(set.Topology) != 0 || len(set.Patterns) != 0 {
		t.Fatalf("expected empty rule set, got %+v", set)
	}
	if set.CorrelationWindow != DefaultCorrelationWindow {
		t.Fatalf("expected default window, got %v", set.CorrelationWindow)
	}
}
