package engine

import (
	"context"
	"testing"
	"time"

	"github.com/faultline-io/faultline/internal/alarms"
	"github.com/faultline-io/faultline/internal/maintenance"
	"github.com/faultline-io/faultline/internal/models"
	"github.com/faultline-io/faultline/internal/rules"
	"github.com/faultline-io/faultline/internal/utils"
)

type staticRules struct {
	set *rules.Set
}

func (s staticRules) Snapshot() *rules.Set { return s.set }

func compileRules(t *testing.T, ruleList []models.AlarmRule) RuleProvider {
	t.Helper()
	return staticRules{set: rules.Compile(ruleList, utils.NewDiscardLogger())}
}

func topologyPack() []models.AlarmRule {
	return []models.AlarmRule{
		{
			ID:   "olt-cascade",
			Kind: models.RuleKindTopology,
			Topology: &models.TopologyRule{
				ParentMatch:    models.ResourceMatch{Type: "olt"},
				ChildMatch:     models.ResourceMatch{Type: "ont"},
				DesignatesRoot: true,
			},
		},
		{
			ID:         "window",
			Kind:       models.RuleKindTimeWindow,
			TimeWindow: &models.TimeWindowRule{WindowSeconds: 300},
		},
	}
}

func newTestEngine(t *testing.T, ruleList []models.AlarmRule, windows []models.MaintenanceWindow) (*Engine, *alarms.Store) {
	t.Helper()
	store := alarms.NewStore(utils.NewDiscardLogger(), nil)
	go func() {
		for range store.Transitions() {
		}
	}()
	filter := maintenance.NewFilter(utils.NewDiscardLogger(), windows)
	eng := New(utils.NewDiscardLogger(), store, filter, compileRules(t, ruleList), Config{Shards: 4})
	return eng, store
}

// ingestSync runs the per-event algorithm on the owning shard and flushes
// any cross-shard link requests, giving tests deterministic ordering.
func ingestSync(t *testing.T, e *Engine, ev models.Event) {
	t.Helper()
	if err := ev.Validate(); err != nil {
		t.Fatalf("event invalid: %v", err)
	}
	sh := e.shards[e.shardIndex(ev.Resource.Key())]
	e.process(sh, ev)
	for _, other := range e.shards {
		other.flushLinks(e)
	}
}

func event(resType, resID, alarmType string, sev models.Severity, ts time.Time) models.Event {
	return models.Event{
		Resource:  models.ResourceRef{Type: resType, ID: resID},
		AlarmType: alarmType,
		Severity:  sev,
		Timestamp: ts,
	}
}

func TestTopologyGroupingWithDesignatedRoot(t *testing.T) {
	eng, store := newTestEngine(t, topologyPack(), nil)
	t0 := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	ingestSync(t, eng, event("olt", "dev-A", "down", models.SeverityCritical, t0))
	ingestSync(t, eng, event("ont", "dev-B", "signal_loss", models.SeverityMajor, t0.Add(2*time.Second)))
	// Late duplicate of the parent event: dedup, no second group.
	ingestSync(t, eng, event("olt", "dev-A", "down", models.SeverityCritical, t0.Add(time.Second)))

	groups := store.OpenGroups()
	if len(groups) != 1 {
		t.Fatalf("expected exactly one correlation group, got %d", len(groups))
	}
	group := groups[0]
	if len(group.MemberIDs) != 2 {
		t.Fatalf("expected two members, got %d", len(group.MemberIDs))
	}

	root, ok := store.GetByID(group.RootCauseID)
	if !ok {
		t.Fatalf("root cause alarm missing")
	}
	if root.Resource.ID != "dev-A" {
		t.Fatalf("expected dev-A as root cause, got %s", root.Resource.ID)
	}
	if root.OccurrenceCount != 2 {
		t.Fatalf("expected duplicate folded into occurrence count, got %d", root.OccurrenceCount)
	}

	child, _ := store.GetOpenByKey(models.AlarmKey{ResourceType: "ont", ResourceID: "dev-B", AlarmType: "signal_loss"})
	if child.GroupID != group.ID || child.IsRootCause {
		t.Fatalf("child must be a non-root member, got %+v", child)
	}
}

func TestFlappingSuppressionAndQuiescence(t *testing.T) {
	pack := []models.AlarmRule{{
		ID:       "flap",
		Kind:     models.RuleKindFlapping,
		Flapping: &models.FlappingRule{MaxOccurrences: 3, WindowSeconds: 60},
	}}
	eng, store := newTestEngine(t, pack, nil)
	t0 := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ingestSync(t, eng, event("ont", "flappy", "link_down", models.SeverityMinor, t0.Add(time.Duration(i)*time.Second)))
	}

	key := models.AlarmKey{ResourceType: "ont", ResourceID: "flappy", AlarmType: "link_down"}
	alarm, ok := store.GetOpenByKey(key)
	if !ok || alarm.Status != models.StatusSuppressed {
		t.Fatalf("expected suppressed alarm, got %+v ok=%v", alarm, ok)
	}
	if alarm.OccurrenceCount != 5 {
		t.Fatalf("occurrence count must keep rising while suppressed, got %d", alarm.OccurrenceCount)
	}
	if groups := store.OpenGroups(); len(groups) != 1 {
		t.Fatalf("flapping must not spawn additional groups, got %d", len(groups))
	}

	// After the window elapses the key may correlate again.
	ingestSync(t, eng, event("ont", "flappy", "link_down", models.SeverityMinor, t0.Add(5*time.Minute)))
	alarm, _ = store.GetOpenByKey(key)
	if alarm.Status != models.StatusActive {
		t.Fatalf("expected reactivation after window, got %s", alarm.Status)
	}
}

func TestOpenClearCyclingTripsFlapping(t *testing.T) {
	pack := []models.AlarmRule{{
		ID:       "flap",
		Kind:     models.RuleKindFlapping,
		Flapping: &models.FlappingRule{MaxOccurrences: 3, WindowSeconds: 60},
	}}
	eng, store := newTestEngine(t, pack, nil)
	t0 := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	// Three open/clear cycles inside the window; the occurrence window must
	// survive each clear.
	for i := 0; i < 3; i++ {
		at := t0.Add(time.Duration(10*i) * time.Second)
		ingestSync(t, eng, event("ont", "cycler", "link_down", models.SeverityMinor, at))
		ingestSync(t, eng, event("ont", "cycler", "link_down", models.SeverityCleared, at.Add(5*time.Second)))
	}

	// Fourth open within the window exceeds the allowance.
	ingestSync(t, eng, event("ont", "cycler", "link_down", models.SeverityMinor, t0.Add(30*time.Second)))

	key := models.AlarmKey{ResourceType: "ont", ResourceID: "cycler", AlarmType: "link_down"}
	alarm, ok := store.GetOpenByKey(key)
	if !ok || alarm.Status != models.StatusSuppressed {
		t.Fatalf("open/clear cycling must trip suppression, got %+v ok=%v", alarm, ok)
	}

	// Once every recorded occurrence ages out, a fresh open correlates again.
	ingestSync(t, eng, event("ont", "cycler", "link_down", models.SeverityCleared, t0.Add(40*time.Second)))
	ingestSync(t, eng, event("ont", "cycler", "link_down", models.SeverityMinor, t0.Add(10*time.Minute)))
	alarm, ok = store.GetOpenByKey(key)
	if !ok || alarm.Status != models.StatusActive {
		t.Fatalf("expected fresh active alarm after quiet period, got %+v ok=%v", alarm, ok)
	}
}

func TestMaintenanceSuppressionRecordsButNeverGroups(t *testing.T) {
	t0 := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	windows := []models.MaintenanceWindow{{
		ID:               "mw",
		Resource:         models.ResourceRef{Type: "olt", ID: "dev-A"},
		Start:            t0.Add(-time.Hour),
		End:              t0.Add(time.Hour),
		SuppressesAlarms: true,
	}}
	eng, store := newTestEngine(t, topologyPack(), windows)

	ingestSync(t, eng, event("olt", "dev-A", "down", models.SeverityCritical, t0))
	ingestSync(t, eng, event("olt", "dev-A", "down", models.SeverityCritical, t0.Add(time.Minute)))

	alarm, ok := store.GetOpenByKey(models.AlarmKey{ResourceType: "olt", ResourceID: "dev-A", AlarmType: "down"})
	if !ok {
		t.Fatalf("suppressed events must still be recorded for audit")
	}
	if alarm.OccurrenceCount != 2 {
		t.Fatalf("expected occurrence count 2, got %d", alarm.OccurrenceCount)
	}
	if len(store.OpenGroups()) != 0 {
		t.Fatalf("maintenance-suppressed events must not open a root-cause group")
	}

	stats := eng.Stats()
	if stats.EventsSuppressed != 2 {
		t.Fatalf("expected 2 suppressed events, got %d", stats.EventsSuppressed)
	}
}

func TestPatternGrouping(t *testing.T) {
	pack := []models.AlarmRule{
		{
			ID:   "los-signature",
			Kind: models.RuleKindPattern,
			Pattern: &models.PatternRule{FieldMatchers: []models.FieldMatcher{
				{Field: "alarm_type", Regex: "^(signal_loss|los)$"},
			}},
		},
		{
			ID:         "window",
			Kind:       models.RuleKindTimeWindow,
			TimeWindow: &models.TimeWindowRule{WindowSeconds: 300},
		},
	}
	eng, store := newTestEngine(t, pack, nil)
	t0 := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	ingestSync(t, eng, event("ont", "ont-1", "signal_loss", models.SeverityMajor, t0))
	ingestSync(t, eng, event("ont", "ont-2", "los", models.SeverityMajor, t0.Add(10*time.Second)))

	groups := store.OpenGroups()
	if len(groups) != 1 {
		t.Fatalf("expected pattern join into one group, got %d", len(groups))
	}
	root, _ := store.GetByID(groups[0].RootCauseID)
	if root.Resource.ID != "ont-1" {
		t.Fatalf("earliest alarm must stay root, got %s", root.Resource.ID)
	}
}

func TestClearedRootLeavesChildrenOpen(t *testing.T) {
	eng, store := newTestEngine(t, topologyPack(), nil)
	t0 := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	ingestSync(t, eng, event("olt", "dev-A", "down", models.SeverityCritical, t0))
	ingestSync(t, eng, event("ont", "dev-B", "signal_loss", models.SeverityMajor, t0.Add(2*time.Second)))
	ingestSync(t, eng, event("olt", "dev-A", "down", models.SeverityCleared, t0.Add(time.Minute)))

	if _, ok := store.GetOpenByKey(models.AlarmKey{ResourceType: "olt", ResourceID: "dev-A", AlarmType: "down"}); ok {
		t.Fatalf("cleared root must close")
	}
	child, ok := store.GetOpenByKey(models.AlarmKey{ResourceType: "ont", ResourceID: "dev-B", AlarmType: "signal_loss"})
	if !ok || !child.Status.Open() {
		t.Fatalf("children must clear independently, got %+v ok=%v", child, ok)
	}
}

func TestIngestRejectsMalformedEvents(t *testing.T) {
	eng, _ := newTestEngine(t, nil, nil)

	err := eng.Ingest(context.Background(), models.Event{AlarmType: "down", Severity: models.SeverityMajor, Timestamp: time.Now()})
	if err == nil {
		t.Fatalf("expected validation error for missing resource")
	}
	if !utils.IsKind(err, utils.KindValidation) {
		t.Fatalf("expected validation kind, got %v", err)
	}
	if stats := eng.Stats(); stats.EventsRejected != 1 {
		t.Fatalf("expected rejected counter 1, got %d", stats.EventsRejected)
	}
}

func TestRunIngestAndDrain(t *testing.T) {
	eng, store := newTestEngine(t, topologyPack(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = eng.Run(ctx) }()

	t0 := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		ev := event("router", "r-1", "bgp_down", models.SeverityMajor, t0.Add(time.Duration(i)*time.Second))
		if err := eng.Ingest(ctx, ev); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	eng.Drain()

	alarm, ok := store.GetOpenByKey(models.AlarmKey{ResourceType: "router", ResourceID: "r-1", AlarmType: "bgp_down"})
	if !ok || alarm.OccurrenceCount != 10 {
		t.Fatalf("expected all queued events processed before drain returned, got %+v ok=%v", alarm, ok)
	}
	if stats := eng.Stats(); stats.EventsIngested != 10 {
		t.Fatalf("expected 10 ingested, got %d", stats.EventsIngested)
	}
}
