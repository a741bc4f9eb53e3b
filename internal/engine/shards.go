package engine

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/faultline-io/faultline/internal/alarms"
	"github.com/faultline-io/faultline/internal/metrics"
	"github.com/faultline-io/faultline/internal/models"
	"github.com/faultline-io/faultline/internal/rules"
	"github.com/faultline-io/faultline/internal/utils"
)

const (
	defaultShards     = 8
	defaultQueueDepth = 256
	defaultLinkDepth  = 64
)

// Config sizes the shard pool and its queues.
type Config struct {
	Shards     int
	QueueDepth int
	LinkDepth  int
}

func (c Config) withDefaults() Config {
	if c.Shards <= 0 {
		c.Shards = defaultShards
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = defaultQueueDepth
	}
	if c.LinkDepth <= 0 {
		c.LinkDepth = defaultLinkDepth
	}
	return c
}

type task struct {
	event   *models.Event
	barrier chan struct{}
}

// linkRequest asks the parent-resource shard to join a child alarm into
// the parent alarm's correlation group.
type linkRequest struct {
	rule     rules.Topology
	childID  string
	parentID string
	at       time.Time
}

// shard owns flapping counters and grouping work for its share of resource
// keys. All fields are touched only by the owning worker goroutine.
type shard struct {
	id    int
	tasks chan task
	links chan linkRequest
	flap  map[models.AlarmKey][]time.Time
}

// recordOccurrence maintains the per-key sliding occurrence window against
// event timestamps, so replay and live processing behave identically.
// Reports whether the key is currently flapping.
func (sh *shard) recordOccurrence(key models.AlarmKey, at time.Time, policy *rules.Flapping) bool {
	cutoff := at.Add(-policy.Window)
	window := sh.flap[key]
	pruned := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	pruned = append(pruned, at)
	sh.flap[key] = pruned
	return len(pruned) > policy.MaxOccurrences
}

// pruneFlap drops occurrence timestamps that fell out of the window and
// releases the key once none remain.
func (sh *shard) pruneFlap(key models.AlarmKey, at time.Time, policy *rules.Flapping) {
	if policy == nil {
		delete(sh.flap, key)
		return
	}
	cutoff := at.Add(-policy.Window)
	window := sh.flap[key]
	pruned := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	if len(pruned) == 0 {
		delete(sh.flap, key)
		return
	}
	sh.flap[key] = pruned
}

// Engine is the sharded correlation engine.
type Engine struct {
	logger       *slog.Logger
	store        *alarms.Store
	maint        MaintenanceFilter
	ruleProvider RuleProvider
	shards       []*shard

	// gate blocks ingestion while shards drain for a rule swap.
	gate sync.RWMutex

	latencies  *utils.LatencyTracker
	ingested   atomic.Uint64
	rejected   atomic.Uint64
	suppressed atomic.Uint64
}

// New constructs the engine over its collaborators.
func New(logger *slog.Logger, store *alarms.Store, maint MaintenanceFilter, ruleProvider RuleProvider, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{
			id:    i,
			tasks: make(chan task, cfg.QueueDepth),
			links: make(chan linkRequest, cfg.LinkDepth),
			flap:  make(map[models.AlarmKey][]time.Time),
		}
	}
	return &Engine{
		logger:       logger,
		store:        store,
		maint:        maint,
		ruleProvider: ruleProvider,
		shards:       shards,
		latencies:    utils.NewLatencyTracker(2048),
	}
}

// Run starts one worker per shard and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for _, sh := range e.shards {
		group.Go(func() error {
			return e.runShard(ctx, sh)
		})
	}
	return group.Wait()
}

func (e *Engine) runShard(ctx context.Context, sh *shard) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case link := <-sh.links:
			e.execLink(link)
		case t := <-sh.tasks:
			if t.barrier != nil {
				sh.flushLinks(e)
				close(t.barrier)
				continue
			}
			e.process(sh, *t.event)
		}
	}
}

func (sh *shard) flushLinks(e *Engine) {
	for {
		select {
		case link := <-sh.links:
			e.execLink(link)
		default:
			return
		}
	}
}

// Ingest validates an event and hands it to the owning shard. Malformed
// events are rejected synchronously; valid events block only while a drain
// is in progress or the shard queue is full.
func (e *Engine) Ingest(ctx context.Context, event models.Event) error {
	if err := event.Validate(); err != nil {
		e.rejected.Add(1)
		metrics.ObserveEvent(metrics.OutcomeRejected, 0)
		return utils.NewValidationError("engine.Ingest", "malformed event", err)
	}

	e.gate.RLock()
	defer e.gate.RUnlock()

	ev := event
	sh := e.shards[e.shardIndex(event.Resource.Key())]
	select {
	case sh.tasks <- task{event: &ev}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain blocks ingestion, waits for every shard to finish queued events and
// pending link requests, then releases the gate. Used around rule-pack
// swaps so no event straddles two rule sets.
func (e *Engine) Drain() {
	e.gate.Lock()
	defer e.gate.Unlock()

	// Two rounds: the first flushes events (which may enqueue links on
	// other shards), the second flushes those links. Links never beget
	// further links.
	for round := 0; round < 2; round++ {
		barriers := make([]chan struct{}, len(e.shards))
		for i, sh := range e.shards {
			barriers[i] = make(chan struct{})
			sh.tasks <- task{barrier: barriers[i]}
		}
		for _, barrier := range barriers {
			<-barrier
		}
	}
}

// Acknowledge records operator acknowledgment for an alarm.
func (e *Engine) Acknowledge(id string, at time.Time) (models.Alarm, error) {
	return e.store.Acknowledge(id, at)
}

// Resolve terminates an alarm by id.
func (e *Engine) Resolve(id string, at time.Time) (models.Alarm, error) {
	return e.store.Resolve(id, at)
}

// Stats reports engine counters and ingest latency percentiles.
func (e *Engine) Stats() models.EngineStats {
	depths := make([]int, len(e.shards))
	for i, sh := range e.shards {
		depths[i] = len(sh.tasks)
	}
	return models.EngineStats{
		EventsIngested:   e.ingested.Load(),
		EventsRejected:   e.rejected.Load(),
		EventsSuppressed: e.suppressed.Load(),
		IngestP50:        e.latencies.Percentile(50),
		IngestP95:        e.latencies.Percentile(95),
		IngestP99:        e.latencies.Percentile(99),
		ShardQueueDepths: depths,
	}
}

func (e *Engine) shardIndex(resourceKey string) int {
	h := fnv.New32a()
	h.Write([]byte(resourceKey))
	return int(h.Sum32() % uint32(len(e.shards)))
}
