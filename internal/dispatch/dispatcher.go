// Package dispatch drains escalation and notification requests to external
// collaborators. Requests are fire-and-forget from the caller's side: a
// bounded queue feeds a worker pool that retries with backoff behind a
// per-collaborator circuit breaker, and drops with a logged error once
// retries are exhausted. Alarm state is never affected by dispatch failures.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/faultline-io/faultline/internal/cache"
	"github.com/faultline-io/faultline/internal/metrics"
	"github.com/faultline-io/faultline/internal/models"
	"github.com/faultline-io/faultline/internal/utils"
)

const (
	defaultQueueDepth = 512
	defaultWorkers    = 4
	defaultRetries    = 4
	defaultDedupeTTL  = 24 * time.Hour
	requestTimeout    = 10 * time.Second

	kindTicket       = "ticket"
	kindNotification = "notification"

	outcomeOK      = "ok"
	outcomeFailed  = "failed"
	outcomeDropped = "dropped"
	outcomeDeduped = "deduped"
)

// Ticketer opens tickets with the external ticketing collaborator and
// returns its reference when one is assigned.
type Ticketer interface {
	CreateTicket(ctx context.Context, req models.EscalationRequest) (string, error)
}

// Notifier delivers a notification; the channel is the collaborator's concern.
type Notifier interface {
	Notify(ctx context.Context, req models.NotificationRequest) error
}

// TicketRecorder records the collaborator's ticket reference back onto the
// alarm. Implemented by the alarm state store.
type TicketRecorder interface {
	SetTicketRef(alarmID, ref string)
}

// Config sizes the outbound queue and retry policy.
type Config struct {
	QueueDepth int
	Workers    int
	MaxRetries uint64
	DedupeTTL  time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueDepth <= 0 {
		c.QueueDepth = defaultQueueDepth
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultRetries
	}
	if c.DedupeTTL <= 0 {
		c.DedupeTTL = defaultDedupeTTL
	}
	return c
}

type item struct {
	escalation   *models.EscalationRequest
	notification *models.NotificationRequest
}

// Dispatcher is the outbound worker pool.
type Dispatcher struct {
	logger   *slog.Logger
	ticketer Ticketer
	notifier Notifier
	recorder TicketRecorder
	cache    cache.Provider
	cfg      Config
	queue    chan item

	ticketBreaker *gobreaker.CircuitBreaker
	notifyBreaker *gobreaker.CircuitBreaker
}

// New constructs a dispatcher. A nil cache disables cross-restart ticket
// dedupe; nil collaborators cause their request kinds to be dropped with a
// warning.
func New(logger *slog.Logger, ticketer Ticketer, notifier Notifier, recorder TicketRecorder, cacheProvider cache.Provider, cfg Config) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	cfg = cfg.withDefaults()

	breakerSettings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:    name,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}
	}

	return &Dispatcher{
		logger:        logger,
		ticketer:      ticketer,
		notifier:      notifier,
		recorder:      recorder,
		cache:         cacheProvider,
		cfg:           cfg,
		queue:         make(chan item, cfg.QueueDepth),
		ticketBreaker: gobreaker.NewCircuitBreaker(breakerSettings("ticketer")),
		notifyBreaker: gobreaker.NewCircuitBreaker(breakerSettings("notifier")),
	}
}

// Escalate enqueues a ticket request. Never blocks; a full queue drops the
// request with a logged error.
func (d *Dispatcher) Escalate(req models.EscalationRequest) {
	select {
	case d.queue <- item{escalation: &req}:
	default:
		metrics.ObserveDispatch(kindTicket, outcomeDropped)
		d.logger.Error("dispatch queue full, escalation dropped",
			slog.String("alarm_id", req.AlarmID), slog.String("breach_id", req.BreachID))
	}
}

// Notify enqueues a notification request. Never blocks.
func (d *Dispatcher) Notify(req models.NotificationRequest) {
	select {
	case d.queue <- item{notification: &req}:
	default:
		metrics.ObserveDispatch(kindNotification, outcomeDropped)
		d.logger.Error("dispatch queue full, notification dropped",
			slog.String("event_type", req.EventType))
	}
}

// Run drains the queue with a worker pool until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case it := <-d.queue:
					d.handle(ctx, it)
				}
			}
		})
	}
	return group.Wait()
}

func (d *Dispatcher) handle(ctx context.Context, it item) {
	switch {
	case it.escalation != nil:
		d.handleEscalation(ctx, *it.escalation)
	case it.notification != nil:
		d.handleNotification(ctx, *it.notification)
	}
}

func (d *Dispatcher) handleEscalation(ctx context.Context, req models.EscalationRequest) {
	if d.ticketer == nil {
		metrics.ObserveDispatch(kindTicket, outcomeDropped)
		d.logger.Warn("no ticketer configured, escalation dropped", slog.String("alarm_id", req.AlarmID))
		return
	}

	dedupeKey := "faultline:ticket:" + req.AlarmID + req.BreachID
	claimed, err := d.cache.SetNX(ctx, dedupeKey, []byte("1"), d.cfg.DedupeTTL)
	if err == nil && !claimed {
		// Another run already ticketed this alarm or breach.
		metrics.ObserveDispatch(kindTicket, outcomeDeduped)
		return
	}

	var ref string
	op := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		result, execErr := d.ticketBreaker.Execute(func() (interface{}, error) {
			return d.ticketer.CreateTicket(reqCtx, req)
		})
		if execErr != nil {
			return execErr
		}
		ref, _ = result.(string)
		return nil
	}

	if err := backoff.Retry(op, d.retryPolicy(ctx)); err != nil {
		metrics.ObserveDispatch(kindTicket, outcomeFailed)
		// Release the claim so a later escalation for the same condition
		// can try again.
		_ = d.cache.Del(context.Background(), dedupeKey)
		derr := utils.NewDispatchError("dispatch.CreateTicket", "ticket creation failed after retries", err)
		d.logger.Error("escalation dropped",
			slog.String("alarm_id", req.AlarmID),
			slog.String("breach_id", req.BreachID),
			slog.Any("error", derr),
		)
		return
	}

	metrics.ObserveDispatch(kindTicket, outcomeOK)
	if req.AlarmID != "" && ref != "" && d.recorder != nil {
		d.recorder.SetTicketRef(req.AlarmID, ref)
	}
}

func (d *Dispatcher) handleNotification(ctx context.Context, req models.NotificationRequest) {
	if d.notifier == nil {
		metrics.ObserveDispatch(kindNotification, outcomeDropped)
		return
	}

	op := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		_, execErr := d.notifyBreaker.Execute(func() (interface{}, error) {
			return nil, d.notifier.Notify(reqCtx, req)
		})
		return execErr
	}

	if err := backoff.Retry(op, d.retryPolicy(ctx)); err != nil {
		metrics.ObserveDispatch(kindNotification, outcomeFailed)
		derr := utils.NewDispatchError("dispatch.Notify", "notification failed after retries", err)
		d.logger.Error("notification dropped",
			slog.String("event_type", req.EventType),
			slog.Any("error", derr),
		)
		return
	}
	metrics.ObserveDispatch(kindNotification, outcomeOK)
}

func (d *Dispatcher) retryPolicy(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(policy, d.cfg.MaxRetries), ctx)
}

// Flush synchronously drains whatever is still queued, bounded by ctx.
// Called during shutdown after the worker pool has stopped.
func (d *Dispatcher) Flush(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			if n := len(d.queue); n > 0 {
				d.logger.Warn("shutdown flush timed out with requests pending", slog.Int("pending", n))
			}
			return
		}
		select {
		case it := <-d.queue:
			d.handle(ctx, it)
		default:
			return
		}
	}
}

// QueueDepth reports pending outbound requests, for stats and tests.
func (d *Dispatcher) QueueDepth() int { return len(d.queue) }
