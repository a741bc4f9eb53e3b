package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/faultline-io/faultline/internal/alarms"
	"github.com/faultline-io/faultline/internal/api"
	"github.com/faultline-io/faultline/internal/cache"
	"github.com/faultline-io/faultline/internal/config"
	"github.com/faultline-io/faultline/internal/dispatch"
	"github.com/faultline-io/faultline/internal/engine"
	"github.com/faultline-io/faultline/internal/maintenance"
	"github.com/faultline-io/faultline/internal/metrics"
	"github.com/faultline-io/faultline/internal/repo"
	"github.com/faultline-io/faultline/internal/rules"
	"github.com/faultline-io/faultline/internal/services"
	"github.com/faultline-io/faultline/internal/sla"
	"github.com/faultline-io/faultline/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting correlator engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable, escalation dedupe is in-process only", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	var repository repo.Repository = repo.NopRepository{}
	if cfg.FaultStore.BaseURL != "" {
		repository = repo.NewFaultStoreClient(
			cfg.FaultStore.BaseURL,
			cfg.FaultStore.AlarmsPath,
			cfg.FaultStore.GroupsPath,
			cfg.FaultStore.SLAPath,
			cfg.FaultStore.BreachesPath,
			cfg.FaultStore.MaintenancePath,
			cfg.FaultStore.Timeout,
		)
	}

	store := alarms.NewStore(logger, repository)

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	windows, err := repository.LoadActiveMaintenanceWindows(bootCtx)
	if err != nil {
		logger.Warn("maintenance calendar unavailable, starting with empty calendar", slog.Any("error", err))
	}
	filter := maintenance.NewFilter(logger, windows)

	ruleStore, err := rules.NewStore(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		cancelBoot()
		os.Exit(1)
	}

	eng := engine.New(logger, store, filter, ruleStore, engine.Config{
		Shards:     cfg.Engine.Shards,
		QueueDepth: cfg.Engine.QueueDepth,
		LinkDepth:  cfg.Engine.LinkDepth,
	})
	// Quiesce the shards around every rule swap so no event straddles two
	// rule sets.
	ruleStore.OnChange(eng.Drain)

	var ticketer dispatch.Ticketer
	if cfg.Dispatch.Ticketing.BaseURL != "" {
		ticketer = dispatch.NewTicketClient(cfg.Dispatch.Ticketing.BaseURL, cfg.Dispatch.Ticketing.Path, cfg.Dispatch.Ticketing.Timeout)
	}
	var notifier dispatch.Notifier
	if cfg.Dispatch.Notifications.BaseURL != "" {
		notifier = dispatch.NewNotifyClient(cfg.Dispatch.Notifications.BaseURL, cfg.Dispatch.Notifications.Path, cfg.Dispatch.Notifications.Timeout)
	}
	dispatcher := dispatch.New(logger, ticketer, notifier, store, cacheProvider, dispatch.Config{
		QueueDepth: cfg.Dispatch.QueueDepth,
		Workers:    cfg.Dispatch.Workers,
		MaxRetries: cfg.Dispatch.MaxRetries,
		DedupeTTL:  cfg.Dispatch.DedupeTTL,
	})

	slaPack, err := sla.LoadPack(cfg.SLA.InstancesPath, logger)
	if err != nil {
		logger.Error("failed to load sla instances", slog.Any("error", err))
		cancelBoot()
		os.Exit(1)
	}
	detector := sla.NewDetector(logger, sla.ProratedCredit{}, repository, dispatcher)
	tracker := sla.NewTracker(logger, slaPack.Resolver(), filter, detector, repository, store.Transitions(), cfg.SLA.TickInterval)
	for _, instance := range slaPack.Instances() {
		tracker.RegisterInstance(instance)
	}

	// Rehydrate open state before intake starts so SLA intervals resume.
	// The tracker's Run loop is not consuming yet, so the synthesized
	// transitions are applied to it directly.
	if openAlarms, err := repository.LoadOpenAlarms(bootCtx); err != nil {
		logger.Warn("rehydration skipped", slog.Any("error", err))
	} else if len(openAlarms) > 0 {
		for _, tr := range store.Rehydrate(openAlarms) {
			tracker.Apply(tr)
		}
		logger.Info("rehydrated open alarms", slog.Int("count", len(openAlarms)))
	}
	cancelBoot()

	queries := services.NewQueryService(logger, store, tracker, eng)
	handler := api.NewHandler(logger, eng, queries)
	server, err := api.NewServer(cfg.Server, handler.Routes())
	if err != nil {
		logger.Error("failed to create server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Workers run on their own context so the shutdown sequence can drain
	// in-flight work after intake stops but before the pools exit.
	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()

	go func() {
		if err := store.Run(workCtx); err != nil {
			logger.Error("alarm store exited", slog.Any("error", err))
			stop()
		}
	}()
	go func() {
		if err := eng.Run(workCtx); err != nil {
			logger.Error("correlation engine exited", slog.Any("error", err))
			stop()
		}
	}()
	go func() {
		if err := tracker.Run(workCtx); err != nil {
			logger.Error("sla tracker exited", slog.Any("error", err))
			stop()
		}
	}()
	go func() {
		if err := dispatcher.Run(workCtx); err != nil {
			logger.Error("dispatcher exited", slog.Any("error", err))
			stop()
		}
	}()
	if cfg.Rules.Watch {
		go func() {
			if err := ruleStore.Watch(ctx); err != nil {
				logger.Warn("rule watcher exited", slog.Any("error", err))
			}
		}()
	}
	if cfg.FaultStore.BaseURL != "" {
		// The maintenance calendar is owned by the fault store; refresh it
		// without a restart.
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					refreshed, err := repository.LoadActiveMaintenanceWindows(ctx)
					if err != nil {
						logger.Warn("maintenance calendar refresh failed", slog.Any("error", err))
						continue
					}
					filter.Reload(refreshed)
				}
			}
		}()
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	// Intake has stopped; finish queued correlation work, then stop the
	// worker pools and flush whatever the dispatcher still holds.
	eng.Drain()
	stopWork()
	flushCtx, cancelFlush := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	dispatcher.Flush(flushCtx)
	cancelFlush()

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("correlator engine stopped")
}
