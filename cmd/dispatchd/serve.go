package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldsvc/dispatchd/internal/api"
	"github.com/fieldsvc/dispatchd/internal/bus"
	"github.com/fieldsvc/dispatchd/internal/calendar"
	"github.com/fieldsvc/dispatchd/internal/catalog"
	"github.com/fieldsvc/dispatchd/internal/clock"
	"github.com/fieldsvc/dispatchd/internal/config"
	"github.com/fieldsvc/dispatchd/internal/constants"
	"github.com/fieldsvc/dispatchd/internal/interval"
	"github.com/fieldsvc/dispatchd/internal/lifecycle"
	"github.com/fieldsvc/dispatchd/internal/logger"
	"github.com/fieldsvc/dispatchd/internal/metrics"
	"github.com/fieldsvc/dispatchd/internal/scheduling"
	"github.com/fieldsvc/dispatchd/internal/store"
	"github.com/fieldsvc/dispatchd/internal/sweeper"
	"github.com/fieldsvc/dispatchd/internal/travel"
)

// eventBusCapacity is the buffered depth of the schedule event queue.
const eventBusCapacity = 256

var (
	serveConfigPath string
	serveLogLevel   string
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduling engine (main command)",
	Long: `Start the dispatchd scheduling engine with the specified configuration.
This will initialize all components (store, calendar, travel resolver,
event bus, HTTP API, SLA sweeper) and handle graceful shutdown.`,
	Run: serveHandler,
}

func serveHandler(cmd *cobra.Command, args []string) {
	loadEnvFile(constants.DefaultEnvPath)

	configPath := serveConfigPath
	if configPath == "" {
		configPath = constants.DefaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if serveLogLevel != "" {
		cfg.Logging.Level = serveLogLevel
	}

	if errors := cfg.Validate(); len(errors) > 0 {
		fmt.Fprintln(os.Stderr, "Configuration validation failed:")
		for _, e := range errors {
			fmt.Fprintf(os.Stderr, "  - %v\n", e)
		}
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	log.Info("Starting dispatchd",
		logger.Field{Key: "version", Value: Version},
		logger.Field{Key: "git_commit", Value: GitCommit},
		logger.Field{Key: "config", Value: configPath},
		logger.Field{Key: "listen_addr", Value: cfg.Server.ListenAddr},
		logger.Field{Key: "database", Value: cfg.Database.Path},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	clk := clock.System{}

	st, err := store.New(cfg.Database.Path, clk)
	if err != nil {
		log.Error("Failed to open store", err,
			logger.Field{Key: "path", Value: cfg.Database.Path})
		os.Exit(1)
	}
	defer st.Close()

	if cfg.Catalog.SeedPath != "" {
		seed, err := catalog.Load(cfg.Catalog.SeedPath)
		if err != nil {
			log.Error("Failed to load catalog seed", err,
				logger.Field{Key: "path", Value: cfg.Catalog.SeedPath})
			os.Exit(1)
		}
		if err := catalog.Seed(ctx, st, seed, log); err != nil {
			log.Error("Failed to seed catalog", err)
			os.Exit(1)
		}
	}

	eventBus := bus.New(eventBusCapacity, log)
	if err := eventBus.Start(ctx); err != nil {
		log.Error("Failed to start event bus", err)
		os.Exit(1)
	}

	m := metrics.New()

	var oracle travel.Port
	if cfg.Travel.OracleURL != "" {
		oracle = travel.NewOracle(travel.OracleConfig{
			URL:            cfg.Travel.OracleURL,
			APIKey:         cfg.Travel.APIKey,
			TimeoutSeconds: cfg.Travel.TimeoutSeconds,
		}, log)
		log.Info("Travel oracle initialized",
			logger.Field{Key: "url", Value: cfg.Travel.OracleURL})
	} else {
		log.Warn("Travel oracle is disabled, using distance fallback only")
	}
	resolver := travel.NewResolver(oracle,
		travel.Fallback{Kmh: cfg.Travel.FallbackKmh},
		cfg.Travel.DefaultMinutes,
		m.TravelFallbacks,
	)

	slots, err := timelineSlots(cfg.Scheduling.TimelineSlots)
	if err != nil {
		log.Error("Invalid timeline slots", err)
		os.Exit(1)
	}

	cal := calendar.New(st)
	schedSvc := scheduling.New(st, cal, resolver, eventBus, clk, log,
		scheduling.Counters{
			Bookings: func(outcome string) {
				m.BookingsTotal.WithLabelValues(outcome).Inc()
			},
		},
		scheduling.Options{
			ShortNoticeHours: cfg.Scheduling.ShortNoticeHours,
			TimelineSlots:    slots,
		},
	)
	machine := lifecycle.New(st, eventBus, clk, log)

	// Count transitions and surface derived events from the fanout copy.
	go consumeEvents(ctx, eventBus.Subscribe(ctx), m, log)

	var sw *sweeper.Sweeper
	if cfg.Sweeper.Enabled {
		sw = sweeper.New(st, eventBus, clk, log, m.SLABreaches, cfg.Sweeper.CronSpec)
		if err := sw.Start(ctx); err != nil {
			log.Error("Failed to start SLA sweeper", err)
			os.Exit(1)
		}
	} else {
		log.Warn("SLA sweeper is disabled")
	}

	var apiMetrics *metrics.Metrics
	if cfg.Metrics.Enabled {
		apiMetrics = m
	}
	server := api.NewServer(schedSvc, machine, st, cal, log, apiMetrics,
		time.Duration(cfg.Server.RequestDeadlineSeconds)*time.Second)

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: server.Routes(),
	}
	go func() {
		log.Info("HTTP server listening",
			logger.Field{Key: "addr", Value: cfg.Server.ListenAddr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", err)
			sigChan <- syscall.SIGTERM
		}
	}()

	sig := <-sigChan
	log.Info("Shutting down", logger.Field{Key: "signal", Value: sig.String()})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", err)
	}

	if sw != nil {
		sw.Stop()
	}
	cancel()
	if err := eventBus.Stop(); err != nil {
		log.Error("Event bus shutdown failed", err)
	}

	log.Info("Shutdown complete")
}

// consumeEvents drains the fanout subscription: transition counting plus a
// structured log line per derived event.
func consumeEvents(ctx context.Context, events <-chan bus.Event, m *metrics.Metrics, log *logger.Logger) {
	for event := range events {
		switch event.Type {
		case bus.EventTransitionApplied:
			m.TransitionsTotal.WithLabelValues(event.Transition).Inc()
		case bus.EventInspectionPassed:
			log.InfoCtx(ctx, "Inspection passed",
				logger.Field{Key: "schedule_id", Value: event.ScheduleID},
				logger.Field{Key: "project_id", Value: event.ProjectID})
		case bus.EventSLABreached:
			log.WarnCtx(ctx, "SLA breached",
				logger.Field{Key: "schedule_id", Value: event.ScheduleID},
				logger.Field{Key: "protocol", Value: event.Protocol},
				logger.Field{Key: "agent_id", Value: event.AgentID})
		}
	}
}

// timelineSlots parses the configured HH:MM slot grid.
func timelineSlots(specs []config.SlotSpec) ([]interval.Interval, error) {
	slots := make([]interval.Interval, len(specs))
	for i, spec := range specs {
		win, err := interval.ParseWindow(spec.Start, spec.End)
		if err != nil {
			return nil, fmt.Errorf("timeline slot %d: %w", i, err)
		}
		slots[i] = win
	}
	return slots, nil
}

// loadEnvFile sets environment variables from a plain KEY=VALUE file if
// one exists.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			os.Setenv(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
		}
	}
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to configuration file (default ./config.toml)")
	serveCmd.Flags().StringVarP(&serveLogLevel, "log-level", "l", "", "Override logging level (debug, info, warn, error)")
}
