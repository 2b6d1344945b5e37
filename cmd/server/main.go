package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/term-closure/internal/api"
	"github.com/ahrav/term-closure/internal/api/debug"
	"github.com/ahrav/term-closure/internal/app/closure"
	"github.com/ahrav/term-closure/internal/app/reporting"
	"github.com/ahrav/term-closure/internal/app/validation"
	"github.com/ahrav/term-closure/internal/config"
	"github.com/ahrav/term-closure/internal/config/envloader"
	"github.com/ahrav/term-closure/internal/config/fileloader"
	"github.com/ahrav/term-closure/internal/domain/events"
	reportingDomain "github.com/ahrav/term-closure/internal/domain/reporting"
	"github.com/ahrav/term-closure/internal/domain/roster"
	"github.com/ahrav/term-closure/internal/domain/term"
	"github.com/ahrav/term-closure/internal/infra/eventbus/kafka"
	"github.com/ahrav/term-closure/internal/infra/eventbus/memory"
	"github.com/ahrav/term-closure/internal/infra/notify"
	"github.com/ahrav/term-closure/internal/infra/renderer"
	"github.com/ahrav/term-closure/internal/infra/storage"
	memoryStore "github.com/ahrav/term-closure/internal/infra/storage/memory"
	pgStore "github.com/ahrav/term-closure/internal/infra/storage/postgres"
	"github.com/ahrav/term-closure/pkg/common"
	"github.com/ahrav/term-closure/pkg/common/logger"
	"github.com/ahrav/term-closure/pkg/common/otel"
)

var build = "develop"

const serviceType = "term-closure"

func main() {
	_, _ = maxprocs.Set()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("TERMCLOSE_CONFIG"), "path to a YAML config file")
	flag.Parse()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := envloader.New(fileloader.NewFileLoader(*configPath)).Load(ctx)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			if ref, ok := otel.SpanRefFromContext(ctx); ok {
				errorAttrs["span_id"] = ref.SpanID
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	svcName := fmt.Sprintf("TERM-CLOSURE-%s", hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
		"build":     build,
	}
	traceIDFn := func(ctx context.Context) string { return otel.GetTraceID(ctx) }
	logr := logger.NewWithMetadata(os.Stdout, logger.ParseLevel(cfg.Log.Level), svcName, traceIDFn, logEvents, metadata)

	if err := run(ctx, logr, cfg, hostname); err != nil {
		logr.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

type stores struct {
	terms         term.Repository
	roster        roster.Reader
	batches       reportingDomain.BatchStore
	distributions reportingDomain.DistributionStore
	ready         func(ctx context.Context) error
	close         func()
}

func run(ctx context.Context, log *logger.Logger, cfg *config.Config, hostname string) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "build", build)

	// -------------------------------------------------------------------------
	// Telemetry
	log.Info(ctx, "startup", "status", "initializing telemetry")

	providers, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Telemetry.ServiceName,
		ExporterEndpoint: cfg.Telemetry.ExporterEndpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
		},
		Probability: cfg.Telemetry.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
		},
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer teardown(context.Background())

	tracer := providers.Tracer.Tracer(cfg.Telemetry.ServiceName)

	reportingMetrics, err := reporting.NewMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("creating reporting metrics: %w", err)
	}
	apiMetrics, err := api.NewAPIMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("creating api metrics: %w", err)
	}

	// -------------------------------------------------------------------------
	// Storage
	st, err := openStores(ctx, log, cfg.Database, tracer)
	if err != nil {
		return err
	}
	defer st.close()

	// -------------------------------------------------------------------------
	// Event bus and notification channels
	log.Info(ctx, "startup", "status", "initializing event bus")

	var (
		publisher events.DomainEventPublisher
		channels  []reportingDomain.NotificationChannel
	)
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPub, err := kafka.ConnectWithRetry(&kafka.Config{
			Brokers:            cfg.Kafka.Brokers,
			ClientID:           cfg.Kafka.ClientID,
			EventsTopic:        cfg.Kafka.EventsTopic,
			NotificationsTopic: cfg.Kafka.NotificationsTopic,
		}, log, apiMetrics, tracer, cfg.Kafka.ConnectTimeout)
		if err != nil {
			return fmt.Errorf("connecting to kafka: %w", err)
		}
		defer kafkaPub.Close()

		publisher = kafkaPub
		for _, ch := range []reportingDomain.Channel{reportingDomain.ChannelEmail, reportingDomain.ChannelPortal} {
			channels = append(channels, notify.NewKafkaChannel(ch, kafkaPub.NotificationsTopic(), kafkaPub, log, tracer))
		}
	} else {
		log.Warn(ctx, "startup", "status", "no kafka brokers configured, events stay in process and notifications are logged")
		publisher = memory.NewBroker()
		channels = []reportingDomain.NotificationChannel{
			notify.NewLogChannel(reportingDomain.ChannelEmail, log),
			notify.NewLogChannel(reportingDomain.ChannelPortal, log),
		}
	}

	// -------------------------------------------------------------------------
	// Application services
	log.Info(ctx, "startup", "status", "initializing services")

	fileRenderer := renderer.NewFileRenderer(cfg.Renderer.OutputDir, st.roster, log, tracer)

	scheduler := reporting.NewBatchScheduler(
		st.batches,
		st.roster,
		fileRenderer,
		publisher,
		reportingMetrics,
		reporting.SchedulerConfig{
			WorkerCount:          cfg.Scheduler.WorkerCount,
			StorageRetryAttempts: cfg.Scheduler.StorageRetryAttempts,
			StorageRetryInterval: cfg.Scheduler.StorageRetryInterval,
			RenderTimeout:        cfg.Scheduler.RenderTimeout,
		},
		log,
		tracer,
	)

	distributor := reporting.NewDistributionCoordinator(
		st.batches,
		st.distributions,
		st.roster,
		channels,
		publisher,
		reportingMetrics,
		reporting.DistributionConfig{
			RatePerSecond:       cfg.Distribution.RatePerSecond,
			Burst:               cfg.Distribution.Burst,
			ManagementRecipient: cfg.Distribution.ManagementRecipient,
			DownloadBaseURL:     cfg.Distribution.DownloadBaseURL,
		},
		log,
		tracer,
	)

	validator := validation.NewService(st.terms, st.roster, log, tracer)
	coordinator := closure.NewCoordinator(
		st.terms,
		validator,
		scheduler,
		distributor,
		publisher,
		cfg.Closure.FailureThreshold,
		log,
		tracer,
	)

	detector := reporting.NewStuckBatchDetector(
		st.batches,
		publisher,
		reportingMetrics,
		cfg.StuckDetector.Interval,
		cfg.StuckDetector.Threshold,
		log,
		tracer,
	)

	recovered, err := scheduler.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("recovering interrupted batches: %w", err)
	}
	log.Info(ctx, "startup", "status", "recovery complete", "batches_recovered", recovered)

	// -------------------------------------------------------------------------
	// Servers
	server := api.NewServer(cfg.API, api.Dependencies{
		Closure:     coordinator,
		Batches:     scheduler,
		Distributor: distributor,
		Ready:       st.ready,
	}, log, apiMetrics, tracer)

	g, gctx := errgroup.WithContext(ctx)

	detector.Start(gctx)

	g.Go(func() error { return server.Start(gctx) })

	if cfg.Debug.Host != "" {
		mux, err := debug.Mux()
		if err != nil {
			return err
		}
		debugSrv := &http.Server{Addr: cfg.Debug.Host, Handler: mux}
		g.Go(func() error { return serveUntilDone(gctx, log, "debug", debugSrv) })
	}
	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return serveUntilDone(gctx, log, "metrics", common.NewMetricsServer(cfg.Metrics.Addr)) })
	}

	log.Info(ctx, "startup", "status", "service started", "api_port", cfg.API.Port)
	err = g.Wait()

	// -------------------------------------------------------------------------
	// Shutdown
	log.Info(ctx, "shutdown", "status", "shutdown started")
	detector.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()
	if serr := scheduler.Shutdown(shutdownCtx); serr != nil {
		log.Warn(shutdownCtx, "shutdown", "status", "workers did not drain", "error", serr)
	}
	log.Info(shutdownCtx, "shutdown", "status", "shutdown complete")

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openStores connects to Postgres when a URL is configured and falls back to
// the in-memory stores otherwise.
func openStores(ctx context.Context, log *logger.Logger, cfg config.DatabaseConfig, tracer trace.Tracer) (*stores, error) {
	if cfg.URL == "" {
		log.Warn(ctx, "startup", "status", "no database url configured, using in-memory stores")
		return &stores{
			terms:         memoryStore.NewTermStore(),
			roster:        memoryStore.NewRoster(),
			batches:       memoryStore.NewBatchStore(),
			distributions: memoryStore.NewDistributionStore(),
			ready:         func(context.Context) error { return nil },
			close:         func() {},
		}, nil
	}

	log.Info(ctx, "startup", "status", "connecting to database")

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing db config: %w", err)
	}
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging db: %w", err)
	}

	if cfg.MigrationsDir != "" {
		if err := storage.MigrateUp(pool, cfg.MigrationsDir); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info(ctx, "startup", "status", "migrations applied")
	}

	return &stores{
		terms:         pgStore.NewTermStore(pool, tracer),
		roster:        pgStore.NewRosterStore(pool, tracer),
		batches:       pgStore.NewBatchStore(pool, tracer),
		distributions: pgStore.NewDistributionStore(pool, tracer),
		ready:         pool.Ping,
		close:         pool.Close,
	}, nil
}

// serveUntilDone runs srv until ctx ends, then shuts it down.
func serveUntilDone(ctx context.Context, log *logger.Logger, name string, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "startup", "status", name+" server started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
