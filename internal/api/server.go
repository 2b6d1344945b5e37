// Package api exposes the term-closure workflow over HTTP: validation,
// generation, batch polling, cancellation, distribution and closure.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/term-closure/internal/app/closure"
	"github.com/ahrav/term-closure/internal/config"
	"github.com/ahrav/term-closure/internal/domain/reporting"
	"github.com/ahrav/term-closure/internal/domain/validation"
	"github.com/ahrav/term-closure/pkg/common/logger"
	"github.com/ahrav/term-closure/pkg/common/otel"
)

// ClosureService is the workflow entry point the handlers drive.
type ClosureService interface {
	RequestValidation(ctx context.Context, termID uuid.UUID) (*validation.Report, error)
	RequestGeneration(ctx context.Context, termID uuid.UUID, cfg closure.GenerationConfig) (*closure.GenerationResult, error)
	RequestRegeneration(
		ctx context.Context,
		termID uuid.UUID,
		itemType reporting.ItemType,
		targetID uuid.UUID,
		requestedBy string,
	) (uuid.UUID, error)
	RequestClosure(ctx context.Context, termID uuid.UUID, requestedBy string) (*closure.ClosureResult, error)
	GetBatchStatus(ctx context.Context, batchID uuid.UUID) (*reporting.Progress, error)
	CancelBatch(ctx context.Context, batchID uuid.UUID, requestedBy string) (*reporting.Progress, error)
}

// BatchQueries reads batch history and items.
type BatchQueries interface {
	GetBatch(ctx context.Context, batchID uuid.UUID) (*reporting.ReportBatch, error)
	LatestBatch(ctx context.Context, termID uuid.UUID) (*reporting.ReportBatch, error)
	ListBatches(ctx context.Context, termID uuid.UUID) ([]*reporting.ReportBatch, error)
	ListItems(ctx context.Context, batchID uuid.UUID, status reporting.ItemStatus) ([]*reporting.ReportItem, error)
}

// Distributor sends the artifacts of a finished batch and reports the
// per-recipient delivery tasks it recorded.
type Distributor interface {
	Distribute(ctx context.Context, batchID uuid.UUID) (*reporting.DistributionSummary, error)
	ListTasks(ctx context.Context, batchID uuid.UUID) ([]*reporting.DistributionTask, error)
}

// Dependencies are the application services the server routes to.
type Dependencies struct {
	Closure     ClosureService
	Batches     BatchQueries
	Distributor Distributor
	// Ready reports whether backing services are reachable. Nil means
	// always ready.
	Ready func(ctx context.Context) error
}

// Server is the HTTP polling surface.
type Server struct {
	cfg     config.APIConfig
	deps    Dependencies
	router  *chi.Mux
	logger  *logger.Logger
	tracer  trace.Tracer
	metrics APIMetrics
}

// NewServer builds the router and binds every route.
func NewServer(
	cfg config.APIConfig,
	deps Dependencies,
	logger *logger.Logger,
	metrics APIMetrics,
	tracer trace.Tracer,
) *Server {
	logger = logger.With("component", "api_server")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggerMiddleware(logger, metrics))
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		router:  r,
		logger:  logger,
		tracer:  tracer,
		metrics: metrics,
	}
	s.routes()
	return s
}

func loggerMiddleware(log *logger.Logger, metrics APIMetrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				ctx := r.Context()
				route := r.URL.Path
				if rc := chi.RouteContext(ctx); rc != nil && rc.RoutePattern() != "" {
					route = rc.RoutePattern()
				}
				elapsed := time.Since(start)

				metrics.IncRequestsTotal(ctx, r.Method, route, ww.Status())
				metrics.ObserveRequestDuration(ctx, r.Method, route, elapsed)
				fields := []any{
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", elapsed,
					"request_id", middleware.GetReqID(ctx),
				}
				log.Info(ctx, "Request completed", append(fields, otel.SpanLogFields(ctx)...)...)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func (s *Server) routes() {
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/readiness", s.handleReadiness)

		r.Route("/terms/{termID}", func(r chi.Router) {
			r.Get("/validation", handle(s.logger, s.validate))
			r.Post("/generation", handle(s.logger, s.generate))
			r.Get("/batches", handle(s.logger, s.listBatches))
			r.Get("/batches/latest", handle(s.logger, s.latestBatch))
			r.Post("/regeneration", handle(s.logger, s.regenerate))
			r.Post("/close", handle(s.logger, s.closeTerm))
		})

		r.Route("/batches/{batchID}", func(r chi.Router) {
			r.Get("/", handle(s.logger, s.batchStatus))
			r.Get("/items", handle(s.logger, s.listItems))
			r.Get("/results", handle(s.logger, s.batchResults))
			r.Post("/cancel", handle(s.logger, s.cancelBatch))
			r.Post("/distribute", handle(s.logger, s.distribute))
			r.Get("/distribution", handle(s.logger, s.distributionTasks))
		})
	})
}

// Handler returns the router wrapped in OpenTelemetry instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "term-closure-api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn(ctx, "Readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// Start serves until ctx is done, then shuts down within ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         net.JoinHostPort(s.cfg.Host, s.cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(s.logger, logger.LevelError),
	}

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		shutdownErr <- server.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting API server", "addr", server.Addr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	if err := <-shutdownErr; err != nil {
		return fmt.Errorf("failed to shutdown api server: %w", err)
	}
	return nil
}
