package reporting

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	domain "github.com/ahrav/term-closure/internal/domain/reporting"
)

// Metrics defines the instruments recorded by the batch scheduler, the
// distribution coordinator and the stuck batch detector.
type Metrics interface {
	IncBatchesStarted(ctx context.Context)
	IncBatchesFinished(ctx context.Context, status domain.BatchStatus)
	ObserveItem(ctx context.Context, itemType domain.ItemType, status domain.ItemStatus, renderTime time.Duration)
	IncStorageRetries(ctx context.Context)
	SetActiveWorkers(ctx context.Context, delta int)
	IncStalledBatches(ctx context.Context)
	IncDistribution(ctx context.Context, channel domain.Channel, status domain.DistributionStatus)
}

type reportingMetrics struct {
	batchesStarted  metric.Int64Counter
	batchesFinished metric.Int64Counter
	itemsProcessed  metric.Int64Counter
	renderTime      metric.Float64Histogram
	storageRetries  metric.Int64Counter
	activeWorkers   metric.Int64UpDownCounter
	stalledBatches  metric.Int64Counter
	distributions   metric.Int64Counter
}

const namespace = "term_closure"

// NewMetrics registers the reporting instruments on mp.
func NewMetrics(mp metric.MeterProvider) (Metrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(reportingMetrics)
	var err error

	if m.batchesStarted, err = meter.Int64Counter(
		"report_batches_started_total",
		metric.WithDescription("Total number of report batches dispatched to workers"),
	); err != nil {
		return nil, err
	}

	if m.batchesFinished, err = meter.Int64Counter(
		"report_batches_finished_total",
		metric.WithDescription("Total number of report batches that reached a terminal status"),
	); err != nil {
		return nil, err
	}

	if m.itemsProcessed, err = meter.Int64Counter(
		"report_items_processed_total",
		metric.WithDescription("Total number of report items rendered, by type and outcome"),
	); err != nil {
		return nil, err
	}

	if m.renderTime, err = meter.Float64Histogram(
		"report_item_render_seconds",
		metric.WithDescription("Time spent rendering a single report item"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.storageRetries, err = meter.Int64Counter(
		"report_storage_retries_total",
		metric.WithDescription("Total number of retried batch store writes"),
	); err != nil {
		return nil, err
	}

	if m.activeWorkers, err = meter.Int64UpDownCounter(
		"report_active_workers",
		metric.WithDescription("Number of report workers currently running"),
	); err != nil {
		return nil, err
	}

	if m.stalledBatches, err = meter.Int64Counter(
		"report_batches_stalled_total",
		metric.WithDescription("Total number of stalled batch detections"),
	); err != nil {
		return nil, err
	}

	if m.distributions, err = meter.Int64Counter(
		"report_distributions_total",
		metric.WithDescription("Total number of distribution attempts, by channel and outcome"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// NoopMetrics returns Metrics backed by a no-op meter provider.
func NoopMetrics() Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

func (m *reportingMetrics) IncBatchesStarted(ctx context.Context) {
	m.batchesStarted.Add(ctx, 1)
}

func (m *reportingMetrics) IncBatchesFinished(ctx context.Context, status domain.BatchStatus) {
	m.batchesFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status.String())))
}

func (m *reportingMetrics) ObserveItem(ctx context.Context, itemType domain.ItemType, status domain.ItemStatus, renderTime time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("item_type", itemType.String()),
		attribute.String("status", status.String()),
	)
	m.itemsProcessed.Add(ctx, 1, attrs)
	m.renderTime.Record(ctx, renderTime.Seconds(), attrs)
}

func (m *reportingMetrics) IncStorageRetries(ctx context.Context) {
	m.storageRetries.Add(ctx, 1)
}

func (m *reportingMetrics) SetActiveWorkers(ctx context.Context, delta int) {
	m.activeWorkers.Add(ctx, int64(delta))
}

func (m *reportingMetrics) IncStalledBatches(ctx context.Context) {
	m.stalledBatches.Add(ctx, 1)
}

func (m *reportingMetrics) IncDistribution(ctx context.Context, channel domain.Channel, status domain.DistributionStatus) {
	m.distributions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel.String()),
		attribute.String("status", status.String()),
	))
}
