package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/term-closure/internal/domain/reporting"
	"github.com/ahrav/term-closure/internal/infra/storage"
)

var _ reporting.DistributionStore = (*DistributionStore)(nil)

// DistributionStore persists distribution tasks keyed by (source item,
// channel).
type DistributionStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewDistributionStore creates a DistributionStore.
func NewDistributionStore(pool *pgxpool.Pool, tracer trace.Tracer) *DistributionStore {
	return &DistributionStore{pool: pool, tracer: tracer}
}

const taskColumns = `id, batch_id, source_item_id, channel, recipient, status, attempts, last_error, updated_at`

func scanTask(row pgx.Row) (*reporting.DistributionTask, error) {
	var (
		t               reporting.DistributionTask
		channel, status string
	)
	if err := row.Scan(&t.ID, &t.BatchID, &t.SourceItemID, &channel, &t.Recipient, &status,
		&t.Attempts, &t.LastError, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Channel = reporting.Channel(channel)
	t.Status = reporting.DistributionStatus(status)
	return &t, nil
}

// EnsureTask inserts the task unless one already exists for its item and
// channel, and returns the stored row either way.
func (s *DistributionStore) EnsureTask(ctx context.Context, task *reporting.DistributionTask) (*reporting.DistributionTask, error) {
	attrs := storage.Attrs(
		attribute.String("item_id", task.SourceItemID.String()),
		attribute.String("channel", task.Channel.String()),
	)

	var out *reporting.DistributionTask
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.distribution.ensure_task", attrs, func(ctx context.Context) error {
		// The no-op update makes RETURNING yield the existing row on conflict.
		var err error
		out, err = scanTask(s.pool.QueryRow(ctx, `
			INSERT INTO distribution_tasks (`+taskColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (source_item_id, channel) DO UPDATE SET channel = EXCLUDED.channel
			RETURNING `+taskColumns,
			task.ID, task.BatchID, task.SourceItemID, string(task.Channel), task.Recipient,
			string(task.Status), task.Attempts, task.LastError, task.UpdatedAt))
		if err != nil {
			return fmt.Errorf("failed to ensure distribution task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *DistributionStore) UpdateTask(ctx context.Context, task *reporting.DistributionTask) error {
	attrs := storage.Attrs(
		attribute.String("task_id", task.ID.String()),
		attribute.String("status", task.Status.String()),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.distribution.update_task", attrs, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `
			UPDATE distribution_tasks SET recipient = $2, status = $3, attempts = $4, last_error = $5, updated_at = $6
			WHERE id = $1`,
			task.ID, task.Recipient, string(task.Status), task.Attempts, reporting.TruncateDetail(task.LastError), task.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update distribution task: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return reporting.ErrTaskNotFound
		}
		return nil
	})
}

func (s *DistributionStore) ListTasks(ctx context.Context, batchID uuid.UUID) ([]*reporting.DistributionTask, error) {
	attrs := storage.Attrs(attribute.String("batch_id", batchID.String()))

	var out []*reporting.DistributionTask
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.distribution.list_tasks", attrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM distribution_tasks WHERE batch_id = $1 ORDER BY seq`, batchID)
		if err != nil {
			return fmt.Errorf("failed to list distribution tasks: %w", err)
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*reporting.DistributionTask, error) {
			return scanTask(row)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
