package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/term-closure/internal/domain/reporting"
	"github.com/ahrav/term-closure/internal/domain/shared"
	"github.com/ahrav/term-closure/internal/infra/storage"
)

var _ reporting.BatchStore = (*BatchStore)(nil)

const activeBatchIndex = "report_batches_one_active_per_term"

// BatchStore is a PostgreSQL-backed reporting.BatchStore. Item status changes
// and the batch counters they affect are written in one transaction.
type BatchStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewBatchStore creates a BatchStore.
func NewBatchStore(pool *pgxpool.Pool, tracer trace.Tracer) *BatchStore {
	return &BatchStore{pool: pool, tracer: tracer}
}

const batchColumns = `id, term_id, name, report_type, requested_by, status, selection, auto_distribute,
	total_item_count, completed_count, failed_count, skipped_count,
	created_at, started_at, completed_at, cancel_requested_at, last_progress_at, distributed_at`

const itemColumns = `id, batch_id, item_type, target_entity_id, subject, priority, status,
	artifact_path, error_detail, attempt_count, started_at, completed_at`

func scanBatch(row pgx.Row, extra ...any) (*reporting.ReportBatch, error) {
	var (
		b                              reporting.ReportBatch
		status                         string
		selection                      []byte
		startedAt, completedAt         pgtype.Timestamptz
		cancelRequestedAt, distributed pgtype.Timestamptz
	)
	dest := []any{
		&b.ID, &b.TermID, &b.Name, &b.ReportType, &b.RequestedBy, &status, &selection, &b.AutoDistribute,
		&b.TotalItemCount, &b.CompletedCount, &b.FailedCount, &b.SkippedCount,
		&b.CreatedAt, &startedAt, &completedAt, &cancelRequestedAt, &b.LastProgressAt, &distributed,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(selection, &b.Selection); err != nil {
		return nil, fmt.Errorf("failed to decode selection: %w", err)
	}

	b.Status = reporting.ParseBatchStatus(status)
	b.StartedAt = startedAt.Time
	b.CompletedAt = completedAt.Time
	if cancelRequestedAt.Valid {
		t := cancelRequestedAt.Time
		b.CancelRequestedAt = &t
	}
	if distributed.Valid {
		t := distributed.Time
		b.DistributedAt = &t
	}
	return &b, nil
}

func scanItem(row pgx.Row) (*reporting.ReportItem, error) {
	var (
		it                     reporting.ReportItem
		typ, status            string
		artifact, detail       pgtype.Text
		startedAt, completedAt pgtype.Timestamptz
	)
	err := row.Scan(&it.ID, &it.BatchID, &typ, &it.TargetEntityID, &it.Subject, &it.Priority, &status,
		&artifact, &detail, &it.AttemptCount, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	it.Type = reporting.ParseItemType(typ)
	it.Status = reporting.ParseItemStatus(status)
	it.ArtifactPath = artifact.String
	it.ErrorDetail = detail.String
	it.StartedAt = startedAt.Time
	it.CompletedAt = completedAt.Time
	return &it, nil
}

func nullTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

func statusStrings[S ~string](in []S) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}

// CreateBatch inserts the batch and its items in one transaction. The partial
// unique index on active batches turns a concurrent second request for the
// same term into a CONFLICT.
func (s *BatchStore) CreateBatch(ctx context.Context, batch *reporting.ReportBatch, items []*reporting.ReportItem) error {
	attrs := storage.Attrs(
		attribute.String("batch_id", batch.ID.String()),
		attribute.String("term_id", batch.TermID.String()),
		attribute.Int("item_count", len(items)),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.reporting.create_batch", attrs, func(ctx context.Context) error {
		selection, err := json.Marshal(batch.Selection)
		if err != nil {
			return fmt.Errorf("failed to encode selection: %w", err)
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		_, err = tx.Exec(ctx, `
			INSERT INTO report_batches (
				id, term_id, name, report_type, requested_by, status, selection, auto_distribute,
				total_item_count, created_at, last_progress_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
			batch.ID, batch.TermID, batch.Name, batch.ReportType, batch.RequestedBy, string(batch.Status),
			selection, batch.AutoDistribute, len(items), batch.CreatedAt)
		if err != nil {
			if storage.IsUniqueViolation(err, activeBatchIndex) {
				return s.activeConflict(ctx, batch.TermID)
			}
			return fmt.Errorf("failed to insert batch: %w", err)
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"report_items"},
			[]string{"id", "batch_id", "item_type", "target_entity_id", "subject", "priority", "status", "attempt_count"},
			pgx.CopyFromSlice(len(items), func(i int) ([]any, error) {
				it := items[i]
				return []any{it.ID, batch.ID, string(it.Type), it.TargetEntityID, it.Subject, it.Priority, string(it.Status), 0}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to insert items: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			if storage.IsUniqueViolation(err, activeBatchIndex) {
				return s.activeConflict(ctx, batch.TermID)
			}
			return fmt.Errorf("failed to commit batch: %w", err)
		}
		batch.TotalItemCount = len(items)
		return nil
	})
}

func (s *BatchStore) activeConflict(ctx context.Context, termID uuid.UUID) error {
	var activeID uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM report_batches
		WHERE term_id = $1 AND status = ANY($2)
		LIMIT 1`, termID, statusStrings(reporting.ActiveBatchStatuses)).Scan(&activeID)
	if err != nil {
		return shared.NewConflict("term %s already has an active report batch", termID)
	}
	return reporting.ActiveBatchConflictError(termID, activeID)
}

func (s *BatchStore) GetBatch(ctx context.Context, id uuid.UUID) (*reporting.ReportBatch, error) {
	attrs := storage.Attrs(attribute.String("batch_id", id.String()))

	var b *reporting.ReportBatch
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.reporting.get_batch", attrs, func(ctx context.Context) error {
		var err error
		b, err = scanBatch(s.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM report_batches WHERE id = $1`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return reporting.BatchNotFoundError(id)
		}
		if err != nil {
			return fmt.Errorf("failed to get batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetProgress reads the batch row and its processing count in one statement,
// so the snapshot is consistent under READ COMMITTED.
func (s *BatchStore) GetProgress(ctx context.Context, id uuid.UUID) (*reporting.Progress, error) {
	attrs := storage.Attrs(attribute.String("batch_id", id.String()))

	var p *reporting.Progress
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.reporting.get_progress", attrs, func(ctx context.Context) error {
		var processing int
		b, err := scanBatch(s.pool.QueryRow(ctx, `
			SELECT `+batchColumns+`,
				(SELECT COUNT(*) FROM report_items i WHERE i.batch_id = b.id AND i.status = 'PROCESSING')
			FROM report_batches b WHERE b.id = $1`, id), &processing)
		if errors.Is(err, pgx.ErrNoRows) {
			return reporting.BatchNotFoundError(id)
		}
		if err != nil {
			return fmt.Errorf("failed to get batch progress: %w", err)
		}
		p = reporting.NewProgress(b, processing)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *BatchStore) LatestBatchForTerm(ctx context.Context, termID uuid.UUID) (*reporting.ReportBatch, error) {
	attrs := storage.Attrs(attribute.String("term_id", termID.String()))

	var b *reporting.ReportBatch
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.reporting.latest_batch_for_term", attrs, func(ctx context.Context) error {
		var err error
		b, err = scanBatch(s.pool.QueryRow(ctx, `
			SELECT `+batchColumns+` FROM report_batches
			WHERE term_id = $1 ORDER BY seq DESC LIMIT 1`, termID))
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.NewNotFound("term %s has no report batches", termID)
		}
		if err != nil {
			return fmt.Errorf("failed to get latest batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BatchStore) ListBatchesForTerm(ctx context.Context, termID uuid.UUID) ([]*reporting.ReportBatch, error) {
	return s.listBatches(ctx, "postgres.reporting.list_batches_for_term",
		storage.Attrs(attribute.String("term_id", termID.String())),
		`SELECT `+batchColumns+` FROM report_batches WHERE term_id = $1 ORDER BY seq DESC`, termID)
}

func (s *BatchStore) ListBatchesByStatus(ctx context.Context, statuses ...reporting.BatchStatus) ([]*reporting.ReportBatch, error) {
	return s.listBatches(ctx, "postgres.reporting.list_batches_by_status",
		storage.Attrs(attribute.StringSlice("statuses", statusStrings(statuses))),
		`SELECT `+batchColumns+` FROM report_batches WHERE status = ANY($1) ORDER BY seq DESC`, statusStrings(statuses))
}

func (s *BatchStore) ListStalledBatches(ctx context.Context, cutoff time.Time) ([]*reporting.ReportBatch, error) {
	return s.listBatches(ctx, "postgres.reporting.list_stalled_batches",
		storage.Attrs(attribute.String("cutoff", cutoff.Format(time.RFC3339))),
		`SELECT `+batchColumns+` FROM report_batches
		WHERE status = 'IN_PROGRESS' AND last_progress_at < $1 ORDER BY seq DESC`, cutoff)
}

func (s *BatchStore) listBatches(
	ctx context.Context,
	spanName string,
	attrs []attribute.KeyValue,
	query string,
	args ...any,
) ([]*reporting.ReportBatch, error) {
	var out []*reporting.ReportBatch
	err := storage.ExecuteAndTrace(ctx, s.tracer, spanName, attrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to list batches: %w", err)
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*reporting.ReportBatch, error) {
			return scanBatch(row)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lockBatch reads a batch row FOR UPDATE along with its processing count.
func lockBatch(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*reporting.ReportBatch, int, error) {
	var processing int
	b, err := scanBatch(tx.QueryRow(ctx, `
		SELECT `+batchColumns+`,
			(SELECT COUNT(*) FROM report_items i WHERE i.batch_id = b.id AND i.status = 'PROCESSING')
		FROM report_batches b WHERE b.id = $1
		FOR UPDATE`, id), &processing)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, reporting.BatchNotFoundError(id)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to lock batch: %w", err)
	}
	return b, processing, nil
}

// inTx runs fn in a transaction, committing on success.
func (s *BatchStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func updateBatchRow(ctx context.Context, tx pgx.Tx, b *reporting.ReportBatch) error {
	var cancelAt, distributedAt pgtype.Timestamptz
	if b.CancelRequestedAt != nil {
		cancelAt = nullTime(*b.CancelRequestedAt)
	}
	if b.DistributedAt != nil {
		distributedAt = nullTime(*b.DistributedAt)
	}
	_, err := tx.Exec(ctx, `
		UPDATE report_batches SET
			status = $2, completed_count = $3, failed_count = $4, skipped_count = $5,
			started_at = $6, completed_at = $7, cancel_requested_at = $8,
			last_progress_at = $9, distributed_at = $10
		WHERE id = $1`,
		b.ID, string(b.Status), b.CompletedCount, b.FailedCount, b.SkippedCount,
		nullTime(b.StartedAt), nullTime(b.CompletedAt), cancelAt, b.LastProgressAt, distributedAt)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	return nil
}

func (s *BatchStore) TransitionBatch(
	ctx context.Context,
	id uuid.UUID,
	from []reporting.BatchStatus,
	to reporting.BatchStatus,
	at time.Time,
) (*reporting.ReportBatch, error) {
	attrs := storage.Attrs(
		attribute.String("batch_id", id.String()),
		attribute.String("to_status", to.String()),
	)

	var out *reporting.ReportBatch
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.reporting.transition_batch", attrs, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx pgx.Tx) error {
			b, processing, err := lockBatch(ctx, tx, id)
			if err != nil {
				return err
			}
			if !slices.Contains(from, b.Status) {
				return shared.NewInvalidState("batch %s is %s, expected one of %v", id, b.Status, from)
			}
			if err := b.Status.ValidateTransition(to); err != nil {
				return &shared.Error{Code: shared.CodeInvalidState, Message: err.Error()}
			}
			if to.IsTerminal() && (b.PendingCount() > 0 || processing > 0) {
				return shared.NewInvalidState("batch %s still has %d unfinished items", id, b.PendingCount())
			}

			b.Status = to
			switch to {
			case reporting.BatchStatusInProgress:
				b.StartedAt = at
				b.LastProgressAt = at
			case reporting.BatchStatusCompleted, reporting.BatchStatusCancelled:
				if b.StartedAt.IsZero() {
					b.StartedAt = at
				}
				b.CompletedAt = at
			}
			if err := updateBatchRow(ctx, tx, b); err != nil {
				return err
			}
			out = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BatchStore) RequestCancel(ctx context.Context, id uuid.UUID, at time.Time) (*reporting.ReportBatch, error) {
	attrs := storage.Attrs(attribute.String("batch_id", id.String()))

	var out *reporting.ReportBatch
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.reporting.request_cancel", attrs, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx pgx.Tx) error {
			b, _, err := lockBatch(ctx, tx, id)
			if err != nil {
				return err
			}
			switch b.Status {
			case reporting.BatchStatusCancelling, reporting.BatchStatusCancelled:
				out = b
				return nil
			case reporting.BatchStatusCompleted:
				return shared.NewInvalidState("batch %s already completed", id)
			}

			b.Status = reporting.BatchStatusCancelling
			t := at
			b.CancelRequestedAt = &t
			if err := updateBatchRow(ctx, tx, b); err != nil {
				return err
			}
			out = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimNextItem atomically moves the highest-priority PENDING item of an
// IN_PROGRESS batch to PROCESSING. SKIP LOCKED lets concurrent workers claim
// different items without waiting on each other. The batch row is held FOR
// SHARE so a concurrent cancel, which locks it FOR UPDATE, either commits
// first and hides the item or waits until the claim is visible to its
// processing count.
func (s *BatchStore) ClaimNextItem(ctx context.Context, batchID uuid.UUID, at time.Time) (*reporting.ReportItem, error) {
	attrs := storage.Attrs(attribute.String("batch_id", batchID.String()))

	var item *reporting.ReportItem
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.reporting.claim_next_item", attrs, func(ctx context.Context) error {
		var err error
		item, err = scanItem(s.pool.QueryRow(ctx, `
			UPDATE report_items SET status = 'PROCESSING', attempt_count = attempt_count + 1, started_at = $2
			WHERE id = (
				SELECT i.id FROM report_items i
				JOIN report_batches b ON b.id = i.batch_id
				WHERE i.batch_id = $1 AND i.status = 'PENDING' AND b.status = 'IN_PROGRESS'
				ORDER BY i.priority, i.seq
				LIMIT 1
				FOR UPDATE OF i SKIP LOCKED
				FOR SHARE OF b
			)
			RETURNING `+itemColumns, batchID, at))
		if errors.Is(err, pgx.ErrNoRows) {
			return reporting.ErrNoClaimableItem
		}
		if err != nil {
			return fmt.Errorf("failed to claim item: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *BatchStore) RecordItemResult(ctx context.Context, result reporting.ItemResult) error {
	attrs := storage.Attrs(
		attribute.String("batch_id", result.BatchID.String()),
		attribute.String("item_id", result.ItemID.String()),
		attribute.String("status", result.Status.String()),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.reporting.record_item_result", attrs, func(ctx context.Context) error {
		if err := reporting.ItemStatusProcessing.ValidateTransition(result.Status); err != nil {
			return err
		}
		return s.inTx(ctx, func(tx pgx.Tx) error {
			// Taken before the counter update so concurrent writers queue here
			// instead of upgrading a shared lock.
			var status string
			err := tx.QueryRow(ctx,
				`SELECT status FROM report_batches WHERE id = $1 FOR NO KEY UPDATE`, result.BatchID).Scan(&status)
			if errors.Is(err, pgx.ErrNoRows) {
				return reporting.BatchNotFoundError(result.BatchID)
			}
			if err != nil {
				return fmt.Errorf("failed to read batch status: %w", err)
			}
			if st := reporting.BatchStatus(status); st.IsTerminal() {
				return shared.NewInvalidState("batch %s is %s; item results are no longer accepted", result.BatchID, st)
			}

			n, err := applyResult(ctx, tx, result)
			if err != nil {
				return err
			}
			if n == 0 {
				return reporting.ErrItemNotProcessing
			}
			return nil
		})
	})
}

// applyResult settles one PROCESSING item and bumps the matching batch
// counter. It returns the number of items changed (0 or 1).
func applyResult(ctx context.Context, tx pgx.Tx, r reporting.ItemResult) (int64, error) {
	var artifact, detail pgtype.Text
	switch r.Status {
	case reporting.ItemStatusCompleted:
		artifact = pgtype.Text{String: r.ArtifactPath, Valid: true}
	case reporting.ItemStatusFailed:
		detail = pgtype.Text{String: reporting.TruncateDetail(r.ErrorDetail), Valid: true}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE report_items SET status = $3, artifact_path = $4, error_detail = $5, completed_at = $6
		WHERE id = $1 AND batch_id = $2 AND status = 'PROCESSING'`,
		r.ItemID, r.BatchID, string(r.Status), artifact, detail, r.At)
	if err != nil {
		return 0, fmt.Errorf("failed to update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, nil
	}

	completed, failed := 0, 0
	if r.Status == reporting.ItemStatusCompleted {
		completed = 1
	} else {
		failed = 1
	}
	if _, err := tx.Exec(ctx, `
		UPDATE report_batches SET
			completed_count = completed_count + $2,
			failed_count = failed_count + $3,
			last_progress_at = $4
		WHERE id = $1`, r.BatchID, completed, failed, r.At); err != nil {
		return 0, fmt.Errorf("failed to update batch counters: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *BatchStore) FinalizeBatch(ctx context.Context, id uuid.UUID, at time.Time) (*reporting.ReportBatch, error) {
	attrs := storage.Attrs(attribute.String("batch_id", id.String()))

	var out *reporting.ReportBatch
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.reporting.finalize_batch", attrs, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx pgx.Tx) error {
			b, processing, err := lockBatch(ctx, tx, id)
			if err != nil {
				return err
			}
			out = b
			if processing > 0 {
				return nil
			}

			switch b.Status {
			case reporting.BatchStatusCancelling:
				tag, err := tx.Exec(ctx, `
					UPDATE report_items SET status = 'SKIPPED', completed_at = $2
					WHERE batch_id = $1 AND status = 'PENDING'`, id, at)
				if err != nil {
					return fmt.Errorf("failed to skip pending items: %w", err)
				}
				b.SkippedCount += int(tag.RowsAffected())
				b.Status = reporting.BatchStatusCancelled
			case reporting.BatchStatusInProgress:
				if b.PendingCount() > 0 {
					return nil
				}
				b.Status = reporting.BatchStatusCompleted
			default:
				return nil
			}

			if b.StartedAt.IsZero() {
				b.StartedAt = at
			}
			b.CompletedAt = at
			b.LastProgressAt = at
			return updateBatchRow(ctx, tx, b)
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BatchStore) FailProcessingItems(ctx context.Context, batchID uuid.UUID, reason string, at time.Time) (int, error) {
	attrs := storage.Attrs(attribute.String("batch_id", batchID.String()))

	var n int
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.reporting.fail_processing_items", attrs, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx pgx.Tx) error {
			if _, _, err := lockBatch(ctx, tx, batchID); err != nil {
				return err
			}
			tag, err := tx.Exec(ctx, `
				UPDATE report_items SET status = 'FAILED', error_detail = $2, completed_at = $3
				WHERE batch_id = $1 AND status = 'PROCESSING'`,
				batchID, reporting.TruncateDetail(reason), at)
			if err != nil {
				return fmt.Errorf("failed to fail processing items: %w", err)
			}
			n = int(tag.RowsAffected())
			if n == 0 {
				return nil
			}
			_, err = tx.Exec(ctx, `
				UPDATE report_batches SET failed_count = failed_count + $2, last_progress_at = $3
				WHERE id = $1`, batchID, n, at)
			if err != nil {
				return fmt.Errorf("failed to update batch counters: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *BatchStore) ListItems(ctx context.Context, batchID uuid.UUID, status reporting.ItemStatus) ([]*reporting.ReportItem, error) {
	attrs := storage.Attrs(
		attribute.String("batch_id", batchID.String()),
		attribute.String("status", status.String()),
	)

	var out []*reporting.ReportItem
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.reporting.list_items", attrs, func(ctx context.Context) error {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM report_batches WHERE id = $1)`, batchID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check batch: %w", err)
		}
		if !exists {
			return reporting.BatchNotFoundError(batchID)
		}

		rows, err := s.pool.Query(ctx, `
			SELECT `+itemColumns+` FROM report_items
			WHERE batch_id = $1 AND ($2 = '' OR status = $2)
			ORDER BY priority, seq`, batchID, string(status))
		if err != nil {
			return fmt.Errorf("failed to list items: %w", err)
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*reporting.ReportItem, error) {
			return scanItem(row)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BatchStore) CountItemsByType(ctx context.Context, batchID uuid.UUID) (map[reporting.ItemType]reporting.TypeCounts, error) {
	attrs := storage.Attrs(attribute.String("batch_id", batchID.String()))

	counts := make(map[reporting.ItemType]reporting.TypeCounts)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.reporting.count_items_by_type", attrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT item_type, status, COUNT(*) FROM report_items
			WHERE batch_id = $1 GROUP BY item_type, status`, batchID)
		if err != nil {
			return fmt.Errorf("failed to count items: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				typ, status string
				n           int
			)
			if err := rows.Scan(&typ, &status, &n); err != nil {
				return fmt.Errorf("failed to scan item counts: %w", err)
			}
			t := reporting.ParseItemType(typ)
			c := counts[t]
			c.Add(reporting.ParseItemStatus(status), n)
			counts[t] = c
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *BatchStore) MarkDistributed(ctx context.Context, batchID uuid.UUID, at time.Time) error {
	attrs := storage.Attrs(attribute.String("batch_id", batchID.String()))

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.reporting.mark_distributed", attrs, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `UPDATE report_batches SET distributed_at = $2 WHERE id = $1`, batchID, at)
		if err != nil {
			return fmt.Errorf("failed to mark batch distributed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return reporting.BatchNotFoundError(batchID)
		}
		return nil
	})
}
