// Package postgres implements the term, roster, batch and distribution stores
// on PostgreSQL using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/term-closure/internal/domain/shared"
	"github.com/ahrav/term-closure/internal/domain/term"
	"github.com/ahrav/term-closure/internal/infra/storage"
)

var _ term.Repository = (*TermStore)(nil)

// TermStore is a PostgreSQL-backed term.Repository.
type TermStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewTermStore creates a TermStore.
func NewTermStore(pool *pgxpool.Pool, tracer trace.Tracer) *TermStore {
	return &TermStore{pool: pool, tracer: tracer}
}

// CreateTerm inserts a term. It is used by seeding and tests; terms are
// otherwise owned by registration workflows.
func (s *TermStore) CreateTerm(ctx context.Context, t *term.Term) error {
	attrs := storage.Attrs(attribute.String("term_id", t.ID.String()))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.term.create_term", attrs, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO terms (id, name, status, updated_at) VALUES ($1, $2, $3, NOW())`,
			t.ID, t.Name, string(t.Status))
		if err != nil {
			return fmt.Errorf("failed to insert term: %w", err)
		}
		return nil
	})
}

func (s *TermStore) GetTerm(ctx context.Context, id uuid.UUID) (*term.Term, error) {
	attrs := storage.Attrs(attribute.String("term_id", id.String()))

	var t *term.Term
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.term.get_term", attrs, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `SELECT id, name, status, updated_at FROM terms WHERE id = $1`, id)
		var err error
		t, err = scanTerm(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.NewNotFound("term %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("failed to get term: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// TransitionStatus moves a term to `to` with a single conditional UPDATE so
// that concurrent callers cannot both succeed.
func (s *TermStore) TransitionStatus(ctx context.Context, id uuid.UUID, from []term.Status, to term.Status) (*term.Term, error) {
	attrs := storage.Attrs(
		attribute.String("term_id", id.String()),
		attribute.String("to_status", to.String()),
	)

	fromStrs := make([]string, 0, len(from))
	for _, f := range from {
		if err := f.ValidateTransition(to); err != nil {
			return nil, &shared.Error{Code: shared.CodeInvalidState, Message: err.Error()}
		}
		fromStrs = append(fromStrs, string(f))
	}

	var t *term.Term
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.term.transition_status", attrs, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `
			UPDATE terms SET status = $2, updated_at = NOW()
			WHERE id = $1 AND status = ANY($3)
			RETURNING id, name, status, updated_at`,
			id, string(to), fromStrs)

		var err error
		t, err = scanTerm(row)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to update term status: %w", err)
		}

		var current string
		if err := s.pool.QueryRow(ctx, `SELECT status FROM terms WHERE id = $1`, id).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return shared.NewNotFound("term %s not found", id)
			}
			return fmt.Errorf("failed to read term status: %w", err)
		}
		return shared.NewInvalidState("term %s is %s, expected one of %v", id, current, from)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func scanTerm(row pgx.Row) (*term.Term, error) {
	var (
		t      term.Term
		status string
	)
	if err := row.Scan(&t.ID, &t.Name, &status, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = term.ParseStatus(status)
	return &t, nil
}
