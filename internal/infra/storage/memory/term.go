package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/term-closure/internal/domain/shared"
	"github.com/ahrav/term-closure/internal/domain/term"
)

var _ term.Repository = (*TermStore)(nil)

// TermStore is an in-memory term.Repository.
type TermStore struct {
	mu    sync.RWMutex
	terms map[uuid.UUID]*term.Term
	now   func() time.Time
}

// NewTermStore creates an empty TermStore.
func NewTermStore() *TermStore {
	return &TermStore{
		terms: make(map[uuid.UUID]*term.Term),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// AddTerm seeds a term.
func (s *TermStore) AddTerm(t *term.Term) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *t
	s.terms[t.ID] = &c
}

func (s *TermStore) GetTerm(ctx context.Context, id uuid.UUID) (*term.Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.terms[id]
	if !ok {
		return nil, shared.NewNotFound("term %s not found", id)
	}
	c := *t
	return &c, nil
}

func (s *TermStore) TransitionStatus(ctx context.Context, id uuid.UUID, from []term.Status, to term.Status) (*term.Term, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.terms[id]
	if !ok {
		return nil, shared.NewNotFound("term %s not found", id)
	}
	if !slices.Contains(from, t.Status) {
		return nil, shared.NewInvalidState("term %s is %s", id, t.Status)
	}
	if err := t.Status.ValidateTransition(to); err != nil {
		return nil, &shared.Error{Code: shared.CodeInvalidState, Message: err.Error()}
	}

	t.Status = to
	t.UpdatedAt = s.now()
	c := *t
	return &c, nil
}
