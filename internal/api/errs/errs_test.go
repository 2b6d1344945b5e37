package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/term-closure/internal/domain/shared"
)

func TestFromDomain(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   Code
		wantStatus int
		wantMsg    string
	}{
		{"conflict", shared.NewConflict("term already has an active batch"), Conflict, http.StatusConflict, "term already has an active batch"},
		{"not ready", fmt.Errorf("wrapped: %w", shared.NewNotReady("2 STUDENT_REPORT failed")), NotReady, http.StatusPreconditionFailed, "2 STUDENT_REPORT failed"},
		{"invalid state", shared.NewInvalidState("term is CLOSED"), InvalidState, http.StatusUnprocessableEntity, "term is CLOSED"},
		{"not found", shared.NewNotFound("batch x not found"), NotFound, http.StatusNotFound, "batch x not found"},
		{"internal hides detail", errors.New("pq: connection refused"), Internal, http.StatusInternalServerError, "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := FromDomain(tt.err)
			assert.Equal(t, tt.wantCode, e.Code)
			assert.Equal(t, tt.wantStatus, e.HTTPStatus())
			assert.Equal(t, tt.wantMsg, e.Message)
		})
	}
}

func TestEncode(t *testing.T) {
	body, contentType, err := New(InvalidArgument, errors.New("bad uuid")).Encode()
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
	assert.JSONEq(t, `{"code":"INVALID_ARGUMENT","message":"bad uuid"}`, string(body))
}

func TestCheck(t *testing.T) {
	type req struct {
		RequestedBy string `json:"requested_by" validate:"required,max=8"`
	}
	assert.NoError(t, Check(req{RequestedBy: "admin"}))

	err := Check(req{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RequestedBy failed on required")

	err = Check(req{RequestedBy: "much-too-long"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max")
}
