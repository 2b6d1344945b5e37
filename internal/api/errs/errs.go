// Package errs maps failures to the JSON error body returned by the API.
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/term-closure/internal/domain/shared"
)

// Code is the machine-readable error classification in a response body.
type Code string

const (
	InvalidArgument Code = "INVALID_ARGUMENT"
	NotFound        Code = "NOT_FOUND"
	Conflict        Code = "CONFLICT"
	NotReady        Code = "NOT_READY"
	InvalidState    Code = "INVALID_STATE"
	Internal        Code = "INTERNAL"
)

var httpStatus = map[Code]int{
	InvalidArgument: http.StatusBadRequest,
	NotFound:        http.StatusNotFound,
	Conflict:        http.StatusConflict,
	NotReady:        http.StatusPreconditionFailed,
	InvalidState:    http.StatusUnprocessableEntity,
	Internal:        http.StatusInternalServerError,
}

// Error is the response body for every failed request.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// New builds an Error with the given code from err.
func New(code Code, err error) *Error {
	return &Error{Code: code, Message: err.Error()}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// FromDomain classifies err by the domain code in its chain. Errors without a
// domain code are internal; their message is replaced so storage details do
// not leak to clients.
func FromDomain(err error) *Error {
	switch shared.CodeOf(err) {
	case shared.CodeConflict:
		return &Error{Code: Conflict, Message: shared.MessageOf(err)}
	case shared.CodeNotReady:
		return &Error{Code: NotReady, Message: shared.MessageOf(err)}
	case shared.CodeInvalidState:
		return &Error{Code: InvalidState, Message: shared.MessageOf(err)}
	case shared.CodeNotFound:
		return &Error{Code: NotFound, Message: shared.MessageOf(err)}
	default:
		return &Error{Code: Internal, Message: http.StatusText(http.StatusInternalServerError)}
	}
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

// HTTPStatus returns the status code the error is written with.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Encode implements the response encoder contract.
func (e *Error) Encode() ([]byte, string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Check validates a request payload against its validate tags and returns a
// single error naming every offending field.
func Check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
