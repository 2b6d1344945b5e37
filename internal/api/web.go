package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ahrav/term-closure/pkg/common/logger"
)

// Encoder is a response body that knows how to serialize itself.
type Encoder interface {
	Encode() (data []byte, contentType string, err error)
}

// httpStatus lets a response choose its status code. Responses that do not
// implement it are written with 200.
type httpStatus interface {
	HTTPStatus() int
}

// HandlerFunc is the signature every route handler implements.
type HandlerFunc func(ctx context.Context, r *http.Request) Encoder

// handle adapts a HandlerFunc to net/http, writing the returned Encoder.
func handle(log *logger.Logger, h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		resp := h(ctx, r)
		if resp == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		data, contentType, err := resp.Encode()
		if err != nil {
			log.Error(ctx, "Failed to encode response", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		status := http.StatusOK
		if s, ok := resp.(httpStatus); ok {
			status = s.HTTPStatus()
		}

		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = w.Write(data)
	}
}

// jsonResponse encodes any value as JSON with a fixed status.
type jsonResponse struct {
	status int
	body   any
}

func ok(body any) jsonResponse       { return jsonResponse{status: http.StatusOK, body: body} }
func accepted(body any) jsonResponse { return jsonResponse{status: http.StatusAccepted, body: body} }

func (j jsonResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(j.body)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func (j jsonResponse) HTTPStatus() int { return j.status }
