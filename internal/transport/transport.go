// Package transport delivers one merged payload to the upload endpoint and
// reports its outcome in terms the orchestrator can classify.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/dharsanguruparan/gallerydrop/internal/merge"
	"github.com/dharsanguruparan/gallerydrop/internal/model"
)

// ProgressFunc receives transfer progress as a percentage. Values only
// increase and stay below 100 until the endpoint has answered.
type ProgressFunc func(percent int)

// Transport sends a single file with its metadata.
type Transport interface {
	Transfer(ctx context.Context, p merge.Payload, progress ProgressFunc) error
}

// ErrPayloadTooLarge means the endpoint refused the file because of its size.
var ErrPayloadTooLarge = errors.New("payload too large")

// ServerError is any other non-2xx answer.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server error (HTTP %d)", e.StatusCode)
	}
	return fmt.Sprintf("server error (HTTP %d): %s", e.StatusCode, e.Body)
}

// RejectedError is an explicit per-file refusal carried in a 200 answer.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return "rejected by server"
	}
	return e.Reason
}

// NetworkError means no response was received.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// TooLargeMessage is shown for files the endpoint refused by size.
const TooLargeMessage = "file exceeds the server's size limit; reduce the file size and try again"

// Classify maps a transfer error to its kind and a short human-readable
// message. A nil error yields empty values.
func Classify(err error) (model.ErrorKind, string) {
	var (
		rejected *RejectedError
		server   *ServerError
		network  *NetworkError
	)
	switch {
	case err == nil:
		return "", ""
	case errors.Is(err, context.Canceled):
		return model.KindCancelled, model.CancelledMessage
	case errors.Is(err, ErrPayloadTooLarge):
		return model.KindPayloadTooLarge, TooLargeMessage
	case errors.As(err, &rejected):
		return model.KindServerRejected, rejected.Error()
	case errors.As(err, &server):
		return model.KindServerRejected, fmt.Sprintf("server error (HTTP %d)", server.StatusCode)
	case errors.As(err, &network):
		return model.KindTransportFailed, network.Error()
	default:
		return model.KindTransportFailed, err.Error()
	}
}
