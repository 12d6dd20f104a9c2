// Package catalog announces finished batches to the gallery catalog service.
package catalog

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/gallerydrop/internal/queue"
	"github.com/dharsanguruparan/gallerydrop/internal/signing"
)

// Finalizer makes a batch's uploaded files visible in the catalog. It is
// called at most once per batch and never retried by the caller.
type Finalizer interface {
	Finalize(ctx context.Context, batchID string, successCount int) error
}

// IndexRequest is the JSON body sent to the catalog.
type IndexRequest struct {
	BatchID string `json:"batchId"`
	Count   int    `json:"count"`
}

// HTTPFinalizer posts the batch summary to the catalog endpoint.
type HTTPFinalizer struct {
	client *resty.Client
	url    string
	signer *signing.Signer
}

// NewHTTP returns a finalizer posting to url. signer may be nil.
func NewHTTP(url string, signer *signing.Signer, log logrus.FieldLogger) *HTTPFinalizer {
	return &HTTPFinalizer{client: resty.New().SetLogger(log), url: url, signer: signer}
}

func (f *HTTPFinalizer) Finalize(ctx context.Context, batchID string, successCount int) error {
	req := f.client.R().
		SetContext(ctx).
		SetBody(IndexRequest{BatchID: batchID, Count: successCount})
	if f.signer != nil {
		req.SetHeaders(f.signer.Headers(batchID + ":" + strconv.Itoa(successCount)))
	}
	resp, err := req.Post(f.url)
	if err != nil {
		return fmt.Errorf("index batch %s: %w", batchID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("index batch %s: catalog answered HTTP %d", batchID, resp.StatusCode())
	}
	return nil
}

// QueueFinalizer defers the catalog call to the relay worker.
type QueueFinalizer struct {
	client queue.Enqueuer
}

// NewQueue wraps an asynq client.
func NewQueue(client queue.Enqueuer) *QueueFinalizer {
	return &QueueFinalizer{client: client}
}

func (f *QueueFinalizer) Finalize(ctx context.Context, batchID string, successCount int) error {
	return queue.EnqueueIndex(ctx, f.client, queue.IndexPayload{BatchID: batchID, Count: successCount})
}

// Nop is used when no catalog is configured.
type Nop struct{}

func (Nop) Finalize(context.Context, string, int) error { return nil }
