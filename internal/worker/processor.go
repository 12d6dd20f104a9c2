// Package worker relays queued index tasks to the catalog service.
package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/gallerydrop/internal/catalog"
	"github.com/dharsanguruparan/gallerydrop/internal/queue"
)

// Processor is plugged into the asynq worker loop.
type Processor struct {
	catalog catalog.Finalizer
	log     logrus.FieldLogger
}

// NewProcessor constructs a worker processor forwarding to fin.
func NewProcessor(fin catalog.Finalizer, log logrus.FieldLogger) *Processor {
	return &Processor{catalog: fin, log: log}
}

// Handler registers the index job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.IndexBatchTask, p.handleIndex)
	return mux
}

func (p *Processor) handleIndex(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeIndex(task)
	if err != nil {
		// A payload that cannot be decoded will never succeed.
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	log := p.log.WithFields(logrus.Fields{"batch": payload.BatchID, "count": payload.Count})
	if payload.Count <= 0 {
		log.Info("nothing to index")
		return nil
	}
	if err := p.catalog.Finalize(ctx, payload.BatchID, payload.Count); err != nil {
		log.WithError(err).Warn("index failed")
		return err
	}
	log.Info("batch indexed")
	return nil
}
