// Package uploader runs a batch of items through a transport with a bounded
// number of transfers in flight.
//
// All item state is owned by a single loop goroutine started by Submit.
// Transfers run in their own goroutines and report progress and completion
// back to the loop as events, so no item is ever written from two places.
// Observers read immutable snapshots published by the loop.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/gallerydrop/internal/catalog"
	"github.com/dharsanguruparan/gallerydrop/internal/merge"
	"github.com/dharsanguruparan/gallerydrop/internal/model"
	"github.com/dharsanguruparan/gallerydrop/internal/transport"
)

// DefaultConcurrency is used when Options.Concurrency is not positive.
const DefaultConcurrency = 3

// ErrAlreadySubmitted is returned by every Submit call after the first.
var ErrAlreadySubmitted = errors.New("batch already submitted")

// FinalizeError reports a failed catalog call. Item results are unaffected.
type FinalizeError struct {
	BatchID string
	Count   int
	Err     error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("finalize batch %s (%d files): %v", e.BatchID, e.Count, e.Err)
}

func (e *FinalizeError) Unwrap() error {
	return e.Err
}

// Options tune an Orchestrator.
type Options struct {
	Concurrency int
	// OnUpdate is called from the orchestration loop after every status or
	// progress change. It must not block for long.
	OnUpdate func(model.ItemUpdate)
	Logger   logrus.FieldLogger
	Now      func() time.Time
}

// Orchestrator submits one batch exactly once.
type Orchestrator struct {
	batch     *model.UploadBatch
	transport transport.Transport
	finalizer catalog.Finalizer
	limit     int
	onUpdate  func(model.ItemUpdate)
	log       logrus.FieldLogger
	now       func() time.Time

	submitted  atomic.Bool
	cancel     chan struct{}
	cancelOnce sync.Once
	snapshot   atomic.Pointer[[]model.ItemSnapshot]
}

// New prepares batch for submission. A nil finalizer disables the catalog call.
func New(batch *model.UploadBatch, tr transport.Transport, fin catalog.Finalizer, opts Options) *Orchestrator {
	o := &Orchestrator{
		batch:     batch,
		transport: tr,
		finalizer: fin,
		limit:     opts.Concurrency,
		onUpdate:  opts.OnUpdate,
		log:       opts.Logger,
		now:       opts.Now,
		cancel:    make(chan struct{}),
	}
	if o.limit <= 0 {
		o.limit = DefaultConcurrency
	}
	if o.finalizer == nil {
		o.finalizer = catalog.Nop{}
	}
	if o.log == nil {
		o.log = logrus.StandardLogger()
	}
	if o.now == nil {
		o.now = time.Now
	}
	o.log = o.log.WithField("batch", batch.ID)
	snap := batch.Snapshot()
	o.snapshot.Store(&snap)
	return o
}

// Snapshot returns the latest published item states in batch order.
func (o *Orchestrator) Snapshot() []model.ItemSnapshot {
	return slices.Clone(*o.snapshot.Load())
}

// Cancel stops admission, aborts in-flight transfers and fails pending items.
// It may be called any number of times, before or during Submit.
func (o *Orchestrator) Cancel() {
	o.cancelOnce.Do(func() { close(o.cancel) })
}

// Cancelled reports whether Cancel has been called.
func (o *Orchestrator) Cancelled() bool {
	select {
	case <-o.cancel:
		return true
	default:
		return false
	}
}

type event struct {
	index    int
	progress int
	done     bool
	err      error
}

// Submit transfers every pending item and blocks until all are terminal.
// Cancelling ctx has the same effect as Cancel. When at least one item
// completed the finalizer is called once with ctx; its failure is returned as
// a *FinalizeError together with the result.
func (o *Orchestrator) Submit(ctx context.Context) (model.BatchResult, error) {
	if !o.submitted.CompareAndSwap(false, true) {
		return model.BatchResult{}, ErrAlreadySubmitted
	}
	submittedAt := o.now()
	transferCtx, abort := context.WithCancel(ctx)
	defer abort()

	var queue []int
	for i, item := range o.batch.Items {
		if item.Status == model.StatusPending {
			queue = append(queue, i)
		}
	}
	o.log.WithFields(logrus.Fields{"items": len(queue), "concurrency": o.limit}).Info("batch submitted")

	events := make(chan event)
	cancelCh, ctxDone := o.cancel, ctx.Done()
	stopped := false
	active := 0
	for {
		if !stopped && o.stopRequested(ctx) {
			stopped = true
			abort()
			o.cancelPending(queue)
			queue = nil
		}
		// The flag is checked again before every admission; OnUpdate may
		// cancel while slots are being filled.
		for len(queue) > 0 && active < o.limit && !o.stopRequested(ctx) {
			idx := queue[0]
			queue = queue[1:]
			o.admit(transferCtx, idx, submittedAt, events)
			active++
		}
		if active == 0 && len(queue) == 0 {
			break
		}
		select {
		case ev := <-events:
			if ev.done {
				active--
				o.settle(ev)
			} else {
				o.advance(ev)
			}
		case <-cancelCh:
			cancelCh = nil
		case <-ctxDone:
			ctxDone = nil
		}
	}

	result := o.tally()
	o.log.WithFields(logrus.Fields{"success": result.SuccessCount, "failed": result.FailCount}).Info("batch settled")
	if result.SuccessCount == 0 {
		return result, nil
	}
	if err := o.finalizer.Finalize(ctx, o.batch.ID, result.SuccessCount); err != nil {
		o.log.WithError(err).Warn("finalize failed")
		return result, &FinalizeError{BatchID: o.batch.ID, Count: result.SuccessCount, Err: err}
	}
	return result, nil
}

func (o *Orchestrator) stopRequested(ctx context.Context) bool {
	return o.Cancelled() || ctx.Err() != nil
}

func (o *Orchestrator) admit(ctx context.Context, idx int, submittedAt time.Time, events chan<- event) {
	item := o.batch.Items[idx]
	payload := merge.Resolve(o.batch.ID, o.batch.Metadata, item, submittedAt)
	item.Status = model.StatusUploading
	item.Progress = 0
	o.publish(item)
	o.itemLog(item).WithField("date_source", payload.DateSource).Debug("transfer started")

	go func() {
		finished := make(chan struct{})
		report := func(pct int) {
			select {
			case events <- event{index: idx, progress: pct}:
			case <-finished:
			}
		}
		err := o.transport.Transfer(ctx, payload, report)
		close(finished)
		events <- event{index: idx, done: true, err: err}
	}()
}

func (o *Orchestrator) advance(ev event) {
	item := o.batch.Items[ev.index]
	if item.Status != model.StatusUploading || ev.progress <= item.Progress || ev.progress >= 100 {
		return
	}
	item.Progress = ev.progress
	o.publish(item)
}

func (o *Orchestrator) settle(ev event) {
	item := o.batch.Items[ev.index]
	item.Progress = 100
	if ev.err == nil {
		item.Status = model.StatusCompleted
		o.itemLog(item).Info("transfer completed")
	} else {
		item.Status = model.StatusError
		item.ErrorKind, item.Error = transport.Classify(ev.err)
		o.itemLog(item).WithError(ev.err).WithField("kind", item.ErrorKind).Warn("transfer failed")
	}
	o.publish(item)
}

func (o *Orchestrator) cancelPending(queue []int) {
	for _, idx := range queue {
		item := o.batch.Items[idx]
		item.Status = model.StatusError
		item.ErrorKind = model.KindCancelled
		item.Error = model.CancelledMessage
		item.Progress = 100
		o.publish(item)
	}
	if len(queue) > 0 {
		o.log.WithField("items", len(queue)).Info("pending items cancelled")
	}
}

func (o *Orchestrator) tally() model.BatchResult {
	var result model.BatchResult
	for _, item := range o.batch.Items {
		switch item.Status {
		case model.StatusCompleted:
			result.SuccessCount++
		case model.StatusError:
			result.FailCount++
		}
	}
	return result
}

func (o *Orchestrator) publish(item *model.UploadItem) {
	snap := o.batch.Snapshot()
	o.snapshot.Store(&snap)
	if o.onUpdate != nil {
		o.onUpdate(model.ItemUpdate{BatchID: o.batch.ID, Item: item.Snapshot()})
	}
}

func (o *Orchestrator) itemLog(item *model.UploadItem) logrus.FieldLogger {
	return o.log.WithFields(logrus.Fields{"item": item.ID, "file": item.FileName()})
}
