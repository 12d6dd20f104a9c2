// Package ingest ties the pipeline stages together: validation, per-file
// extraction and transcoding, then bounded submission.
package ingest

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/gallerydrop/internal/catalog"
	"github.com/dharsanguruparan/gallerydrop/internal/config"
	"github.com/dharsanguruparan/gallerydrop/internal/exifdate"
	"github.com/dharsanguruparan/gallerydrop/internal/model"
	"github.com/dharsanguruparan/gallerydrop/internal/transcode"
	"github.com/dharsanguruparan/gallerydrop/internal/transport"
	"github.com/dharsanguruparan/gallerydrop/internal/uploader"
	"github.com/dharsanguruparan/gallerydrop/internal/validate"
)

// ErrBusy is returned when a session is asked to change while submitting.
var ErrBusy = errors.New("batch is being submitted")

// State is the lifecycle stage of a Session.
type State string

const (
	StateOpen       State = "open"
	StateSubmitting State = "submitting"
	StateDone       State = "done"
)

// Pipeline holds the stages shared by every session.
type Pipeline struct {
	Validator   *validate.Validator
	Extractor   *exifdate.Extractor
	Transcoder  *transcode.Transcoder
	Transport   transport.Transport
	Finalizer   catalog.Finalizer
	Concurrency int
	Log         logrus.FieldLogger
	Now         func() time.Time
}

// NewPipeline builds the processing stages from cfg around the given
// transport and finalizer.
func NewPipeline(cfg *config.Config, tr transport.Transport, fin catalog.Finalizer, log logrus.FieldLogger) *Pipeline {
	return &Pipeline{
		Validator:   validate.New(cfg.AllowedTypes, cfg.MaxFileSize),
		Extractor:   exifdate.New(log),
		Transcoder:  transcode.New(cfg.MaxWidth, cfg.MaxHeight, cfg.JPEGQuality),
		Transport:   tr,
		Finalizer:   fin,
		Concurrency: cfg.Concurrency,
		Log:         log,
		Now:         time.Now,
	}
}

// NewSession opens an empty batch with the given defaults.
func (p *Pipeline) NewSession(meta model.BatchMetadata) *Session {
	return &Session{
		p:     p,
		batch: &model.UploadBatch{ID: uuid.NewString(), Metadata: meta},
		state: StateOpen,
	}
}

// AddReport describes what happened to files passed to Session.Add.
type AddReport struct {
	Accepted   []model.ItemSnapshot      `json:"accepted"`
	Rejections []model.Rejection         `json:"rejections,omitempty"`
	Failures   []model.ProcessingFailure `json:"failures,omitempty"`
}

// Session is one batch from file selection to its final result.
type Session struct {
	p *Pipeline

	mu          sync.Mutex
	batch       *model.UploadBatch
	state       State
	orch        *uploader.Orchestrator
	cancelEarly bool
	result      model.BatchResult
	finalizeErr error
}

// ID returns the batch id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batch.ID
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Metadata returns the batch defaults.
func (s *Session) Metadata() model.BatchMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batch.Metadata
}

// SetMetadata replaces the batch defaults. It fails once submission started.
func (s *Session) SetMetadata(meta model.BatchMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}
	s.batch.Metadata = meta
	return nil
}

func (s *Session) editable() error {
	switch s.state {
	case StateSubmitting:
		return ErrBusy
	case StateDone:
		return uploader.ErrAlreadySubmitted
	}
	return nil
}

type prepared struct {
	capture   exifdate.Capture
	processed *model.RawFile
	err       error
}

// Add validates files, then extracts capture times and transcodes the
// accepted ones concurrently. Files that cannot be decoded are reported as
// processing failures and left out of the batch.
func (s *Session) Add(ctx context.Context, files []model.RawFile) (AddReport, error) {
	s.mu.Lock()
	err := s.editable()
	s.mu.Unlock()
	if err != nil {
		return AddReport{}, err
	}

	accepted, rejections := s.p.Validator.Partition(files)
	results := make([]prepared, len(accepted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range accepted {
		i := i
		f := accepted[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i].capture = s.p.Extractor.Extract(f)
			return nil
		})
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, changed, err := s.p.Transcoder.Transcode(f)
			if err != nil {
				results[i].err = err
				return nil
			}
			if changed {
				results[i].processed = &out
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return AddReport{}, err
	}

	report := AddReport{Rejections: rejections}
	items := make([]*model.UploadItem, 0, len(accepted))
	for i, res := range results {
		raw := accepted[i]
		if res.err != nil {
			report.Failures = append(report.Failures, model.ProcessingFailure{FileName: raw.Name, Message: res.err.Error()})
			s.p.Log.WithError(res.err).WithField("file", raw.Name).Warn("dropping file that could not be processed")
			continue
		}
		items = append(items, &model.UploadItem{
			ID:                 uuid.NewString(),
			Raw:                &raw,
			Processed:          res.processed,
			ExtractedTimestamp: res.capture.Timestamp(),
			Status:             model.StatusPending,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return AddReport{}, err
	}
	s.batch.Items = append(s.batch.Items, items...)
	for _, item := range items {
		report.Accepted = append(report.Accepted, item.Snapshot())
	}
	s.p.Log.WithFields(logrus.Fields{
		"batch":    s.batch.ID,
		"accepted": len(items),
		"rejected": len(rejections),
		"failed":   len(report.Failures),
	}).Info("files added")
	return report, nil
}

// Submit uploads the batch and blocks until every item is terminal. onUpdate
// may be nil. A finalize failure is returned as *uploader.FinalizeError
// together with the result.
func (s *Session) Submit(ctx context.Context, onUpdate func(model.ItemUpdate)) (model.BatchResult, error) {
	run, err := s.Start(onUpdate)
	if err != nil {
		return model.BatchResult{}, err
	}
	return run(ctx)
}

// Start moves the session to StateSubmitting and returns the function that
// performs the upload. Edits, Clear and a second Start are refused from the
// moment Start returns, even if run has not been called yet.
func (s *Session) Start(onUpdate func(model.ItemUpdate)) (func(context.Context) (model.BatchResult, error), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return nil, err
	}
	orch := uploader.New(s.batch, s.p.Transport, s.p.Finalizer, uploader.Options{
		Concurrency: s.p.Concurrency,
		OnUpdate:    onUpdate,
		Logger:      s.p.Log,
		Now:         s.p.Now,
	})
	if s.cancelEarly {
		orch.Cancel()
	}
	s.orch = orch
	s.state = StateSubmitting

	run := func(ctx context.Context) (model.BatchResult, error) {
		result, err := orch.Submit(ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.state = StateDone
		s.result = result
		s.finalizeErr = err
		return result, err
	}
	return run, nil
}

// Cancel stops the batch. Called before Submit it makes every item end as
// cancelled.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orch != nil {
		s.orch.Cancel()
		return
	}
	s.cancelEarly = true
}

// Snapshot returns the current item states in batch order.
func (s *Session) Snapshot() []model.ItemSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orch != nil {
		return s.orch.Snapshot()
	}
	return s.batch.Snapshot()
}

// Result returns the final counts once the session is done.
func (s *Session) Result() (model.BatchResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.state == StateDone
}

// FinalizeErr returns the catalog failure of a finished submission, if any.
func (s *Session) FinalizeErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalizeErr
}

// Clear releases every buffer and resets the session to an empty open batch
// with a fresh id and the same defaults.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSubmitting {
		return ErrBusy
	}
	meta := s.batch.Metadata
	s.batch.Release()
	s.batch = &model.UploadBatch{ID: uuid.NewString(), Metadata: meta}
	s.state = StateOpen
	s.orch = nil
	s.cancelEarly = false
	s.result = model.BatchResult{}
	s.finalizeErr = nil
	return nil
}
