// Package storage keeps the ingest sessions started through the HTTP API so
// their progress can be polled after the request that created them returned.
package storage

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dharsanguruparan/gallerydrop/internal/ingest"
	"github.com/dharsanguruparan/gallerydrop/internal/model"
)

var (
	// ErrNotFound is returned for unknown batch ids.
	ErrNotFound = errors.New("batch not found")
)

// Record is a registered session with its bookkeeping.
type Record struct {
	Session     *ingest.Session
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Result      *model.BatchResult
	FinalizeErr string
}

// Summary is the read-only view of a Record.
type Summary struct {
	ID          string                   `json:"id"`
	State       ingest.State             `json:"state"`
	Metadata    model.BatchMetadata      `json:"metadata"`
	Items       []model.ItemSnapshot     `json:"items"`
	Counts      map[model.ItemStatus]int `json:"counts"`
	Result      *model.BatchResult       `json:"result,omitempty"`
	FinalizeErr string                   `json:"finalizeError,omitempty"`
	CreatedAt   time.Time                `json:"createdAt"`
	UpdatedAt   time.Time                `json:"updatedAt"`
}

// MemoryStore is an RWMutex guarded map of records keyed by batch id.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Save registers s under its batch id, replacing any previous record.
func (m *MemoryStore) Save(s *ingest.Session) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	id := s.ID()
	m.records[id] = &Record{Session: s, CreatedAt: now, UpdatedAt: now}
	return id
}

// Session returns the live session for id.
func (m *MemoryStore) Session(id string) (*ingest.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Session, nil
}

// Finish records the outcome of a submission.
func (m *MemoryStore) Finish(id string, result model.BatchResult, finalizeErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Result = &result
	rec.FinalizeErr = ""
	if finalizeErr != nil {
		rec.FinalizeErr = finalizeErr.Error()
	}
	rec.UpdatedAt = m.now().UTC()
	return nil
}

// Get returns a summary of the record.
func (m *MemoryStore) Get(id string) (Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return Summary{}, ErrNotFound
	}
	return summarize(id, rec), nil
}

// List returns summaries ordered by creation time, oldest first.
func (m *MemoryStore) List() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Summary, 0, len(m.records))
	for id, rec := range m.records {
		out = append(out, summarize(id, rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Delete clears the session's buffers and forgets it. It fails with
// ingest.ErrBusy while the batch is being submitted.
func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if err := rec.Session.Clear(); err != nil {
		return err
	}
	delete(m.records, id)
	return nil
}

func summarize(id string, rec *Record) Summary {
	items := rec.Session.Snapshot()
	s := Summary{
		ID:          id,
		State:       rec.Session.State(),
		Metadata:    rec.Session.Metadata(),
		Items:       items,
		Counts:      model.CountStatuses(items),
		FinalizeErr: rec.FinalizeErr,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	if rec.Result != nil {
		result := *rec.Result
		s.Result = &result
	}
	return s
}
