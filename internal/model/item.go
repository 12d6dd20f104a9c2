// Package model contains the types shared by every stage of the ingestion
// pipeline.
package model

import (
	"time"
)

// ItemStatus describes where an UploadItem is in its lifecycle. A named string
// type keeps the statuses distinct from arbitrary strings while still
// marshalling to plain JSON.
type ItemStatus string

const (
	StatusPending   ItemStatus = "pending"
	StatusUploading ItemStatus = "uploading"
	StatusCompleted ItemStatus = "completed"
	StatusError     ItemStatus = "error"
)

// Terminal reports whether no further transitions are possible.
func (s ItemStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// RawFile is a file handle as it arrives from the host: a name, the declared
// media type, the size and modification time reported by the filesystem, and
// the bytes themselves.
type RawFile struct {
	Name        string    `json:"name"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"modTime"`
	// Data travels only in transfers, never in status responses.
	Data []byte `json:"-"`
}

// UploadItem is one file moving through the pipeline.
type UploadItem struct {
	ID  string
	Raw *RawFile
	// Processed replaces Raw for transfer purposes once set.
	Processed          *RawFile
	ExtractedTimestamp *time.Time
	Status             ItemStatus
	Progress           int
	Error              string
	ErrorKind          ErrorKind
}

// Payload returns the handle that should be transferred.
func (i *UploadItem) Payload() *RawFile {
	if i.Processed != nil {
		return i.Processed
	}
	return i.Raw
}

// FileName is the name the item was submitted with.
func (i *UploadItem) FileName() string {
	if i.Raw != nil {
		return i.Raw.Name
	}
	if i.Processed != nil {
		return i.Processed.Name
	}
	return ""
}

// Snapshot returns a read-only copy of the observable fields.
func (i *UploadItem) Snapshot() ItemSnapshot {
	snap := ItemSnapshot{
		ID:        i.ID,
		FileName:  i.FileName(),
		Status:    i.Status,
		Progress:  i.Progress,
		Error:     i.Error,
		ErrorKind: i.ErrorKind,
	}
	if p := i.Payload(); p != nil {
		snap.Size = p.Size
	}
	if i.ExtractedTimestamp != nil {
		ts := *i.ExtractedTimestamp
		snap.ExtractedTimestamp = &ts
	}
	return snap
}

// BatchMetadata holds the user-editable defaults applied to every item.
type BatchMetadata struct {
	Photographer string     `json:"photographer"`
	Location     string     `json:"location"`
	Date         *time.Time `json:"date,omitempty"`
	Featured     bool       `json:"featured"`
}

// UploadBatch is an ordered collection of items plus their shared metadata.
type UploadBatch struct {
	ID       string
	Items    []*UploadItem
	Metadata BatchMetadata
}

// Release drops every buffer owned by the batch.
func (b *UploadBatch) Release() {
	for _, item := range b.Items {
		if item.Raw != nil {
			item.Raw.Data = nil
		}
		if item.Processed != nil {
			item.Processed.Data = nil
		}
	}
	b.Items = nil
}

// Snapshot copies every item in batch order.
func (b *UploadBatch) Snapshot() []ItemSnapshot {
	out := make([]ItemSnapshot, 0, len(b.Items))
	for _, item := range b.Items {
		out = append(out, item.Snapshot())
	}
	return out
}

// ItemSnapshot is what observers see of an item.
type ItemSnapshot struct {
	ID                 string     `json:"id"`
	FileName           string     `json:"fileName"`
	Size               int64      `json:"size"`
	ExtractedTimestamp *time.Time `json:"extractedTimestamp,omitempty"`
	Status             ItemStatus `json:"status"`
	Progress           int        `json:"progress"`
	Error              string     `json:"error,omitempty"`
	ErrorKind          ErrorKind  `json:"errorKind,omitempty"`
}

// ItemUpdate is emitted on every status or progress change.
type ItemUpdate struct {
	BatchID string       `json:"batchId"`
	Item    ItemSnapshot `json:"item"`
}

// BatchResult aggregates the terminal statuses of a submitted batch.
type BatchResult struct {
	SuccessCount int `json:"successCount"`
	FailCount    int `json:"failCount"`
}

// CountStatuses tallies snapshots by status.
func CountStatuses(items []ItemSnapshot) map[ItemStatus]int {
	counts := make(map[ItemStatus]int, 4)
	for _, item := range items {
		counts[item.Status]++
	}
	return counts
}
