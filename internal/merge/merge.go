// Package merge combines batch-level defaults with per-item metadata into the
// payload handed to the transport.
package merge

import (
	"strconv"
	"time"

	"github.com/dharsanguruparan/gallerydrop/internal/model"
)

// DateSource records which rule produced a payload's date.
type DateSource string

const (
	DateOverride  DateSource = "override"
	DateExtracted DateSource = "extracted"
	DateFile      DateSource = "file"
	DateSubmitted DateSource = "submitted"
)

// Payload is exactly what one transfer sends.
type Payload struct {
	BatchID      string
	ItemID       string
	FileName     string
	ContentType  string
	Data         []byte
	Photographer string
	Location     string
	Date         time.Time
	DateSource   DateSource
	Featured     bool
}

// Size is the number of file bytes to transfer.
func (p Payload) Size() int64 {
	return int64(len(p.Data))
}

// Fields renders the metadata as wire form fields.
func (p Payload) Fields() map[string]string {
	return map[string]string{
		"photographer": p.Photographer,
		"date":         p.Date.Format(time.RFC3339),
		"location":     p.Location,
		"featured":     strconv.FormatBool(p.Featured),
	}
}

// Resolve builds the payload for item. The date is the batch override if
// present, else the item's extracted timestamp, else the file's own
// modification time, else now.
func Resolve(batchID string, meta model.BatchMetadata, item *model.UploadItem, now time.Time) Payload {
	file := item.Payload()
	p := Payload{
		BatchID:      batchID,
		ItemID:       item.ID,
		Photographer: meta.Photographer,
		Location:     meta.Location,
		Featured:     meta.Featured,
	}
	if file != nil {
		p.FileName = file.Name
		p.ContentType = file.ContentType
		p.Data = file.Data
	}
	p.Date, p.DateSource = resolveDate(meta, item, now)
	p.Date = p.Date.UTC()
	return p
}

func resolveDate(meta model.BatchMetadata, item *model.UploadItem, now time.Time) (time.Time, DateSource) {
	if meta.Date != nil && !meta.Date.IsZero() {
		return *meta.Date, DateOverride
	}
	if item.ExtractedTimestamp != nil && !item.ExtractedTimestamp.IsZero() {
		return *item.ExtractedTimestamp, DateExtracted
	}
	for _, f := range []*model.RawFile{item.Processed, item.Raw} {
		if f != nil && !f.ModTime.IsZero() {
			return f.ModTime, DateFile
		}
	}
	return now, DateSubmitted
}
