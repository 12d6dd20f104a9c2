// Package validate screens raw files by media type and size before any
// processing happens.
package validate

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"github.com/dharsanguruparan/gallerydrop/internal/model"
)

// Validator accepts or rejects files against a fixed policy.
type Validator struct {
	allowed  map[string]struct{}
	maxBytes int64
}

// New builds a Validator for the given media types and size ceiling.
func New(allowedTypes []string, maxBytes int64) *Validator {
	allowed := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		if t = normalizeType(t); t != "" {
			allowed[t] = struct{}{}
		}
	}
	return &Validator{allowed: allowed, maxBytes: maxBytes}
}

// Check returns nil when f is accepted, or the rejection that applies. The
// type is checked before the size.
func (v *Validator) Check(f model.RawFile) *model.Rejection {
	contentType := v.ResolveType(f)
	if _, ok := v.allowed[contentType]; !ok {
		return &model.Rejection{
			FileName: f.Name,
			Reason:   model.ReasonInvalidType,
			Message:  fmt.Sprintf("unsupported file type %q", contentType),
		}
	}
	size := f.Size
	if size <= 0 {
		size = int64(len(f.Data))
	}
	if v.maxBytes > 0 && size > v.maxBytes {
		return &model.Rejection{
			FileName: f.Name,
			Reason:   model.ReasonTooLarge,
			Message: fmt.Sprintf("file is %s, maximum is %s",
				humanize.IBytes(uint64(size)), humanize.IBytes(uint64(v.maxBytes))),
		}
	}
	return nil
}

// Partition splits files into accepted ones and per-file rejections. A
// rejection never affects its siblings.
func (v *Validator) Partition(files []model.RawFile) ([]model.RawFile, []model.Rejection) {
	accepted := make([]model.RawFile, 0, len(files))
	var rejections []model.Rejection
	for _, f := range files {
		if rej := v.Check(f); rej != nil {
			rejections = append(rejections, *rej)
			continue
		}
		if f.ContentType == "" || normalizeType(f.ContentType) == "application/octet-stream" {
			f.ContentType = v.ResolveType(f)
		}
		accepted = append(accepted, f)
	}
	return accepted, rejections
}

// ResolveType returns the declared media type, sniffing the content when the
// declaration is missing or generic.
func (v *Validator) ResolveType(f model.RawFile) string {
	declared := normalizeType(f.ContentType)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if len(f.Data) == 0 {
		return declared
	}
	return normalizeType(mimetype.Detect(f.Data).String())
}

func normalizeType(t string) string {
	// Drop parameters such as "; charset=utf-8".
	if i := strings.Index(t, ";"); i != -1 {
		t = t[:i]
	}
	return strings.ToLower(strings.TrimSpace(t))
}
