// Package exifdate recovers the capture time embedded in a JPEG's EXIF block.
//
// Extraction never fails from the caller's point of view: whenever the
// container cannot be walked or holds no usable timestamp the file's
// modification time is returned instead and the reason is logged at debug.
package exifdate

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/gallerydrop/internal/model"
)

// Source tells where a capture time came from.
type Source string

const (
	SourceEmbedded Source = "embedded"
	SourceModTime  Source = "modtime"
	SourceNone     Source = "none"
)

// Capture is the result of an extraction.
type Capture struct {
	Time   time.Time
	Source Source
}

// Timestamp returns the capture time, or nil when none is known.
func (c Capture) Timestamp() *time.Time {
	if c.Source == SourceNone || c.Time.IsZero() {
		return nil
	}
	t := c.Time
	return &t
}

var (
	ErrNoSignature = errors.New("no jpeg signature")
	ErrTruncated   = errors.New("truncated segment")
	ErrNoMetadata  = errors.New("no exif segment")
	ErrNoTimestamp = errors.New("no timestamp in exif payload")
)

const (
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOS  = 0xDA
	markerAPP1 = 0xE1
	markerTEM  = 0x01
	markerRST0 = 0xD0
	markerRST7 = 0xD7

	stampLayout = "2006:01:02 15:04:05"
)

var (
	exifHeader   = []byte("Exif\x00\x00")
	stampPattern = regexp.MustCompile(`\d{4}:\d{2}:\d{2} \d{2}:\d{2}:\d{2}`)
)

// Extractor reads capture times from raw files.
type Extractor struct {
	log logrus.FieldLogger
}

// New returns an Extractor logging its fallbacks to log.
func New(log logrus.FieldLogger) *Extractor {
	return &Extractor{log: log}
}

// Extract returns the embedded capture time of f, falling back to its
// modification time.
func (e *Extractor) Extract(f model.RawFile) Capture {
	ts, err := Embedded(f.Data)
	if err == nil {
		return Capture{Time: ts, Source: SourceEmbedded}
	}
	e.log.WithField("file", f.Name).WithError(err).Debug("capture time unavailable, using modification time")
	if f.ModTime.IsZero() {
		return Capture{Source: SourceNone}
	}
	return Capture{Time: f.ModTime.UTC(), Source: SourceModTime}
}

// Embedded walks the JPEG segment table in data and returns the timestamp
// stored in its EXIF block, interpreted as UTC.
func Embedded(data []byte) (ts time.Time, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("exif parse panic: %v", r)
		}
	}()
	payload, err := FindExif(data)
	if err != nil {
		return time.Time{}, err
	}
	return ParsePayload(payload)
}

// FindExif returns the APP1 payload (starting with the "Exif\0\0" header) of
// a JPEG byte stream.
func FindExif(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, ErrNoSignature
	}
	off := 2
	for off < len(data) {
		if data[off] != 0xFF {
			return nil, fmt.Errorf("%w: no marker at offset %d", ErrTruncated, off)
		}
		// Any number of 0xFF fill bytes may precede a marker.
		for off < len(data) && data[off] == 0xFF {
			off++
		}
		if off >= len(data) {
			break
		}
		marker := data[off]
		off++
		switch {
		case marker == markerSOS || marker == markerEOI:
			return nil, ErrNoMetadata
		case marker == markerTEM || (marker >= markerRST0 && marker <= markerRST7):
			continue
		}
		if off+2 > len(data) {
			return nil, ErrTruncated
		}
		length := int(binary.BigEndian.Uint16(data[off:]))
		if length < 2 || off+length > len(data) {
			return nil, fmt.Errorf("%w: marker %#x length %d", ErrTruncated, marker, length)
		}
		segment := data[off+2 : off+length]
		if marker == markerAPP1 && bytes.HasPrefix(segment, exifHeader) {
			return segment, nil
		}
		off += length
	}
	return nil, ErrNoMetadata
}

// ParsePayload decodes an EXIF payload. The TIFF structure is tried first;
// if it is unreadable the raw bytes are scanned for a datetime string.
func ParsePayload(payload []byte) (time.Time, error) {
	if ts, ok := decodeTIFF(payload); ok {
		return ts, nil
	}
	for _, m := range stampPattern.FindAll(payload, -1) {
		// Cameras write "0000:00:00 00:00:00" when the clock was never set.
		if ts, ok := parseStamp(string(m)); ok {
			return ts, nil
		}
	}
	return time.Time{}, ErrNoTimestamp
}

func decodeTIFF(payload []byte) (ts time.Time, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	x, _ := exif.Decode(bytes.NewReader(payload))
	if x == nil {
		return time.Time{}, false
	}
	for _, name := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTimeDigitized, exif.DateTime} {
		tag, err := x.Get(name)
		if err != nil {
			continue
		}
		s, err := tag.StringVal()
		if err != nil {
			continue
		}
		if ts, ok := parseStamp(s); ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

func parseStamp(s string) (time.Time, bool) {
	s = strings.TrimRight(strings.TrimSpace(s), "\x00")
	ts, err := time.ParseInLocation(stampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
