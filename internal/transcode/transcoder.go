// Package transcode shrinks oversized raster images to bounded dimensions.
package transcode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	// imaging registers JPEG, PNG, GIF, BMP and TIFF; WebP comes from here.
	_ "golang.org/x/image/webp"

	"github.com/dharsanguruparan/gallerydrop/internal/model"
)

// ErrDecode is wrapped by every error caused by unreadable image data.
var ErrDecode = errors.New("decode image")

const outputType = "image/jpeg"

// Transcoder rescales images larger than MaxWidth x MaxHeight.
type Transcoder struct {
	maxWidth  int
	maxHeight int
	quality   int
}

// New returns a Transcoder with the given bounds and JPEG quality (1-100).
func New(maxWidth, maxHeight, quality int) *Transcoder {
	return &Transcoder{maxWidth: maxWidth, maxHeight: maxHeight, quality: quality}
}

// Transcode returns f unchanged when it already fits, otherwise a rescaled
// JPEG copy. The boolean reports whether a new image was produced.
func (t *Transcoder) Transcode(f model.RawFile) (model.RawFile, bool, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(f.Data))
	if err != nil {
		return model.RawFile{}, false, fmt.Errorf("%w %s: %v", ErrDecode, f.Name, err)
	}
	if cfg.Width <= t.maxWidth && cfg.Height <= t.maxHeight {
		return f, false, nil
	}
	img, err := imaging.Decode(bytes.NewReader(f.Data), imaging.AutoOrientation(true))
	if err != nil {
		return model.RawFile{}, false, fmt.Errorf("%w %s: %v", ErrDecode, f.Name, err)
	}
	b := img.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), t.maxWidth, t.maxHeight)
	resized := imaging.Resize(img, w, h, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(t.quality)); err != nil {
		return model.RawFile{}, false, fmt.Errorf("encode %s: %w", f.Name, err)
	}
	return model.RawFile{
		Name:        jpegName(f.Name),
		ContentType: outputType,
		Size:        int64(buf.Len()),
		ModTime:     f.ModTime,
		Data:        buf.Bytes(),
	}, true, nil
}

// Fit scales w x h by the factor of the limiting dimension so the result fits
// in maxW x maxH. Dimensions already inside the bounds are returned as is.
func Fit(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	return clamp(int(math.Round(float64(w)*scale)), maxW), clamp(int(math.Round(float64(h)*scale)), maxH)
}

func clamp(v, max int) int {
	if v < 1 {
		return 1
	}
	if v > max {
		return max
	}
	return v
}

func jpegName(name string) string {
	ext := filepath.Ext(name)
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return name
	}
	return strings.TrimSuffix(name, ext) + ".jpg"
}
