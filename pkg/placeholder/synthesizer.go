// Package placeholder synthesizes cheap raster tokens that reserve layout space
// while the real asset is not available.
package placeholder

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"

	"github.com/aretw0/glimpse/pkg/domain"
	"golang.org/x/image/draw"
)

// MaxSide bounds the longest side of the synthesized raster, keeping cost
// independent of the eventual asset size.
const MaxSide = 16

const dataURIPrefix = "data:image/png;base64,"

// swatch is the 2x2 source scaled into every placeholder.
var swatch = func() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.NRGBA{R: 0xe5, G: 0xe7, B: 0xeb, A: 0xff})
	img.Set(1, 0, color.NRGBA{R: 0xf3, G: 0xf4, B: 0xf6, A: 0xff})
	img.Set(0, 1, color.NRGBA{R: 0xf3, G: 0xf4, B: 0xf6, A: 0xff})
	img.Set(1, 1, color.NRGBA{R: 0xd1, G: 0xd5, B: 0xdb, A: 0xff})
	return img
}()

// Synthesizer produces deterministic PlaceholderTokens.
// Safe for concurrent use.
type Synthesizer struct {
	mu    sync.Mutex
	cache map[image.Point]string

	defaultToken domain.PlaceholderToken
}

// New creates a Synthesizer.
func New() *Synthesizer {
	s := &Synthesizer{cache: make(map[image.Point]string)}
	s.defaultToken = domain.PlaceholderToken{
		Width:   1,
		Height:  1,
		DataURI: dataURI(encode(image.NewNRGBA(image.Rect(0, 0, 1, 1)))),
	}
	return s
}

// Synthesize returns the token for the given target dimensions (0 = absent).
// A single missing dimension mirrors the present one; both missing yields the
// fixed default token.
func (s *Synthesizer) Synthesize(width, height int) domain.PlaceholderToken {
	if width <= 0 && height <= 0 {
		return s.defaultToken
	}
	if width <= 0 {
		width = height
	}
	if height <= 0 {
		height = width
	}

	size := reduce(width, height)
	return domain.PlaceholderToken{
		Width:   width,
		Height:  height,
		DataURI: s.raster(size),
	}
}

// PNG returns the encoded raster of a token, for hosts serving it as a file.
func PNG(token domain.PlaceholderToken) ([]byte, error) {
	payload, ok := strings.CutPrefix(token.DataURI, dataURIPrefix)
	if !ok {
		return nil, errors.New("placeholder: token is not a png data uri")
	}
	return base64.StdEncoding.DecodeString(payload)
}

func (s *Synthesizer) raster(size image.Point) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uri, ok := s.cache[size]; ok {
		return uri
	}

	dst := image.NewNRGBA(image.Rectangle{Max: size})
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), swatch, swatch.Bounds(), draw.Src, nil)
	uri := dataURI(encode(dst))

	// Keys are reduced sizes, so the memo never exceeds MaxSide*MaxSide entries.
	s.cache[size] = uri
	return uri
}

// reduce scales (w, h) down so the longest side is at most MaxSide, keeping the aspect ratio.
func reduce(w, h int) image.Point {
	if w <= MaxSide && h <= MaxSide {
		return image.Pt(w, h)
	}
	if w >= h {
		return image.Pt(MaxSide, max(1, (h*MaxSide+w/2)/w))
	}
	return image.Pt(max(1, (w*MaxSide+h/2)/h), MaxSide)
}

func encode(img image.Image) []byte {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	// Encoding an in-memory NRGBA into a bytes.Buffer cannot fail.
	_ = enc.Encode(&buf, img)
	return buf.Bytes()
}

func dataURI(b []byte) string {
	return dataURIPrefix + base64.StdEncoding.EncodeToString(b)
}
