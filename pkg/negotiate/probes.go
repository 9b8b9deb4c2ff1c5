package negotiate

import (
	"bytes"
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/aretw0/glimpse/pkg/domain"

	// Registers the "webp" format with image.DecodeConfig.
	_ "golang.org/x/image/webp"
)

// ErrorProbe is a CapabilityProbe able to report why probing failed.
// Negotiator prefers Probe over SupportsNextGen when both exist.
type ErrorProbe interface {
	Probe() (bool, error)
}

// ProbeFunc adapts a function to a CapabilityProbe.
type ProbeFunc func() (bool, error)

// Probe calls f.
func (f ProbeFunc) Probe() (bool, error) {
	return f()
}

// SupportsNextGen calls f and treats errors as unsupported.
func (f ProbeFunc) SupportsNextGen() bool {
	ok, err := f()
	return ok && err == nil
}

// Static is a probe answered by configuration.
type Static bool

// SupportsNextGen returns the configured value.
func (s Static) SupportsNextGen() bool {
	return bool(s)
}

// nextGenMediaTypes are the Accept tokens that count as next-gen support.
var nextGenMediaTypes = []string{"image/webp", "image/avif"}

// AcceptHeader negotiates from an HTTP Accept header, for server-rendered targets.
// A media type listed with q=0 is treated as refused.
func AcceptHeader(accept string) ProbeFunc {
	return func() (bool, error) {
		for _, part := range strings.Split(accept, ",") {
			fields := strings.Split(part, ";")
			mediaType := strings.ToLower(strings.TrimSpace(fields[0]))
			if !isNextGen(mediaType) {
				continue
			}
			q := 1.0
			for _, param := range fields[1:] {
				key, value, found := strings.Cut(strings.TrimSpace(param), "=")
				if !found || strings.TrimSpace(key) != "q" {
					continue
				}
				parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
				if err != nil {
					return false, fmt.Errorf("%w: bad quality value %q for %s", domain.ErrCapabilityProbe, value, mediaType)
				}
				q = parsed
			}
			if q > 0 {
				return true, nil
			}
		}
		return false, nil
	}
}

func isNextGen(mediaType string) bool {
	for _, mt := range nextGenMediaTypes {
		if mediaType == mt {
			return true
		}
	}
	return false
}

// minimalWebP is a lossless 1x1 WebP image.
var minimalWebP = []byte{
	'R', 'I', 'F', 'F', 0x1a, 0x00, 0x00, 0x00,
	'W', 'E', 'B', 'P',
	'V', 'P', '8', 'L', 0x0d, 0x00, 0x00, 0x00,
	0x2f, 0x00, 0x00, 0x00, 0x10, 0x07, 0x10, 0x11, 0x11, 0x88, 0x88, 0xfe, 0x07, 0x00,
}

// DecodeProbe checks that the runtime's registered decoders recognize a minimal
// WebP raster and declare it as such.
func DecodeProbe() ProbeFunc {
	return decodeProbe(minimalWebP)
}

func decodeProbe(sample []byte) ProbeFunc {
	return func() (bool, error) {
		cfg, format, err := image.DecodeConfig(bytes.NewReader(sample))
		if err != nil {
			return false, fmt.Errorf("%w: %w", domain.ErrCapabilityProbe, err)
		}
		return format == "webp" && cfg.Width == 1 && cfg.Height == 1, nil
	}
}
