package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// TargetID identifies the render target a visibility subscription is bound to.
type TargetID string

// ViewportThreshold configures when a target counts as visible.
type ViewportThreshold struct {
	// RootMargin is the distance in pixels outside the viewport at which loading may start.
	RootMargin int `json:"root_margin" yaml:"root_margin" mapstructure:"root_margin"`

	// Ratio is the visible fraction (0..1] of the target required to trigger.
	Ratio float64 `json:"ratio" yaml:"ratio" mapstructure:"ratio"`
}

// DefaultThreshold returns the viewport threshold applied when none is configured.
func DefaultThreshold() ViewportThreshold {
	return ViewportThreshold{RootMargin: DefaultRootMargin, Ratio: DefaultVisibleRatio}
}

// Intersection is a geometry report for a render target.
type Intersection struct {
	// Ratio is the visible fraction of the target (0 when off-screen).
	Ratio float64
	// Distance is the pixel distance between the target and the viewport edge (0 when intersecting).
	Distance int
}

// Meets reports whether the intersection satisfies the threshold.
func (th ViewportThreshold) Meets(in Intersection) bool {
	if in.Ratio > 0 {
		return in.Ratio >= th.Ratio
	}
	return th.RootMargin > 0 && in.Distance <= th.RootMargin
}

// ImageRequest is the configuration and identity of one image-loading attempt.
// It is immutable for the lifetime of a controller generation.
type ImageRequest struct {
	SourceURL string `json:"src" yaml:"src" mapstructure:"src"`
	Width     int    `json:"width,omitempty" yaml:"width" mapstructure:"width"`
	Height    int    `json:"height,omitempty" yaml:"height" mapstructure:"height"`
	Quality   int    `json:"quality,omitempty" yaml:"quality" mapstructure:"quality"`
	// DisableNextGen opts out of the next-gen encoding. The zero value allows it.
	DisableNextGen bool              `json:"disable_next_gen,omitempty" yaml:"disable_next_gen" mapstructure:"disable_next_gen"`
	Priority       bool              `json:"priority,omitempty" yaml:"priority" mapstructure:"priority"`
	Threshold      ViewportThreshold `json:"threshold" yaml:"threshold" mapstructure:"threshold"`
	Loading        LoadingStrategy   `json:"loading,omitempty" yaml:"loading" mapstructure:"loading"`
	Format         FormatPreference  `json:"format,omitempty" yaml:"format" mapstructure:"format"`
}

// AllowsNextGen reports whether negotiation may pick the next-gen encoding.
func (r ImageRequest) AllowsNextGen() bool {
	return !r.DisableNextGen
}

// NewImageRequest creates a request with the documented defaults
// (next-gen allowed, lazy loading, default viewport threshold).
func NewImageRequest(src string) ImageRequest {
	return ImageRequest{
		SourceURL: src,
		Threshold: DefaultThreshold(),
		Loading:   LoadingLazy,
	}
}

// Validate checks the request for values the pipeline cannot honor.
func (r ImageRequest) Validate() error {
	if strings.TrimSpace(r.SourceURL) == "" {
		return fmt.Errorf("%w: source url is required", ErrInvalidRequest)
	}
	if _, err := url.Parse(r.SourceURL); err != nil {
		return fmt.Errorf("%w: source url: %v", ErrInvalidRequest, err)
	}
	if r.Width < 0 || r.Height < 0 {
		return fmt.Errorf("%w: dimensions must not be negative (got %dx%d)", ErrInvalidRequest, r.Width, r.Height)
	}
	if r.Quality < 0 || r.Quality > MaxQuality {
		return fmt.Errorf("%w: quality must be within 1..%d (got %d)", ErrInvalidRequest, MaxQuality, r.Quality)
	}
	switch r.Format {
	case PreferAuto, ForceNextGen, ForceOriginal:
	default:
		return fmt.Errorf("%w: unknown format preference %q", ErrInvalidRequest, r.Format)
	}
	switch r.Loading {
	case "", LoadingLazy, LoadingEager:
	default:
		return fmt.Errorf("%w: unknown loading strategy %q", ErrInvalidRequest, r.Loading)
	}
	if r.Threshold.Ratio < 0 || r.Threshold.Ratio > 1 {
		return fmt.Errorf("%w: threshold ratio must be within 0..1 (got %v)", ErrInvalidRequest, r.Threshold.Ratio)
	}
	return nil
}

// SkipsObservation reports whether the request loads at mount without a visibility trigger.
func (r ImageRequest) SkipsObservation() bool {
	return r.Priority || r.Loading == LoadingEager
}

// SameIdentity reports whether two requests would produce the same delivery URL.
// A different identity logically creates a new request.
func (r ImageRequest) SameIdentity(other ImageRequest) bool {
	return r.SourceURL == other.SourceURL &&
		r.Width == other.Width &&
		r.Height == other.Height &&
		r.Quality == other.Quality &&
		r.DisableNextGen == other.DisableNextGen &&
		r.Format == other.Format
}
