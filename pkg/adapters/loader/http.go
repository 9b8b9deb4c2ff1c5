package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/glimpse/internal/logging"
	"github.com/aretw0/glimpse/pkg/domain"
)

// ErrNotAnImage is returned when the origin answers with a non-image content type.
var ErrNotAnImage = errors.New("response is not an image")

// HTTPClient abstracts the transport for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFetcher retrieves assets over HTTP. It implements ports.Fetcher.
type HTTPFetcher struct {
	client HTTPClient
	logger *slog.Logger
	// BaseURL resolves relative delivery URLs (e.g. "/img/a.png").
	BaseURL string
}

// HTTPOption configures the HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithClient injects the HTTP transport.
func WithClient(c HTTPClient) HTTPOption {
	return func(f *HTTPFetcher) {
		f.client = c
	}
}

// WithLogger configures a logger for fetch outcomes.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(f *HTTPFetcher) {
		f.logger = logger
	}
}

// WithBaseURL sets the origin used for relative delivery URLs.
func WithBaseURL(base string) HTTPOption {
	return func(f *HTTPFetcher) {
		f.BaseURL = strings.TrimRight(base, "/")
	}
}

// NewHTTPFetcher creates a fetcher with a 30s client timeout by default.
func NewHTTPFetcher(opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch issues a GET for url and validates the response is a retrievable image.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (domain.AssetInfo, error) {
	target := url
	if strings.HasPrefix(url, "/") && !strings.HasPrefix(url, "//") && f.BaseURL != "" {
		target = f.BaseURL + url
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return domain.AssetInfo{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "image/avif,image/webp,image/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.AssetInfo{}, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.AssetInfo{}, fmt.Errorf("unexpected status fetching %s: %s", target, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return domain.AssetInfo{}, fmt.Errorf("%w: %q from %s", ErrNotAnImage, contentType, target)
	}

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return domain.AssetInfo{}, fmt.Errorf("failed to read body of %s: %w", target, err)
	}

	f.logger.Debug("Fetched asset", "url", target, "content_type", mediaType, "size", n)
	return domain.AssetInfo{ContentType: mediaType, Size: n}, nil
}
