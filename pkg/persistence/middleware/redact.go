package middleware

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/aretw0/glimpse/pkg/domain"
	"github.com/aretw0/glimpse/pkg/ports"
)

// Masked replaces redacted query values.
const Masked = "***"

type redactionMiddleware struct {
	next     ports.SnapshotStore
	patterns []*regexp.Regexp
}

// NewRedactionMiddleware creates a middleware that masks the values of query
// parameters whose name matches one of the patterns (case-insensitive), so signed
// source URLs never reach the backing store with their credentials.
func NewRedactionMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, 0, len(patternStrings))
	for _, p := range patternStrings {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, re)
	}
	return func(next ports.SnapshotStore) ports.SnapshotStore {
		return &redactionMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *redactionMiddleware) Save(ctx context.Context, requestID string, snap *domain.Snapshot) error {
	// Copy so the caller's snapshot stays untouched.
	masked := *snap
	masked.Request.SourceURL = m.redact(snap.Request.SourceURL)
	masked.Render.DeliveryURL = m.redact(snap.Render.DeliveryURL)
	return m.next.Save(ctx, requestID, &masked)
}

func (m *redactionMiddleware) Load(ctx context.Context, requestID string) (*domain.Snapshot, error) {
	return m.next.Load(ctx, requestID)
}

func (m *redactionMiddleware) Delete(ctx context.Context, requestID string) error {
	return m.next.Delete(ctx, requestID)
}

func (m *redactionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

// redact rewrites matching pairs in place, keeping parameter order and the fragment.
func (m *redactionMiddleware) redact(raw string) string {
	base, fragment, hasFragment := strings.Cut(raw, "#")
	path, query, hasQuery := strings.Cut(base, "?")
	if !hasQuery || query == "" {
		return raw
	}

	pairs := strings.Split(query, "&")
	for i, pair := range pairs {
		key, _, _ := strings.Cut(pair, "=")
		name, err := url.QueryUnescape(key)
		if err != nil {
			name = key
		}
		if m.matches(name) {
			pairs[i] = key + "=" + Masked
		}
	}

	out := path + "?" + strings.Join(pairs, "&")
	if hasFragment {
		out += "#" + fragment
	}
	return out
}

func (m *redactionMiddleware) matches(name string) bool {
	for _, p := range m.patterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}
