package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aretw0/glimpse/pkg/domain"
	"github.com/aretw0/glimpse/pkg/ports"
)

// ErrScriptedFailure is the error reported for URLs scripted to fail.
var ErrScriptedFailure = errors.New("scripted load failure")

// Scripted completes loads synchronously from an outcome table.
// URLs missing from the table use the default outcome.
type Scripted struct {
	mu       sync.Mutex
	outcomes map[string]bool
	fallback bool
	calls    []string
}

// NewScripted creates a Scripted loader where unlisted URLs succeed when
// defaultOK is true.
func NewScripted(defaultOK bool) *Scripted {
	return &Scripted{outcomes: make(map[string]bool), fallback: defaultOK}
}

// Set scripts the outcome of url.
func (s *Scripted) Set(url string, ok bool) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[url] = ok
	return s
}

// Calls returns the URLs loaded so far, in order.
func (s *Scripted) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Load reports the scripted outcome before returning.
func (s *Scripted) Load(ctx context.Context, url string, done ports.LoadCallback) {
	s.mu.Lock()
	s.calls = append(s.calls, url)
	ok, listed := s.outcomes[url]
	if !listed {
		ok = s.fallback
	}
	s.mu.Unlock()

	if !ok {
		done(domain.AssetInfo{}, fmt.Errorf("%w: %s", ErrScriptedFailure, url))
		return
	}
	done(domain.AssetInfo{ContentType: "image/scripted"}, nil)
}
