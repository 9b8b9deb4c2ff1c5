package tui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/muesli/termenv"

	"github.com/aretw0/glimpse/pkg/domain"
)

var stateColors = map[domain.LoadState]string{
	domain.StateIdle:            "#94a3b8",
	domain.StateObserving:       "#38bdf8",
	domain.StateLoading:         "#facc15",
	domain.StateLoaded:          "#4ade80",
	domain.StateErrored:         "#fb923c",
	domain.StateFallbackLoading: "#fbbf24",
	domain.StateFallbackErrored: "#f87171",
	domain.StateDisposed:        "#64748b",
}

// Trace prints one colored line per transition.
type Trace struct {
	mu      sync.Mutex
	out     io.Writer
	profile termenv.Profile
}

// NewTrace writes to out. Colors are dropped unless color is true.
func NewTrace(out io.Writer, color bool) *Trace {
	profile := termenv.Ascii
	if color {
		profile = termenv.ColorProfile()
	}
	return &Trace{out: out, profile: profile}
}

func (t *Trace) paint(s domain.LoadState) termenv.Style {
	return t.profile.String(s.String()).Foreground(t.profile.Color(stateColors[s]))
}

// Transition prints e.
func (t *Trace) Transition(e *domain.TransitionEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	line := fmt.Sprintf("%-9s %s -> %s", e.Cause, t.paint(e.From), t.paint(e.To))
	if e.URL != "" {
		line += "  " + e.URL
	}
	fmt.Fprintln(t.out, strings.TrimRight(line, " "))
}

// Note prints a dimmed informational line.
func (t *Trace) Note(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, t.profile.String(">>> "+fmt.Sprintf(format, args...)).Faint())
}
