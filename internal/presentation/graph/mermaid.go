package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/glimpse/pkg/domain"
)

// Overlay contains trace data to highlight on the diagram.
type Overlay struct {
	Visited []domain.LoadState
	Current domain.LoadState
}

var states = []domain.LoadState{
	domain.StateIdle,
	domain.StateObserving,
	domain.StateLoading,
	domain.StateErrored,
	domain.StateFallbackLoading,
	domain.StateLoaded,
	domain.StateFallbackErrored,
	domain.StateDisposed,
}

type labeledEvent struct {
	label string
	ev    domain.Event
}

var events = []labeledEvent{
	{"mount", domain.Event{Kind: domain.EventMount}},
	{"mount (priority)", domain.Event{Kind: domain.EventMount, Priority: true}},
	{"visible", domain.Event{Kind: domain.EventVisible}},
	{"load ok", domain.Event{Kind: domain.EventLoadSucceeded}},
	{"load failed", domain.Event{Kind: domain.EventLoadFailed}},
	{"load failed (untransformed)", domain.Event{Kind: domain.EventLoadFailed, Untransformed: true}},
	{"dispose", domain.Event{Kind: domain.EventDispose}},
}

// GenerateMermaid renders the load state machine as a Mermaid state diagram.
// Edges are derived from domain.Next, so the diagram cannot drift from the table.
// Multi-state steps draw every intermediate edge; those entered without an event are
// labeled "immediately".
func GenerateMermaid(overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("stateDiagram-v2\n")
	sb.WriteString(fmt.Sprintf("    [*] --> %s\n", stateID(domain.StateIdle)))

	seen := map[string]bool{}
	edge := func(from, to domain.LoadState, label string) {
		line := fmt.Sprintf("    %s --> %s: %s\n", stateID(from), stateID(to), label)
		if !seen[line] {
			seen[line] = true
			sb.WriteString(line)
		}
	}

	for _, from := range states {
		for _, le := range events {
			step, err := domain.Next(from, le.ev)
			if err != nil {
				continue
			}
			prev := from
			for i, to := range step.Path {
				label := le.label
				if i > 0 {
					label = "immediately"
				}
				edge(prev, to, label)
				prev = to
			}
		}
	}

	for _, s := range states {
		if s.IsTerminal() {
			sb.WriteString(fmt.Sprintf("    %s --> [*]\n", stateID(s)))
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000\n")

		visited := map[domain.LoadState]bool{}
		for _, s := range overlay.Visited {
			if s == overlay.Current || visited[s] {
				continue
			}
			visited[s] = true
			sb.WriteString(fmt.Sprintf("    class %s visited\n", stateID(s)))
		}
		if overlay.Current != "" {
			sb.WriteString(fmt.Sprintf("    class %s current\n", stateID(overlay.Current)))
		}
	}

	return sb.String()
}

func stateID(s domain.LoadState) string {
	return strings.ReplaceAll(s.String(), "-", "_")
}
