package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/glimpse"
	"github.com/aretw0/glimpse/internal/presentation/graph"
	"github.com/aretw0/glimpse/internal/presentation/tui"
	"github.com/aretw0/glimpse/pkg/adapters/memory"
	"github.com/aretw0/glimpse/pkg/adapters/visibility"
	"github.com/aretw0/glimpse/pkg/domain"
	"github.com/aretw0/glimpse/pkg/negotiate"
)

// SimulateOptions describes an offline run of one image request.
type SimulateOptions struct {
	Request    domain.ImageRequest
	HostOrigin string
	NextGen    bool

	// Outcomes of the transformed and original assets.
	TransformedOK bool
	OriginalOK    bool

	// Intersection reported for the target, if any.
	Report       bool
	Intersection domain.Intersection

	LoadTimeout time.Duration
	Wait        time.Duration
	Teardown    bool
	Mermaid     bool
}

// SimulationResult summarizes a simulation.
type SimulationResult struct {
	RequestID   string
	Final       domain.LoadState
	DeliveryURL string
	Format      domain.NegotiatedFormat
	Fallback    bool
	Err         error
	Visited     []domain.LoadState
}

// Simulate runs the request against an in-memory asset catalog and prints a trace.
func Simulate(ctx context.Context, opts SimulateOptions, logger *slog.Logger, out io.Writer, color bool, render func(string) (string, error)) (*SimulationResult, error) {
	trace := tui.NewTrace(out, color)
	obs := visibility.NewObserver(visibility.WithLogger(logger))
	assets := memory.NewAssets(nil)

	var mu sync.Mutex
	visited := []domain.LoadState{domain.StateIdle}
	hooks := domain.LifecycleHooks{
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) {
			mu.Lock()
			visited = append(visited, e.To)
			mu.Unlock()
			trace.Transition(e)
		},
		OnStaleCompletion: func(_ context.Context, e *domain.CompletionEvent) {
			trace.Note("discarded stale completion for %s", e.URL)
		},
	}

	pipe, err := glimpse.New(
		glimpse.WithLogger(logger),
		glimpse.WithHostOrigin(opts.HostOrigin),
		glimpse.WithProbe(negotiate.Static(opts.NextGen)),
		glimpse.WithVisibility(obs),
		glimpse.WithFetcher(assets),
		glimpse.WithLoadTimeout(opts.LoadTimeout),
		glimpse.WithLifecycleHooks(hooks),
	)
	if err != nil {
		return nil, err
	}

	deliveryURL, format := pipe.Compose(opts.Request)
	if opts.OriginalOK {
		assets.Put(opts.Request.SourceURL, domain.AssetInfo{ContentType: "image/original"})
	}
	if deliveryURL != opts.Request.SourceURL && opts.TransformedOK {
		assets.Put(deliveryURL, domain.AssetInfo{ContentType: "image/" + format.String()})
	}

	settled := make(chan domain.LoadInfo, 1)
	notify := func(info domain.LoadInfo) { settled <- info }

	target := domain.TargetID("simulated")
	img, err := pipe.Mount(ctx, opts.Request, target, domain.Callbacks{OnLoad: notify, OnError: notify})
	if err != nil {
		return nil, err
	}
	result := &SimulationResult{RequestID: img.ID(), Format: format}

	if opts.Report && img.State() == domain.StateObserving {
		if obs.Report(target, opts.Intersection) == 0 {
			trace.Note("intersection ratio=%.2f distance=%dpx does not meet the threshold", opts.Intersection.Ratio, opts.Intersection.Distance)
		}
	}

	if img.State() != domain.StateObserving {
		wait := opts.Wait
		if wait <= 0 {
			wait = 5 * time.Second
		}
		select {
		case info := <-settled:
			result.Fallback = info.Fallback
			result.Err = info.Err
		case <-time.After(wait):
			trace.Note("no outcome after %s", wait)
		case <-ctx.Done():
			trace.Note("interrupted")
		}
	} else {
		trace.Note("target never became visible; nothing was downloaded")
	}

	snap := img.Snapshot()
	result.DeliveryURL = snap.DeliveryURL
	if opts.Teardown {
		img.Teardown()
	}
	result.Final = img.State()

	mu.Lock()
	result.Visited = append([]domain.LoadState(nil), visited...)
	mu.Unlock()

	summary, err := render(summaryMarkdown(opts, result))
	if err != nil {
		return result, fmt.Errorf("failed to render summary: %w", err)
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, summary)

	if opts.Mermaid {
		fmt.Fprintln(out)
		fmt.Fprint(out, graph.GenerateMermaid(&graph.Overlay{Visited: result.Visited, Current: result.Final}))
	}
	return result, nil
}

func summaryMarkdown(opts SimulateOptions, r *SimulationResult) string {
	var sb strings.Builder
	sb.WriteString("## Simulation summary\n\n")
	sb.WriteString("| Field | Value |\n|---|---|\n")
	row := func(k, v string) {
		fmt.Fprintf(&sb, "| %s | %s |\n", k, strings.ReplaceAll(v, "|", "\\|"))
	}
	row("Request", r.RequestID)
	row("Source", "`"+opts.Request.SourceURL+"`")
	if r.DeliveryURL != "" {
		row("Delivery URL", "`"+r.DeliveryURL+"`")
	}
	row("Format", r.Format.String())
	row("Final state", "**"+r.Final.String()+"**")
	row("Fallback used", fmt.Sprintf("%t", r.Fallback))
	if r.Err != nil {
		row("Error", r.Err.Error())
	}
	path := make([]string, len(r.Visited))
	for i, s := range r.Visited {
		path[i] = s.String()
	}
	row("Path", strings.Join(path, " → "))
	return sb.String()
}
