package visibility

import (
	"log/slog"
	"sync"

	"github.com/aretw0/glimpse/internal/logging"
	"github.com/aretw0/glimpse/pkg/domain"
	"github.com/aretw0/glimpse/pkg/ports"
)

type subscription struct {
	target    domain.TargetID
	threshold domain.ViewportThreshold
	onVisible func()
}

// Observer is a host-driven VisibilityPort.
// The host calls Report whenever a target's intersection with the viewport changes.
// Safe for concurrent use; callbacks run without internal locks held.
type Observer struct {
	mu       sync.Mutex
	seq      uint64
	subs     map[ports.Subscription]*subscription
	byTarget map[domain.TargetID]map[ports.Subscription]struct{}
	// last holds the latest report per target so late subscribers fire immediately.
	last map[domain.TargetID]domain.Intersection

	logger *slog.Logger
}

// ObserverOption configures the Observer.
type ObserverOption func(*Observer)

// WithLogger configures a logger for subscription events.
func WithLogger(logger *slog.Logger) ObserverOption {
	return func(o *Observer) {
		o.logger = logger
	}
}

// NewObserver creates an Observer with no tracked targets.
func NewObserver(opts ...ObserverOption) *Observer {
	o := &Observer{
		subs:     make(map[ports.Subscription]*subscription),
		byTarget: make(map[domain.TargetID]map[ports.Subscription]struct{}),
		last:     make(map[domain.TargetID]domain.Intersection),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Subscribe registers onVisible for target. If the latest report for the target
// already meets the threshold, onVisible fires before Subscribe returns.
func (o *Observer) Subscribe(target domain.TargetID, threshold domain.ViewportThreshold, onVisible func()) ports.Subscription {
	o.mu.Lock()
	o.seq++
	id := ports.Subscription(o.seq)

	if in, ok := o.last[target]; ok && threshold.Meets(in) {
		o.mu.Unlock()
		o.logger.Debug("Target already visible on subscribe", "target", target, "subscription", id)
		if onVisible != nil {
			onVisible()
		}
		return id
	}

	o.subs[id] = &subscription{target: target, threshold: threshold, onVisible: onVisible}
	if o.byTarget[target] == nil {
		o.byTarget[target] = make(map[ports.Subscription]struct{})
	}
	o.byTarget[target][id] = struct{}{}
	o.mu.Unlock()
	return id
}

// Cancel releases the subscription. Unknown or already released handles are ignored.
func (o *Observer) Cancel(sub ports.Subscription) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.remove(sub)
}

// Report records the target's current intersection and fires every subscription
// whose threshold it meets. Fired subscriptions are released first, so each fires once.
func (o *Observer) Report(target domain.TargetID, in domain.Intersection) int {
	o.mu.Lock()
	o.last[target] = in
	var fire []func()
	for id := range o.byTarget[target] {
		s := o.subs[id]
		if !s.threshold.Meets(in) {
			continue
		}
		o.remove(id)
		if s.onVisible != nil {
			fire = append(fire, s.onVisible)
		}
	}
	o.mu.Unlock()

	for _, fn := range fire {
		fn()
	}
	if len(fire) > 0 {
		o.logger.Debug("Visibility triggered", "target", target, "ratio", in.Ratio, "fired", len(fire))
	}
	return len(fire)
}

// Forget drops the recorded geometry of a target (e.g., it left the document).
func (o *Observer) Forget(target domain.TargetID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.last, target)
}

// Pending returns the number of unreleased subscriptions.
func (o *Observer) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.subs)
}

// remove must be called with o.mu held.
func (o *Observer) remove(id ports.Subscription) {
	s, ok := o.subs[id]
	if !ok {
		return
	}
	delete(o.subs, id)
	if set := o.byTarget[s.target]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(o.byTarget, s.target)
		}
	}
}
