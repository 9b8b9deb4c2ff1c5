package visibility

import (
	"sync/atomic"

	"github.com/aretw0/glimpse/pkg/domain"
	"github.com/aretw0/glimpse/pkg/ports"
)

// Immediate is a VisibilityPort for environments without a viewport.
// Every subscription fires synchronously and is released before Subscribe returns.
type Immediate struct {
	seq atomic.Uint64
}

// NewImmediate creates an Immediate port.
func NewImmediate() *Immediate {
	return &Immediate{}
}

// Subscribe invokes onVisible and returns an already released handle.
func (i *Immediate) Subscribe(target domain.TargetID, threshold domain.ViewportThreshold, onVisible func()) ports.Subscription {
	sub := ports.Subscription(i.seq.Add(1))
	if onVisible != nil {
		onVisible()
	}
	return sub
}

// Cancel is a no-op: Immediate subscriptions are released on subscribe.
func (i *Immediate) Cancel(sub ports.Subscription) {}
