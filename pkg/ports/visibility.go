package ports

import "github.com/aretw0/glimpse/pkg/domain"

// Subscription is the handle returned by VisibilityPort.Subscribe.
type Subscription uint64

// VisibilityPort reports, once, when a render target meets its visibility threshold.
type VisibilityPort interface {
	// Subscribe registers onVisible for the target. onVisible fires at most once and the
	// subscription releases itself after firing. It may fire synchronously, before
	// Subscribe returns.
	Subscribe(target domain.TargetID, threshold domain.ViewportThreshold, onVisible func()) Subscription

	// Cancel releases the subscription. It is idempotent and guarantees onVisible
	// is not invoked afterwards.
	Cancel(sub Subscription)
}
