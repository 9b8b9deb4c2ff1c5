package domain

import "time"

// PlaceholderToken is a cheap deterministic raster reserving layout space.
type PlaceholderToken struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	DataURI string `json:"data_uri"`
}

// RenderState is the snapshot consumed by the rendering layer.
type RenderState struct {
	Placeholder PlaceholderToken `json:"placeholder"`
	DeliveryURL string           `json:"delivery_url,omitempty"`
	Loaded      bool             `json:"loaded"`
	// Unavailable is set once the request has errored terminally.
	Unavailable bool      `json:"unavailable"`
	State       LoadState `json:"state"`
}

// AssetInfo describes a successfully retrieved asset.
type AssetInfo struct {
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// LoadInfo is passed to OnLoad and OnError.
type LoadInfo struct {
	RequestID   string
	SourceURL   string
	DeliveryURL string
	// Fallback is true when the outcome belongs to the unmodified source URL retry.
	Fallback bool
	Asset    AssetInfo
	Err      error
}

// Callbacks are the outbound notifications of one request.
// Each fires at most once per request lifetime.
type Callbacks struct {
	OnLoad  func(LoadInfo)
	OnError func(LoadInfo)
}

// Snapshot is the persisted view of a mounted request, used by host adapters.
type Snapshot struct {
	RequestID string       `json:"request_id"`
	Request   ImageRequest `json:"request"`
	Render    RenderState  `json:"render"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`

	// Sealed carries the encrypted snapshot when the store encrypts at rest.
	Sealed string `json:"sealed,omitempty"`
}
