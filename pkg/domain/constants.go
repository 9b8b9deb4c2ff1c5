package domain

// Query parameter names appended by the URL composer, in emission order.
const (
	ParamWidth   = "w"
	ParamHeight  = "h"
	ParamQuality = "q"
	ParamFormat  = "f"
)

// Viewport defaults used when a request does not configure its own threshold.
const (
	DefaultRootMargin     = 200
	DefaultVisibleRatio   = 0.01
	MaxQuality            = 100
	DefaultFormatParamTag = "nextgen"
)
