package domain

// NegotiatedFormat is the process-wide decision of which encoding to request.
type NegotiatedFormat int

const (
	FormatOriginal NegotiatedFormat = iota
	FormatNextGen
)

func (f NegotiatedFormat) String() string {
	if f == FormatNextGen {
		return "nextgen"
	}
	return "original"
}

// FormatPreference lets a request bypass negotiation.
type FormatPreference string

const (
	PreferAuto    FormatPreference = ""         // Negotiate through the capability probe
	ForceNextGen  FormatPreference = "nextgen"  // Always request the next-gen encoding
	ForceOriginal FormatPreference = "original" // Never request a transformed encoding
)

// LoadingStrategy is the rendering layer's lazy/eager hint.
type LoadingStrategy string

const (
	LoadingLazy  LoadingStrategy = "lazy"
	LoadingEager LoadingStrategy = "eager"
)
