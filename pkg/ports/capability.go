package ports

// CapabilityProbe determines whether the runtime can decode and prefers the
// next-generation image encoding.
type CapabilityProbe interface {
	SupportsNextGen() bool
}
