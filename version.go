package glimpse

// Version is the release version, overridable with -ldflags "-X github.com/aretw0/glimpse.Version=...".
var Version = "0.1.0"
