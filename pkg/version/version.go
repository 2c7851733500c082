package version

// Set at build time with -ldflags "-X github.com/guimove/seqpack/pkg/version.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)
