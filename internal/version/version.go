// Package version provides build-time version information.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/crm-console/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/crm-console/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/crm-console/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns a formatted version string.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}

// UserAgent is sent on every REST request so the backend can tell console builds apart.
func UserAgent() string {
	return "crm-console/" + Version + " (" + Commit + ")"
}
