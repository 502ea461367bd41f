// Package buildinfo holds the agent's name and version. Release builds set the
// version fields with ldflags:
//
//	go build -ldflags "\
//	  -X github.com/dotside-studios/warehouse-agent/buildinfo.Version=1.0.0 \
//	  -X github.com/dotside-studios/warehouse-agent/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/dotside-studios/warehouse-agent/buildinfo.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package buildinfo

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	// Name is the technical name, used in the user agent and flag usage.
	Name = "warehouse-agent"

	// DirName is the directory created under the user config dir for the
	// local database.
	DirName = "warehouse-agent"

	// DisplayName is shown in the tray, the mDNS instance and the index page.
	DisplayName = "Warehouse Agent"

	Description = "Warehouse floor agent for label printers and barcode scanners"

	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// FullVersion returns the version with the commit appended when known,
// e.g. "1.0.0 (abc1234)".
func FullVersion() string {
	if Commit != "" {
		return fmt.Sprintf("%s (%s)", Version, Commit)
	}
	return Version
}

// UserAgent is sent with backend requests, e.g. "warehouse-agent/1.0.0".
func UserAgent() string {
	return Name + "/" + Version
}

// BuildInfo returns the multi-line text printed by -version.
func BuildInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", Name, FullVersion())
	fmt.Fprintf(&b, "  %s\n", Description)
	fmt.Fprintf(&b, "  Go: %s\n", runtime.Version())
	fmt.Fprintf(&b, "  OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH)
	if BuildTime != "" {
		fmt.Fprintf(&b, "\n  Built: %s", BuildTime)
	}
	return b.String()
}
