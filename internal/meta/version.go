package meta

import (
	"fmt"
	"runtime"
)

// Name is the binary name reported in version strings and man pages.
const Name = "resplink"

// Info is the build context of a resplink binary. Most of it is set by the
// linker, see the vars below.
type Info struct {
	Version   string
	Build     string
	Branch    string
	BuildTime string
	Platform  string
	GoVersion string
	GoTag     string
}

// Set with the linker's -X flag
var (
	// Version is the release tag, "dev" for local builds
	Version = "dev"

	// Build is the Git sha being built
	Build string

	// Branch is the Git branch being built
	Branch string

	// BuildTimeUTC is formatted as year/month/day hour:min:sec
	BuildTimeUTC string

	// GoTag holds the build tags, see https://golang.org/pkg/go/build/#hdr-Build_Constraints
	GoTag string

	platform = fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH)
)

// GetInfo returns the build information of the running binary.
func GetInfo() Info {
	return Info{
		GoVersion: runtime.Version(),
		Version:   Version,
		Build:     Build,
		Branch:    Branch,
		BuildTime: BuildTimeUTC,
		GoTag:     GoTag,
		Platform:  platform,
	}
}

// Short is the name and version, e.g. "resplink v1.2.0".
func (i Info) Short() string {
	return fmt.Sprintf("%s %s", Name, i.Version)
}

func (i Info) String() string {
	s := i.Short()
	if i.Build != "" {
		s += fmt.Sprintf(" (%s@%s)", i.Branch, i.Build)
	}
	if i.BuildTime != "" {
		s += " built " + i.BuildTime
	}
	s += fmt.Sprintf(" with %s on %s", i.GoVersion, i.Platform)
	if i.GoTag != "" {
		s += " tags " + i.GoTag
	}
	return s
}
