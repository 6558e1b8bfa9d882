// Package version carries build metadata injected with -ldflags "-X".
package version

import "time"

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// BuiltAt parses BuildTime; the zero time means it was not injected.
func BuiltAt() time.Time {
	t, err := time.Parse(time.RFC3339, BuildTime)
	if err != nil {
		return time.Time{}
	}
	return t
}
