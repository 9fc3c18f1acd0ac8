package main

import (
	"fmt"
	"runtime"
	"strings"
)

// Release stamps for the kiwi-relay binary, overridden by the release build
// with -ldflags "-X main.Version=... -X main.Commit=...".
// They surface in `kiwi-relay version` and the relay_process_build_info metric.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// VersionInfo renders the multi-line banner printed by `kiwi-relay version`.
func VersionInfo() string {
	var b strings.Builder
	b.WriteString("kiwi-relay\n")
	for _, row := range [][2]string{
		{"Version", Version},
		{"Commit", Commit},
		{"Build Date", BuildDate},
		{"Go Version", runtime.Version()},
	} {
		fmt.Fprintf(&b, "%-11s %s\n", row[0]+":", row[1])
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// ShortVersion is the version label on metrics: the tag plus a 7-char
// commit when one was stamped.
func ShortVersion() string {
	if len(Commit) >= 7 && Commit != "unknown" {
		return Version + "-" + Commit[:7]
	}
	return Version
}
