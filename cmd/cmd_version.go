package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Build information, set by the main package from its ldflags variables.
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildInfo    = "kiwi-relay version dev"
)

// SetBuildInfo records the build metadata reported by the version command
// and the build_info metric.
func SetBuildInfo(version, commit, info string) {
	buildVersion = version
	buildCommit = commit
	buildInfo = info
}

// VersionCmd returns the version command.
func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print detailed version information including git commit and build date.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(buildInfo)
		},
	}
}
