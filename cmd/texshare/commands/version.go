package commands

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/gogpu/texshare/backend"
)

// Set with -ldflags "-X github.com/gogpu/texshare/cmd/texshare/commands.version=..."
var (
	version = "dev"
	commit  = ""
)

// versionString returns the version with the VCS revision when known.
func versionString() string {
	rev := commit
	if rev == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					rev = s.Value
				}
			}
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev == "" {
		return "texshare " + version
	}
	return fmt.Sprintf("texshare %s (%s)", version, rev)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, versionString())
		if verbose {
			cfg := GetConfig()
			fmt.Fprintf(out, "  go:       %s\n", runtime.Version())
			fmt.Fprintf(out, "  backends: %v\n", backend.Available())
			if cfg.Path != "" {
				fmt.Fprintf(out, "  config:   %s\n", cfg.Path)
			} else {
				fmt.Fprintf(out, "  config:   (defaults)\n")
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
