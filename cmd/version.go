package cmd

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// buildInfo describes the running binary.
type buildInfo struct {
	Version   string
	Revision  string
	GoVersion string
	Platform  string
}

// currentBuildInfo reads the VCS revision stamped by the Go toolchain, if any.
func currentBuildInfo() buildInfo {
	info := buildInfo{
		Version:   GetVersion(),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 12 {
				info.Revision = s.Value[:12]
			}
		}
	}
	return info
}

func (b buildInfo) String() string {
	s := fmt.Sprintf("kimi-auth version %s", b.Version)
	if b.Revision != "" {
		s += " (" + b.Revision + ")"
	}
	return s + fmt.Sprintf(" %s %s", b.GoVersion, b.Platform)
}

func newVersionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the kimi-auth version",
		Long:  `Print the kimi-auth version together with the Go toolchain and platform it was built for.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				fmt.Fprintln(cmd.OutOrStdout(), GetVersion())
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), currentBuildInfo())
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")
	return cmd
}
