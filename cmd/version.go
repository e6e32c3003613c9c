package cmd

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// buildInfo is what the Go toolchain stamped into the binary.
type buildInfo struct {
	Commit    string
	CommitAt  string
	Modified  bool
	GoVersion string
	Platform  string
}

func readBuildInfo() buildInfo {
	info := buildInfo{
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value
		case "vcs.time":
			info.CommitAt = s.Value
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

func (b buildInfo) write(w io.Writer) {
	if b.Commit != "" {
		commit := b.Commit
		if len(commit) > 12 {
			commit = commit[:12]
		}
		if b.Modified {
			commit += " (modified)"
		}
		fmt.Fprintf(w, "  commit:   %s\n", commit)
	}
	if b.CommitAt != "" {
		fmt.Fprintf(w, "  built:    %s\n", b.CommitAt)
	}
	fmt.Fprintf(w, "  go:       %s\n", b.GoVersion)
	fmt.Fprintf(w, "  platform: %s\n", b.Platform)
}

func newVersionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number of matrixctl",
		Long: `Prints the matrixctl version together with the commit, Go toolchain and
platform the binary was built for. Use --short for the version alone.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, rootCmd.Version)
				return
			}
			fmt.Fprintf(out, "matrixctl version %s\n", rootCmd.Version)
			readBuildInfo().write(out)
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")
	return cmd
}
