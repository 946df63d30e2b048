package main

import (
	"fmt"
	"io"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set at link time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version and the chain client it links",
	RunE: func(cmd *cobra.Command, args []string) error {
		info, _ := debug.ReadBuildInfo()
		writeVersion(cmd.OutOrStdout(), info)
		return nil
	},
}

func writeVersion(w io.Writer, info *debug.BuildInfo) {
	v := version
	if v == "dev" && info != nil && info.Main.Version != "" && info.Main.Version != "(devel)" {
		v = info.Main.Version
	}
	fmt.Fprintf(w, "erc20-watch %s", v)
	if commit != "" {
		fmt.Fprintf(w, " (%s)", commit)
	}
	fmt.Fprintln(w)
	if info == nil {
		return
	}
	fmt.Fprintf(w, "  go          %s\n", info.GoVersion)
	for _, dep := range info.Deps {
		if dep.Path == "github.com/ethereum/go-ethereum" {
			fmt.Fprintf(w, "  geth client %s\n", dep.Version)
		}
	}
}
