// Command rdbg is the out-of-process client and CLI surface from
// SPEC_FULL.md §6 (C11): connect/attach/run verbs, modeled on the
// cobra-based entrypoint in srgg-blecli's cmd/blim/main.go.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ianremillard/rdbg/internal/config"
	"github.com/ianremillard/rdbg/internal/rdbgerr"
)

// cfg is the process-wide config, loaded once in PersistentPreRunE and read
// by every verb that needs a default bind address or connect timeout
// (SPEC_FULL.md's Ambient Stack config section).
var cfg config.Config

var configPath string

var rootCmd = &cobra.Command{
	Use:   "rdbg",
	Short: "Remote, multi-client debugger client",
	Long: `rdbg connects a local terminal to a remote, interactive, multi-client
debugger server and drives one target goroutine's break/step/continue/
post-mortem shell.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return rdbgerr.New(rdbgerr.Fatal, "config.Load", err)
		}
		cfg = loaded
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "rdbg: %s\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "rdbg.yaml", "path to an optional rdbg.yaml config file")

	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(runCmd)
}
