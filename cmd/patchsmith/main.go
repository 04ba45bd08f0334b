// Package main implements the patchsmith CLI: drive a software issue through
// the six-stage remediation pipeline, run benchmark batches, and browse or
// serve the results.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes. Terminal pipeline states map onto distinct codes so scripts
// can branch on the outcome without parsing output.
const (
	exitOK          = 0
	exitOperational = 1
	exitUsage       = 2
	exitAborted     = 3
	exitEscalated   = 4
)

// exitError carries a specific process exit code up through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &exitError{code: exitUsage, msg: fmt.Sprintf(format, args...)}
}

var (
	// configPath is the optional YAML config file.
	configPath string
	// outputDir overrides the configured output directory when non-empty.
	outputDir string
)

var rootCmd = &cobra.Command{
	Use:   "patchsmith",
	Short: "Autonomous issue remediation pipeline",
	Long: `patchsmith drives a software issue through six ordered stages
(intelligence, impact, planning, generation, review, validation) under
budget, retry, and security policy, producing a patch and a full audit
trail of artifacts per run.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintln(os.Stderr, "Error: "+ee.msg)
			}
			return ee.code
		}
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		return exitOperational
	}
	return exitOK
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&outputDir, "output", "", "output directory (overrides config)")

	// Unknown flags are usage errors, not operational ones.
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageErrorf("%s", err.Error())
	})

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(benchmarkCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("patchsmith\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

// exactArgs is cobra.ExactArgs with usage-error exit semantics.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageErrorf("%s: expected %d argument(s), got %d", cmd.Name(), n, len(args))
		}
		return nil
	}
}

// noArgs rejects positional arguments with a usage error.
func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageErrorf("%s: unexpected argument %q", cmd.Name(), args[0])
	}
	return nil
}
