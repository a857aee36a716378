// Package cli wires the pabot command line: flag parsing, configuration
// layering, and the run orchestration from discovery through merge.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pabot-dev/pabot/internal/config"
	"github.com/pabot-dev/pabot/internal/errors"
	"github.com/pabot-dev/pabot/internal/version"
)

// exitCode carries the process exit status out of cobra's error plumbing.
type exitCode struct {
	code int
}

func (e *exitCode) Error() string {
	return fmt.Sprintf("exit %d", e.code)
}

var rootCmd = &cobra.Command{
	Use:   "pabot [pabot options] [runner options] [datasources...]",
	Short: "Parallel executor for test suites",
	Long: `Pabot splits a test corpus across parallel worker subprocesses, coordinates
them through an in-process lock and resource server, and merges the per-worker
outputs into a single consolidated report.

Pabot's own options must precede runner options. Anything pabot does not
recognize is passed to the runner untouched; trailing paths are the
datasources.`,
	Example: `  # Run suites with four workers
  pabot --processes 4 tests/

  # Split to test level and lease value sets from a resource file
  pabot --testlevelsplit --resourcefile valueset.dat tests/

  # Use a custom runner invocation
  pabot --command python -m robot --end-command tests/`,
	// Pabot options precede free-form runner options, so parsing is done
	// by ParseArgs rather than cobra's flag machinery.
	DisableFlagParsing: true,
	SilenceUsage:       true,
	SilenceErrors:      true,
	RunE: func(cmd *cobra.Command, argv []string) error {
		cfg, err := config.Load()
		if err != nil {
			return errors.Wrap(err, errors.Usage)
		}
		args, err := ParseArgs(argv, cfg)
		if err != nil {
			return err
		}
		if args.Help {
			return cmd.Help()
		}
		if args.Version {
			fmt.Fprintf(cmd.OutOrStdout(), "pabot %s (%s %s)\n", version.Version, version.Commit, version.BuildDate)
			return nil
		}
		if len(args.Datasources) == 0 {
			return errors.NewUsageError("no datasources given",
				"pass at least one test file or directory after the options",
				"try --help for usage information")
		}
		code, err := Run(cmd.Context(), args, cfg)
		if err != nil {
			return err
		}
		if code != 0 {
			return &exitCode{code: code}
		}
		return nil
	},
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	return mapExitCode(rootCmd.Execute())
}

// mapExitCode turns the command's error into the documented exit code,
// printing structured errors along the way.
func mapExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if ec, ok := err.(*exitCode); ok {
		return ec.code
	}
	if cliErr, ok := err.(*errors.Error); ok {
		errors.PrintError(cliErr)
		if cliErr.Category == errors.Usage {
			return ExitTerminated
		}
		return ExitFatal
	}
	fmt.Fprintln(os.Stderr, err)
	return ExitFatal
}
