package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/prefsync/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┌─┐┬─┐┌─┐┌─┐┌─┐┬ ┬┌┐┌┌─┐
  ├─┘├┬┘├┤ ├┤ └─┐└┬┘││││
  ┴  ┴└─└─┘└  └─┘ ┴ ┘└┘└─┘
`

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	backend    string
	logLevel   string
	noColor    bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "prefsync",
		Short: "Synchronized preference cells over pluggable storage",
		Long: `prefsync reads, writes and watches JSON values stored under keys in a
shared backend, and keeps every process using the same backend in sync.

Backends:
  • memory  (process-local, for trying things out)
  • file    (one JSON file per key, watched with fsnotify)
  • sqlite  (single database file, change log polling)
  • s3      (object per key, paired with a relay for notifications)

Run 'prefsync relay' to broadcast changes between processes whose
backend has no change feed of its own.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.noColor {
				errors.DisableColors()
			}
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Config file (default: prefsync.json or prefsync.yaml in the working directory)")
	pf.StringVarP(&flags.backend, "backend", "b", "", "Storage backend override: memory, file, sqlite or s3")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level override: debug, info, warn or error")
	pf.BoolVar(&flags.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		getCmd(flags),
		setCmd(flags),
		rmCmd(flags),
		watchCmd(flags),
		relayCmd(flags),
		versionCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errors.Fprint(os.Stderr, err)
		os.Exit(1)
	}
}

// printBanner prints the ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message to w.
func warn(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
