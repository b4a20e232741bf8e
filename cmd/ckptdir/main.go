// Command ckptdir saves, inspects and cleans checkpoint directories.
//
// Every participating process runs the same command with the same
// arguments; the configuration file tells each one its process index
// (or CKPTDIR_PROCESS does) and how to reach the others.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/ckptdir/pkg/ckptdir/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	storage    string
	process    int
	verbose    bool
	jsonLogs   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{process: -1}

	root := &cobra.Command{
		Use:           "ckptdir",
		Short:         "Crash-safe checkpoint directories",
		Long:          "ckptdir creates, commits, lists and cleans checkpoint directories shared by\ncooperating processes on local disks or Google Cloud Storage.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "configuration file (.yaml, .yml or .json)")
	pf.StringVar(&g.storage, "storage", "", "override the storage root from the configuration")
	pf.IntVar(&g.process, "process", -1, "override the process index")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "log debug output")
	pf.BoolVar(&g.jsonLogs, "json-logs", false, "log as JSON")

	root.AddCommand(
		newSaveCmd(g),
		newStatusCmd(g),
		newCatCmd(g),
		newCleanCmd(g),
		newVersionCmd(),
	)
	return root
}

// logger builds the process logger on cmd's error stream.
func (g *globalFlags) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if g.verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if g.jsonLogs {
		return slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), opts))
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), opts))
}

// settings loads the configuration file, if any, and applies flag
// overrides.
func (g *globalFlags) settings() (config.Settings, error) {
	var (
		s   config.Settings
		err error
	)
	if g.configPath != "" {
		s, err = config.Load(g.configPath)
	} else {
		s, err = config.Parse(config.New(nil))
	}
	if err != nil {
		return config.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if g.storage != "" {
		s.Storage = g.storage
	}
	if g.process >= 0 {
		s.Process = g.process
		if err := s.Validate(); err != nil {
			return config.Settings{}, err
		}
	}
	return s, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ckptdir %s\n", version)
		},
	}
}
