package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pomotimer/pomoledger/internal/config"
	"github.com/pomotimer/pomoledger/internal/db"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

const maxLogSize = 10 << 20

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("warning: %v", err)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pomoledger",
		Short: "Pomodoro session ledger and insights server",
		Long: `pomoledger records completed focus and break sessions from a
pomodoro timer into SQLite and serves rolling focus insights
over a local HTTP API.

Data is stored in ~/.pomoledger/ by default.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterGlobalFlags(root.PersistentFlags())

	root.AddCommand(newServeCmd())
	root.AddCommand(newRecordCmd())
	root.AddCommand(newSessionsCmd())
	root.AddCommand(newInsightsCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(),
				"pomoledger %s (commit %s, built %s)\n",
				version, commit, buildDate)
			return nil
		},
	}
}

// loadConfig layers the config for a command, validates it and
// makes sure the data dir exists.
func loadConfig(fs *pflag.FlagSet) (config.Config, error) {
	cfg, err := config.Load(fs)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return cfg, fmt.Errorf("creating data dir: %w", err)
	}
	return cfg, nil
}

// openStore loads the config and opens the session database.
func openStore(
	fs *pflag.FlagSet,
) (config.Config, *db.DB, error) {
	cfg, err := loadConfig(fs)
	if err != nil {
		return cfg, nil, err
	}
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return cfg, nil, fmt.Errorf("opening database: %w", err)
	}
	return cfg, database, nil
}

// setupLogFile tees the standard logger into debug.log under
// dir. A log file that cannot be opened only produces a warning.
func setupLogFile(dir string) {
	path := filepath.Join(dir, "debug.log")
	truncateLogFile(path, maxLogSize)
	f, err := os.OpenFile(
		path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644,
	)
	if err != nil {
		log.Printf("warning: cannot open log file: %v", err)
		return
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
}

// truncateLogFile empties path when it has grown past limit.
// Missing files and symlinks are left alone.
func truncateLogFile(path string, limit int64) {
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	if info.Size() <= limit {
		return
	}
	if err := os.Truncate(path, 0); err != nil {
		log.Printf("warning: truncating log file: %v", err)
	}
}
