package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/google/shlex"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pomotimer/pomoledger/internal/config"
	"github.com/pomotimer/pomoledger/internal/ingest"
	"github.com/pomotimer/pomoledger/internal/server"
)

const (
	watcherDebounce     = 500 * time.Millisecond
	browserPollInterval = 100 * time.Millisecond
	browserPollAttempts = 60
	shutdownTimeout     = 5 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server for the REST API and the timer device
endpoints. When an inbox directory is configured, *.jsonl device
event files dropped there are ingested as they appear.

The server binds to 127.0.0.1 by default. A timer device on the
LAN can reach POST /update and GET /latest only when the server is
started with --host 0.0.0.0.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd.Flags(), cmd.OutOrStdout())
		},
	}
	config.RegisterServeFlags(cmd.Flags())
	return cmd
}

func runServe(
	ctx context.Context, fs *pflag.FlagSet, out io.Writer,
) error {
	cfg, database, err := openStore(fs)
	if err != nil {
		return err
	}
	defer database.Close()
	setupLogFile(cfg.DataDir)

	if cfg.InboxDir != "" {
		stopSpool, err := ingest.NewSpool(database, cfg.InboxDir).
			Run(ctx, watcherDebounce)
		if err != nil {
			log.Printf("warning: inbox ingest unavailable: %v", err)
		} else {
			defer stopSpool()
		}
	}

	port := server.FindAvailablePort(cfg.Host, cfg.Port)
	if port != cfg.Port {
		_, _ = fmt.Fprintf(out, "Port %d in use, using %d\n", cfg.Port, port)
	}
	cfg.Port = port

	srv := server.New(cfg, database,
		server.WithVersion(server.VersionInfo{
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
		}),
	)

	url := server.URL(cfg.Host, cfg.Port)
	_, _ = fmt.Fprintf(out, "pomoledger %s listening at %s\n", version, url)

	if !cfg.NoBrowser {
		go openBrowser(url, cfg.BrowserCmd)
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// browserURL is the page opened for a server listening at base.
// The server has no root page, so this is the insights snapshot.
func browserURL(base string) string {
	return base + "/insights"
}

// openBrowser waits for the server at base to answer, then opens
// its insights page.
func openBrowser(base, custom string) {
	for range browserPollAttempts {
		time.Sleep(browserPollInterval)
		resp, err := http.Get(base + "/api/v1/stats")
		if err == nil {
			resp.Body.Close()
			break
		}
	}

	cmd, err := browserCommand(browserURL(base), custom, runtime.GOOS)
	if err != nil {
		log.Printf("warning: %v", err)
		return
	}
	if cmd != nil {
		_ = cmd.Run()
	}
}

// browserCommand builds the command that opens url. A configured
// command line is split shell-style and gets url appended;
// otherwise the platform opener is used. It returns nil on
// platforms without a known opener.
func browserCommand(url, custom, goos string) (*exec.Cmd, error) {
	if custom != "" {
		args, err := shlex.Split(custom)
		if err != nil {
			return nil, fmt.Errorf("parsing browser command: %w", err)
		}
		if len(args) == 0 {
			return nil, errors.New("browser command is empty")
		}
		return exec.Command(args[0], append(args[1:], url)...), nil
	}
	switch goos {
	case "darwin":
		return exec.Command("open", url), nil
	case "linux":
		return exec.Command("xdg-open", url), nil
	case "windows":
		return exec.Command("rundll32",
			"url.dll,FileProtocolHandler", url), nil
	}
	return nil, nil
}
