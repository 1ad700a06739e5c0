package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/sddrun/internal/api"
	"github.com/zjrosen/sddrun/internal/flags"
	"github.com/zjrosen/sddrun/internal/log"
	"github.com/zjrosen/sddrun/internal/paths"
	"github.com/zjrosen/sddrun/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the command runner over HTTP",
	Long: `Run an HTTP server that exposes the command runner to the desktop UI.

Endpoints:
  POST /commands/execute   run one command, returns the execution result
  GET  /commands?project=  what the scaffold provides for each command
  GET  /commands/{command}/instructions?project=
                           the command's instruction document
  GET  /events             server-sent execution events (?logs=true adds log lines)
  GET  /health             liveness

Instruction documents are cached for server.instructions_ttl. The scaffold of
--project (default: the current directory) is watched, and edits to it drop
that project's cached documents right away.

Example:
  sddrun serve                     # Listen on server.addr (default localhost:19998)
  sddrun serve --addr :0           # Let the OS pick a port`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cleanup, err := setupLogging("sddrun-serve")
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := newRunnerStack(ctx)
	if err != nil {
		return err
	}

	ff := featureFlags()
	handlerCfg := api.HandlerConfig{
		Runner:          rt.runner,
		Events:          rt.events,
		InstructionsTTL: cfg.Server.InstructionsTTL,
	}
	if ff.Enabled(flags.FlagStreamLogs) {
		handlerCfg.Logs = log.Subscribe
	}
	if ff.Enabled(flags.FlagHTTPTracing) && rt.provider.Enabled() {
		handlerCfg.Tracer = rt.provider.Tracer()
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	server, err := api.NewServer(api.ServerConfig{
		Addr:          addr,
		HandlerConfig: handlerCfg,
	})
	if err != nil {
		rt.Close(ctx)
		return fmt.Errorf("creating API server: %w", err)
	}

	if stop := watchInstructions(ctx, server); stop != nil {
		defer stop()
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "sddrun serving on %s\n", server.Addr())
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	var serveErr error
	select {
	case sig := <-sigCh:
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	}

	// Executions already admitted finish on their own timeout; give them the
	// configured bound before giving up on graceful shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.Exec.Timeout+5*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error(log.CatAPI, "Error stopping API server", "error", err)
	}
	rt.Close(shutdownCtx)

	fmt.Fprintln(out, "Server stopped")
	return serveErr
}

// watchInstructions invalidates cached instruction documents when the scaffold
// of the served project changes. It returns nil when there is nothing to watch.
func watchInstructions(ctx context.Context, server *api.Server) func() {
	if cfg.Server.InstructionsTTL <= 0 {
		return nil
	}
	project, err := projectRoot()
	if err != nil {
		return nil
	}
	scaffold := paths.ScaffoldDir(project, cfg.ScaffoldDir)
	if info, err := os.Stat(scaffold); err != nil || !info.IsDir() {
		log.Debug(log.CatWatcher, "no scaffold to watch", "project", project)
		return nil
	}

	rc := cfg.RunnerConfig()
	w, err := watcher.New(watcher.Config{
		ScaffoldDir: scaffold,
		Extensions:  rc.InstructionExtensions,
		DebounceDur: cfg.Watch.Debounce,
	})
	if err != nil {
		log.ErrorErr(log.CatWatcher, "failed to create scaffold watcher", err)
		return nil
	}
	changes, err := w.Start()
	if err != nil {
		_ = w.Stop()
		log.ErrorErr(log.CatWatcher, "failed to watch scaffold", err, "scaffold", scaffold)
		return nil
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				server.InvalidateInstructions(ctx, project)
			}
		}
	}()

	log.Info(log.CatWatcher, "watching scaffold for instruction changes", "scaffold", scaffold)
	return func() { _ = w.Stop() }
}
