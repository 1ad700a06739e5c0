package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/sddrun/internal/paths"
	"github.com/zjrosen/sddrun/internal/render"
	"github.com/zjrosen/sddrun/internal/sdd"
	"github.com/zjrosen/sddrun/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-print command availability whenever the scaffold changes",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cleanup, err := setupLogging("")
	if err != nil {
		return err
	}
	defer cleanup()

	project, err := projectRoot()
	if err != nil {
		return err
	}

	runner := sdd.NewRunner(cfg.RunnerConfig())
	out := cmd.OutOrStdout()
	show := func() error {
		resolutions, err := runner.Commands(project)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s\n", time.Now().Format(time.TimeOnly))
		return render.Commands(out, project, resolutions)
	}
	if err := show(); err != nil {
		return err
	}

	rc := runner.Config()
	w, err := watcher.New(watcher.Config{
		ScaffoldDir: paths.ScaffoldDir(project, rc.ScaffoldDir),
		Extensions:  append(append([]string{}, rc.ScriptExtensions...), rc.InstructionExtensions...),
		DebounceDur: cfg.Watch.Debounce,
	})
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	changes, err := w.Start()
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-changes:
			if err := show(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			}
		case <-sigCh:
			return nil
		}
	}
}
