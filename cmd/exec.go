package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/sddrun/internal/render"
	"github.com/zjrosen/sddrun/internal/sdd"
)

// errExecutionFailed makes the process exit non-zero after a failed Result
// has already been printed.
var errExecutionFailed = errors.New("execution failed")

var execCmd = &cobra.Command{
	Use:   "exec <command>",
	Short: "Run one Agent-SDD command for a task",
	Long: `Run one allow-listed Agent-SDD command for a task.

The script receives the task ID as its only argument and runs with the project
directory as its working directory. The spec path is validated but not passed
to the script. Commands without a script produce a simulated result.

Example:
  sddrun exec sdd-execute-task --task 1.2 --spec specs/feature
  sddrun exec sdd-fix --task 3 --spec /abs/spec --project ~/code/app --json`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: commandNames(),
	RunE:      runExec,
}

var (
	execTask string
	execSpec string
	execJSON bool
)

func init() {
	rootCmd.AddCommand(execCmd)

	execCmd.Flags().StringVarP(&execTask, "task", "t", "", "task ID passed to the script")
	execCmd.Flags().StringVarP(&execSpec, "spec", "s", "", "spec directory passed to the script")
	execCmd.Flags().BoolVar(&execJSON, "json", false, "print the result as JSON (default when stdout is not a terminal)")
	_ = execCmd.MarkFlagRequired("task")
	_ = execCmd.MarkFlagRequired("spec")
}

func runExec(cmd *cobra.Command, args []string) error {
	cleanup, err := setupLogging("")
	if err != nil {
		return err
	}
	defer cleanup()

	project, err := projectRoot()
	if err != nil {
		return err
	}
	spec, err := filepath.Abs(execSpec)
	if err != nil {
		return fmt.Errorf("resolving spec path: %w", err)
	}

	req, err := sdd.NewRequest(args[0], execTask, spec, project)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := newRunnerStack(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		rt.Close(shutdownCtx)
	}()

	res, err := rt.runner.Execute(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if execJSON || !render.IsTerminal(out) {
		err = writeJSON(out, res)
	} else {
		err = render.Result(out, req, res)
	}
	if err != nil {
		return err
	}
	if !res.Success {
		return errExecutionFailed
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func commandNames() []string {
	cmds := sdd.AllCommands()
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.String()
	}
	return names
}
