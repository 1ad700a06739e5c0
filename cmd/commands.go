package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/sddrun/internal/render"
	"github.com/zjrosen/sddrun/internal/sdd"
)

var commandsJSON bool

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "Show what the project's scaffold provides for each command",
	Long: `List every allow-listed command with what the project's scaffold provides
for it: a runnable script, an instruction document only, or nothing.`,
	Args: cobra.NoArgs,
	RunE: runCommands,
}

func init() {
	rootCmd.AddCommand(commandsCmd)
	commandsCmd.Flags().BoolVar(&commandsJSON, "json", false, "print availability as JSON")
}

func runCommands(cmd *cobra.Command, _ []string) error {
	project, err := projectRoot()
	if err != nil {
		return err
	}

	runner := sdd.NewRunner(cfg.RunnerConfig())
	resolutions, err := runner.Commands(project)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if commandsJSON || !render.IsTerminal(out) {
		return writeJSON(out, resolutions)
	}
	return render.Commands(out, project, resolutions)
}
