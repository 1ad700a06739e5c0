package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/sddrun/internal/render"
	"github.com/zjrosen/sddrun/internal/sdd"
)

var instructionsCmd = &cobra.Command{
	Use:       "instructions <command>",
	Short:     "Print the instruction document for a command",
	Args:      cobra.ExactArgs(1),
	ValidArgs: commandNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := sdd.ParseCommand(args[0])
		if err != nil {
			return err
		}
		project, err := projectRoot()
		if err != nil {
			return err
		}

		_, data, err := sdd.NewRunner(cfg.RunnerConfig()).Instructions(c, project)
		if err != nil {
			return err
		}
		return render.Markdown(cmd.OutOrStdout(), string(data))
	},
}

func init() {
	rootCmd.AddCommand(instructionsCmd)
}
