package cmd

import (
	"github.com/caesium-cloud/fanout/cmd/batch"
	"github.com/caesium-cloud/fanout/cmd/catalog"
	"github.com/caesium-cloud/fanout/cmd/start"
	"github.com/spf13/cobra"
)

var cmds = []*cobra.Command{
	start.Cmd,
	batch.Cmd,
	catalog.Cmd,
}

// Execute builds the command tree and executes commands.
func Execute() error {
	command := &cobra.Command{
		Use:          "fanout",
		Short:        "Run one query across many remote targets",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}

	for _, c := range cmds {
		command.AddCommand(c)
	}

	return command.Execute()
}
