package batch

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <batch-id>",
	Short: "Show a batch and its children",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return errors.Wrap(err, "invalid batch id")
		}

		c, err := newClient()
		if err != nil {
			return err
		}

		b, err := c.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		return writeJSON(cmd, b)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <batch-id>",
	Short: "Cancel a running batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return errors.Wrap(err, "invalid batch id")
		}

		c, err := newClient()
		if err != nil {
			return err
		}

		cancelled, err := c.Cancel(cmd.Context(), id)
		if err != nil {
			return err
		}
		if cancelled {
			cmd.Printf("Cancelled batch %s\n", id)
		} else {
			cmd.Printf("Batch %s was already finished or cancelled\n", id)
		}
		return nil
	},
}

var resultsCmd = &cobra.Command{
	Use:   "results <batch-id>",
	Short: "Print the merged results of a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return errors.Wrap(err, "invalid batch id")
		}

		c, err := newClient()
		if err != nil {
			return err
		}

		view, err := c.Results(cmd.Context(), id)
		if err != nil {
			return err
		}
		return writeJSON(cmd, view)
	},
}

func init() {
	Cmd.AddCommand(getCmd, cancelCmd, resultsCmd)
}
