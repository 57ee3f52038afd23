package batch

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/caesium-cloud/fanout/pkg/client"
	"github.com/spf13/cobra"
)

var (
	listOpts client.ListOptions
	listJSON bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List batches, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		resp, err := c.List(cmd.Context(), listOpts)
		if err != nil {
			return err
		}
		if listJSON {
			return writeJSON(cmd, resp)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tDONE\tFAILED\tTOTAL\tOWNER\tCREATED")
		for _, b := range resp.Batches {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
				b.ID, b.Status, b.CompletedTargets, b.FailedTargets, b.TotalTargets,
				b.Owner, b.CreatedAt.Local().Format(time.DateTime))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		cmd.Printf("%d of %d batches\n", len(resp.Batches), resp.Total)
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listOpts.Owner, "owner", "", "Only batches owned by this principal")
	listCmd.Flags().StringVar(&listOpts.QueryID, "query", "", "Only batches of this query id")
	listCmd.Flags().StringVar(&listOpts.Status, "status", "", "Only batches in this status")
	listCmd.Flags().Uint64Var(&listOpts.Limit, "limit", 0, "Page size")
	listCmd.Flags().Uint64Var(&listOpts.Offset, "offset", 0, "Rows to skip")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print the raw JSON response")

	Cmd.AddCommand(listCmd)
}
