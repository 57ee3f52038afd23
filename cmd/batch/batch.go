package batch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/caesium-cloud/fanout/pkg/client"
	"github.com/spf13/cobra"
)

var (
	server    string
	principal string
	timeout   time.Duration
)

// Cmd is the parent command for batch operations.
var Cmd = &cobra.Command{
	Use:   "batch",
	Short: "Submit and inspect batches",
}

func init() {
	Cmd.PersistentFlags().StringVar(&server, "server", "http://localhost:8080", "fanout server base URL")
	Cmd.PersistentFlags().StringVar(&principal, "as", "", "Principal to act as")
	Cmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "HTTP request timeout")
}

func newClient() (*client.Client, error) {
	return client.New(server, timeout, client.WithPrincipal(principal))
}

func writeJSON(cmd *cobra.Command, v any) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(buf)); err != nil {
		cmd.PrintErrf("write output: %v\n", err)
		return err
	}
	return nil
}
