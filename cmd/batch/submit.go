package batch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	corebatch "github.com/caesium-cloud/fanout/internal/batch"
	"github.com/caesium-cloud/fanout/internal/models"
	"github.com/caesium-cloud/fanout/pkg/client"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	submitFile    string
	submitQuery   string
	submitTargets []string
	submitParams  []string
	submitLabel   string
	submitWait    bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Run a query across a set of targets",
	Example: `  fanout batch submit --query 5f0c... --target 9a1e... --target 77b2... --param day=2026-10-01
  fanout batch submit -f request.yaml --wait`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildRequest()
		if err != nil {
			return err
		}

		c, err := newClient()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		resp, err := c.Submit(ctx, req)
		if err != nil {
			return err
		}

		if !submitWait {
			return writeJSON(cmd, resp)
		}

		b, err := waitForBatch(ctx, c, resp.BatchID)
		if err != nil {
			return err
		}
		return writeJSON(cmd, b)
	},
}

func init() {
	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "", "YAML or JSON file holding the request")
	submitCmd.Flags().StringVar(&submitQuery, "query", "", "Query id")
	submitCmd.Flags().StringSliceVar(&submitTargets, "target", nil, "Target id, repeatable")
	submitCmd.Flags().StringSliceVar(&submitParams, "param", nil, "Shared parameter as key=value, repeatable")
	submitCmd.Flags().StringVar(&submitLabel, "label", "", "Free-form batch label")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "Wait for the batch to finish and print it")

	Cmd.AddCommand(submitCmd)
}

// buildRequest reads the request file, if any, and lays the flags on top.
func buildRequest() (*corebatch.SubmitRequest, error) {
	req := &corebatch.SubmitRequest{}

	if submitFile != "" {
		data, err := os.ReadFile(submitFile)
		if err != nil {
			return nil, err
		}
		// JSON is a subset of YAML, so one decoder serves both.
		if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(req); err != nil {
			return nil, errors.Wrapf(err, "decode %s", submitFile)
		}
	}

	if submitQuery != "" {
		id, err := uuid.Parse(submitQuery)
		if err != nil {
			return nil, errors.Wrap(err, "invalid query id")
		}
		req.QueryID = id
	}

	for _, raw := range submitTargets {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid target id %q", raw)
		}
		req.TargetIDs = append(req.TargetIDs, id)
	}

	params, err := parseParams(submitParams)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if req.SharedParameters == nil {
			req.SharedParameters = map[string]any{}
		}
		for k, v := range params {
			req.SharedParameters[k] = v
		}
	}

	if submitLabel != "" {
		req.Label = submitLabel
	}

	if req.QueryID == uuid.Nil {
		return nil, fmt.Errorf("--query or a request file with query_id is required")
	}
	return req, nil
}

func parseParams(raw []string) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("parameter %q must look like key=value", kv)
		}
		out[k] = v
	}
	return out, nil
}

func waitForBatch(ctx context.Context, c *client.Client, id uuid.UUID) (*models.Batch, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		got, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if corebatch.Status(got.Status).Terminal() {
			return got, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.NextBackOff()):
		}
	}
}
