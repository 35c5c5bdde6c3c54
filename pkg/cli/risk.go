package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

func newRiskCmd(opts *rootOptions) *cobra.Command {
	riskCmd := &cobra.Command{
		Use:   "risk",
		Short: "Risk propagation commands",
	}
	riskCmd.AddCommand(newRiskComputeCmd(opts))
	return riskCmd
}

func newRiskComputeCmd(opts *rootOptions) *cobra.Command {
	var (
		orgFlag  string
		maxNodes int
		output   string
	)

	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Compute and persist today's risk snapshot for one org",
		Example: `  ekaya-riskgraph risk compute --org 6f1c2d7e-0000-4000-8000-000000000001
  ekaya-riskgraph risk compute --org 6f1c2d7e-0000-4000-8000-000000000001 --max-nodes 500 --output yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, format, err := parseComputeFlags(orgFlag, maxNodes, output)
			if err != nil {
				return err
			}

			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			snapshot, err := a.riskRunner.Run(cmd.Context(), orgID, models.RiskComputeOptions{MaxNodes: maxNodes})
			if err != nil {
				return fmt.Errorf("risk compute failed: %w", err)
			}
			logger.Info("Risk snapshot computed",
				zap.String("org_id", orgID.String()),
				zap.Int("risk_score", snapshot.RiskScore),
				zap.Int("drivers", len(snapshot.Drivers)))

			return writeSnapshot(cmd.OutOrStdout(), snapshot, format)
		},
	}

	cmd.Flags().StringVar(&orgFlag, "org", "", "Org ID to compute (required)")
	cmd.Flags().IntVar(&maxNodes, "max-nodes", 0, "Maximum nodes to load; 0 uses the configured default")
	cmd.Flags().StringVarP(&output, "output", "o", outputJSON, "Output format: json or yaml")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}

// parseComputeFlags validates the flags before any store connection is opened.
func parseComputeFlags(org string, maxNodes int, output string) (uuid.UUID, string, error) {
	orgID, err := uuid.Parse(strings.TrimSpace(org))
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid --org %q: must be a UUID", org)
	}
	if maxNodes < 0 {
		return uuid.Nil, "", fmt.Errorf("invalid --max-nodes %d: must not be negative", maxNodes)
	}
	format := strings.ToLower(strings.TrimSpace(output))
	if format != outputJSON && format != outputYAML {
		return uuid.Nil, "", fmt.Errorf("invalid --output %q: must be json or yaml", output)
	}
	return orgID, format, nil
}

// writeSnapshot renders the snapshot with its JSON field names in either format.
func writeSnapshot(w io.Writer, snapshot *models.RiskSnapshot, format string) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if format == outputJSON {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	// JSON is valid YAML; decoding it into a node keeps field order.
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to convert snapshot to yaml: %w", err)
	}
	resetStyle(&doc)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return enc.Close()
}

// resetStyle drops the flow and quoting styles inherited from the JSON source.
func resetStyle(n *yaml.Node) {
	n.Style = 0
	for _, child := range n.Content {
		resetStyle(child)
	}
}
