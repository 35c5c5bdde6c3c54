// Package cli implements the ekaya-riskgraph command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/config"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/logging"
)

// rootOptions carries the persistent flags shared by every subcommand.
type rootOptions struct {
	version    string
	configPath string
	debug      bool
}

// load reads the configuration and builds the logger for it.
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFrom(o.configPath, o.version)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(cfg.Env, o.debug)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{version: version}

	rootCmd := &cobra.Command{
		Use:   "ekaya-riskgraph",
		Short: "Business entity graph with risk propagation and impact analysis",
		Long: `ekaya-riskgraph stores a typed graph of business entities per organization,
propagates risk across it, and answers impact radius queries.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultConfigPath, "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newMigrateCmd(opts))
	rootCmd.AddCommand(newRiskCmd(opts))
	rootCmd.AddCommand(newVersionCmd(opts))

	return rootCmd
}

// Execute runs the root command until it finishes or the process is signalled.
func Execute(version string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd(version).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
