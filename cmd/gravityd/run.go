package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/geanlabs/gravity/config"
	"github.com/geanlabs/gravity/node"
	"github.com/geanlabs/gravity/observability/logging"
)

var (
	flagConfig   string
	flagLogLevel string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the node until interrupted",
	RunE:  run,
}

func init() {
	runCmd.Flags().StringVar(&flagConfig, "config", "gravity.yaml", "path to the node config file")
	runCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	logger := logging.NewLogger(cfg.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := node.New(ctx, cfg, node.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	n.Start()

	logger.Info("gravity node running", "config", flagConfig, "peers", n.PeerCount())

	<-ctx.Done()
	logger.Info("shutting down...")
	return n.Stop()
}
