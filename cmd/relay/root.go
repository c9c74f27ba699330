package main

import (
	"fmt"

	"github.com/layer-3/agentrelay/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type rootOptions struct {
	v          *viper.Viper
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "relay",
		Short:         "Relay wallet-authenticated questions to a hosted AI agent",
		Long:          "relay verifies NEAR wallet sessions, starts agent runs on behalf of users, polls them to completion and records every run on an EVM ledger contract.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newLedgerCmd(opts),
	)
	return rootCmd
}

func (o *rootOptions) load() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.v, o.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}

	zapCfg := zap.NewProductionConfig()
	if o.verbose {
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}
