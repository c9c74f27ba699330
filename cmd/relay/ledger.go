package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/layer-3/agentrelay/adapters/ledger"
	"github.com/spf13/cobra"
)

func newLedgerCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the ledger contract",
	}
	cmd.AddCommand(newLedgerOwnerCmd(opts), newLedgerQueryCmd(opts))
	return cmd
}

func newLedgerOwnerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "owner",
		Short: "Print the contract owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reader, err := dialReader(cmd, opts)
			if err != nil {
				return err
			}
			defer reader.Close()

			owner, err := reader.Owner(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), owner)
			return err
		},
	}
}

func newLedgerQueryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query <id>",
		Short: "Print a recorded query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("parse query id: %w", err)
			}

			reader, err := dialReader(cmd, opts)
			if err != nil {
				return err
			}
			defer reader.Close()

			query, err := reader.Query(cmd.Context(), id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(query)
		},
	}
}

func dialReader(cmd *cobra.Command, opts *rootOptions) (*ledger.Reader, error) {
	cfg, logger, err := opts.load()
	if err != nil {
		return nil, err
	}
	defer logger.Sync()

	if err := cfg.ValidateReader(); err != nil {
		return nil, err
	}
	return ledger.DialReader(cmd.Context(), cfg.EVM.RPCURL, cfg.EVM.ContractAddress)
}
