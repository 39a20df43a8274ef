package main

import (
	"github.com/spf13/cobra"
)

func newPoolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pools",
		Short: "List all pools",
		RunE:  runPools,
	}
	addCommonFlags(cmd)
	return cmd
}

func runPools(cmd *cobra.Command, _ []string) error {
	r, err := setup(cmd)
	if err != nil {
		return err
	}
	defer r.close()

	pools, err := r.store.ListPools(r.ctx)
	if err != nil {
		return err
	}
	return printJSON(pools)
}

func newPositionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "List a principal's liquidity positions",
		RunE:  runPositions,
	}
	cmd.Flags().String("principal", "", "caller identity")
	addCommonFlags(cmd)
	return cmd
}

func runPositions(cmd *cobra.Command, _ []string) error {
	r, err := setup(cmd)
	if err != nil {
		return err
	}
	defer r.close()

	principal, _ := cmd.Flags().GetString("principal")
	positions, err := r.store.ListPositions(r.ctx, principal)
	if err != nil {
		return err
	}
	return printJSON(positions)
}

func newTradesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List a principal's trades, newest first",
		RunE:  runTrades,
	}
	cmd.Flags().String("principal", "", "caller identity")
	cmd.Flags().Int("limit", 50, "maximum trades to return")
	addCommonFlags(cmd)
	return cmd
}

func runTrades(cmd *cobra.Command, _ []string) error {
	r, err := setup(cmd)
	if err != nil {
		return err
	}
	defer r.close()

	principal, _ := cmd.Flags().GetString("principal")
	limit, _ := cmd.Flags().GetInt("limit")
	trades, err := r.store.ListTrades(r.ctx, principal, limit)
	if err != nil {
		return err
	}
	return printJSON(trades)
}
