package main

import (
	"strings"

	"github.com/spf13/cobra"

	"poolswap/internal/engine"
)

func newAddLiquidityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-liquidity",
		Short: "Deposit both tokens into a pool for liquidity shares",
		RunE:  runAddLiquidity,
	}
	cmd.Flags().String("principal", "", "caller identity")
	cmd.Flags().String("pool", "", "token pair, e.g. ARCANA/GOLD")
	cmd.Flags().String("amount-a", "", "deposit amount of the pair's first token (canonical order)")
	cmd.Flags().String("amount-b", "", "deposit amount of the pair's second token (canonical order)")
	addCommonFlags(cmd)
	return cmd
}

func runAddLiquidity(cmd *cobra.Command, _ []string) error {
	r, err := setup(cmd)
	if err != nil {
		return err
	}
	defer r.close()

	pair, _ := cmd.Flags().GetString("pool")
	poolID, err := resolvePoolID(pair)
	if err != nil {
		return err
	}
	amountA, err := parseAmount(cmd, "amount-a")
	if err != nil {
		return err
	}
	amountB, err := parseAmount(cmd, "amount-b")
	if err != nil {
		return err
	}
	principal, _ := cmd.Flags().GetString("principal")

	res, err := r.engine.AddLiquidity(r.ctx, engine.AddLiquidityRequest{
		Principal: principal,
		PoolID:    poolID,
		AmountA:   amountA,
		AmountB:   amountB,
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}

func newRemoveLiquidityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove-liquidity",
		Short: "Burn liquidity shares for a pro-rata share of the reserves",
		RunE:  runRemoveLiquidity,
	}
	cmd.Flags().String("principal", "", "caller identity")
	cmd.Flags().String("pool", "", "token pair, e.g. ARCANA/GOLD")
	cmd.Flags().String("shares", "", "shares to burn")
	addCommonFlags(cmd)
	return cmd
}

func runRemoveLiquidity(cmd *cobra.Command, _ []string) error {
	r, err := setup(cmd)
	if err != nil {
		return err
	}
	defer r.close()

	pair, _ := cmd.Flags().GetString("pool")
	poolID, err := resolvePoolID(strings.TrimSpace(pair))
	if err != nil {
		return err
	}
	shares, err := parseAmount(cmd, "shares")
	if err != nil {
		return err
	}
	principal, _ := cmd.Flags().GetString("principal")

	res, err := r.engine.RemoveLiquidity(r.ctx, engine.RemoveLiquidityRequest{
		Principal: principal,
		PoolID:    poolID,
		Shares:    shares,
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}
