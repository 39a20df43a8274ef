package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"poolswap/internal/config"
	"poolswap/internal/engine"
	"poolswap/internal/fixed"
	"poolswap/internal/ledger"
	"poolswap/internal/model"
	"poolswap/internal/store"
	"poolswap/internal/store/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "poolswap",
		Short:        "Constant-product AMM engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	root.AddCommand(
		newCreatePoolCmd(),
		newSwapCmd(),
		newQuoteCmd(),
		newAddLiquidityCmd(),
		newRemoveLiquidityCmd(),
		newPoolsCmd(),
		newPositionsCmd(),
		newTradesCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// addCommonFlags registers the store and engine flags every subcommand takes.
func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("pg-dsn", "", "Postgres DSN; empty means the local file-backed store")
	cmd.Flags().String("state", "./data/pools.json", "state file for the file-backed store")
	cmd.Flags().String("ledger", "", "optional JSONL trade ledger path")
	cmd.Flags().String("fee-rate", "0.003", "default fee rate for new pools")
	cmd.Flags().Duration("lock-wait", 2*time.Second, "bounded wait for a pool lock")
	cmd.Flags().Int("max-retries", 3, "retries when a pool is busy")
	cmd.Flags().Duration("retry-backoff", 50*time.Millisecond, "initial retry backoff")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

// runContext is the shared per-invocation wiring.
type runContext struct {
	ctx    context.Context
	stop   context.CancelFunc
	cfg    config.Config
	logger *zap.Logger
	store  store.PoolStore
	engine *engine.Engine
}

func setup(cmd *cobra.Command) (*runContext, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	var st store.PoolStore
	if cfg.PGDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN, cfg.LockWait)
		if err != nil {
			stop()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			stop()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		st = pg
	} else {
		mem, err := store.NewMemory(store.MemoryOptions{
			SnapshotPath: cfg.StatePath,
			LockWait:     cfg.LockWait,
		})
		if err != nil {
			stop()
			return nil, fmt.Errorf("open state file: %w", err)
		}
		st = mem
	}

	var sink ledger.Sink
	if cfg.LedgerPath != "" {
		sink = ledger.NewJsonl(cfg.LedgerPath)
	}

	eng := engine.New(st, engine.Options{
		Ledger:         sink,
		Logger:         logger,
		DefaultFeeRate: cfg.DefaultFeeRate,
		MaxRetries:     cfg.MaxRetries,
		RetryBackoff:   cfg.RetryBackoff,
	})

	return &runContext{ctx: ctx, stop: stop, cfg: cfg, logger: logger, store: st, engine: eng}, nil
}

func (r *runContext) close() {
	r.store.Close()
	_ = r.logger.Sync()
	r.stop()
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// resolvePoolID turns a "TOKEN/TOKEN" pair argument into the canonical pool
// ID, accepting either order.
func resolvePoolID(pair string) (string, error) {
	parts := strings.Split(pair, "/")
	if len(parts) != 2 {
		return "", fmt.Errorf("pool must be given as TOKENA/TOKENB, got %q", pair)
	}
	id, _, _, err := model.PairID(parts[0], parts[1])
	if err != nil {
		return "", err
	}
	return id, nil
}

func parseAmount(cmd *cobra.Command, flag string) (fixed.Dec, error) {
	raw, _ := cmd.Flags().GetString(flag)
	amount, err := fixed.FromString(raw)
	if err != nil {
		return fixed.Dec{}, fmt.Errorf("parse --%s: %w", flag, err)
	}
	return amount, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func newCreatePoolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-pool",
		Short: "Create (or fetch) the pool for a token pair",
		RunE:  runCreatePool,
	}
	cmd.Flags().String("token-a", "", "first token symbol")
	cmd.Flags().String("token-b", "", "second token symbol")
	addCommonFlags(cmd)
	return cmd
}

func runCreatePool(cmd *cobra.Command, _ []string) error {
	r, err := setup(cmd)
	if err != nil {
		return err
	}
	defer r.close()

	tokenA, _ := cmd.Flags().GetString("token-a")
	tokenB, _ := cmd.Flags().GetString("token-b")

	// An unset --fee-rate falls through to the engine default, so an explicit
	// "--fee-rate 0" still creates a fee-free pool.
	var feeRate *fixed.Dec
	if cmd.Flags().Changed("fee-rate") {
		raw, _ := cmd.Flags().GetString("fee-rate")
		rate, err := fixed.FromString(raw)
		if err != nil {
			return fmt.Errorf("parse fee-rate: %w", err)
		}
		feeRate = &rate
	}

	pool, err := r.engine.CreatePool(r.ctx, tokenA, tokenB, feeRate)
	if err != nil {
		return err
	}
	return printJSON(pool)
}

func newSwapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Swap an amount of one token against a pool",
		RunE:  runSwap,
	}
	cmd.Flags().String("principal", "", "caller identity")
	cmd.Flags().String("pool", "", "token pair, e.g. ARCANA/GOLD")
	cmd.Flags().String("token-in", "", "input token symbol")
	cmd.Flags().String("amount", "", "input amount")
	addCommonFlags(cmd)
	return cmd
}

func runSwap(cmd *cobra.Command, _ []string) error {
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
	amount, err := parseAmount(cmd, "amount")
	if err != nil {
		return err
	}
	principal, _ := cmd.Flags().GetString("principal")
	tokenIn, _ := cmd.Flags().GetString("token-in")

	res, err := r.engine.Swap(r.ctx, engine.SwapRequest{
		Principal: principal,
		PoolID:    poolID,
		TokenIn:   strings.ToUpper(strings.TrimSpace(tokenIn)),
		AmountIn:  amount,
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}

func newQuoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Preview a swap's output without executing it",
		RunE:  runQuote,
	}
	cmd.Flags().String("pool", "", "token pair, e.g. ARCANA/GOLD")
	cmd.Flags().String("token-in", "", "input token symbol")
	cmd.Flags().String("amount", "", "input amount")
	addCommonFlags(cmd)
	return cmd
}

func runQuote(cmd *cobra.Command, _ []string) error {
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
	amount, err := parseAmount(cmd, "amount")
	if err != nil {
		return err
	}
	tokenIn, _ := cmd.Flags().GetString("token-in")

	res, err := r.engine.Quote(r.ctx, poolID, strings.ToUpper(strings.TrimSpace(tokenIn)), amount)
	if err != nil {
		return err
	}
	return printJSON(res)
}
