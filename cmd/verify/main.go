package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"liqx-bot/internal/bus"
	"liqx-bot/internal/config"
	"liqx-bot/internal/domain"
	"liqx-bot/internal/indexer"
	"liqx-bot/internal/logging"
	"liqx-bot/internal/prices"
	"liqx-bot/internal/quotes"
	"liqx-bot/internal/reasoning"
	"liqx-bot/internal/risk"
	"liqx-bot/internal/state"
	"liqx-bot/internal/state/sqlite"
	"liqx-bot/internal/strategy"
	"liqx-bot/internal/yields"

	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const defaultVerifyEnvFile = ".env"

// runtime is shared by every subcommand once the root pre-run has loaded config.
type runtime struct {
	configPath string
	timeout    time.Duration
	cfg        *config.Config
	log        *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rt := &runtime{}
	if err := rt.rootCommand().ExecuteContext(ctx); err != nil {
		fatal(err)
	}
}

func (rt *runtime) rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "verify",
		Short:         "Check upstream integrations and inspect pipeline state",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
				return err
			}
			if rt.configPath != "" {
				cfg, err := config.Load(rt.configPath)
				if err != nil {
					return err
				}
				rt.cfg = cfg
			} else {
				rt.cfg = config.Default()
			}
			rt.log = logging.New(rt.cfg.Log)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rt.log != nil {
				_ = rt.log.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&rt.configPath, "config", "", "optional config path")
	cmd.PersistentFlags().DurationVar(&rt.timeout, "timeout", 30*time.Second, "overall request timeout")
	cmd.AddCommand(rt.positionsCommand())
	cmd.AddCommand(rt.yieldsCommand())
	cmd.AddCommand(rt.quoteCommand())
	cmd.AddCommand(rt.assessCommand())
	cmd.AddCommand(rt.scoreCommand())
	cmd.AddCommand(rt.historyCommand())
	cmd.AddCommand(rt.eventsCommand())
	return cmd
}

func (rt *runtime) positionsCommand() *cobra.Command {
	var threshold float64
	var limit int
	var user string
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Fetch risky positions from the lending indexer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(rt.cfg.Indexer.URL) == "" {
				return errors.New("indexer url is required (LIQX_SUBGRAPH_URL)")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), rt.timeout)
			defer cancel()
			idx := indexer.New(indexer.NewClient(rt.cfg.Indexer, rt.log), rt.cfg.Indexer, rt.log)
			var (
				positions []domain.Position
				err       error
			)
			if user != "" {
				positions, err = idx.GetUserPositions(ctx, user)
			} else {
				positions, err = idx.GetRiskyPositions(ctx, threshold, limit)
			}
			if err != nil {
				return err
			}
			return printJSON(positions)
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 1.5, "health factor upper bound")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum positions")
	cmd.Flags().StringVar(&user, "user", "", "only positions owned by this address")
	return cmd
}

func (rt *runtime) yieldsCommand() *cobra.Command {
	var minAPY float64
	var limit int
	var protocol, chain, token string
	cmd := &cobra.Command{
		Use:   "yields",
		Short: "List top lending yields, or one pool's APY",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), rt.timeout)
			defer cancel()
			src := yields.New(yields.NewClient(rt.cfg.Yields, rt.log), rt.cfg.Yields, rt.log)
			if protocol != "" {
				apy, ok, err := src.GetAPY(ctx, protocol, chain, token)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"protocol": protocol, "chain": chain, "token": token, "apy": apy, "found": ok})
			}
			top, err := src.GetTopYields(ctx, minAPY, limit)
			if err != nil {
				return err
			}
			return printJSON(top)
		},
	}
	cmd.Flags().Float64Var(&minAPY, "min-apy", 0, "minimum apy in percent")
	cmd.Flags().IntVar(&limit, "limit", 15, "maximum pools")
	cmd.Flags().StringVar(&protocol, "protocol", "", "look up a single protocol's apy")
	cmd.Flags().StringVar(&chain, "chain", "ethereum", "chain for --protocol")
	cmd.Flags().StringVar(&token, "token", "USDC", "token for --protocol")
	return cmd
}

func (rt *runtime) quoteCommand() *cobra.Command {
	root := &cobra.Command{Use: "quote", Short: "Request swap and cross-chain quotes"}

	var swapChain, from, to string
	var amount float64
	swapCmd := &cobra.Command{
		Use:   "swap",
		Short: "Quote a same-chain swap",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), rt.timeout)
			defer cancel()
			priceSrc := prices.New(prices.NewClient(rt.cfg.Prices, rt.log), nil, rt.cfg.Prices, rt.log)
			swaps := quotes.NewSwap(quotes.NewSwapClient(rt.cfg.Swap, rt.log), priceSrc, rt.cfg.Swap, rt.log)
			quote, err := swaps.SwapQuote(ctx, from, to, amount, swapChain)
			if err != nil {
				return err
			}
			return printJSON(quote)
		},
	}
	swapCmd.Flags().StringVar(&swapChain, "chain", "ethereum", "chain to swap on")
	swapCmd.Flags().StringVar(&from, "from", "WETH", "token sold")
	swapCmd.Flags().StringVar(&to, "to", "USDC", "token bought")
	swapCmd.Flags().Float64Var(&amount, "amount", 1, "amount sold, in whole tokens")

	var fromChain, toChain, token string
	var crossAmount float64
	crossCmd := &cobra.Command{
		Use:   "cross",
		Short: "Quote a cross-chain transfer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), rt.timeout)
			defer cancel()
			fusion := quotes.NewFusion(quotes.NewFusionClient(rt.cfg.CrossChain, rt.log), rt.cfg.CrossChain, rt.log)
			quote, err := fusion.CrossChainQuote(ctx, fromChain, toChain, token, token, crossAmount)
			if err != nil {
				return err
			}
			return printJSON(quote)
		},
	}
	crossCmd.Flags().StringVar(&fromChain, "from-chain", "ethereum", "source chain")
	crossCmd.Flags().StringVar(&toChain, "to-chain", "arbitrum", "destination chain")
	crossCmd.Flags().StringVar(&token, "token", "USDC", "token moved")
	crossCmd.Flags().Float64Var(&crossAmount, "amount", 1000, "amount moved, in whole tokens")

	root.AddCommand(swapCmd, crossCmd)
	return root
}

// assessCommand scores a hypothetical position with the same evaluator the monitor uses.
func (rt *runtime) assessCommand() *cobra.Command {
	var collateral, debt, price, volatility float64
	var token string
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Evaluate health factor and risk for a position",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), rt.timeout)
			defer cancel()
			if price <= 0 {
				priceSrc := prices.New(prices.NewClient(rt.cfg.Prices, rt.log), nil, rt.cfg.Prices, rt.log)
				p, err := priceSrc.GetPrice(ctx, token)
				if err != nil {
					return err
				}
				price = p
			}
			engine := reasoning.Select(ctx, rt.cfg.Reasoning, nil, rt.log)
			eval := risk.NewEvaluator(engine, rt.cfg.Monitor.LiquidationThreshold)
			pos := domain.Position{ID: "verify", CollateralToken: token, CollateralAmount: collateral, DebtToken: "USDC", DebtAmount: debt}
			assess, err := eval.Evaluate(ctx, pos, price, volatility)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"price":                     price,
				"health_factor":             assess.HealthFactor,
				"risk_level":                assess.RiskLevel,
				"liquidation_probability":   assess.LiquidationProbability,
				"urgency":                   assess.Urgency,
				"execution_priority":        assess.ExecutionPriority,
				"requires_immediate_action": assess.RequiresImmediateAction,
				"source":                    assess.Source,
				"alert":                     assess.HealthFactor < rt.cfg.Monitor.AlertHealthFactor,
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "WETH", "collateral token")
	cmd.Flags().Float64Var(&collateral, "collateral", 10, "collateral amount")
	cmd.Flags().Float64Var(&debt, "debt", 20000, "debt in USD")
	cmd.Flags().Float64Var(&price, "price", 0, "collateral price; fetched when zero")
	cmd.Flags().Float64Var(&volatility, "volatility", 5, "volatility in percent")
	return cmd
}

// scoreCommand runs live yields through the scorer for a position held in
// protocol/chain/token, the same way the pipeline does after an alert.
func (rt *runtime) scoreCommand() *cobra.Command {
	var protocol, chain, token, urgency string
	var amount float64
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Select the best migration target for a position",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), rt.timeout)
			defer cancel()
			src := yields.New(yields.NewClient(rt.cfg.Yields, rt.log), rt.cfg.Yields, rt.log)
			currentAPY, ok, err := src.GetAPY(ctx, protocol, chain, token)
			if err != nil || !ok {
				currentAPY = rt.cfg.Yields.DefaultCurrentAPY
			}
			top, err := src.GetTopYields(ctx, currentAPY+rt.cfg.Strategy.MinAPYImprovement, rt.cfg.Yields.TopLimit)
			if err != nil {
				return err
			}
			pos := domain.Position{Protocol: protocol, Chain: chain, CollateralToken: token}
			candidates := strategy.BuildCandidates(pos, chain, top, strategy.CostModel{GasUSD: rt.cfg.Strategy.DefaultGasUSD})
			engine := reasoning.Select(ctx, rt.cfg.Reasoning, nil, rt.log)
			scorer := strategy.NewScorer(engine, strategy.Config{
				MinImprovement:     rt.cfg.Strategy.MinAPYImprovement,
				MaxBreakEvenMonths: rt.cfg.Strategy.MaxBreakEvenMonths,
			})
			current := strategy.Current{Protocol: protocol, Chain: chain, APY: currentAPY}
			selected, found := scorer.SelectBest(ctx, current, amount, strategy.UrgencyFromLabel(urgency), candidates)
			if !found {
				return printJSON(map[string]any{"current_apy": currentAPY, "candidates": len(candidates), "selected": nil})
			}
			return printJSON(map[string]any{"current_apy": currentAPY, "candidates": len(candidates), "selected": selected})
		},
	}
	cmd.Flags().StringVar(&protocol, "protocol", "aave-v3", "current protocol")
	cmd.Flags().StringVar(&chain, "chain", "ethereum", "current chain")
	cmd.Flags().StringVar(&token, "token", "WETH", "collateral token")
	cmd.Flags().StringVar(&urgency, "urgency", "medium", "urgency label: low, medium or high")
	cmd.Flags().Float64Var(&amount, "amount", 10_000, "position size in USD")
	return cmd
}

func (rt *runtime) historyCommand() *cobra.Command {
	var failedOnly bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled execution results",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlite.New(rt.cfg.State.SQLitePath)
			if err != nil {
				return err
			}
			defer store.Close()
			records, err := state.ListExecutionRecords(cmd.Context(), store)
			if err != nil {
				return err
			}
			if failedOnly {
				kept := records[:0]
				for _, r := range records {
					if !r.Success {
						kept = append(kept, r)
					}
				}
				records = kept
			}
			return printJSON(records)
		},
	}
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "only failed executions")
	return cmd
}

func (rt *runtime) eventsCommand() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail pipeline events from the redis bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rt.cfg.Redis
			cfg.Enabled = true
			ctx := cmd.Context()
			pub, err := bus.NewRedis(ctx, cfg)
			if err != nil {
				return err
			}
			defer pub.Close()
			frames, err := pub.Subscribe(ctx, cfg.Channel)
			if err != nil {
				return err
			}
			seen := 0
			for data := range frames {
				env, err := bus.Decode(data)
				if err != nil {
					rt.log.Warn("undecodable event", zap.Error(err))
					continue
				}
				var payload map[string]any
				if err := msgpack.Unmarshal(env.Payload, &payload); err != nil {
					rt.log.Warn("undecodable payload", zap.String("kind", string(env.Kind)), zap.Error(err))
				}
				if err := printJSON(map[string]any{
					"kind":        env.Kind,
					"id":          env.ID,
					"position_id": env.PositionID,
					"time":        time.UnixMilli(env.TimestampMS).UTC(),
					"payload":     payload,
				}); err != nil {
					return err
				}
				seen++
				if count > 0 && seen >= count {
					return nil
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many events; 0 tails until interrupted")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
