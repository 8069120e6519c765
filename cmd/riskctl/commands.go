package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/victoralfred/portfolio-risk/internal/risk"
	"github.com/victoralfred/portfolio-risk/internal/service"
)

func newVaRCmd(opts *rootOptions) *cobra.Command {
	var (
		days       int
		confidence float64
	)

	cmd := &cobra.Command{
		Use:   "var",
		Short: "Value at Risk and Conditional Value at Risk",
		Long: `Without --confidence, reports historical VaR and CVaR at both 95% and
99%. With --confidence, reports a single tail estimate, cross-checked against
a parametric CVaR when the history is short.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, p, err := openService(opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if confidence != 0 {
				estimate, err := svc.TailEstimate(ctx, p.id, days, confidence)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.format, estimate)
			}

			varResult, err := svc.ValueAtRisk(ctx, p.id, days)
			if err != nil {
				return err
			}
			cvarResult, err := svc.ConditionalValueAtRisk(ctx, p.id, days)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.format, map[string]interface{}{
				"var":  varResult,
				"cvar": cvarResult,
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "History window in days, 0 for the configured default")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "Single confidence level, 95 or 99")
	return cmd
}

func newMetricsCmd(opts *rootOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Sharpe ratio, drawdown and exposure",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, p, err := openService(opts)
			if err != nil {
				return err
			}
			report, err := svc.Metrics(cmd.Context(), p.id, days)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.format, report)
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "History window in days, 0 for the configured default")
	return cmd
}

func newStressCmd(opts *rootOptions) *cobra.Command {
	var (
		leverage  float64
		scenarios []string
	)

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Apply stress scenarios to the current positions",
		Long: `Runs the named scenarios and the scenarios defined in the portfolio file
against its positions. With neither, the whole historical library is run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, p, err := openService(opts)
			if err != nil {
				return err
			}
			summary, err := svc.StressTest(cmd.Context(), p.id, service.StressRequest{
				Leverage:      leverage,
				ScenarioNames: scenarios,
				Custom:        p.scenarios,
			})
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.format, summary)
		},
	}

	cmd.Flags().Float64Var(&leverage, "leverage", 1, "Account leverage")
	cmd.Flags().StringSliceVar(&scenarios, "scenario", nil, "Scenario name, repeatable")
	return cmd
}

func newBetaCmd(opts *rootOptions) *cobra.Command {
	var (
		indices       []string
		days          int
		rollingWindow int
		rollingStep   int
	)

	cmd := &cobra.Command{
		Use:   "beta",
		Short: "Portfolio beta against one or more indices",
		Long: `Regresses portfolio returns on the index series of the portfolio file.
Indices are given as ID or ID=weight; the first one is the primary market.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			markets, err := parseMarkets(indices)
			if err != nil {
				return err
			}
			svc, p, err := openService(opts)
			if err != nil {
				return err
			}
			report, err := svc.Beta(cmd.Context(), p.id, service.BetaRequest{
				Markets:       markets,
				Days:          days,
				RollingWindow: rollingWindow,
				RollingStep:   rollingStep,
			})
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.format, report)
		},
	}

	cmd.Flags().StringSliceVar(&indices, "index", nil, "Index ID or ID=weight, repeatable")
	cmd.Flags().IntVar(&days, "days", 0, "History window in days, 0 for the configured default")
	cmd.Flags().IntVar(&rollingWindow, "rolling-window", 0, "Rolling beta window in observations, 0 to skip")
	cmd.Flags().IntVar(&rollingStep, "rolling-step", 1, "Rolling beta step in observations")
	_ = cmd.MarkFlagRequired("index")
	return cmd
}

func parseMarkets(args []string) ([]service.MarketWeight, error) {
	markets := make([]service.MarketWeight, 0, len(args))
	for _, arg := range args {
		id, weight, hasWeight := strings.Cut(arg, "=")
		m := service.MarketWeight{IndexID: strings.TrimSpace(id)}
		if hasWeight {
			w, err := strconv.ParseFloat(weight, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid weight in %q", arg)
			}
			m.Weight = w
		}
		if m.IndexID == "" {
			return nil, fmt.Errorf("empty index in %q", arg)
		}
		markets = append(markets, m)
	}
	return markets, nil
}

func newCheckOrderCmd(opts *rootOptions) *cobra.Command {
	var order risk.Order
	var side string

	cmd := &cobra.Command{
		Use:   "check-order",
		Short: "Run a proposed order through the pre-trade gate",
		Long: `Checks an order against the limits in the portfolio file. The verdict is
printed; a rejected order is not a command failure.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, p, err := openService(opts)
			if err != nil {
				return err
			}
			order.Side = risk.OrderSide(strings.ToUpper(side))
			result, err := svc.CheckOrder(cmd.Context(), p.id, p.id, order)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.format, result)
		},
	}

	cmd.Flags().StringVar(&order.Symbol, "symbol", "", "Instrument symbol")
	cmd.Flags().StringVar(&side, "side", "BUY", "BUY or SELL")
	cmd.Flags().Float64Var(&order.Quantity, "quantity", 0, "Order quantity")
	cmd.Flags().Float64Var(&order.Price, "price", 0, "Limit price")
	_ = cmd.MarkFlagRequired("symbol")
	return cmd
}

func newScenariosCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List the predefined stress scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarios := risk.GetHistoricalScenarios()
			if opts.format != "table" {
				return render(cmd.OutOrStdout(), opts.format, scenarios)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPROBABILITY\tDURATION\tSHOCKS")
			for _, s := range scenarios {
				fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\n", s.Name, s.Probability, s.Duration, formatShocks(s.PriceShocks))
			}
			return w.Flush()
		},
	}
}

func formatShocks(shocks map[string]float64) string {
	symbols := make([]string, 0, len(shocks))
	for symbol := range shocks {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	parts := make([]string, len(symbols))
	for i, symbol := range symbols {
		parts[i] = fmt.Sprintf("%s %+g%%", symbol, shocks[symbol])
	}
	return strings.Join(parts, ", ")
}
