package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/victoralfred/portfolio-risk/internal/logging"
	"github.com/victoralfred/portfolio-risk/internal/service"
)

type rootOptions struct {
	file    string
	format  string
	verbose bool
	seed    int64
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "riskctl",
		Short: "Offline portfolio risk calculations",
		Long: `riskctl runs the risk service against a portfolio file instead of the
database. The file holds balance, positions, value history, index history and
limits, in YAML or JSON.

Examples:
  riskctl var --file portfolio.yaml
  riskctl var --file portfolio.yaml --confidence 99
  riskctl stress --file portfolio.yaml --leverage 3 --scenario covid_crash_2020
  riskctl check-order --file portfolio.yaml --symbol BTC --side BUY --quantity 0.5 --price 60000
  riskctl scenarios --format table`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.file, "file", "f", "", "Portfolio file (YAML or JSON)")
	cmd.PersistentFlags().StringVar(&opts.format, "format", "json", "Output format: json, yaml or table where supported")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log service activity to stderr")
	cmd.PersistentFlags().Int64Var(&opts.seed, "seed", 0, "Monte Carlo seed, 0 for the default")

	cmd.AddCommand(
		newVaRCmd(opts),
		newMetricsCmd(opts),
		newStressCmd(opts),
		newBetaCmd(opts),
		newCheckOrderCmd(opts),
		newScenariosCmd(opts),
		newMigrateCmd(),
		newImportCmd(opts),
	)
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openService loads the portfolio file and builds a service over it
func openService(opts *rootOptions) (*service.RiskService, *filePortfolio, error) {
	if opts.file == "" {
		return nil, nil, fmt.Errorf("--file is required")
	}
	portfolio, err := loadPortfolioFile(opts.file)
	if err != nil {
		return nil, nil, err
	}

	logger := zap.NewNop()
	if opts.verbose {
		lc := logging.DefaultLogConfig()
		lc.Level = "debug"
		lc.Format = "console"
		lc.Output = "stderr"
		if logger, err = logging.New(lc); err != nil {
			return nil, nil, err
		}
	}

	cfg := service.DefaultConfig()
	if opts.seed != 0 {
		cfg.Tail.Seed = opts.seed
	}
	svc := service.New(cfg, service.Dependencies{
		History:   portfolio,
		Positions: portfolio,
		Market:    portfolio,
		Limits:    portfolio,
	}, service.WithLogger(logger))
	return svc, portfolio, nil
}

// render writes v as indented JSON or as YAML. YAML output goes through JSON
// first so field names match the API.
func render(w io.Writer, format string, v interface{}) error {
	switch strings.ToLower(format) {
	case "", "json", "table":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case "yaml", "yml":
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic interface{}
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		defer encoder.Close()
		return encoder.Encode(generic)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
