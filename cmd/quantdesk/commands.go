package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"quantdesk/internal/app"
	"quantdesk/internal/engine"
	"quantdesk/internal/gather"
	"quantdesk/internal/pricing"
	"quantdesk/internal/strategy"
	"quantdesk/internal/util"
	"quantdesk/pkg/quantdesk"
)

var backtestFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "strategy",
		Aliases: []string{"s"},
		Value:   "sma-cross",
		Usage:   "the registered strategy to run",
	},
	&cli.StringFlag{
		Name:  "start",
		Usage: "first day of the range (YYYY-MM-DD); empty for all history",
	},
	&cli.StringFlag{
		Name:  "end",
		Usage: "last day of the range (YYYY-MM-DD); empty for today",
	},
	&cli.Float64Flag{
		Name:  "cash",
		Usage: "starting cash; 0 uses backtest.initial_cash",
	},
	&cli.StringSliceFlag{
		Name:    "param",
		Aliases: []string{"p"},
		Usage:   "strategy parameter as key=value, repeatable",
	},
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "backtest one symbol",
	ArgsUsage: "<symbol>",
	Flags: append(backtestFlags,
		&cli.StringFlag{
			Name:  "remote",
			Usage: "quantdesk-server base URL; when set the run happens on the server",
		},
	),
	Action: runBacktest,
}

var batchCommand = &cli.Command{
	Name:      "batch",
	Usage:     "backtest many symbols concurrently",
	ArgsUsage: "<symbol>...",
	Flags: append(backtestFlags,
		&cli.BoolFlag{
			Name:  "all",
			Usage: "run every symbol in the local bar store",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "concurrent runs; 0 uses backtest.workers",
		},
	),
	Action: runBatch,
}

var strategiesCommand = &cli.Command{
	Name:  "strategies",
	Usage: "list the registered strategies",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := app.Build(cfg, slog.Default())
		if err != nil {
			return err
		}
		defer s.Close()
		for _, name := range s.Registry.List() {
			fmt.Println(name)
		}
		return nil
	},
}

var importCommand = &cli.Command{
	Name:      "import",
	Usage:     "download daily bars from Alpaca into the local bar store",
	ArgsUsage: "<symbol>...",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "start",
			Usage:    "first day to download (YYYY-MM-DD)",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "end",
			Usage: "last day to download (YYYY-MM-DD); empty for today",
		},
		&cli.StringFlag{
			Name:  "csv",
			Usage: "CSV file whose first column lists more symbols",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "concurrent downloads; 0 uses backtest.workers",
		},
	},
	Action: importBars,
}

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "print the CLI version",
	Action: func(c *cli.Context) error {
		fmt.Printf("quantdesk %s\n", version)
		return nil
	},
}

// parseParams turns key=value pairs into strategy parameters. Values stay
// strings; the strategy factories convert them.
func parseParams(pairs []string) (strategy.Params, error) {
	params := strategy.Params{}
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("parameter %q: want key=value", kv)
		}
		params[k] = strings.TrimSpace(v)
	}
	return params, nil
}

func runBacktest(c *cli.Context) error {
	symbol := c.Args().First()
	if symbol == "" {
		return errors.New("run: a symbol is required")
	}
	params, err := parseParams(c.StringSlice("param"))
	if err != nil {
		return err
	}
	start, err := util.ParseDate(c.String("start"))
	if err != nil {
		return err
	}
	end, err := util.ParseDate(c.String("end"))
	if err != nil {
		return err
	}

	if remote := c.String("remote"); remote != "" {
		rep, err := quantdesk.NewClient(remote).RunBacktest(c.Context, symbol, c.String("strategy"), params, start, end)
		if err != nil {
			return err
		}
		if rep == nil {
			fmt.Printf("%s: insufficient data\n", strings.ToUpper(symbol))
			return nil
		}
		return jsonOutput(rep)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := app.Build(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer s.Close()

	strat, err := s.Registry.New(c.String("strategy"), params)
	if err != nil {
		return err
	}
	res, err := s.Engine.RunBacktest(c.Context, engine.Request{
		Symbol:      symbol,
		Strategy:    strat,
		Start:       start,
		End:         end,
		InitialCash: c.Float64("cash"),
	})
	if err != nil {
		return err
	}
	if res == nil {
		fmt.Printf("%s: insufficient data\n", strings.ToUpper(symbol))
		return nil
	}
	return jsonOutput(res)
}

func runBatch(c *cli.Context) error {
	params, err := parseParams(c.StringSlice("param"))
	if err != nil {
		return err
	}
	start, err := util.ParseDate(c.String("start"))
	if err != nil {
		return err
	}
	end, err := util.ParseDate(c.String("end"))
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := app.Build(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer s.Close()

	symbols := c.Args().Slice()
	if c.Bool("all") {
		symbols, err = s.Bars.ListSymbols(c.Context, string(s.Market))
		if err != nil {
			return err
		}
	}
	if len(symbols) == 0 {
		return errors.New("batch: no symbols given")
	}

	// Strategies are pure, so one instance serves every symbol.
	strat, err := s.Registry.New(c.String("strategy"), params)
	if err != nil {
		return err
	}
	reqs := make([]engine.Request, len(symbols))
	for i, sym := range symbols {
		reqs[i] = engine.Request{Symbol: sym, Strategy: strat, Start: start, End: end, InitialCash: c.Float64("cash")}
	}

	workers := c.Int("workers")
	if workers <= 0 {
		workers = cfg.Backtest.Workers
	}
	started := time.Now()
	results := s.Engine.RunBatch(c.Context, reqs, workers)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tBARS\tTRADES\tRETURN\tSHARPE\tMAX DD\tFINAL")
	failed := 0
	for _, br := range results {
		sym := strings.ToUpper(br.Request.Symbol)
		switch {
		case br.Err != nil:
			failed++
			fmt.Fprintf(tw, "%s\terror: %v\n", sym, br.Err)
		case br.Result == nil:
			fmt.Fprintf(tw, "%s\tno data\n", sym)
		default:
			r := br.Result
			fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f%%\t%.2f\t%.2f%%\t%.2f\n",
				sym, r.Bars, r.TotalTrades, r.TotalReturn*100, r.SharpeRatio, r.MaxDrawdownPercent, r.FinalValue)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	slog.Info("batch complete", "symbols", len(symbols), "failed", failed, "workers", workers, "elapsed", time.Since(started))
	return nil
}

func importBars(c *cli.Context) error {
	symbols := c.Args().Slice()
	if path := c.String("csv"); path != "" {
		fromCSV, err := gather.LoadCSVSymbols(path)
		if err != nil {
			return err
		}
		symbols = append(symbols, fromCSV...)
	}
	if len(symbols) == 0 {
		return errors.New("import: no symbols given")
	}
	start, err := util.ParseDate(c.String("start"))
	if err != nil {
		return err
	}
	end, err := util.ParseDate(c.String("end"))
	if err != nil {
		return err
	}
	if end.IsZero() {
		end = time.Now().UTC().Truncate(24 * time.Hour)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	alpaca, err := app.NewAlpaca(cfg.Alpaca)
	if err != nil {
		return err
	}
	s, err := app.Build(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer s.Close()

	opts := []gather.Option{
		gather.WithProgressDir(filepath.Join(cfg.Storage.DataDir, string(s.Market), "import")),
	}
	if cached, ok := s.Provider.(*pricing.CachedProvider); ok {
		opts = append(opts, gather.WithOnImported(func(ctx context.Context, sym string) {
			if err := cached.Invalidate(ctx, sym); err != nil {
				slog.Warn("cache invalidation failed", "symbol", sym, "error", err)
			}
		}))
	}
	workers := c.Int("workers")
	if workers <= 0 {
		workers = cfg.Backtest.Workers
	}
	im := gather.NewImporter(alpaca, s.Bars, s.Market, workers, opts...)

	results, err := im.Import(c.Context, symbols, gather.DateRange{Start: start, End: end})
	if err != nil {
		return err
	}
	var imported, empty, skipped, failed int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", r.Symbol, r.Err)
		case r.Skipped:
			skipped++
		case r.Bars == 0:
			empty++
		default:
			imported++
		}
	}
	slog.Info("import complete", "imported", imported, "empty", empty, "skipped", skipped, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("import: %d of %d symbols failed", failed, len(results))
	}
	return nil
}
