package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gookit/color"
	"github.com/urfave/cli/v2"

	"spectverify/internal/boot"
	"spectverify/internal/config"
	"spectverify/internal/link"
	"spectverify/internal/ops"
	"spectverify/internal/results"
	"spectverify/internal/runner"
	"spectverify/internal/seed"
	"spectverify/internal/sim"
)

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "run scenarios against the configured device",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "scenario",
			Aliases: []string{"s"},
			Usage:   "scenario name, group or glob; repeatable (default: all)",
		},
		&cli.StringFlag{
			Name:  "seed",
			Usage: "run seed as 64 hex digits (default: from seed.source)",
		},
		&cli.BoolFlag{
			Name:  "no-results",
			Usage: "do not record the run in the results ledger",
		},
	},
	Action: func(cCtx *cli.Context) error {
		cfg, err := loadConfig(cCtx)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Close()

		patterns := cCtx.StringSlice("scenario")
		scenarios, err := runner.Select(runner.Registry(), patterns)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		fixed := cfg.Seed.Value
		if s := cCtx.String("seed"); s != "" {
			fixed = s
		}
		src, err := seed.Open(cfg.Seed.Source, cfg.Seed.TPMPath, fixed)
		if err != nil {
			return err
		}
		runSeed, err := src.Seed(ctx)
		if err != nil {
			return fmt.Errorf("seed from %s: %w", src.Name(), err)
		}

		table, err := loadTable(cfg)
		if err != nil {
			return err
		}
		constants, err := boot.LoadConstants(cfg.DUT.BootConstants)
		if err != nil {
			return err
		}

		dev, err := link.Open(cfg, table, logger.WithComponent("link").Logger)
		if err != nil {
			return err
		}
		defer dev.Close()

		var ledger *results.Ledger
		if cfg.Results.Enabled && !cCtx.Bool("no-results") {
			if ledger, err = results.Open(cfg.Results.Path); err != nil {
				return err
			}
			defer ledger.Close()
		}

		fmt.Printf("seed: %x\n", runSeed)
		r := runner.New(runner.Options{
			Device:       dev,
			Table:        table,
			Constants:    constants,
			Seed:         runSeed,
			Rerandomize:  cfg.DUT.Rerandomize,
			InSrcRandom:  cfg.DUT.InSrcRandom,
			OutSrcRandom: cfg.DUT.OutSrcRandom,
			Transport:    cfg.Transport.Kind,
			Ledger:       ledger,
			Out:          os.Stdout,
			Logger:       logger.WithComponent("runner"),
		})
		sum, err := r.Run(ctx, scenarios, strings.Join(patterns, ","))
		if err != nil {
			return err
		}

		fmt.Printf("\n%d passed, %d failed, %d skipped (run %s)\n", sum.Passed, sum.Failed, sum.Skipped, sum.RunID)
		if code := sum.ExitCode(); code != 0 {
			return cli.Exit("", code)
		}
		return nil
	},
}

func loadTable(cfg *config.Config) (*ops.Table, error) {
	if cfg.DUT.OpsTable == "" {
		return ops.Default()
	}
	return ops.Load(cfg.DUT.OpsTable)
}

var listCommand = &cli.Command{
	Name:  "list",
	Usage: "list scenarios",
	Action: func(cCtx *cli.Context) error {
		all := runner.Registry()
		for _, g := range runner.Groups(all) {
			color.Bold.Println(g)
			for _, s := range all {
				if s.Group() == g {
					fmt.Printf("  %s\n", s.Name)
				}
			}
		}
		return nil
	},
}

var opsCommand = &cli.Command{
	Name:  "ops",
	Usage: "print the operation table",
	Action: func(cCtx *cli.Context) error {
		cfg, err := loadConfig(cCtx)
		if err != nil {
			return err
		}
		table, err := loadTable(cfg)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tOPCODE\tKEY TYPE\tPAYLOAD\tROLE")
		for _, d := range table.Descriptors() {
			fmt.Fprintf(w, "%s\t0x%02x\t0x%02x\t%d\t%s\n", d.Name, d.Opcode, d.KeyType, d.Payload, d.Kind.Role())
		}
		return w.Flush()
	},
}

var historyCommand = &cli.Command{
	Name:      "history",
	Usage:     "show recorded runs, or the scenarios of one run",
	ArgsUsage: "[run-id]",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 10, Usage: "number of runs"},
	},
	Action: func(cCtx *cli.Context) error {
		cfg, err := loadConfig(cCtx)
		if err != nil {
			return err
		}
		ledger, err := results.Open(cfg.Results.Path)
		if err != nil {
			return err
		}
		defer ledger.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		if id := cCtx.Args().First(); id != "" {
			scenarios, err := ledger.Scenarios(id)
			if err != nil {
				return err
			}
			if len(scenarios) == 0 {
				return fmt.Errorf("%w: %s", results.ErrUnknownRun, id)
			}
			fmt.Fprintln(w, "SCENARIO\tRESULT\tCALLS\tDURATION\tDETAIL")
			for _, s := range scenarios {
				result, detail := color.Green.Sprint("PASSED"), ""
				if !s.Passed {
					result, detail = color.Red.Sprint("FAILED"), s.Message
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", s.Name, result, s.Calls, time.Duration(s.DurationNs).Round(time.Microsecond), detail)
			}
			return w.Flush()
		}

		runs, err := ledger.Runs(cCtx.Int("limit"))
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "RUN\tSTARTED\tTRANSPORT\tSELECTION\tPASSED\tFAILED")
		for _, r := range runs {
			failed := fmt.Sprint(r.Failed)
			if !r.Finished() {
				failed = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", r.ID, time.Unix(0, r.StartedNs).Format(time.DateTime), r.Transport, r.Selection, r.Passed, failed)
		}
		return w.Flush()
	},
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "answer file-exchange commands with the software DUT",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "dir", Usage: "exchange directory (default: transport.file.exchange_dir)"},
	},
	Action: func(cCtx *cli.Context) error {
		cfg, err := loadConfig(cCtx)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Close()

		dir := cfg.Transport.File.ExchangeDir
		if d := cCtx.String("dir"); d != "" {
			dir = d
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
		table, err := loadTable(cfg)
		if err != nil {
			return err
		}
		dev, err := sim.New(sim.Options{Rerandomize: cfg.DUT.Rerandomize, Table: table, Logger: logger.WithComponent("sim").Logger})
		if err != nil {
			return err
		}
		defer dev.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		logger.Info("serving exchange directory", "dir", dir)
		return link.ServeDir(ctx, dir, dev, logger.WithComponent("serve").Logger)
	},
}

var configCommand = &cli.Command{
	Name:  "config",
	Usage: "print the effective configuration",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "write", Usage: "write it to the --config path"},
	},
	Action: func(cCtx *cli.Context) error {
		cfg, err := loadConfig(cCtx)
		if err != nil {
			return err
		}
		path := cCtx.String("config")
		if cCtx.Bool("write") {
			if err := config.SaveConfig(cfg, path); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		}
		data, err := config.Encode(cfg, ".toml")
		if err != nil {
			return err
		}
		os.Stdout.Write(data)
		return nil
	},
}
