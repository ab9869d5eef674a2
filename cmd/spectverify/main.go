// spectverify drives the key-management and signing firmware of a SPECT
// coprocessor through its command interface and checks every result
// against reference cryptography.
//
//	spectverify run [-s glob]... [--seed hex]   Run scenarios
//	spectverify list                            List scenarios
//	spectverify ops                             Print the operation table
//	spectverify history [--limit n] [run-id]    Show recorded runs
//	spectverify serve                           Answer file-exchange commands with the simulator
//	spectverify config [--write]                Print or write the effective configuration
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"spectverify/internal/config"
	"spectverify/internal/logging"
)

var app = &cli.App{
	Name:  "spectverify",
	Usage: "verify SPECT key-management and signing firmware",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "configuration file",
			Value:   config.ConfigPath(),
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "override logging.level (debug, info, warn, error)",
		},
	},
	Commands: []*cli.Command{
		runCommand,
		listCommand,
		opsCommand,
		historyCommand,
		serveCommand,
		configCommand,
	},
}

// loadConfig reads the configuration and applies global flags.
func loadConfig(cCtx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(cCtx.String("config"))
	if err != nil {
		return nil, err
	}
	if lvl := cCtx.String("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lc, err := cfg.Logging.LoggerConfig()
	if err != nil {
		return nil, err
	}
	l, err := logging.New(lc)
	if err != nil {
		return nil, err
	}
	logging.SetDefault(l)
	return l, nil
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
