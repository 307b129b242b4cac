package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"quantdesk/internal/config"
	"quantdesk/internal/util"
)

const version = "0.3.0"

var configPath string

func jsonOutput(in any) error {
	j, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(j))
	return nil
}

// loadConfig loads the configuration and installs the default logger. The
// CLI logs to stderr so stdout stays machine readable.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	util.SetDefault(util.NewLoggerTo(os.Stderr, cfg.Logging.Level, "text"))
	return cfg, nil
}

func main() {
	app := cli.NewApp()
	app.Name = "quantdesk"
	app.Version = version
	app.EnableBashCompletion = true
	app.Usage = "run strategy backtests against daily price history"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Value:       config.Path(),
			Usage:       "path to the YAML configuration",
			Destination: &configPath,
		},
	}
	app.Commands = []*cli.Command{
		runCommand,
		batchCommand,
		strategiesCommand,
		importCommand,
		versionCommand,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
