package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/irrigo/internal/shared"
	"github.com/urfave/cli/v3"
)

// ConfigPathEnv points irrigo at a config file other than ./config.toml.
const ConfigPathEnv = "IRRIGO_CONFIG"

func main() {
	logger := shared.NewLogger(nil)

	configPath := "config.toml"
	if p := os.Getenv(ConfigPathEnv); p != "" {
		configPath = p
	}

	config := shared.DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		if loadedConfig, err := shared.LoadConfig(configPath); err == nil {
			config = loadedConfig
		} else {
			logger.Warn("failed to load config, using defaults", "path", configPath, "error", err)
		}
	}
	shared.SetLogLevel(logger, shared.ParseLogLevel(config.Log.Level))

	db, err := shared.OpenDatabase(config.Database)
	if err != nil {
		logger.Warn("database unavailable, sessions will not persist", "path", config.Database.Path, "error", err)
	}

	runner := NewRunner(RunnerOpts{
		Config:     config,
		ConfigPath: configPath,
		DB:         db,
		Logger:     logger,
	})
	defer runner.Close()

	app := &cli.Command{
		Name:    "irrigo",
		Usage:   "Monitor soil moisture and control irrigation pumps",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("debug") {
				shared.SetLogLevel(logger, log.DebugLevel)
				runner.SetLogger(logger)
			}
			return ctx, nil
		},
		Commands: runner.register(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		runner.Close()
		logger.Fatalf("application error: %v", err)
	}
}
