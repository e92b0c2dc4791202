package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v2"

	"github.com/rickgao/rtdbridge/internal/config"
	"github.com/rickgao/rtdbridge/internal/version"
)

type cliArgs struct {
	ConfigFile string `validate:"required"`
	LogLevel   string `validate:"required,oneof=debug info warn error"`
	JSONLog    bool
}

var cmdArgs cliArgs

func main() {
	app := &cli.App{
		Name:    "rtdbridge",
		Version: version.String(),
		Usage:   "bridge a real-time feed provider to WebSocket consumers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "Path to config file",
				Aliases:     []string{"c"},
				EnvVars:     []string{"RTDBRIDGE_CONFIG"},
				Value:       "configs/rtdbridge.local.yaml",
				Destination: &cmdArgs.ConfigFile,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Logging level: [debug info warn error]",
				Aliases:     []string{"l"},
				EnvVars:     []string{"LOG_LEVEL"},
				Value:       "info",
				Destination: &cmdArgs.LogLevel,
			},
			&cli.BoolFlag{
				Name:        "json-log",
				Usage:       "Whether to log in JSON format",
				Aliases:     []string{"j"},
				EnvVars:     []string{"LOG_AS_JSON"},
				Destination: &cmdArgs.JSONLog,
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the bridge",
				Action: runServe,
			},
			{
				Name:   "check-config",
				Usage:  "Load and validate the config file, then exit",
				Action: runCheckConfig,
			},
			{
				Name:  "version",
				Usage: "Print build information",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, version.String())
					return nil
				},
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("program shutdown", "error", err)
		os.Exit(1)
	}
}

// setupLogging validates the global flags and installs the default logger.
func setupLogging() (*slog.Logger, error) {
	if err := validator.New().Struct(&cmdArgs); err != nil {
		return nil, fmt.Errorf("invalid command line arguments: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cmdArgs.LogLevel)); err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cmdArgs.JSONLog {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

func runCheckConfig(c *cli.Context) error {
	logger, err := setupLogging()
	if err != nil {
		return err
	}

	cfg, err := config.LoadAndValidate(cmdArgs.ConfigFile)
	if err != nil {
		return err
	}

	logger.Info("configuration valid",
		"config", cmdArgs.ConfigFile,
		"instance_id", cfg.Instance.ID,
		"feed_kind", cfg.Feed.Kind,
		"listen", cfg.Server.Listen,
		"journal", cfg.Journal.Enabled,
	)
	return nil
}
