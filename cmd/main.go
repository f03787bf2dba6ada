package main

import (
	"fmt"
	"os"

	"github.com/mediadash/edge/config"
	"github.com/mediadash/edge/logutils"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	version = "development"
)

const (
	envPrefix = "EDGE_"
)

func main() {
	cfg := config.New()
	file := &configFile{}

	flags := []cli.Flag{
		&cli.StringFlag{
			Destination: &file.path,
			EnvVars:     []string{envPrefix + "CONFIG_FILE"},
			Name:        "config-file",
			Usage:       "`path` to an optional yaml file with flag values",
		},

		&cli.StringFlag{
			Destination: &cfg.Log.Level,
			EnvVars:     []string{envPrefix + "LOG_LEVEL"},
			Name:        "log-level",
			Usage:       "logging level",
			Value:       "info",
		},

		&cli.StringFlag{
			Destination: &cfg.Log.Mode,
			EnvVars:     []string{envPrefix + "LOG_MODE"},
			Name:        "log-mode",
			Usage:       "logging mode (dev or prod)",
			Value:       "prod",
		},

		&cli.StringFlag{
			Destination: &cfg.Metrics.ListenAddress,
			EnvVars:     []string{envPrefix + "METRICS_LISTEN_ADDRESS"},
			Name:        "metrics-listen-address",
			Usage:       "`host:port` for the prometheus metrics endpoint (empty to disable)",
			Value:       "127.0.0.1:9090",
		},
	}

	commands := []*cli.Command{
		CommandServe(cfg, file),
	}

	app := &cli.App{
		Name:           "edge",
		Usage:          "serve the dashboard's static assets and relay its api calls",
		Version:        version,
		Flags:          flags,
		Commands:       commands,
		DefaultCommand: commands[0].Name,

		Before: func(clictx *cli.Context) error {
			if err := file.apply(clictx, flags); err != nil {
				return err
			}

			l, err := logutils.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(l)

			return nil
		},
	}

	defer func() {
		_ = zap.L().Sync()
	}()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "\nFailed with error:\n\n%s\n\n", err.Error())
		os.Exit(1)
	}
}
