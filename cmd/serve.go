package main

import (
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/mediadash/edge/config"
	"github.com/mediadash/edge/server"
)

const (
	categoryBreaker     = "breaker"
	categoryHealthcheck = "healthcheck"
	categoryServer      = "server"
	categoryStatic      = "static"
	categoryUpstream    = "upstream"
)

func CommandServe(cfg *config.Config, file *configFile) *cli.Command {
	var listenPort, upstreamPort string

	serverFlags := []cli.Flag{
		&cli.StringFlag{
			Category:    strings.ToUpper(categoryServer),
			Destination: &cfg.Edge.ListenHost,
			EnvVars:     []string{envPrefix + "LISTEN_HOST"},
			Name:        "listen-host",
			Usage:       "`host` to listen on (empty for all interfaces)",
		},

		&cli.StringFlag{
			Category:    strings.ToUpper(categoryServer),
			Destination: &listenPort,
			EnvVars:     []string{envPrefix + "LISTEN_PORT", "NGINX_PORT"},
			Name:        "listen-port",
			Usage:       "`port` to listen on",
			Value:       "3000",
		},

		&cli.DurationFlag{
			Category:    strings.ToUpper(categoryServer),
			Destination: &cfg.Edge.ClientIdleConnectionTimeout,
			EnvVars:     []string{envPrefix + "CLIENT_IDLE_CONNECTION_TIMEOUT"},
			Name:        "client-idle-connection-timeout",
			Usage:       "`duration` to keep idle client connections open",
			Value:       60 * time.Second,
		},

		&cli.DurationFlag{
			Category:    strings.ToUpper(categoryServer),
			Destination: &cfg.Edge.ClientWriteTimeout,
			EnvVars:     []string{envPrefix + "CLIENT_WRITE_TIMEOUT"},
			Name:        "client-write-timeout",
			Usage:       "maximum `duration` of writing a response to a client (0 for unlimited)",
			Value:       0,
		},

		&cli.IntFlag{
			Category:    strings.ToUpper(categoryServer),
			Destination: &cfg.Edge.MaxClientConnectionsPerIP,
			EnvVars:     []string{envPrefix + "MAX_CLIENT_CONNECTIONS_PER_IP"},
			Name:        "max-client-connections-per-ip",
			Usage:       "maximum `count` of connections from a single client ip (0 for unlimited)",
			Value:       0,
		},

		&cli.IntFlag{
			Category:    strings.ToUpper(categoryServer),
			Destination: &cfg.Edge.MaxRequestSizeMb,
			EnvVars:     []string{envPrefix + "MAX_REQUEST_SIZE"},
			Name:        "max-request-size",
			Usage:       "maximum request body `size` in megabytes",
			Value:       32,
		},

		&cli.StringFlag{
			Category:    strings.ToUpper(categoryServer),
			Destination: &cfg.Edge.TLSCertificate,
			EnvVars:     []string{envPrefix + "TLS_CRT"},
			Name:        "tls-crt",
			Usage:       "`path` to tls certificate (optionally base64-encoded)",
		},

		&cli.StringFlag{
			Category:    strings.ToUpper(categoryServer),
			Destination: &cfg.Edge.TLSKey,
			EnvVars:     []string{envPrefix + "TLS_KEY"},
			Name:        "tls-key",
			Usage:       "`path` to tls key (optionally base64-encoded)",
		},
	}

	staticFlags := []cli.Flag{
		&cli.StringFlag{
			Category:    strings.ToUpper(categoryStatic),
			Destination: &cfg.Edge.StaticRoot,
			EnvVars:     []string{envPrefix + "STATIC_ROOT"},
			Name:        "static-root",
			Usage:       "`directory` with the static assets",
			Value:       "./public",
		},

		&cli.StringFlag{
			Category:    strings.ToUpper(categoryStatic),
			Destination: &cfg.Edge.EntryDocument,
			EnvVars:     []string{envPrefix + "ENTRY_DOCUMENT"},
			Name:        "entry-document",
			Usage:       "`file` under the static root to serve for /",
			Value:       "index.html",
		},
	}

	upstreamFlags := []cli.Flag{
		&cli.StringFlag{
			Category:    strings.ToUpper(categoryUpstream),
			Destination: &cfg.Edge.Prefix,
			EnvVars:     []string{envPrefix + "PREFIX"},
			Name:        "prefix",
			Usage:       "path `prefix` of the requests to relay to the upstream",
			Value:       "/api",
		},

		&cli.StringFlag{
			Category:    strings.ToUpper(categoryUpstream),
			Destination: &cfg.Edge.UpstreamHost,
			EnvVars:     []string{envPrefix + "UPSTREAM_HOST"},
			Name:        "upstream-host",
			Usage:       "`host` of the upstream backend",
			Value:       "127.0.0.1",
		},

		&cli.StringFlag{
			Category:    strings.ToUpper(categoryUpstream),
			Destination: &upstreamPort,
			EnvVars:     []string{envPrefix + "UPSTREAM_PORT", "PORT"},
			Name:        "upstream-port",
			Usage:       "`port` of the upstream backend",
			Value:       "3001",
		},

		&cli.DurationFlag{
			Category:    strings.ToUpper(categoryUpstream),
			Destination: &cfg.Edge.UpstreamTimeout,
			EnvVars:     []string{envPrefix + "UPSTREAM_TIMEOUT"},
			Name:        "upstream-timeout",
			Usage:       "maximum `duration` of a single upstream request",
			Value:       30 * time.Second,
		},

		&cli.IntFlag{
			Category:    strings.ToUpper(categoryUpstream),
			Destination: &cfg.Edge.MaxUpstreamConnections,
			EnvVars:     []string{envPrefix + "MAX_UPSTREAM_CONNECTIONS"},
			Name:        "max-upstream-connections",
			Usage:       "maximum `count` of connections to the upstream",
			Value:       512,
		},

		&cli.IntFlag{
			Category:    strings.ToUpper(categoryUpstream),
			Destination: &cfg.Edge.MaxResponseSizeMb,
			EnvVars:     []string{envPrefix + "MAX_RESPONSE_SIZE"},
			Name:        "max-response-size",
			Usage:       "maximum upstream response `size` in megabytes",
			Value:       256,
		},

		&cli.BoolFlag{
			Category:    strings.ToUpper(categoryUpstream),
			Destination: &cfg.Edge.Websocket,
			EnvVars:     []string{envPrefix + "WEBSOCKET"},
			Name:        "websocket",
			Usage:       "relay websocket sessions under the prefix",
			Value:       true,
		},

		&cli.BoolFlag{
			Category:    strings.ToUpper(categoryUpstream),
			Destination: &cfg.Edge.LogRequests,
			EnvVars:     []string{envPrefix + "LOG_REQUESTS"},
			Name:        "log-requests",
			Usage:       "whether to log relayed request bodies",
		},

		&cli.IntFlag{
			Category:    strings.ToUpper(categoryUpstream),
			Destination: &cfg.Edge.LogRequestsMaxSize,
			EnvVars:     []string{envPrefix + "LOG_REQUESTS_MAX_SIZE"},
			Name:        "log-requests-max-size",
			Usage:       "do not log request bodies larger than `size` in bytes",
			Value:       4096,
		},

		&cli.BoolFlag{
			Category:    strings.ToUpper(categoryUpstream),
			Destination: &cfg.Edge.LogResponses,
			EnvVars:     []string{envPrefix + "LOG_RESPONSES"},
			Name:        "log-responses",
			Usage:       "whether to log relayed response bodies",
		},

		&cli.IntFlag{
			Category:    strings.ToUpper(categoryUpstream),
			Destination: &cfg.Edge.LogResponsesMaxSize,
			EnvVars:     []string{envPrefix + "LOG_RESPONSES_MAX_SIZE"},
			Name:        "log-responses-max-size",
			Usage:       "do not log response bodies larger than `size` in bytes",
			Value:       4096,
		},
	}

	healthcheckFlags := []cli.Flag{
		&cli.StringFlag{
			Category:    strings.ToUpper(categoryHealthcheck),
			Destination: &cfg.Edge.Healthcheck.URL,
			EnvVars:     []string{envPrefix + "HEALTHCHECK_URL"},
			Name:        "healthcheck-url",
			Usage:       "`url` of the upstream healthcheck endpoint (empty to disable)",
		},

		&cli.DurationFlag{
			Category:    strings.ToUpper(categoryHealthcheck),
			Destination: &cfg.Edge.Healthcheck.Interval,
			EnvVars:     []string{envPrefix + "HEALTHCHECK_INTERVAL"},
			Name:        "healthcheck-interval",
			Usage:       "`interval` between upstream healthchecks",
			Value:       5 * time.Second,
		},

		&cli.IntFlag{
			Category:    strings.ToUpper(categoryHealthcheck),
			Destination: &cfg.Edge.Healthcheck.ThresholdHealthy,
			EnvVars:     []string{envPrefix + "HEALTHCHECK_THRESHOLD_HEALTHY"},
			Name:        "healthcheck-threshold-healthy",
			Usage:       "`count` of successful checks to consider the upstream healthy",
			Value:       2,
		},

		&cli.IntFlag{
			Category:    strings.ToUpper(categoryHealthcheck),
			Destination: &cfg.Edge.Healthcheck.ThresholdUnhealthy,
			EnvVars:     []string{envPrefix + "HEALTHCHECK_THRESHOLD_UNHEALTHY"},
			Name:        "healthcheck-threshold-unhealthy",
			Usage:       "`count` of failed checks to consider the upstream unhealthy",
			Value:       2,
		},
	}

	breakerFlags := []cli.Flag{
		&cli.IntFlag{
			Category:    strings.ToUpper(categoryBreaker),
			Destination: &cfg.Edge.Breaker.FailureThreshold,
			EnvVars:     []string{envPrefix + "BREAKER_FAILURE_THRESHOLD"},
			Name:        "breaker-failure-threshold",
			Usage:       "`count` of consecutive upstream failures that open the circuit breaker (0 to disable)",
			Value:       0,
		},

		&cli.DurationFlag{
			Category:    strings.ToUpper(categoryBreaker),
			Destination: &cfg.Edge.Breaker.OpenTimeout,
			EnvVars:     []string{envPrefix + "BREAKER_OPEN_TIMEOUT"},
			Name:        "breaker-open-timeout",
			Usage:       "`duration` the circuit breaker stays open before letting a trial request through",
			Value:       10 * time.Second,
		},
	}

	flags := make([]cli.Flag, 0, len(serverFlags)+len(staticFlags)+len(upstreamFlags)+len(healthcheckFlags)+len(breakerFlags))
	flags = append(flags, serverFlags...)
	flags = append(flags, staticFlags...)
	flags = append(flags, upstreamFlags...)
	flags = append(flags, healthcheckFlags...)
	flags = append(flags, breakerFlags...)

	return &cli.Command{
		Name:  "serve",
		Usage: "run edge server",
		Flags: flags,

		Before: func(clictx *cli.Context) error {
			if err := file.apply(clictx, flags); err != nil {
				return err
			}

			l := zap.L()

			port, err := config.PortOrDefault(listenPort, config.DefaultListenPort)
			if err != nil {
				l.Warn("Falling back to the default listen port",
					zap.Int("port", port),
					zap.Error(err),
				)
			}
			cfg.Edge.ListenPort = port

			port, err = config.PortOrDefault(upstreamPort, config.DefaultUpstreamPort)
			if err != nil {
				l.Warn("Falling back to the default upstream port",
					zap.Int("port", port),
					zap.Error(err),
				)
			}
			cfg.Edge.UpstreamPort = port

			return cfg.Validate()
		},

		Action: func(clictx *cli.Context) error {
			s, err := server.New(cfg)
			if err != nil {
				return err
			}
			return s.Run(clictx.Context)
		},
	}
}
