package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mediadash/edge/config"
	"github.com/mediadash/edge/edge"
	"github.com/mediadash/edge/logutils"
	"github.com/mediadash/edge/metrics"
	"github.com/mediadash/edge/utils"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelapi "go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

type Server struct {
	cfg     *config.Config
	failure chan error
	logger  *zap.Logger

	edge *edge.Edge

	metrics *http.Server
}

func New(cfg *config.Config) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		logger:  zap.L(),
		failure: make(chan error, 16),
	}

	e, err := edge.New(cfg.Edge)
	if err != nil {
		return nil, err
	}
	s.edge = e

	if cfg.Metrics.Enabled() {
		mux := http.NewServeMux()
		mux.Handle("/", promhttp.Handler())
		mux.Handle("/metrics", promhttp.Handler())

		s.metrics = &http.Server{
			Addr:              cfg.Metrics.ListenAddress,
			Handler:           mux,
			MaxHeaderBytes:    1024,
			ReadHeaderTimeout: 30 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
		}
	}

	return s, nil
}

// Run serves until the context is cancelled, a stop signal arrives or one of
// the servers fails.
func (s *Server) Run(ctx context.Context) error {
	l := s.logger
	ctx = logutils.ContextWithLogger(ctx, l)

	if s.metrics != nil {
		if err := metrics.Setup(ctx, s.observe); err != nil {
			return err
		}

		go func() { // run the metrics server
			l.Info("Metrics server is going up...",
				zap.String("server_listen_address", s.cfg.Metrics.ListenAddress),
			)
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.failure <- err
			}
			l.Info("Metrics server is down")
		}()
	}

	if err := s.edge.Run(ctx, s.failure); err != nil {
		s.stopMetrics(ctx)
		return err
	}

	errs := []error{}
	{ // wait until termination or internal failure
		terminator := make(chan os.Signal, 1)
		signal.Notify(terminator, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(terminator)

		select {
		case stop := <-terminator:
			l.Info("Stop signal received; shutting down...",
				zap.String("signal", stop.String()),
			)
		case <-ctx.Done():
			l.Info("Context cancelled; shutting down...")
		case err := <-s.failure:
			l.Error("Internal failure; shutting down...",
				zap.Error(err),
			)
			errs = append(errs, err)
		exhaustErrors:
			for { // exhaust the errors
				select {
				case err := <-s.failure:
					l.Error("Extra internal failure",
						zap.Error(err),
					)
					errs = append(errs, err)
				default:
					break exhaustErrors
				}
			}
		}
	}

	{ // stop the edge server
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := s.edge.Stop(ctx); err != nil {
			l.Error("Failed to shutdown the edge server",
				zap.Error(err),
			)
		}
	}

	s.stopMetrics(ctx)

	return utils.FlattenErrors(errs)
}

// Addr is the address the edge server listens on, or nil when not running.
func (s *Server) Addr() string {
	if addr := s.edge.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (s *Server) stopMetrics(ctx context.Context) {
	if s.metrics == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.metrics.Shutdown(ctx); err != nil {
		s.logger.Error("Metrics server shutdown failed",
			zap.Error(err),
		)
	}
}

func (s *Server) observe(ctx context.Context, o otelapi.Observer) error {
	return s.edge.Observe(ctx, o)
}
