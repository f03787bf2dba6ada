package edge

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/mediadash/edge/config"
	"github.com/mediadash/edge/logutils"
	"github.com/mediadash/edge/metrics"
	"github.com/mediadash/edge/utils"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"
	otelapi "go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

var (
	errEdgeAlreadyRunning = errors.New("edge server is already running")
)

// Edge is the front door: requests under the configured prefix go to the
// upstream, everything else is served from the static root.
type Edge struct {
	cfg *config.Edge

	frontend *fasthttp.Server
	listener net.Listener
	logger   *zap.Logger

	healthcheck *healthcheck
	static      *static
	upstream    *upstream
	websocket   *websocketRelay

	mx sync.Mutex
}

func New(cfg *config.Edge) (*Edge, error) {
	l := zap.L().With(zap.String("component", "edge"))

	e := &Edge{
		cfg:       cfg,
		logger:    l,
		upstream:  newUpstream(cfg, l),
		websocket: newWebsocketRelay(cfg, l),
	}

	static, err := newStatic(cfg, l)
	if err != nil {
		return nil, err
	}
	e.static = static

	if cfg.Healthcheck != nil && cfg.Healthcheck.Enabled() {
		h, err := newHealthcheck(cfg.Healthcheck, e.upstreamUnhealthy)
		if err != nil {
			return nil, err
		}
		e.healthcheck = h
	}

	e.frontend = &fasthttp.Server{
		CloseOnShutdown:              true,
		DisablePreParseMultipartForm: true,
		Handler:                      e.Handle,
		IdleTimeout:                  cfg.ClientIdleConnectionTimeout,
		Logger:                       logutils.FasthttpLogger(l),
		MaxConnsPerIP:                cfg.MaxClientConnectionsPerIP,
		MaxRequestBodySize:           cfg.MaxRequestSizeMb * 1024 * 1024,
		Name:                         "edge",
		ReadTimeout:                  cfg.UpstreamTimeout,
		WriteTimeout:                 cfg.ClientWriteTimeout,
	}

	if cfg.TLSEnabled() {
		cert, err := cfg.LoadTLSCertificate()
		if err != nil {
			return nil, err
		}

		e.frontend.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	return e, nil
}

// Handle routes a single request.  It is the frontend's handler and is exposed
// so that it can be driven without a listener.
func (e *Edge) Handle(ctx *fasthttp.RequestCtx) {
	if _, ok := MatchPrefix(e.cfg.Prefix, utils.Str(ctx.Path())); ok {
		subpath := ForwardedSubpath(e.cfg.Prefix,
			string(ctx.Request.URI().PathOriginal()),
			string(ctx.Path()),
		)
		if e.cfg.Websocket && isWebsocketUpgrade(ctx) {
			e.websocket.relay(ctx, subpath, e.healthcheck.healthy())
			return
		}
		e.upstream.forward(ctx, subpath)
		return
	}

	e.static.serve(ctx)
}

// Run binds the listener and starts serving in the background.  Bind errors are
// returned right away, failures that happen later are reported via the channel.
func (e *Edge) Run(ctx context.Context, failure chan<- error) error {
	e.mx.Lock()
	defer e.mx.Unlock()

	if e.listener != nil {
		return errEdgeAlreadyRunning
	}

	l := e.logger

	listener, err := net.Listen("tcp", e.cfg.ListenAddress())
	if err != nil {
		return err
	}
	if e.frontend.TLSConfig != nil {
		listener = tls.NewListener(listener, e.frontend.TLSConfig)
	}
	e.listener = listener

	go func() { // run the edge server
		l.Info("Edge server is going up...",
			zap.String("listen_address", listener.Addr().String()),
			zap.String("upstream", e.cfg.UpstreamAddress()),
			zap.String("prefix", e.cfg.Prefix),
			zap.String("static_root", e.static.root),
			zap.Bool("tls", e.frontend.TLSConfig != nil),
		)
		if err := e.frontend.Serve(listener); err != nil {
			failure <- err
		}
		l.Info("Edge server is down")
	}()

	e.healthcheck.run(ctx)

	return nil
}

// Addr is the address the edge server listens on, or nil before Run.
func (e *Edge) Addr() net.Addr {
	e.mx.Lock()
	defer e.mx.Unlock()

	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

func (e *Edge) Stop(ctx context.Context) error {
	if e == nil {
		return nil
	}

	e.healthcheck.stop()
	e.websocket.closeAll(websocket.CloseGoingAway, "shutting down")
	e.drain(ctx)

	errs := make([]error, 0, 2)
	if err := e.frontend.ShutdownWithContext(ctx); err != nil {
		errs = append(errs, err)
	}

	// serve goroutine might not have handed the listener to the frontend yet
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.listener != nil {
		if err := e.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}

	return utils.FlattenErrors(errs)
}

func (e *Edge) Observe(ctx context.Context, o otelapi.Observer) error {
	if e == nil {
		return nil
	}

	o.ObserveInt64(metrics.FrontendConnectionsCount, int64(e.frontend.GetOpenConnectionsCount()))
	o.ObserveInt64(metrics.WebsocketSessionsCount, e.websocket.sessionsCount())

	if e.healthcheck != nil {
		healthy := int64(0)
		if e.healthcheck.healthy() {
			healthy = 1
		}
		o.ObserveInt64(metrics.UpstreamHealthy, healthy)
	}

	return nil
}

func (e *Edge) upstreamUnhealthy(ctx context.Context) {
	if count := e.websocket.sessionsCount(); count > 0 {
		logutils.LoggerFromContext(ctx).Warn("Closing websocket sessions b/c upstream is (still) unhealthy",
			zap.Int64("sessions_count", count),
		)
		e.websocket.closeAll(websocket.CloseTryAgainLater, "upstream unhealthy")
	}
}

// drain waits until every websocket session is gone or the context expires.
func (e *Edge) drain(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for e.websocket.sessionsCount() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
