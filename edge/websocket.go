package edge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mediadash/edge/config"
	"github.com/mediadash/edge/metrics"
	"github.com/mediadash/edge/utils"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel/attribute"
	otelapi "go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const (
	headerWebsocketProtocol = "Sec-Websocket-Protocol"

	websocketBufferSize   = 64 * 1024
	websocketControlWrite = 5 * time.Second
)

// websocketHandshakeHeaders are produced by the dialer itself and must not be
// copied over from the client's handshake.
var websocketHandshakeHeaders = map[string]struct{}{
	"Connection":               {},
	"Host":                     {},
	"Sec-Websocket-Extensions": {},
	"Sec-Websocket-Key":        {},
	"Sec-Websocket-Version":    {},
	"Upgrade":                  {},
}

type websocketRelay struct {
	cfg *config.Edge

	dialer   *websocket.Dialer
	upgrader *websocket.FastHTTPUpgrader
	logger   *zap.Logger

	count    atomic.Int64
	sessions map[*websocketSession]struct{}
	mx       sync.Mutex
}

type websocketSession struct {
	frontend, backend *websocket.Conn
	logger            *zap.Logger

	closeOnce sync.Once
}

func newWebsocketRelay(cfg *config.Edge, logger *zap.Logger) *websocketRelay {
	return &websocketRelay{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[*websocketSession]struct{}),

		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.UpstreamTimeout,
			ReadBufferSize:   websocketBufferSize,
			WriteBufferSize:  websocketBufferSize,
		},

		upgrader: &websocket.FastHTTPUpgrader{
			CheckOrigin:     func(*fasthttp.RequestCtx) bool { return true },
			ReadBufferSize:  websocketBufferSize,
			WriteBufferSize: websocketBufferSize,
		},
	}
}

func isWebsocketUpgrade(ctx *fasthttp.RequestCtx) bool {
	return websocket.FastHTTPIsWebSocketUpgrade(ctx)
}

func (w *websocketRelay) upstreamURL(ctx *fasthttp.RequestCtx, subpath string) string {
	uri := fasthttp.AcquireURI()
	defer fasthttp.ReleaseURI(uri)

	uri.DisablePathNormalizing = true // subpath is relayed as the client sent it
	uri.SetScheme("ws")
	uri.SetHost(w.cfg.UpstreamAddress())
	uri.SetPath(UpstreamPath(w.cfg.Prefix, subpath))
	uri.SetQueryStringBytes(ctx.URI().QueryString())

	return uri.String()
}

func (w *websocketRelay) relay(ctx *fasthttp.RequestCtx, subpath string, healthy bool) {
	l := w.logger.With(
		zap.Uint64("connection_id", ctx.ConnID()),
		zap.String("remote_addr", ctx.RemoteAddr().String()),
		zap.String("path", utils.Str(ctx.Path())),
	)

	if !healthy {
		ctx.Error(fasthttp.StatusMessage(fasthttp.StatusServiceUnavailable), fasthttp.StatusServiceUnavailable)
		l.Warn("Refusing websocket session b/c upstream is unhealthy")
		return
	}

	header := http.Header{}
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		key := http.CanonicalHeaderKey(string(k))
		if _, skip := websocketHandshakeHeaders[key]; skip {
			return
		}
		header.Add(key, string(v))
	})
	header.Set("X-Forwarded-For", ctx.RemoteIP().String())

	target := w.upstreamURL(ctx, subpath)

	dialCtx, cancel := context.WithTimeout(context.Background(), w.cfg.UpstreamTimeout)
	backend, res, err := w.dialer.DialContext(dialCtx, target, header)
	cancel()
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}
	if err != nil {
		ctx.Error(fasthttp.StatusMessage(fasthttp.StatusBadGateway), fasthttp.StatusBadGateway)
		metrics.ProxyFailureCount.Add(context.TODO(), 1, otelapi.WithAttributes(
			attribute.KeyValue{Key: "method", Value: attribute.StringValue("websocket")},
		))
		l.Error("Failed to dial upstream websocket",
			zap.String("upstream_url", target),
			zap.Error(err),
		)
		return
	}

	if protocol := backend.Subprotocol(); protocol != "" {
		ctx.Response.Header.Set(headerWebsocketProtocol, protocol)
	}

	err = w.upgrader.Upgrade(ctx, func(frontend *websocket.Conn) {
		// sessions outlive the frontend's request timeouts
		_ = frontend.NetConn().SetDeadline(time.Time{})

		s := &websocketSession{
			frontend: frontend,
			backend:  backend,
			logger:   l,
		}

		w.track(s)
		defer w.untrack(s)

		l.Info("Websocket session started",
			zap.String("upstream_url", target),
		)
		err := s.pump()
		l.Info("Websocket session ended",
			zap.Error(err),
		)
	})
	if err != nil {
		_ = backend.Close()
		l.Warn("Failed to upgrade to websocket",
			zap.Error(err),
		)
	}
}

func (w *websocketRelay) track(s *websocketSession) {
	w.mx.Lock()
	defer w.mx.Unlock()

	w.sessions[s] = struct{}{}
	w.count.Add(1)
}

func (w *websocketRelay) untrack(s *websocketSession) {
	w.mx.Lock()
	defer w.mx.Unlock()

	if _, ok := w.sessions[s]; ok {
		delete(w.sessions, s)
		w.count.Add(-1)
	}
}

// closeAll tears every active session down with the given close code.
func (w *websocketRelay) closeAll(code int, reason string) {
	w.mx.Lock()
	sessions := make([]*websocketSession, 0, len(w.sessions))
	for s := range w.sessions {
		sessions = append(sessions, s)
	}
	w.mx.Unlock()

	for _, s := range sessions {
		s.close(code, reason)
	}
}

func (w *websocketRelay) sessionsCount() int64 {
	return w.count.Load()
}

func (s *websocketSession) pump() error {
	failure := make(chan error, 2)

	s.frontend.SetPingHandler(s.forwardControl(s.backend, websocket.PingMessage))
	s.backend.SetPingHandler(s.forwardControl(s.frontend, websocket.PingMessage))
	s.frontend.SetPongHandler(s.forwardControl(s.backend, websocket.PongMessage))
	s.backend.SetPongHandler(s.forwardControl(s.frontend, websocket.PongMessage))

	go s.pumpMessages(s.frontend, s.backend, "f->b", failure)
	go s.pumpMessages(s.backend, s.frontend, "b->f", failure)

	// the other direction fails as soon as both connections are closed
	err := <-failure
	s.close(websocket.CloseNormalClosure, "")
	<-failure

	if isOrderlyClose(err) {
		return nil
	}
	return err
}

func (s *websocketSession) forwardControl(to *websocket.Conn, messageType int) func(string) error {
	return func(data string) error {
		err := to.WriteControl(messageType, []byte(data), utils.Deadline(websocketControlWrite))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	}
}

func (s *websocketSession) pumpMessages(
	from, to *websocket.Conn,
	direction string,
	failure chan<- error,
) {
	for {
		messageType, message, err := from.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				_ = to.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(closeErr.Code, closeErr.Text),
					utils.Deadline(websocketControlWrite),
				)
			}
			failure <- fmt.Errorf("%s: read: %w", direction, err)
			return
		}

		if err := to.WriteMessage(messageType, message); err != nil {
			failure <- fmt.Errorf("%s: write: %w", direction, err)
			return
		}

		s.logger.Debug("Relayed websocket message",
			zap.String("direction", direction),
			zap.Int("message_size", len(message)),
		)
	}
}

func (s *websocketSession) close(code int, reason string) {
	s.closeOnce.Do(func() {
		for _, conn := range []*websocket.Conn{s.frontend, s.backend} {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason),
				utils.Deadline(websocketControlWrite),
			)
			_ = conn.Close()
		}
	})
}

func isOrderlyClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}

	switch closeErr.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	}
	return false
}
