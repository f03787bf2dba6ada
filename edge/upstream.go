package edge

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mediadash/edge/config"
	"github.com/mediadash/edge/metrics"
	"github.com/mediadash/edge/utils"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel/attribute"
	otelapi "go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const headerRequestID = "X-Request-Id"

// hopHeaders are meaningful for a single connection only and are not relayed.
var hopHeaders = []string{
	fasthttp.HeaderConnection,
	fasthttp.HeaderKeepAlive,
	fasthttp.HeaderProxyAuthenticate,
	"Proxy-Connection",
	fasthttp.HeaderTE,
	fasthttp.HeaderTrailer,
	fasthttp.HeaderTransferEncoding,
	fasthttp.HeaderUpgrade,
}

var (
	errUpstreamUnavailable = errors.New("upstream is unavailable")
)

type upstream struct {
	cfg *config.Edge

	breaker   *gobreaker.CircuitBreaker[struct{}]
	client    *fasthttp.Client
	logger    *zap.Logger
	transport *abortableTransport
}

func newUpstream(cfg *config.Edge, logger *zap.Logger) *upstream {
	u := &upstream{
		cfg:       cfg,
		logger:    logger,
		transport: newAbortableTransport(),
	}

	u.client = &fasthttp.Client{
		DisablePathNormalizing:   true, // relay the client's path as is
		MaxConnsPerHost:          cfg.MaxUpstreamConnections,
		MaxConnWaitTimeout:       cfg.UpstreamTimeout,
		MaxIdleConnDuration:      30 * time.Second,
		MaxResponseBodySize:      cfg.MaxResponseSizeMb * 1024 * 1024,
		Name:                     "edge",
		NoDefaultUserAgentHeader: true,
		ReadTimeout:              cfg.UpstreamTimeout,
		Transport:                u.transport,
		WriteTimeout:             cfg.UpstreamTimeout,
	}

	if cfg.Breaker != nil && cfg.Breaker.Enabled() {
		threshold := uint32(cfg.Breaker.FailureThreshold)
		u.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "upstream",
			MaxRequests: 1,
			Timeout:     cfg.Breaker.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				// clients hanging up say nothing about the upstream
				return err == nil || errors.Is(err, errClientGone)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Upstream circuit breaker changed state",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}

	return u
}

// do sends the request upstream.  Only transport-level failures count as
// errors, any http status the upstream answers with is a success.
func (u *upstream) do(req *fasthttp.Request, res *fasthttp.Response) error {
	if u.breaker == nil {
		return u.client.Do(req, res)
	}

	_, err := u.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, u.client.Do(req, res)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", errUpstreamUnavailable, err)
	}
	return err
}

func (u *upstream) prepare(ctx *fasthttp.RequestCtx, req *fasthttp.Request, subpath string) {
	ctx.Request.CopyTo(req)

	for _, h := range hopHeaders {
		req.Header.Del(h)
	}

	req.SetRequestURI("http://" + u.cfg.UpstreamAddress())
	req.URI().DisablePathNormalizing = true
	req.URI().SetPath(UpstreamPath(u.cfg.Prefix, subpath))
	req.URI().SetQueryStringBytes(ctx.URI().QueryString())
	req.SetTimeout(u.cfg.UpstreamTimeout)

	proto := "http"
	if ctx.IsTLS() {
		proto = "https"
	}

	req.Header.Add("x-forwarded-for", ctx.RemoteIP().String())
	req.Header.Add("x-forwarded-host", utils.Str(ctx.Host()))
	req.Header.Add("x-forwarded-proto", proto)
}

func (u *upstream) forward(ctx *fasthttp.RequestCtx, subpath string) {
	tsReqReceived := ctx.Time()

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)

	u.prepare(ctx, req, subpath)

	requestID := string(ctx.Request.Header.Peek(headerRequestID))
	if requestID == "" {
		requestID = uuid.NewString()
		req.Header.Set(headerRequestID, requestID)
	}

	user, hasBearer := identityFromAuthorization(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization))

	loggedFields := make([]zap.Field, 0, 24)
	loggedFields = append(loggedFields,
		zap.Time("ts_request_received", tsReqReceived),
		zap.Uint64("connection_id", ctx.ConnID()),
		zap.Uint64("connection_request_num", ctx.ConnRequestNum()),
		zap.String("request_id", requestID),
		zap.String("remote_addr", ctx.RemoteAddr().String()),
		zap.String("user_agent", utils.Str(ctx.UserAgent())),
		zap.String("method", utils.Str(ctx.Method())),
		zap.String("path", utils.Str(ctx.Path())),
		zap.String("upstream_uri", req.URI().String()),
	)
	loggedFields = append(loggedFields, user.fields()...)

	tsReqProxyStart := time.Now()
	if gone, stop := watchDisconnect(ctx.Conn()); gone != nil {
		u.transport.track(req, gone, utils.DeadlineFrom(tsReqProxyStart, u.cfg.UpstreamTimeout))
		defer stop()
		defer u.transport.untrack(req)
	}
	err := u.do(req, res)
	tsReqProxyEnd := time.Now()

	if err != nil {
		if errors.Is(err, errClientGone) {
			ctx.SetConnectionClose()
		}
		ctx.Error(fasthttp.StatusMessage(fasthttp.StatusBadGateway), fasthttp.StatusBadGateway)
		loggedFields = append(loggedFields,
			zap.NamedError("error_upstream", err),
			zap.Bool("timeout", isTimeout(err)),
			zap.String("breaker_state", u.breakerState().String()),
		)
	} else {
		res.CopyTo(&ctx.Response)
		for _, h := range hopHeaders {
			ctx.Response.Header.Del(h)
		}
		ctx.Response.Header.ResetConnectionClose()
	}
	ctx.Response.Header.Set(headerRequestID, requestID)

	loggedFields = append(loggedFields, u.bodyFields(req, res, err == nil)...)
	loggedFields = append(loggedFields,
		zap.Int("http_status", ctx.Response.StatusCode()),
		zap.Int("request_size", len(req.Body())),
		zap.Int("response_size", len(res.Body())),
		zap.Duration("latency_upstream", tsReqProxyEnd.Sub(tsReqProxyStart)),
		zap.Duration("latency_total", time.Since(tsReqReceived)),
	)

	{ // emit logs and metrics
		metricAttributes := otelapi.WithAttributes(
			attribute.KeyValue{Key: "method", Value: attribute.StringValue(utils.Str(ctx.Method()))},
		)

		metrics.RequestSize.Record(context.TODO(), int64(len(req.Body())), metricAttributes)
		metrics.LatencyUpstream.Record(context.TODO(), tsReqProxyEnd.Sub(tsReqProxyStart).Milliseconds(), metricAttributes)
		metrics.LatencyTotal.Record(context.TODO(), time.Since(tsReqReceived).Milliseconds(), metricAttributes)

		switch {
		case errors.Is(err, errClientGone):
			metrics.ProxyAbortedCount.Add(context.TODO(), 1, metricAttributes)
			u.logger.Warn("Client disconnected, aborted the upstream request", loggedFields...)
		case err != nil:
			metrics.ProxyFailureCount.Add(context.TODO(), 1, metricAttributes)
			u.logger.Error("Failed to proxy the request", loggedFields...)
		case res.StatusCode() == fasthttp.StatusForbidden && hasBearer:
			metrics.ResponseSize.Record(context.TODO(), int64(len(res.Body())), metricAttributes)
			metrics.ProxySuccessCount.Add(context.TODO(), 1, metricAttributes)
			u.logger.Warn("Backend rejected the bearer token", loggedFields...)
		default:
			metrics.ResponseSize.Record(context.TODO(), int64(len(res.Body())), metricAttributes)
			metrics.ProxySuccessCount.Add(context.TODO(), 1, metricAttributes)
			u.logger.Info("Proxied the request", loggedFields...)
		}
	}
}

func (u *upstream) bodyFields(req *fasthttp.Request, res *fasthttp.Response, responded bool) []zap.Field {
	loggedFields := make([]zap.Field, 0, 4)

	if u.cfg.LogRequests && len(req.Body()) <= u.cfg.LogRequestsMaxSize {
		var jsonRequest interface{}
		if err := json.Unmarshal(req.Body(), &jsonRequest); err == nil {
			loggedFields = append(loggedFields,
				zap.Any("json_request", jsonRequest),
			)
		} else {
			loggedFields = append(loggedFields,
				zap.String("http_request", utils.Str(req.Body())),
			)
		}
	}

	if responded && u.cfg.LogResponses && len(res.Body()) <= u.cfg.LogResponsesMaxSize {
		var body []byte

		switch utils.Str(res.Header.ContentEncoding()) {
		default:
			body = res.Body()
		case "gzip":
			var err error
			if body, err = res.BodyGunzip(); err != nil {
				loggedFields = append(loggedFields,
					zap.NamedError("error_gunzip", err),
					zap.String("hex_response", hex.EncodeToString(res.Body())),
				)
			}
		}

		if body != nil {
			var jsonResponse interface{}
			if err := json.Unmarshal(body, &jsonResponse); err == nil {
				loggedFields = append(loggedFields,
					zap.Any("json_response", jsonResponse),
				)
			} else {
				loggedFields = append(loggedFields,
					zap.String("http_response", utils.Str(body)),
				)
			}
		}
	}

	return loggedFields
}

func (u *upstream) breakerState() gobreaker.State {
	if u.breaker == nil {
		return gobreaker.StateClosed
	}
	return u.breaker.State()
}

func isTimeout(err error) bool {
	if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, fasthttp.ErrDialTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
