package edge

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/mediadash/edge/config"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

func deadUpstreamConfig(t *testing.T) *config.Edge {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	return &config.Edge{
		MaxResponseSizeMb:      1,
		MaxUpstreamConnections: 4,
		Prefix:                 "/api",
		UpstreamHost:           "127.0.0.1",
		UpstreamPort:           port,
		UpstreamTimeout:        time.Second,

		Breaker: &config.Breaker{
			FailureThreshold: 2,
			OpenTimeout:      time.Minute,
		},
	}
}

func forwardRequest(u *upstream, method, path string, header map[string]string, body string) int {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(path)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	if body != "" {
		req.SetBodyString(body)
	}

	var ctx fasthttp.RequestCtx
	ctx.Init(&req, nil, nil)

	subpath, _ := MatchPrefix(u.cfg.Prefix, string(ctx.Path()))
	u.forward(&ctx, subpath)

	return ctx.Response.StatusCode()
}

func forwardOnce(u *upstream, path string) int {
	return forwardRequest(u, fasthttp.MethodGet, path, nil, "")
}

func TestBreakerOpensOnTransportFailures(t *testing.T) {
	u := newUpstream(deadUpstreamConfig(t), zap.NewNop())

	assert.Equal(t, gobreaker.StateClosed, u.breakerState())

	assert.Equal(t, fasthttp.StatusBadGateway, forwardOnce(u, "/api/a"))
	assert.Equal(t, gobreaker.StateClosed, u.breakerState())

	assert.Equal(t, fasthttp.StatusBadGateway, forwardOnce(u, "/api/b"))
	assert.Equal(t, gobreaker.StateOpen, u.breakerState())

	{ // rejected without touching the network
		var req fasthttp.Request
		var res fasthttp.Response
		req.SetRequestURI("http://" + u.cfg.UpstreamAddress() + "/api/c")

		err := u.do(&req, &res)
		assert.True(t, errors.Is(err, errUpstreamUnavailable))
		assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	}

	assert.Equal(t, fasthttp.StatusBadGateway, forwardOnce(u, "/api/d"))
}

func TestBreakerDisabled(t *testing.T) {
	cfg := deadUpstreamConfig(t)
	cfg.Breaker.FailureThreshold = 0

	u := newUpstream(cfg, zap.NewNop())
	assert.Nil(t, u.breaker)

	for i := 0; i < 3; i++ {
		assert.Equal(t, fasthttp.StatusBadGateway, forwardOnce(u, "/api/x"))
	}
	assert.Equal(t, gobreaker.StateClosed, u.breakerState())
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, isTimeout(fasthttp.ErrTimeout))
	assert.True(t, isTimeout(fasthttp.ErrDialTimeout))
	assert.False(t, isTimeout(errors.New("connection refused")))
}
