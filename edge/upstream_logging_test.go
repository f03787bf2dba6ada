package edge

import (
	"bytes"
	"compress/gzip"
	"encoding/hex"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/mediadash/edge/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observedUpstream(t *testing.T, h http.HandlerFunc) (*upstream, *observer.ObservedLogs) {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)

	cfg := &config.Edge{
		LogRequests:            true,
		LogRequestsMaxSize:     1024,
		LogResponses:           true,
		LogResponsesMaxSize:    1024,
		MaxResponseSizeMb:      1,
		MaxUpstreamConnections: 4,
		Prefix:                 "/api",
		UpstreamHost:           host,
		UpstreamTimeout:        2 * time.Second,
	}
	cfg.UpstreamPort, err = strconv.Atoi(port)
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	return newUpstream(cfg, zap.New(core)), logs
}

func onlyEntry(t *testing.T, logs *observer.ObservedLogs, message string) observer.LoggedEntry {
	t.Helper()

	entries := logs.FilterMessage(message).All()
	require.Len(t, entries, 1, message)
	return entries[0]
}

func gzipped(t *testing.T, data string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

func TestBodyLoggingJSON(t *testing.T) {
	u, logs := observedUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1"}`))
	})

	status := forwardRequest(u, fasthttp.MethodPost, "/api/users", map[string]string{
		"Content-Type": "application/json",
	}, `{"name":"x"}`)
	require.Equal(t, fasthttp.StatusOK, status)

	fields := onlyEntry(t, logs, "Proxied the request").ContextMap()
	assert.Equal(t, map[string]interface{}{"name": "x"}, fields["json_request"])
	assert.Equal(t, map[string]interface{}{"id": "1"}, fields["json_response"])
	assert.NotContains(t, fields, "http_request")
	assert.NotContains(t, fields, "http_response")
}

func TestBodyLoggingPlainText(t *testing.T) {
	u, logs := observedUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("world"))
	})

	status := forwardRequest(u, fasthttp.MethodPost, "/api/echo", nil, "hello")
	require.Equal(t, fasthttp.StatusOK, status)

	fields := onlyEntry(t, logs, "Proxied the request").ContextMap()
	assert.Equal(t, "hello", fields["http_request"])
	assert.Equal(t, "world", fields["http_response"])
	assert.NotContains(t, fields, "json_request")
	assert.NotContains(t, fields, "json_response")
}

func TestBodyLoggingGzip(t *testing.T) {
	body := gzipped(t, `{"id":"1"}`)
	u, logs := observedUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(body)
	})

	require.Equal(t, fasthttp.StatusOK, forwardOnce(u, "/api/users/1"))

	fields := onlyEntry(t, logs, "Proxied the request").ContextMap()
	assert.Equal(t, map[string]interface{}{"id": "1"}, fields["json_response"])
	assert.NotContains(t, fields, "error_gunzip")
}

func TestBodyLoggingBrokenGzip(t *testing.T) {
	u, logs := observedUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write([]byte("not gzip"))
	})

	require.Equal(t, fasthttp.StatusOK, forwardOnce(u, "/api/users/1"))

	fields := onlyEntry(t, logs, "Proxied the request").ContextMap()
	assert.Contains(t, fields, "error_gunzip")
	assert.Equal(t, hex.EncodeToString([]byte("not gzip")), fields["hex_response"])
	assert.NotContains(t, fields, "json_response")
}

func TestBodyLoggingSizeCaps(t *testing.T) {
	u, logs := observedUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"123456789"}`))
	})
	u.cfg.LogRequestsMaxSize = 4
	u.cfg.LogResponsesMaxSize = 4

	status := forwardRequest(u, fasthttp.MethodPost, "/api/users", nil, `{"name":"long enough"}`)
	require.Equal(t, fasthttp.StatusOK, status)

	fields := onlyEntry(t, logs, "Proxied the request").ContextMap()
	for _, key := range []string{"json_request", "http_request", "json_response", "http_response"} {
		assert.NotContains(t, fields, key)
	}
	assert.EqualValues(t, len(`{"name":"long enough"}`), fields["request_size"])
}

func TestBodyLoggingDisabled(t *testing.T) {
	u, logs := observedUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"1"}`))
	})
	u.cfg.LogRequests = false
	u.cfg.LogResponses = false

	status := forwardRequest(u, fasthttp.MethodPost, "/api/users", nil, `{"name":"x"}`)
	require.Equal(t, fasthttp.StatusOK, status)

	fields := onlyEntry(t, logs, "Proxied the request").ContextMap()
	assert.NotContains(t, fields, "json_request")
	assert.NotContains(t, fields, "json_response")
}

func TestBearerRejectionIsWarned(t *testing.T) {
	u, logs := observedUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	{ // with a bearer token
		status := forwardRequest(u, fasthttp.MethodGet, "/api/user/info", map[string]string{
			"Authorization": "Bearer not-a-jwt",
		}, "")
		assert.Equal(t, fasthttp.StatusForbidden, status)

		entry := onlyEntry(t, logs, "Backend rejected the bearer token")
		assert.Equal(t, zapcore.WarnLevel, entry.Level)
		assert.EqualValues(t, fasthttp.StatusForbidden, entry.ContextMap()["http_status"])
	}

	{ // without one it is an ordinary response
		status := forwardRequest(u, fasthttp.MethodGet, "/api/user/info", nil, "")
		assert.Equal(t, fasthttp.StatusForbidden, status)

		entry := onlyEntry(t, logs, "Proxied the request")
		assert.Equal(t, zapcore.InfoLevel, entry.Level)
	}
}
