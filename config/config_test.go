package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mediadash/edge/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEdge(t *testing.T) *config.Edge {
	t.Helper()

	return &config.Edge{
		ClientIdleConnectionTimeout: time.Minute,
		EntryDocument:               "index.html",
		ListenPort:                  3000,
		MaxRequestSizeMb:            32,
		MaxResponseSizeMb:           256,
		MaxUpstreamConnections:      512,
		Prefix:                      "/api",
		StaticRoot:                  t.TempDir(),
		UpstreamHost:                "127.0.0.1",
		UpstreamPort:                3001,
		UpstreamTimeout:             30 * time.Second,

		Breaker:     &config.Breaker{},
		Healthcheck: &config.Healthcheck{},
	}
}

func TestParsePort(t *testing.T) {
	for _, tc := range []struct {
		in   string
		port int
		ok   bool
	}{
		{"3000", 3000, true},
		{" 4000 ", 4000, true},
		{"65535", 65535, true},
		{"", 0, false},
		{"abc", 0, false},
		{"0", 0, false},
		{"65536", 0, false},
		{"-1", 0, false},
	} {
		port, err := config.ParsePort(tc.in)
		if tc.ok {
			assert.NoError(t, err, tc.in)
			assert.Equal(t, tc.port, port, tc.in)
		} else {
			assert.Error(t, err, tc.in)
		}
	}
}

func TestPortOrDefault(t *testing.T) {
	port, err := config.PortOrDefault("5000", config.DefaultUpstreamPort)
	assert.NoError(t, err)
	assert.Equal(t, 5000, port)

	port, err = config.PortOrDefault("not-a-port", config.DefaultListenPort)
	assert.Error(t, err)
	assert.Equal(t, 3000, port)

	port, err = config.PortOrDefault("", config.DefaultUpstreamPort)
	assert.Error(t, err)
	assert.Equal(t, 3001, port)
}

func TestNormalizePrefix(t *testing.T) {
	p, err := config.NormalizePrefix("/api")
	assert.NoError(t, err)
	assert.Equal(t, "/api", p)

	p, err = config.NormalizePrefix("/api/")
	assert.NoError(t, err)
	assert.Equal(t, "/api", p)

	p, err = config.NormalizePrefix("/api/v1")
	assert.NoError(t, err)
	assert.Equal(t, "/api/v1", p)

	for _, bad := range []string{"", "api", "/", "//", "/api//v1", "/../api", "/api/."} {
		_, err := config.NormalizePrefix(bad)
		assert.Error(t, err, bad)
	}
}

func TestEdgeValidate(t *testing.T) {
	{ // defaults are valid
		cfg := validEdge(t)
		cfg.Prefix = "/api/"
		assert.NoError(t, cfg.Validate())
		assert.Equal(t, "/api", cfg.Prefix)
		assert.True(t, filepath.IsAbs(cfg.StaticRoot))
		assert.Equal(t, ":3000", cfg.ListenAddress())
		assert.Equal(t, "127.0.0.1:3001", cfg.UpstreamAddress())
	}

	{ // missing static root is fatal
		cfg := validEdge(t)
		cfg.StaticRoot = filepath.Join(cfg.StaticRoot, "does-not-exist")
		assert.Error(t, cfg.Validate())
	}

	{ // static root must be a directory
		cfg := validEdge(t)
		f := filepath.Join(cfg.StaticRoot, "file")
		require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
		cfg.StaticRoot = f
		assert.Error(t, cfg.Validate())
	}

	{ // entry document must be a bare name
		cfg := validEdge(t)
		cfg.EntryDocument = "../index.html"
		assert.Error(t, cfg.Validate())
	}

	{ // upstream timeout must be finite and positive
		cfg := validEdge(t)
		cfg.UpstreamTimeout = 0
		assert.Error(t, cfg.Validate())

		cfg.UpstreamTimeout = time.Hour
		assert.Error(t, cfg.Validate())
	}

	{ // client write timeout of 0 leaves writes unbounded
		cfg := validEdge(t)
		cfg.ClientWriteTimeout = 0
		assert.NoError(t, cfg.Validate())

		cfg.ClientWriteTimeout = -time.Second
		assert.Error(t, cfg.Validate())
	}

	{ // ports are range-checked
		cfg := validEdge(t)
		cfg.ListenPort = 0
		cfg.UpstreamPort = 70000
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid listen address")
		assert.Contains(t, err.Error(), "invalid upstream address")
	}

	{ // half-configured tls
		cfg := validEdge(t)
		cfg.TLSKey = "key.pem"
		assert.Error(t, cfg.Validate())
	}
}

func TestConfigValidateWalksTree(t *testing.T) {
	cfg := config.New()
	cfg.Log.Mode = "prod"
	cfg.Log.Level = "info"
	cfg.Edge = validEdge(t)

	assert.NoError(t, cfg.Validate())

	cfg.Edge.Healthcheck.URL = "ftp://127.0.0.1:3001/health"
	cfg.Edge.Breaker.FailureThreshold = 5
	cfg.Log.Mode = "verbose"
	cfg.Metrics.ListenAddress = "not an address"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid healthcheck url")
	assert.Contains(t, err.Error(), "invalid circuit breaker open timeout")
	assert.Contains(t, err.Error(), "invalid log mode")
	assert.Contains(t, err.Error(), "invalid metrics listen address")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen-port: 4000
prefix: /api
upstream:
  host: backend.local
  port: 5000
  timeout: 10s
log_level: debug
`), 0o644))

	values, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"listen-port":      "4000",
		"prefix":           "/api",
		"upstream-host":    "backend.local",
		"upstream-port":    "5000",
		"upstream-timeout": "10s",
		"log-level":        "debug",
	}, values)

	_, err = config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
