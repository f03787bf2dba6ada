package config

import (
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mediadash/edge/utils"
)

type Edge struct {
	ClientIdleConnectionTimeout time.Duration `yaml:"client_idle_connection_timeout"`
	ClientWriteTimeout          time.Duration `yaml:"client_write_timeout"`
	EntryDocument               string        `yaml:"entry_document"`
	ListenHost                  string        `yaml:"listen_host"`
	ListenPort                  int           `yaml:"listen_port"`
	LogRequests                 bool          `yaml:"log_requests"`
	LogRequestsMaxSize          int           `yaml:"log_requests_max_size"`
	LogResponses                bool          `yaml:"log_responses"`
	LogResponsesMaxSize         int           `yaml:"log_responses_max_size"`
	MaxClientConnectionsPerIP   int           `yaml:"max_client_connections_per_ip"`
	MaxRequestSizeMb            int           `yaml:"max_request_size_mb"`
	MaxResponseSizeMb           int           `yaml:"max_response_size_mb"`
	MaxUpstreamConnections      int           `yaml:"max_upstream_connections"`
	Prefix                      string        `yaml:"prefix"`
	StaticRoot                  string        `yaml:"static_root"`
	TLSCertificate              string        `yaml:"tls_crt"`
	TLSKey                      string        `yaml:"tls_key"`
	UpstreamHost                string        `yaml:"upstream_host"`
	UpstreamPort                int           `yaml:"upstream_port"`
	UpstreamTimeout             time.Duration `yaml:"upstream_timeout"`
	Websocket                   bool          `yaml:"websocket"`

	Breaker     *Breaker     `yaml:"breaker"`
	Healthcheck *Healthcheck `yaml:"healthcheck"`
}

var (
	errEdgeInvalidClientIdleConnectionTimeout = errors.New("invalid client connection idle timeout")
	errEdgeInvalidClientWriteTimeout          = errors.New("invalid client write timeout")
	errEdgeInvalidEntryDocument               = errors.New("invalid entry document")
	errEdgeInvalidListenAddress               = errors.New("invalid listen address")
	errEdgeInvalidMaxClientConnectionsPerIP   = errors.New("invalid max client connections per ip")
	errEdgeInvalidMaxRequestSize              = errors.New("invalid max request size")
	errEdgeInvalidMaxResponseSize             = errors.New("invalid max response size")
	errEdgeInvalidMaxUpstreamConnections      = errors.New("invalid max upstream connections")
	errEdgeInvalidPrefix                      = errors.New("invalid proxied path prefix")
	errEdgeInvalidStaticRoot                  = errors.New("invalid static root")
	errEdgeInvalidTLSConfig                   = errors.New("invalid tls configuration")
	errEdgeInvalidUpstreamAddress             = errors.New("invalid upstream address")
	errEdgeInvalidUpstreamTimeout             = errors.New("invalid upstream timeout")
)

// ListenAddress is the host:port the edge server binds to.
func (cfg *Edge) ListenAddress() string {
	return net.JoinHostPort(cfg.ListenHost, strconv.Itoa(cfg.ListenPort))
}

// UpstreamAddress is the host:port of the backend that prefixed requests are
// forwarded to.
func (cfg *Edge) UpstreamAddress() string {
	return net.JoinHostPort(cfg.UpstreamHost, strconv.Itoa(cfg.UpstreamPort))
}

func (cfg *Edge) TLSEnabled() bool {
	return cfg.TLSCertificate != "" && cfg.TLSKey != ""
}

func (cfg *Edge) Validate() error {
	errs := make([]error, 0)

	{ // ClientIdleConnectionTimeout
		if cfg.ClientIdleConnectionTimeout <= 0 {
			errs = append(errs, fmt.Errorf("%w: must be positive: %s",
				errEdgeInvalidClientIdleConnectionTimeout, cfg.ClientIdleConnectionTimeout,
			))
		}
		if cfg.ClientIdleConnectionTimeout > time.Hour {
			errs = append(errs, fmt.Errorf("%w: too high, must be <=1h: %s",
				errEdgeInvalidClientIdleConnectionTimeout, cfg.ClientIdleConnectionTimeout,
			))
		}
	}

	{ // ClientWriteTimeout
		if cfg.ClientWriteTimeout < 0 {
			errs = append(errs, fmt.Errorf("%w: can't be negative: %s",
				errEdgeInvalidClientWriteTimeout, cfg.ClientWriteTimeout,
			))
		}
	}

	{ // EntryDocument
		if cfg.EntryDocument == "" || strings.ContainsAny(cfg.EntryDocument, `/\`) || cfg.EntryDocument == "." || cfg.EntryDocument == ".." {
			errs = append(errs, fmt.Errorf("%w: must be a bare file name: %q",
				errEdgeInvalidEntryDocument, cfg.EntryDocument,
			))
		}
	}

	{ // ListenHost + ListenPort
		if cfg.ListenPort < 1 || cfg.ListenPort > 65535 {
			errs = append(errs, fmt.Errorf("%w: port out of range: %d",
				errEdgeInvalidListenAddress, cfg.ListenPort,
			))
		} else if _, err := net.ResolveTCPAddr("tcp", cfg.ListenAddress()); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w",
				errEdgeInvalidListenAddress, cfg.ListenAddress(), err,
			))
		}
	}

	{ // MaxClientConnectionsPerIP
		if cfg.MaxClientConnectionsPerIP < 0 {
			errs = append(errs, fmt.Errorf("%w: can't be negative: %d",
				errEdgeInvalidMaxClientConnectionsPerIP, cfg.MaxClientConnectionsPerIP,
			))
		}
		if cfg.MaxClientConnectionsPerIP > 1024 {
			errs = append(errs, fmt.Errorf("%w: too high, must be <=1024: %d",
				errEdgeInvalidMaxClientConnectionsPerIP, cfg.MaxClientConnectionsPerIP,
			))
		}
	}

	{ // MaxRequestSizeMb
		if cfg.MaxRequestSizeMb < 1 {
			errs = append(errs, fmt.Errorf("%w: too low, must be >=1: %d",
				errEdgeInvalidMaxRequestSize, cfg.MaxRequestSizeMb,
			))
		}
		if cfg.MaxRequestSizeMb > 4096 {
			errs = append(errs, fmt.Errorf("%w: too high, must be <=4096: %d",
				errEdgeInvalidMaxRequestSize, cfg.MaxRequestSizeMb,
			))
		}
	}

	{ // MaxResponseSizeMb
		if cfg.MaxResponseSizeMb < 1 {
			errs = append(errs, fmt.Errorf("%w: too low, must be >=1: %d",
				errEdgeInvalidMaxResponseSize, cfg.MaxResponseSizeMb,
			))
		}
		if cfg.MaxResponseSizeMb > 4096 {
			errs = append(errs, fmt.Errorf("%w: too high, must be <=4096: %d",
				errEdgeInvalidMaxResponseSize, cfg.MaxResponseSizeMb,
			))
		}
	}

	{ // MaxUpstreamConnections
		if cfg.MaxUpstreamConnections < 1 {
			errs = append(errs, fmt.Errorf("%w: too low, must be >=1: %d",
				errEdgeInvalidMaxUpstreamConnections, cfg.MaxUpstreamConnections,
			))
		}
		if cfg.MaxUpstreamConnections > 16384 {
			errs = append(errs, fmt.Errorf("%w: too high, must be <=16384: %d",
				errEdgeInvalidMaxUpstreamConnections, cfg.MaxUpstreamConnections,
			))
		}
	}

	{ // Prefix
		prefix, err := NormalizePrefix(cfg.Prefix)
		if err != nil {
			errs = append(errs, err)
		} else {
			cfg.Prefix = prefix
		}
	}

	{ // StaticRoot
		if cfg.StaticRoot == "" {
			errs = append(errs, fmt.Errorf("%w: must be configured",
				errEdgeInvalidStaticRoot,
			))
		} else if info, err := os.Stat(cfg.StaticRoot); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w",
				errEdgeInvalidStaticRoot, cfg.StaticRoot, err,
			))
		} else if !info.IsDir() {
			errs = append(errs, fmt.Errorf("%w: not a directory: %s",
				errEdgeInvalidStaticRoot, cfg.StaticRoot,
			))
		} else if abs, err := filepath.Abs(cfg.StaticRoot); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w",
				errEdgeInvalidStaticRoot, cfg.StaticRoot, err,
			))
		} else {
			cfg.StaticRoot = abs
		}
	}

	{ // TLSCertificate + TLSKey
		if cfg.TLSCertificate != "" || cfg.TLSKey != "" {
			if cfg.TLSCertificate == "" {
				errs = append(errs, fmt.Errorf("%w: tls certificate must also be configured",
					errEdgeInvalidTLSConfig,
				))
			} else if cfg.TLSKey == "" {
				errs = append(errs, fmt.Errorf("%w: tls key must also be configured",
					errEdgeInvalidTLSConfig,
				))
			} else if _, err := cfg.LoadTLSCertificate(); err != nil {
				errs = append(errs, fmt.Errorf("%w: %w",
					errEdgeInvalidTLSConfig, err,
				))
			}
		}
	}

	{ // UpstreamHost + UpstreamPort
		if cfg.UpstreamHost == "" {
			errs = append(errs, fmt.Errorf("%w: host must be configured",
				errEdgeInvalidUpstreamAddress,
			))
		}
		if cfg.UpstreamPort < 1 || cfg.UpstreamPort > 65535 {
			errs = append(errs, fmt.Errorf("%w: port out of range: %d",
				errEdgeInvalidUpstreamAddress, cfg.UpstreamPort,
			))
		}
	}

	{ // UpstreamTimeout
		if cfg.UpstreamTimeout <= 0 {
			errs = append(errs, fmt.Errorf("%w: must be positive: %s",
				errEdgeInvalidUpstreamTimeout, cfg.UpstreamTimeout,
			))
		}
		if cfg.UpstreamTimeout > 10*time.Minute {
			errs = append(errs, fmt.Errorf("%w: too high, must be <=10m: %s",
				errEdgeInvalidUpstreamTimeout, cfg.UpstreamTimeout,
			))
		}
	}

	return utils.FlattenErrors(errs)
}

// NormalizePrefix trims the trailing slash off the proxied path prefix and
// makes sure that what is left is a non-root absolute path.
func NormalizePrefix(prefix string) (string, error) {
	if !strings.HasPrefix(prefix, "/") {
		return "", fmt.Errorf("%w: must start with '/': %q",
			errEdgeInvalidPrefix, prefix,
		)
	}

	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return "", fmt.Errorf("%w: can not proxy the root path",
			errEdgeInvalidPrefix,
		)
	}

	for _, segment := range strings.Split(prefix[1:], "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", fmt.Errorf("%w: must be a clean path: %q",
				errEdgeInvalidPrefix, prefix,
			)
		}
	}

	return prefix, nil
}

func (cfg *Edge) LoadTLSCertificate() (tls.Certificate, error) {
	crt, err := os.ReadFile(cfg.TLSCertificate)
	if err != nil {
		return tls.Certificate{}, err
	}
	key, err := os.ReadFile(cfg.TLSKey)
	if err != nil {
		return tls.Certificate{}, err
	}

	if debase64, err := base64.StdEncoding.DecodeString(string(crt)); err == nil {
		crt = debase64
	}
	if debase64, err := base64.StdEncoding.DecodeString(string(key)); err == nil {
		key = debase64
	}

	return tls.X509KeyPair(crt, key)
}
