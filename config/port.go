package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultListenPort   = 3000
	DefaultUpstreamPort = 3001
)

var (
	errPortInvalid = errors.New("invalid port")
)

// ParsePort parses a tcp port number. Empty strings, garbage and values outside
// of 1..65535 are reported as errors.
func ParsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", errPortInvalid)
	}

	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", errPortInvalid, s, err)
	}

	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: out of range: %d", errPortInvalid, port)
	}

	return port, nil
}

// PortOrDefault is ParsePort that falls back to def instead of failing.  The
// parse error (if any) is returned alongside so that the caller can log it.
func PortOrDefault(s string, def int) (int, error) {
	port, err := ParsePort(s)
	if err != nil {
		return def, err
	}
	return port, nil
}
