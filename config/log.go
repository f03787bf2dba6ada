package config

import (
	"errors"
	"fmt"
	"strings"
)

type Log struct {
	Level string `yaml:"level"`
	Mode  string `yaml:"mode"`
}

var (
	errLogInvalidMode = errors.New("invalid log mode")
)

func (cfg *Log) Validate() error {
	switch strings.ToLower(cfg.Mode) {
	case "dev", "prod":
		return nil
	default:
		return fmt.Errorf("%w: must be either dev or prod: %s",
			errLogInvalidMode, cfg.Mode,
		)
	}
}
