package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/mediadash/edge/utils"
)

type Breaker struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

var (
	errBreakerInvalidFailureThreshold = errors.New("invalid circuit breaker failure threshold")
	errBreakerInvalidOpenTimeout      = errors.New("invalid circuit breaker open timeout")
)

func (cfg *Breaker) Enabled() bool {
	return cfg.FailureThreshold > 0
}

func (cfg *Breaker) Validate() error {
	if !cfg.Enabled() {
		if cfg.FailureThreshold < 0 {
			return fmt.Errorf("%w: can't be negative: %d",
				errBreakerInvalidFailureThreshold, cfg.FailureThreshold,
			)
		}
		return nil
	}

	errs := make([]error, 0)

	{ // FailureThreshold
		if cfg.FailureThreshold > 1000 {
			errs = append(errs, fmt.Errorf("%w: too high, must be <=1000: %d",
				errBreakerInvalidFailureThreshold, cfg.FailureThreshold,
			))
		}
	}

	{ // OpenTimeout
		if cfg.OpenTimeout < time.Second {
			errs = append(errs, fmt.Errorf("%w: too low, must be >=1s: %s",
				errBreakerInvalidOpenTimeout, cfg.OpenTimeout,
			))
		}
		if cfg.OpenTimeout > 10*time.Minute {
			errs = append(errs, fmt.Errorf("%w: too high, must be <=10m: %s",
				errBreakerInvalidOpenTimeout, cfg.OpenTimeout,
			))
		}
	}

	return utils.FlattenErrors(errs)
}
