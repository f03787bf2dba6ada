package edge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mediadash/edge/config"
	"github.com/mediadash/edge/data"
	"github.com/mediadash/edge/logutils"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

type healthcheck struct {
	cfg *config.Healthcheck

	handleUnhealthy func(ctx context.Context)

	statuses *data.Window[bool]
	target   *fasthttp.Client
	uri      *fasthttp.URI

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	isHealthy atomic.Bool
	mx        sync.Mutex // guards statuses
}

func newHealthcheck(
	cfg *config.Healthcheck,
	handleUnhealthy func(context.Context),
) (*healthcheck, error) {
	uri := fasthttp.AcquireURI()
	if err := uri.Parse(nil, []byte(cfg.URL)); err != nil {
		fasthttp.ReleaseURI(uri)
		return nil, err
	}

	h := &healthcheck{
		cfg:             cfg,
		done:            make(chan struct{}),
		handleUnhealthy: handleUnhealthy,
		statuses:        data.NewWindow[bool](max(cfg.ThresholdHealthy, cfg.ThresholdUnhealthy)),
		uri:             uri,

		target: &fasthttp.Client{
			MaxConnsPerHost:     1,
			MaxConnWaitTimeout:  cfg.Interval / 2,
			MaxIdleConnDuration: 2 * cfg.Interval,
			MaxResponseBodySize: 4096,
			Name:                "edge-healthcheck",
			ReadTimeout:         cfg.Interval / 2,
			WriteTimeout:        cfg.Interval / 2,
		},
	}
	h.isHealthy.Store(true)

	return h, nil
}

// healthy is true when the healthcheck is disabled.  It never waits for a
// check that is in progress.
func (h *healthcheck) healthy() bool {
	if h == nil {
		return true
	}

	return h.isHealthy.Load()
}

func (h *healthcheck) run(ctx context.Context) {
	if h == nil {
		return
	}

	ticker := time.NewTicker(h.cfg.Interval)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case <-ticker.C:
				h.check(ctx)
			}
		}
	}()
}

func (h *healthcheck) stop() {
	if h == nil {
		return
	}

	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		fasthttp.ReleaseURI(h.uri)
	})
}

func (h *healthcheck) check(ctx context.Context) {
	l := logutils.LoggerFromContext(ctx).With(
		zap.String("healthcheck_url", h.cfg.URL),
	)

	ok := h.ping(l)

	h.mx.Lock()
	h.statuses.Push(ok)

	isHealthy := h.statuses.All(h.cfg.ThresholdHealthy, func(ok bool) bool { return ok })
	isUnhealthy := h.statuses.All(h.cfg.ThresholdUnhealthy, func(ok bool) bool { return !ok })

	wasHealthy := h.isHealthy.Load()
	if wasHealthy && isUnhealthy {
		h.isHealthy.Store(false)
		l.Warn("Upstream became unhealthy")
	} else if !wasHealthy && isHealthy {
		h.isHealthy.Store(true)
		l.Info("Upstream is healthy again")
	}

	h.mx.Unlock()

	if !h.isHealthy.Load() && h.handleUnhealthy != nil {
		h.handleUnhealthy(ctx)
	}
}

func (h *healthcheck) ping(l *zap.Logger) bool {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)

	req.SetURI(h.uri)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetTimeout(h.cfg.Interval / 2)

	if err := h.target.Do(req, res); err != nil {
		l.Warn("Failed to query the healthcheck endpoint",
			zap.Error(err),
		)
		return false
	}

	switch res.StatusCode() {
	case fasthttp.StatusOK, fasthttp.StatusAccepted, fasthttp.StatusNoContent:
		return true
	default:
		return false
	}
}
