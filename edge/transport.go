package edge

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mediadash/edge/utils"

	"github.com/valyala/fasthttp"
)

var (
	errClientGone = errors.New("client disconnected")
)

// abortableTransport does the same round trip as fasthttp's default transport,
// except that a request registered with track gets its upstream connection
// torn down as soon as the abort channel is closed.  Untracked requests go
// through the default transport.
type abortableTransport struct {
	inflight map[*fasthttp.Request]inflightRequest
	mx       sync.Mutex
}

type inflightRequest struct {
	abort    <-chan struct{}
	deadline time.Time
}

func newAbortableTransport() *abortableTransport {
	return &abortableTransport{
		inflight: make(map[*fasthttp.Request]inflightRequest),
	}
}

func (t *abortableTransport) track(req *fasthttp.Request, abort <-chan struct{}, deadline time.Time) {
	t.mx.Lock()
	defer t.mx.Unlock()

	t.inflight[req] = inflightRequest{abort: abort, deadline: deadline}
}

func (t *abortableTransport) untrack(req *fasthttp.Request) {
	t.mx.Lock()
	defer t.mx.Unlock()

	delete(t.inflight, req)
}

func (t *abortableTransport) RoundTrip(
	hc *fasthttp.HostClient,
	req *fasthttp.Request,
	res *fasthttp.Response,
) (retry bool, err error) {
	t.mx.Lock()
	r, ok := t.inflight[req]
	t.mx.Unlock()

	if !ok {
		return fasthttp.DefaultTransport.RoundTrip(hc, req, res)
	}

	timeout := utils.Remaining(r.deadline)
	if timeout < 0 {
		return false, fasthttp.ErrTimeout
	}

	cc, err := hc.AcquireConn(timeout, req.ConnectionClose())
	if err != nil {
		return false, err
	}
	conn := cc.Conn()
	res.ParseNetConn(conn)

	if err := conn.SetDeadline(r.deadline); err != nil {
		hc.CloseConn(cc)
		return true, err
	}

	// the watcher must be gone before the connection returns to the pool
	aborted := false
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-done:
		case <-r.abort:
			aborted = true
			_ = conn.SetDeadline(time.Now())
		}
	}()

	bw := hc.AcquireWriter(conn)
	err = req.Write(bw)
	if err == nil {
		err = bw.Flush()
	}
	hc.ReleaseWriter(bw)

	if err == nil {
		if req.Header.IsHead() {
			res.SkipBody = true
		}
		if hc.DisableHeaderNamesNormalizing {
			res.Header.DisableNormalizing()
		}

		br := hc.AcquireReader(conn)
		err = res.ReadLimitBody(br, hc.MaxResponseBodySize)
		hc.ReleaseReader(br)
	}

	close(done)
	<-exited

	switch {
	case aborted:
		hc.CloseConn(cc)
		if err == nil {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", errClientGone, err)

	case err != nil:
		hc.CloseConn(cc)
		if x, ok := err.(interface{ Timeout() bool }); ok && x.Timeout() {
			return false, fasthttp.ErrTimeout
		}
		return !errors.Is(err, fasthttp.ErrBodyTooLarge), err

	case req.ConnectionClose() || res.ConnectionClose():
		hc.CloseConn(cc)

	default:
		hc.ReleaseConn(cc)
	}

	return false, nil
}
