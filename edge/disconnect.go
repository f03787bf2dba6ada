package edge

import (
	"net"
	"time"
)

const disconnectPollInterval = 50 * time.Millisecond

// watchDisconnect polls the client's connection until stop is called.  The
// returned channel is closed once the client hangs up, it is nil when the
// connection can not be watched (e.g. it is not backed by a socket).
func watchDisconnect(conn net.Conn) (gone <-chan struct{}, stop func()) {
	p := peerOf(conn)
	if p == nil {
		return nil, func() {}
	}

	closed := make(chan struct{})
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)

		ticker := time.NewTicker(disconnectPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if p.gone() {
					close(closed)
					return
				}
			}
		}
	}()

	return closed, func() {
		close(done)
		<-exited
	}
}
