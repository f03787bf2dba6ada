//go:build linux || darwin

package edge

import (
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

type peer struct {
	raw syscall.RawConn
	buf [1]byte
}

func peerOf(conn net.Conn) *peer {
	for conn != nil {
		switch c := conn.(type) {
		case syscall.Conn:
			raw, err := c.SyscallConn()
			if err != nil {
				return nil
			}
			return &peer{raw: raw}
		case interface{ NetConn() net.Conn }: // tls
			conn = c.NetConn()
		default:
			return nil
		}
	}
	return nil
}

// gone peeks at the socket without consuming anything: a zero-length read
// means the client has sent its fin.  Pipelined bytes leave it untouched.
func (p *peer) gone() bool {
	gone := false
	err := p.raw.Control(func(fd uintptr) {
		n, _, err := unix.Recvfrom(int(fd), p.buf[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		switch {
		case err == nil:
			gone = n == 0
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		default:
			gone = true
		}
	})
	return err != nil || gone
}
