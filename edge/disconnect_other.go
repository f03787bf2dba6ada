//go:build !linux && !darwin

package edge

import "net"

type peer struct{}

func peerOf(net.Conn) *peer {
	return nil
}

func (p *peer) gone() bool {
	return false
}
