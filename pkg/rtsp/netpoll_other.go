//go:build !linux

package rtsp

import (
	"errors"
	"net"
)

// tuneTCPConn is a no-op outside Linux: the socket options it would set
// (TCP_NODELAY, keepalive tuning) aren't exposed the same way on every
// platform, and feng's production target is Linux.
func tuneTCPConn(conn *net.TCPConn) error { return nil }

// CreateOptimizedListener falls back to a plain net.Listen outside
// Linux, where SO_REUSEPORT-before-bind isn't available the same way.
func CreateOptimizedListener(addr string, _ int) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// DetectTransport always reports TCP outside Linux: SO_PROTOCOL-based
// dispatch relies on a getsockopt numbering this package only carries
// for Linux.
func DetectTransport(conn net.Conn) (Transport, error) {
	return TransportTCP, nil
}

// CreateOptimizedSCTPListener is unavailable outside Linux.
func CreateOptimizedSCTPListener(addr string, _ int) (net.Listener, error) {
	return nil, errors.New("sctp listener not supported on this platform")
}
