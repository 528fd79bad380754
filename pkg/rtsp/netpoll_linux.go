//go:build linux

package rtsp

import (
	"fmt"
	"net"
	"os"
	"syscall"
)

// tuneTCPConn applies high-connection-count socket tuning to an
// accepted RTSP connection: disable Nagle's algorithm so RTP/RTCP
// control messages aren't held up waiting to coalesce, and enable
// keepalive so a client that vanishes without a FIN is still caught
// (after about 60s: 30s idle, then 3 probes 10s apart).
func tuneTCPConn(conn *net.TCPConn) error {
	file, err := conn.File()
	if err != nil {
		return err
	}
	defer file.Close()

	fd := int(file.Fd())

	syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)
	syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_KEEPALIVE, 1)
	syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_KEEPIDLE, 30)
	syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_KEEPINTVL, 10)
	syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_KEEPCNT, 3)

	return nil
}

// CreateOptimizedListener binds addr with SO_REUSEADDR and SO_REUSEPORT
// set before bind, letting multiple fengd processes share one RTSP
// port for horizontal scale-out.
func CreateOptimizedListener(addr string, backlog int) (net.Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}

	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}

	syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix_SO_REUSEPORT, 1)

	sockAddr := &syscall.SockaddrInet4{Port: tcpAddr.Port}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(sockAddr.Addr[:], ip4)
	}
	if err := syscall.Bind(fd, sockAddr); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	if backlog <= 0 {
		backlog = 128
	}
	if err := syscall.Listen(fd, backlog); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	file := os.NewFile(uintptr(fd), "")
	listener, err := net.FileListener(file)
	file.Close()
	return listener, err
}

// unix_SO_REUSEPORT is 15 on Linux; syscall doesn't export a portable
// constant for it.
const unix_SO_REUSEPORT = 15

// sysSOProtocol is SO_PROTOCOL (38 on Linux); syscall doesn't export
// it. ipprotoSCTP is IPPROTO_SCTP, also
// unexported by syscall.
const (
	sysSOProtocol = 38
	ipprotoSCTP   = 132
)

// DetectTransport queries an accepted socket for the protocol it was
// negotiated over via getsockopt(SO_PROTOCOL) and dispatches on it,
// rather than trusting a statically configured transport. Connections
// whose protocol is neither TCP nor SCTP are rejected.
func DetectTransport(conn net.Conn) (Transport, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return TransportTCP, nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}

	var proto int
	var sockoptErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		proto, sockoptErr = syscall.GetsockoptInt(int(fd), syscall.SOL_SOCKET, sysSOProtocol)
	})
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	if sockoptErr != nil {
		return 0, sockoptErr
	}

	switch proto {
	case syscall.IPPROTO_TCP:
		return TransportTCP, nil
	case ipprotoSCTP:
		return TransportSCTP, nil
	default:
		return 0, fmt.Errorf("unrecognized socket protocol %d", proto)
	}
}

// CreateOptimizedSCTPListener binds addr as a raw SCTP socket with
// SO_REUSEADDR and SO_REUSEPORT set before bind, paralleling
// CreateOptimizedListener's TCP path. It requires the kernel's sctp
// module to be loaded; callers should treat failure as "SCTP
// unavailable on this host" rather than fatal.
func CreateOptimizedSCTPListener(addr string, backlog int) (net.Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}

	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, ipprotoSCTP)
	if err != nil {
		return nil, err
	}

	syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix_SO_REUSEPORT, 1)

	sockAddr := &syscall.SockaddrInet4{Port: tcpAddr.Port}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(sockAddr.Addr[:], ip4)
	}
	if err := syscall.Bind(fd, sockAddr); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	if backlog <= 0 {
		backlog = 128
	}
	if err := syscall.Listen(fd, backlog); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	file := os.NewFile(uintptr(fd), "")
	listener, err := net.FileListener(file)
	file.Close()
	return listener, err
}
