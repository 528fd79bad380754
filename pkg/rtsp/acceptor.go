package rtsp

import (
	"fmt"
	"log"
	"net"

	"github.com/google/uuid"

	"github.com/wenjiegit/feng/internal/auth"
	"github.com/wenjiegit/feng/pkg/registry"
)

// Acceptor implements the connection-acceptance sequence: accept a
// socket, query it for its protocol and dispatch on {TCP, SCTP} (an
// unrecognized protocol is logged and the connection rejected), read
// its peer/local addresses, optionally gate it behind a bearer token,
// then hand it to the worker pool as a Client. Any failure after the
// accept and before the handoff closes the accepted descriptor rather
// than leaking it.
type Acceptor struct {
	Listener net.Listener
	VHost    *VirtualHost
	Pool     *WorkerPool
	Registry *registry.Registry[*Client]
	Logger   *log.Logger

	// JWTManager is nil when VHost.AuthRequired is false.
	JWTManager *auth.JWTManager

	// AuthHeaderReader extracts the client's opening
	// "Authorization: Bearer <token>" pseudo-header line before any
	// RTSP parsing occurs. Tests and callers that do not need the auth
	// gate may leave this nil whenever VHost.AuthRequired is false.
	AuthHeaderReader func(conn net.Conn) (string, error)

	// OnAccepted, if set, is invoked for every Client that passes the
	// auth gate, just before Submit — this is the seam internal/monitor
	// hooks to publish a "connected" event. It is also invoked for a
	// Client that Submit then rejects.
	OnAccepted func(c *Client)
}

// newClientID generates an opaque per-connection identifier.
func newClientID() string {
	return uuid.NewString()
}

// Accept performs one iteration of the acceptor loop: Accept a single
// connection, run it through the auth gate if required, and submit it
// to the worker pool. It returns the error from Listener.Accept (which
// the caller should treat as fatal for the acceptor) or nil.
func (a *Acceptor) Accept(runLoop func(c *Client)) error {
	conn, err := a.Listener.Accept()
	if err != nil {
		return err
	}

	transport, err := DetectTransport(conn)
	if err != nil {
		if a.Logger != nil {
			a.Logger.Printf("acceptor: rejecting %s: %v", conn.RemoteAddr(), err)
		}
		conn.Close()
		return nil
	}

	if transport == TransportTCP {
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			if err := tuneTCPConn(tcpConn); err != nil && a.Logger != nil {
				a.Logger.Printf("acceptor: tuning TCP socket for %s: %v", conn.RemoteAddr(), err)
			}
		}
	}

	a.VHost.IncrementConnections()

	var claims *auth.Claims
	if a.VHost.AuthRequired {
		c, err := a.authenticate(conn)
		if err != nil {
			if a.Logger != nil {
				a.Logger.Printf("acceptor: rejecting %s: %v", conn.RemoteAddr(), err)
			}
			conn.Close()
			a.VHost.DecrementConnections()
			return nil
		}
		claims = c
	}

	id := newClientID()
	client := NewClient(id, conn, transport, a.VHost, a.Logger)
	if claims != nil {
		client.SetContext(auth.SetUserContext(client.Context(), claims))
	}

	if a.OnAccepted != nil {
		a.OnAccepted(client)
	}

	accepted := a.Pool.Submit(func() { runLoop(client) })
	if !accepted {
		if a.Logger != nil {
			a.Logger.Printf("acceptor: worker pool saturated, dropping %s", conn.RemoteAddr())
		}
		conn.Close()
		a.VHost.DecrementConnections()
	}
	return nil
}

func (a *Acceptor) authenticate(conn net.Conn) (*auth.Claims, error) {
	if a.JWTManager == nil {
		return nil, fmt.Errorf("acceptor: auth required but no JWTManager configured")
	}
	if a.AuthHeaderReader == nil {
		return nil, fmt.Errorf("acceptor: auth required but no header reader configured")
	}
	headerLine, err := a.AuthHeaderReader(conn)
	if err != nil {
		return nil, fmt.Errorf("reading auth header: %w", err)
	}
	token, err := auth.ExtractBearerToken(headerLine)
	if err != nil {
		return nil, err
	}
	claims, err := a.JWTManager.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}
	return claims, nil
}

// Serve runs the acceptor loop until Listener.Accept returns an error
// (typically because the listener was closed during shutdown).
func (a *Acceptor) Serve(runLoop func(c *Client)) error {
	for {
		if err := a.Accept(runLoop); err != nil {
			return err
		}
	}
}
