package rtsp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wenjiegit/feng/internal/auth"
	"github.com/wenjiegit/feng/pkg/registry"
)

func newTestAcceptor(t *testing.T, vhost *VirtualHost) (*Acceptor, net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	pool := NewWorkerPool(2)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pool.Start(ctx)

	return &Acceptor{
		Listener: ln,
		VHost:    vhost,
		Pool:     pool,
		Registry: registry.New[*Client](),
	}, ln
}

func TestAcceptorHandsOffUnauthenticatedConnection(t *testing.T) {
	vhost := &VirtualHost{Name: "t"}
	acceptor, ln := newTestAcceptor(t, vhost)
	defer ln.Close()

	ran := make(chan *Client, 1)
	go acceptor.Accept(func(c *Client) { ran <- c })

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case c := <-ran:
		require.NotNil(t, c)
	case <-time.After(time.Second):
		t.Fatal("acceptor never handed off the connection")
	}
}

func TestAcceptorRejectsMissingAuthWhenRequired(t *testing.T) {
	vhost := &VirtualHost{Name: "t", AuthRequired: true}
	acceptor, ln := newTestAcceptor(t, vhost)
	defer ln.Close()
	acceptor.JWTManager = auth.NewJWTManager("secret", time.Minute)
	acceptor.AuthHeaderReader = func(net.Conn) (string, error) { return "", errNoAuthHeader }

	ran := make(chan *Client, 1)
	go acceptor.Accept(func(c *Client) { ran <- c })

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-ran:
		t.Fatal("acceptor should not have handed off an unauthenticated connection")
	case <-time.After(100 * time.Millisecond):
	}

	require.Equal(t, int64(0), vhost.ConnectionCount())
}

func TestAcceptorAcceptsValidBearerToken(t *testing.T) {
	vhost := &VirtualHost{Name: "t", AuthRequired: true}
	acceptor, ln := newTestAcceptor(t, vhost)
	defer ln.Close()

	mgr := auth.NewJWTManager("secret", time.Minute)
	acceptor.JWTManager = mgr
	token, err := mgr.GenerateTestToken()
	require.NoError(t, err)
	acceptor.AuthHeaderReader = func(net.Conn) (string, error) { return "Bearer " + token, nil }

	ran := make(chan *Client, 1)
	go acceptor.Accept(func(c *Client) { ran <- c })

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case c := <-ran:
		require.NotNil(t, c)
	case <-time.After(time.Second):
		t.Fatal("acceptor never handed off the authenticated connection")
	}
}

var errNoAuthHeader = &authHeaderError{}

type authHeaderError struct{}

func (*authHeaderError) Error() string { return "no auth header presented" }
