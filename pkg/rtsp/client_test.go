package rtsp

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wenjiegit/feng/pkg/registry"
)

func newTestVhost() *VirtualHost {
	return &VirtualHost{Name: "test"}
}

func TestClientRunRegistersAndUnregistersOnUnloop(t *testing.T) {
	server, clientConn := net.Pipe()
	defer clientConn.Close()

	vhost := newTestVhost()
	vhost.IncrementConnections()
	c := NewClient("c1", server, TransportTCP, vhost, nil)

	reg := registry.New[*Client]()
	done := make(chan struct{})
	go func() {
		c.Run(reg, time.Hour, nil)
		close(done)
	}()

	require.Eventually(t, func() bool { return reg.Len() == 1 }, time.Second, time.Millisecond)

	c.Unloop()
	<-done

	require.Equal(t, 0, reg.Len())
	require.Equal(t, int64(0), vhost.ConnectionCount())
}

func TestClientSkipsLoopOnInitError(t *testing.T) {
	server, clientConn := net.Pipe()
	defer clientConn.Close()

	vhost := newTestVhost()
	c := NewClient("c1", server, TransportTCP, vhost, nil)
	c.SetInitError(net.ErrClosed)

	reg := registry.New[*Client]()
	c.Run(reg, time.Hour, nil)

	require.Equal(t, 0, reg.Len())
}

func TestClientQueueWriteDeliversOverTCPPath(t *testing.T) {
	server, clientConn := net.Pipe()
	defer clientConn.Close()

	vhost := newTestVhost()
	c := NewClient("c1", server, TransportTCP, vhost, nil)

	reg := registry.New[*Client]()
	go c.Run(reg, time.Hour, nil)

	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, err := clientConn.Read(buf)
		if err == nil {
			received <- buf[:n]
		}
	}()

	c.QueueWrite([]byte("hello"))

	select {
	case got := <-received:
		require.Equal(t, "hello", string(got))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued write")
	}

	c.Unloop()
}

func TestClientOnReadableReceivesInboundData(t *testing.T) {
	server, clientConn := net.Pipe()

	vhost := newTestVhost()
	c := NewClient("c1", server, TransportTCP, vhost, nil)

	var gotLen int32
	c.OnReadable = func(_ *Client, data []byte) {
		atomic.StoreInt32(&gotLen, int32(len(data)))
	}

	reg := registry.New[*Client]()
	go c.Run(reg, time.Hour, nil)

	_, err := clientConn.Write([]byte("RTSP/1.0"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&gotLen) == 8 }, time.Second, time.Millisecond)

	c.Unloop()
	clientConn.Close()
}

func TestClientUnloopsOnPeerClose(t *testing.T) {
	server, clientConn := net.Pipe()

	vhost := newTestVhost()
	c := NewClient("c1", server, TransportTCP, vhost, nil)

	reg := registry.New[*Client]()
	done := make(chan struct{})
	go func() {
		c.Run(reg, time.Hour, nil)
		close(done)
	}()

	require.Eventually(t, func() bool { return reg.Len() == 1 }, time.Second, time.Millisecond)
	clientConn.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("client loop did not exit after peer closed connection")
	}
}

func TestPairedHTTPTeardownFreesBothHalvesFromRTSPHalf(t *testing.T) {
	rtspServer, rtspPeer := net.Pipe()
	httpServer, httpPeer := net.Pipe()
	defer rtspPeer.Close()
	defer httpPeer.Close()

	vhost := newTestVhost()
	rtspHalf := NewClient("rtsp", rtspServer, TransportTCP, vhost, nil)
	httpHalf := NewClient("http", httpServer, TransportTCP, vhost, nil)
	MarkAsRTSPHalf(rtspHalf, httpHalf)

	reg := registry.New[*Client]()
	rtspDone := make(chan struct{})
	httpDone := make(chan struct{})
	go func() { rtspHalf.Run(reg, time.Hour, nil); close(rtspDone) }()
	go func() { httpHalf.Run(reg, time.Hour, nil); close(httpDone) }()

	require.Eventually(t, func() bool { return reg.Len() == 2 }, time.Second, time.Millisecond)

	rtspHalf.Unloop()

	select {
	case <-rtspDone:
	case <-time.After(time.Second):
		t.Fatal("rtsp half did not exit")
	}
	select {
	case <-httpDone:
	case <-time.After(time.Second):
		t.Fatal("http half was not torn down alongside its rtsp half")
	}

	require.True(t, rtspHalf.released)
	require.True(t, httpHalf.released)
}

func TestHTTPHalfTeardownAloneLeavesRTSPHalfRunning(t *testing.T) {
	rtspServer, rtspPeer := net.Pipe()
	httpServer, httpPeer := net.Pipe()
	defer rtspPeer.Close()

	vhost := newTestVhost()
	rtspHalf := NewClient("rtsp", rtspServer, TransportTCP, vhost, nil)
	httpHalf := NewClient("http", httpServer, TransportTCP, vhost, nil)
	MarkAsRTSPHalf(rtspHalf, httpHalf)

	reg := registry.New[*Client]()
	go rtspHalf.Run(reg, time.Hour, nil)
	httpDone := make(chan struct{})
	go func() { httpHalf.Run(reg, time.Hour, nil); close(httpDone) }()

	require.Eventually(t, func() bool { return reg.Len() == 2 }, time.Second, time.Millisecond)

	httpPeer.Close()

	select {
	case <-httpDone:
	case <-time.After(time.Second):
		t.Fatal("http half did not exit")
	}

	require.True(t, httpHalf.released)
	require.False(t, rtspHalf.released)

	rtspHalf.Unloop()
}
