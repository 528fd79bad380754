package rtsp

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"github.com/wenjiegit/feng/pkg/registry"
)

// Client holds all per-connection RTSP state: a socket, a transport
// kind, an event loop (here, a goroutine running select over
// read/write/timer channels), an outbound queue for TCP or a
// direct-send path for SCTP, optional RTSP session state, and the
// paired-HTTP back-reference used by RTSP-over-HTTP tunnelling.
//
// libev's watcher callbacks become goroutines feeding channels that
// the event loop in Run selects over; there is no analogue to
// starting/stopping the TCP write watcher on demand, since the write
// pump goroutine is cheap to leave idle and only ever writes when
// QueueWrite wakes it.
type Client struct {
	ID        string
	conn      net.Conn
	transport Transport
	vhost     *VirtualHost
	logger    *log.Logger
	addrs     socketAddrs

	// ctx carries the verified JWT claims (see auth.SetUserContext) for
	// clients accepted behind an auth gate; it is context.Background()
	// for everything else. RTSP request handlers reach it through
	// Context() to authorize individual requests against the claims
	// recorded at accept time.
	ctx context.Context

	// OnReadable is invoked with each chunk of inbound bytes read from
	// the connection. RTSP request parsing lives outside this package;
	// this is the narrow seam where it would attach.
	OnReadable func(c *Client, data []byte)

	pair       *Client
	rtspClient *Client // set only on the HTTP half: points at its RTSP half

	sessionsMu sync.Mutex
	sessions   []*RTPSession

	outMu     sync.Mutex
	outQueue  [][]byte
	writeWake chan struct{}

	pendingMu sync.Mutex
	pending   []byte

	done     chan struct{}
	doneOnce sync.Once

	released     bool
	releaseMu    sync.Mutex

	// initErr models the per-thread "libev init error" flag: when set
	// before Run is called, the main loop is skipped entirely and the
	// client proceeds straight to teardown.
	initErr error

	wg sync.WaitGroup
}

// NewClient constructs a Client for an accepted connection. vhost must
// already have had IncrementConnections called on it by the acceptor.
func NewClient(id string, conn net.Conn, transport Transport, vhost *VirtualHost, logger *log.Logger) *Client {
	c := &Client{
		ID:        id,
		conn:      conn,
		transport: transport,
		vhost:     vhost,
		logger:    logger,
		ctx:       context.Background(),
		done:      make(chan struct{}),
		writeWake: make(chan struct{}, 1),
	}
	if conn != nil {
		c.addrs = socketAddrs{peer: conn.RemoteAddr(), local: conn.LocalAddr()}
	}
	return c
}

// Context returns the client's context, carrying verified JWT claims
// when the client was accepted behind an auth gate (see SetContext).
func (c *Client) Context() context.Context { return c.ctx }

// SetContext replaces the client's context. The acceptor calls this
// once, right after authenticate succeeds, to attach the verified
// claims via auth.SetUserContext.
func (c *Client) SetContext(ctx context.Context) { c.ctx = ctx }

// SetInitError records a watcher-setup failure (e.g. FD exhaustion)
// that must cause Run to skip its main loop and proceed directly to
// teardown.
func (c *Client) SetInitError(err error) { c.initErr = err }

// RemoteAddr returns the peer address recorded at accept time.
func (c *Client) RemoteAddr() string {
	if c.addrs.peer == nil {
		return ""
	}
	return c.addrs.peer.String()
}

// Pair returns the opposite half of an RTSP-over-HTTP tunnel, or nil.
func (c *Client) Pair() *Client { return c.pair }

// SetPair links c and other as the two halves of an HTTP tunnel.
func (c *Client) SetPair(other *Client) { c.pair = other }

// MarkAsRTSPHalf records that c is the RTSP half of the tunnel whose
// HTTP half is httpHalf: rtspHalf.pair.rtspClient (that is,
// httpHalf.rtspClient) will point back to rtspHalf, which is exactly
// the condition finish checks at teardown.
func MarkAsRTSPHalf(rtspHalf, httpHalf *Client) {
	rtspHalf.pair = httpHalf
	httpHalf.pair = rtspHalf
	httpHalf.rtspClient = rtspHalf
}

// Unloop signals the client's event loop to exit at its next
// iteration. Safe to call from any goroutine, any number of times.
func (c *Client) Unloop() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Done reports whether Unloop has been called.
func (c *Client) Done() <-chan struct{} { return c.done }

// QueueWrite appends data to the TCP outbound queue and wakes the
// write pump if it is idle.
func (c *Client) QueueWrite(data []byte) {
	c.outMu.Lock()
	c.outQueue = append(c.outQueue, data)
	c.outMu.Unlock()

	select {
	case c.writeWake <- struct{}{}:
	default:
	}
}

// SendDirect writes data immediately, bypassing the outbound queue.
// This is the SCTP path: SCTP's own flow control makes a queued write
// unnecessary.
func (c *Client) SendDirect(data []byte) error {
	_, err := c.conn.Write(data)
	return err
}

// AddSession attaches an RTP session to this client.
func (c *Client) AddSession(s *RTPSession) {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	c.sessions = append(c.sessions, s)
}

// RemoveSession detaches session s, if present.
func (c *Client) RemoveSession(s *RTPSession) {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	for i, existing := range c.sessions {
		if existing == s {
			last := len(c.sessions) - 1
			c.sessions[i] = c.sessions[last]
			c.sessions[last] = nil
			c.sessions = c.sessions[:last]
			return
		}
	}
}

// Sessions returns a snapshot of the client's current RTP sessions.
func (c *Client) Sessions() []*RTPSession {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	out := make([]*RTPSession, len(c.sessions))
	copy(out, c.sessions)
	return out
}

// Run executes the per-client event loop: skip straight to teardown if
// watcher initialisation failed, otherwise register in reg, select
// over I/O and the periodic timer until Unloop fires, unregister, then
// tear down.
func (c *Client) Run(reg *registry.Registry[*Client], streamTimeout time.Duration, onTick func(*Client)) {
	defer c.finish(reg)

	if c.initErr != nil {
		if c.logger != nil {
			c.logger.Printf("client %s: watcher init failed, skipping run: %v", c.ID, c.initErr)
		}
		return
	}

	reg.Register(c)
	c.eventLoop(streamTimeout, onTick)
	reg.Unregister(c)
}

func (c *Client) eventLoop(streamTimeout time.Duration, onTick func(*Client)) {
	inbound := make(chan []byte, 64)
	readErr := make(chan error, 1)

	c.wg.Add(1)
	go c.readLoop(inbound, readErr)

	if c.transport == TransportTCP {
		c.wg.Add(1)
		go c.writePump()
	}

	ticker := time.NewTicker(streamTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-readErr:
			c.Unloop()
		case data := <-inbound:
			if c.OnReadable != nil {
				c.OnReadable(c, data)
			}
		case <-ticker.C:
			if onTick != nil {
				onTick(c)
			}
		}
	}
}

func (c *Client) readLoop(inbound chan<- []byte, errCh chan<- error) {
	defer c.wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			select {
			case errCh <- err:
			default:
			}
			return
		}
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		select {
		case inbound <- chunk:
		default:
			// Inbound channel saturated; drop rather than block the
			// read loop behind a slow consumer.
		}
	}
}

func (c *Client) writePump() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-c.writeWake:
			if c.flushOutQueue() {
				return
			}
		}
	}
}

// flushOutQueue drains the outbound queue, returning true if a write
// failed and the client should stop.
func (c *Client) flushOutQueue() bool {
	for {
		c.outMu.Lock()
		if len(c.outQueue) == 0 {
			c.outMu.Unlock()
			return false
		}
		msg := c.outQueue[0]
		c.outQueue = c.outQueue[1:]
		c.outMu.Unlock()

		if _, err := c.conn.Write(msg); err != nil {
			c.Unloop()
			return true
		}
	}
}

// finish handles teardown, including paired-HTTP handling: a client
// with no pair is freed alone; the RTSP half of a
// pair (the one its pair's rtspClient points back to) frees both
// halves; the HTTP half frees only itself, trusting its RTSP half to
// free itself when its own loop exits.
func (c *Client) finish(reg *registry.Registry[*Client]) {
	c.vhost.DecrementConnections()

	switch {
	case c.pair == nil:
		c.release()
	case c.pair.rtspClient == c:
		c.pair.Unloop()
		c.release()
		c.pair.release()
	default:
		c.release()
	}
}

// release stops the client's watchers, closes its sessions and its
// connection. Idempotent: safe to call once from each half of a pair.
func (c *Client) release() {
	c.releaseMu.Lock()
	if c.released {
		c.releaseMu.Unlock()
		return
	}
	c.released = true
	c.releaseMu.Unlock()

	c.Unloop()

	for _, s := range c.Sessions() {
		s.Close()
	}

	if c.conn != nil {
		c.conn.Close()
	}
	c.wg.Wait()
}
