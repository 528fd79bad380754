// Package rtsp implements the RTSP client lifecycle: connection
// acceptance, the per-client worker-pool-driven event loop, RTP session
// liveness checking and the process-wide client registry glue. Media
// codecs, RTSP request grammar and SDP generation are out of scope;
// this package only implements the client/session machinery described
// in the system specification.
package rtsp

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wenjiegit/feng/pkg/bufferqueue"
)

// Transport identifies the wire transport a Client was accepted over.
type Transport int

const (
	TransportTCP Transport = iota
	TransportSCTP
)

func (t Transport) String() string {
	if t == TransportSCTP {
		return "sctp"
	}
	return "tcp"
}

// Source identifies where an RTP session's media originates.
type Source int

const (
	// FileSource is a stored, seekable resource.
	FileSource Source = iota
	// LiveSource is a source whose data arrives in real time from an
	// upstream producer; only LiveSource sessions receive the soft
	// RTCP-BYE idleness notice.
	LiveSource
)

// VirtualHost is a server-side configuration bucket to which accepted
// clients are assigned. ConnectionCount is incremented by the acceptor
// and decremented when a client's loop exits, regardless of whether the
// loop ever actually ran.
type VirtualHost struct {
	Name            string
	AuthRequired    bool
	JWTSecret       string
	connectionCount int64
}

// IncrementConnections is called once per accepted connection, in the
// acceptor, before any failure that might cause the client loop to
// never run.
func (v *VirtualHost) IncrementConnections() {
	atomic.AddInt64(&v.connectionCount, 1)
}

// DecrementConnections is called exactly once per counted connection:
// during client teardown, or by the acceptor when it rejects the
// connection (failed auth, saturated worker pool) before handoff.
func (v *VirtualHost) DecrementConnections() {
	atomic.AddInt64(&v.connectionCount, -1)
}

// ConnectionCount returns the current live connection count for this
// virtual host.
func (v *VirtualHost) ConnectionCount() int64 {
	return atomic.LoadInt64(&v.connectionCount)
}

// RTCPSender issues the RTCP Sender-Report-with-BYE indication used to
// soft-notify a live source's peer that it has gone idle. Construction
// of the RTCP packet itself is out of scope here; this is the narrow
// interface the session timeout checker invokes.
type RTCPSender interface {
	SendByeNotice(session *RTPSession) error
}

// RTPSession tracks one media session within a Client: the timestamp
// of its last outbound datagram, its source kind (live vs. file), and
// its owning Client.
type RTPSession struct {
	mu                 sync.Mutex
	lastPacketSendTime time.Time
	source             Source
	client             *Client
	consumer           *bufferqueue.Consumer
	id                 string
	byeSent            bool
}

// NewRTPSession attaches a session to client, consuming from producer
// via a fresh bufferqueue.Consumer.
func NewRTPSession(id string, client *Client, source Source, producer *bufferqueue.Producer) *RTPSession {
	s := &RTPSession{
		id:                 id,
		client:             client,
		source:             source,
		lastPacketSendTime: time.Now(),
	}
	if producer != nil {
		s.consumer = bufferqueue.NewConsumer(producer, s)
	}
	return s
}

// ID returns the session's opaque identifier.
func (s *RTPSession) ID() string { return s.id }

// Client returns the RTSP_Client that owns this session.
func (s *RTPSession) Client() *Client { return s.client }

// Source reports whether this session's track is a live source.
func (s *RTPSession) Source() Source { return s.source }

// Consumer returns the session's BufferQueue consumer, or nil if the
// session was created without a producer (e.g. in tests).
func (s *RTPSession) Consumer() *bufferqueue.Consumer { return s.consumer }

// LastPacketSendTime returns the timestamp of the last datagram sent
// for this session.
func (s *RTPSession) LastPacketSendTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPacketSendTime
}

// MarkPacketSent records that a datagram was just sent for this
// session, resetting its idleness clock and clearing any pending soft
// BYE, since a fresh packet starts a new idle window.
func (s *RTPSession) MarkPacketSent(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPacketSendTime = now
	s.byeSent = false
}

// MarkByeSent records that a soft BYE has been issued for the session's
// current idle window and reports whether this call is the one that
// made that transition. It returns false on every subsequent call until
// MarkPacketSent starts a new window, so a sustained idle period
// produces exactly one BYE rather than one per timeout-checker pass.
func (s *RTPSession) MarkByeSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byeSent {
		return false
	}
	s.byeSent = true
	return true
}

// Close detaches the session's consumer from its producer.
func (s *RTPSession) Close() {
	if s.consumer != nil {
		s.consumer.Free()
	}
}

// outboundMessage is one queued write, used only by the TCP path.
type outboundMessage []byte

// socketAddrs captures the peer and local addresses recorded at
// accept time, so the client can be inspected after the underlying
// connection has been closed.
type socketAddrs struct {
	peer  net.Addr
	local net.Addr
}
