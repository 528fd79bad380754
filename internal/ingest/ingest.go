// Package ingest feeds bufferqueue.Producer instances from an external
// media source, standing in for the demuxer/producer thread that
// produces RTP payloads upstream of the RTSP server. It connects to
// NATS, subscribes to one subject per resource, and appends every
// message payload onto that resource's BufferQueue.
package ingest

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wenjiegit/feng/internal/metrics"
	"github.com/wenjiegit/feng/pkg/bufferqueue"
)

// Config holds NATS connection tuning knobs, nothing domain-specific.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration
}

// Bridge is a NATS-backed ingest source: it subscribes to one subject
// per resource name and appends every message payload to that
// resource's BufferQueue producer, standing in for a demuxer thread
// pushing payloads upstream of the RTSP server.
type Bridge struct {
	conn    *nats.Conn
	metrics metrics.MetricsInterface
	logger  *log.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NewBridge connects to NATS and wires connect / reconnect / disconnect
// / error handlers straight through to feng's metrics.
func NewBridge(cfg Config, m metrics.MetricsInterface, logger *log.Logger) (*Bridge, error) {
	b := &Bridge{
		metrics: m,
		logger:  logger,
		subs:    make(map[string]*nats.Subscription),
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.MaxPingsOutstanding(cfg.MaxPingsOut),
		nats.PingInterval(cfg.PingInterval),
		nats.ConnectHandler(b.onConnect),
		nats.DisconnectErrHandler(b.onDisconnect),
		nats.ReconnectHandler(b.onReconnect),
		nats.ErrorHandler(b.onError),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("ingest: connecting to NATS: %w", err)
	}
	b.conn = conn
	if b.metrics != nil {
		b.metrics.SetNATSConnected(true)
	}
	return b, nil
}

func (b *Bridge) onConnect(conn *nats.Conn) {
	if b.logger != nil {
		b.logger.Printf("ingest: connected to NATS at %s", conn.ConnectedUrl())
	}
	if b.metrics != nil {
		b.metrics.SetNATSConnected(true)
	}
}

func (b *Bridge) onDisconnect(_ *nats.Conn, err error) {
	if b.logger != nil {
		b.logger.Printf("ingest: disconnected from NATS: %v", err)
	}
	if b.metrics != nil {
		b.metrics.SetNATSConnected(false)
		if err != nil {
			b.metrics.RecordError("nats_disconnect")
		}
	}
}

func (b *Bridge) onReconnect(conn *nats.Conn) {
	if b.logger != nil {
		b.logger.Printf("ingest: reconnected to NATS at %s", conn.ConnectedUrl())
	}
	if b.metrics != nil {
		b.metrics.SetNATSConnected(true)
		b.metrics.IncrementNATSReconnects()
	}
}

func (b *Bridge) onError(_ *nats.Conn, _ *nats.Subscription, err error) {
	if b.logger != nil {
		b.logger.Printf("ingest: NATS error: %v", err)
	}
	if b.metrics != nil {
		b.metrics.RecordError("nats_error")
	}
}

// subjectFor maps a resource name to the NATS subject its producer
// feed is published on.
func subjectFor(resource string) string {
	return fmt.Sprintf("feng.stream.%s", resource)
}

// Subscribe feeds producer from resource's NATS subject: every message
// received is appended to the queue with Producer.Put. Subscribing
// twice to the same resource replaces the earlier subscription.
func (b *Bridge) Subscribe(resource string, producer *bufferqueue.Producer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.subs[resource]; ok {
		existing.Unsubscribe()
		delete(b.subs, resource)
	}

	sub, err := b.conn.Subscribe(subjectFor(resource), func(msg *nats.Msg) {
		start := time.Now()
		if err := producer.Put(msg.Data); err != nil {
			if b.logger != nil {
				b.logger.Printf("ingest: put on closed producer for %s: %v", resource, err)
			}
			return
		}
		if b.metrics != nil {
			b.metrics.IncrementNATSMessages()
			b.metrics.RecordNATSLatency(time.Since(start))
			b.metrics.IncrementMessagesReceived()
		}
	})
	if err != nil {
		return fmt.Errorf("ingest: subscribing to %s: %w", resource, err)
	}

	b.subs[resource] = sub
	if b.logger != nil {
		b.logger.Printf("ingest: subscribed to resource %s", resource)
	}
	return nil
}

// Unsubscribe stops feeding resource's producer.
func (b *Bridge) Unsubscribe(resource string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[resource]
	if !ok {
		return fmt.Errorf("ingest: not subscribed to %s", resource)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("ingest: unsubscribing from %s: %w", resource, err)
	}
	delete(b.subs, resource)
	return nil
}

// IsConnected reports the bridge's NATS connection state.
func (b *Bridge) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// Close unsubscribes from every resource and closes the NATS connection.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for resource, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil && b.logger != nil {
			b.logger.Printf("ingest: error unsubscribing from %s: %v", resource, err)
		}
	}
	b.subs = make(map[string]*nats.Subscription)

	if b.conn != nil {
		b.conn.Close()
		if b.metrics != nil {
			b.metrics.SetNATSConnected(false)
		}
	}
	return nil
}
