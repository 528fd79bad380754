package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// LiteMetrics implements MetricsInterface without any Prometheus
// registration, so the NATS ingest bridge can run (and be unit tested)
// with a metrics sink that never touches the global Prometheus
// registry. EnhancedMetrics holds one in a field and delegates
// MetricsInterface calls to it.
type LiteMetrics struct {
	// Connection metrics
	connectionsTotal    int64
	connectionsActive   int64
	connectionsAccepted int64
	connectionsClosed   int64
	connectionsErrors   int64

	// Message metrics — RTSP/RTCP control messages and relayed RTP
	// packets are both counted through this same path.
	messagesReceived  int64
	messagesSent      int64
	messagesPerSecond float64
	messageDuplicates int64

	// Error metrics
	errorsTotal   int64
	lastErrorTime int64

	// System metrics
	goroutinesCount int64
	memoryUsage     int64
	cpuUsage        float64

	// NATS ingest metrics
	natsConnectionStatus int64 // 1=connected, 0=disconnected
	natsReconnects       int64
	natsMessages         int64

	startTime        time.Time
	mu               sync.RWMutex
	connectionTimes  []time.Duration
	messageSizes     []int
	messageLatencies []time.Duration
}

// NewLiteMetrics creates a LiteMetrics with its rolling sample buffers
// pre-sized to avoid reallocation during steady-state operation.
func NewLiteMetrics() *LiteMetrics {
	return &LiteMetrics{
		startTime:        time.Now(),
		connectionTimes:  make([]time.Duration, 0, 1000),
		messageSizes:     make([]int, 0, 1000),
		messageLatencies: make([]time.Duration, 0, 1000),
	}
}

// Connection tracking
func (m *LiteMetrics) IncrementConnections() {
	atomic.AddInt64(&m.connectionsTotal, 1)
	atomic.AddInt64(&m.connectionsAccepted, 1)
	atomic.AddInt64(&m.connectionsActive, 1)
}

func (m *LiteMetrics) DecrementConnections() {
	atomic.AddInt64(&m.connectionsClosed, 1)
	atomic.AddInt64(&m.connectionsActive, -1)
}

func (m *LiteMetrics) RecordConnectionError() {
	atomic.AddInt64(&m.connectionsErrors, 1)
	atomic.AddInt64(&m.errorsTotal, 1)
}

func (m *LiteMetrics) RecordConnectionDuration(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.connectionTimes) >= 1000 {
		m.connectionTimes = m.connectionTimes[1:]
	}
	m.connectionTimes = append(m.connectionTimes, duration)
}

// Message tracking
func (m *LiteMetrics) IncrementMessagesReceived() {
	atomic.AddInt64(&m.messagesReceived, 1)
}

func (m *LiteMetrics) IncrementMessagesSent() {
	atomic.AddInt64(&m.messagesSent, 1)
}

func (m *LiteMetrics) RecordMessageSize(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.messageSizes) >= 1000 {
		m.messageSizes = m.messageSizes[1:]
	}
	m.messageSizes = append(m.messageSizes, size)
}

func (m *LiteMetrics) IncrementDuplicates() {
	atomic.AddInt64(&m.messageDuplicates, 1)
}

func (m *LiteMetrics) UpdateMessagesPerSecond(rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesPerSecond = rate
}

// Latency tracking
func (m *LiteMetrics) RecordMessageLatency(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.messageLatencies) >= 1000 {
		m.messageLatencies = m.messageLatencies[1:]
	}
	m.messageLatencies = append(m.messageLatencies, duration)
}

func (m *LiteMetrics) RecordNATSLatency(duration time.Duration) {
	// NATS ingest latency folds into the same rolling window as
	// relayed-message latency; both measure end-to-end delivery delay.
	m.RecordMessageLatency(duration)
}

// Error tracking
func (m *LiteMetrics) RecordError(errorType string) {
	atomic.AddInt64(&m.errorsTotal, 1)
	atomic.StoreInt64(&m.lastErrorTime, time.Now().Unix())
}

// System metrics
func (m *LiteMetrics) UpdateGoroutinesCount(count int) {
	atomic.StoreInt64(&m.goroutinesCount, int64(count))
}

func (m *LiteMetrics) UpdateMemoryUsage(bytes uint64) {
	atomic.StoreInt64(&m.memoryUsage, int64(bytes))
}

func (m *LiteMetrics) UpdateCPUUsage(percent float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cpuUsage = percent
}

// NATS metrics
func (m *LiteMetrics) SetNATSConnected(connected bool) {
	if connected {
		atomic.StoreInt64(&m.natsConnectionStatus, 1)
	} else {
		atomic.StoreInt64(&m.natsConnectionStatus, 0)
	}
}

func (m *LiteMetrics) IncrementNATSReconnects() {
	atomic.AddInt64(&m.natsReconnects, 1)
}

func (m *LiteMetrics) IncrementNATSMessages() {
	atomic.AddInt64(&m.natsMessages, 1)
}

// Getters for current values
func (m *LiteMetrics) GetActiveConnections() int64 {
	return atomic.LoadInt64(&m.connectionsActive)
}

func (m *LiteMetrics) GetUptime() time.Duration {
	return time.Since(m.startTime)
}

// GetAllStats returns all metrics in a structured format
func (m *LiteMetrics) GetAllStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	avgConnectionDuration := time.Duration(0)
	if len(m.connectionTimes) > 0 {
		total := time.Duration(0)
		for _, d := range m.connectionTimes {
			total += d
		}
		avgConnectionDuration = total / time.Duration(len(m.connectionTimes))
	}

	avgMessageSize := 0.0
	if len(m.messageSizes) > 0 {
		total := 0
		for _, size := range m.messageSizes {
			total += size
		}
		avgMessageSize = float64(total) / float64(len(m.messageSizes))
	}

	avgMessageLatency := time.Duration(0)
	if len(m.messageLatencies) > 0 {
		total := time.Duration(0)
		for _, d := range m.messageLatencies {
			total += d
		}
		avgMessageLatency = total / time.Duration(len(m.messageLatencies))
	}

	return map[string]interface{}{
		"connections": map[string]interface{}{
			"total":                atomic.LoadInt64(&m.connectionsTotal),
			"active":               atomic.LoadInt64(&m.connectionsActive),
			"accepted":             atomic.LoadInt64(&m.connectionsAccepted),
			"closed":               atomic.LoadInt64(&m.connectionsClosed),
			"errors":               atomic.LoadInt64(&m.connectionsErrors),
			"avg_duration_seconds": avgConnectionDuration.Seconds(),
		},
		"messages": map[string]interface{}{
			"received":       atomic.LoadInt64(&m.messagesReceived),
			"sent":           atomic.LoadInt64(&m.messagesSent),
			"per_second":     m.messagesPerSecond,
			"duplicates":     atomic.LoadInt64(&m.messageDuplicates),
			"avg_size_bytes": avgMessageSize,
			"avg_latency_ms": avgMessageLatency.Milliseconds(),
		},
		"system": map[string]interface{}{
			"goroutines":   atomic.LoadInt64(&m.goroutinesCount),
			"memory_bytes": atomic.LoadInt64(&m.memoryUsage),
			"cpu_percent":  m.cpuUsage,
		},
		"nats": map[string]interface{}{
			"connected":  atomic.LoadInt64(&m.natsConnectionStatus) == 1,
			"reconnects": atomic.LoadInt64(&m.natsReconnects),
			"messages":   atomic.LoadInt64(&m.natsMessages),
		},
		"errors": map[string]interface{}{
			"total":         atomic.LoadInt64(&m.errorsTotal),
			"last_error_ts": atomic.LoadInt64(&m.lastErrorTime),
		},
		"uptime_seconds": m.GetUptime().Seconds(),
		"timestamp":      time.Now().Unix(),
	}
}

// GetSimpleStats returns basic stats for the operational monitor
func (m *LiteMetrics) GetSimpleStats() map[string]interface{} {
	return map[string]interface{}{
		"connections": map[string]interface{}{
			"active": atomic.LoadInt64(&m.connectionsActive),
		},
		"system": map[string]interface{}{
			"memory": map[string]interface{}{
				"heap_alloc": atomic.LoadInt64(&m.memoryUsage),
			},
			"goroutines": atomic.LoadInt64(&m.goroutinesCount),
		},
	}
}
