package metrics

import (
	"sync"
	"time"
)

// RTSPClientInfo holds per-connection bookkeeping for one accepted RTSP
// client: when it connected, when it last exchanged an RTSP/RTCP
// message, and the running byte/message counters used to build the
// /metrics/system detail view.
type RTSPClientInfo struct {
	ID            string
	RemoteAddr    string
	ConnectedAt   time.Time
	LastMessageAt time.Time
	MessagesSent  uint64
	MessagesRecv  uint64
	BytesSent     uint64
	BytesRecv     uint64
}

// RTSPClientTracker keeps a live map of accepted RTSP clients, alongside
// all-time totals and the observed peak concurrent client count. The
// acceptor calls AddConnection/RemoveConnection as clients come and go;
// EnhancedMetrics.GetAccurateStats reads it for the per-client detail
// dump.
type RTSPClientTracker struct {
	mu               sync.RWMutex
	connections      map[string]*RTSPClientInfo
	totalConnections uint64
	peakConnections  int
}

// NewRTSPClientTracker creates an empty tracker.
func NewRTSPClientTracker() *RTSPClientTracker {
	return &RTSPClientTracker{
		connections: make(map[string]*RTSPClientInfo),
	}
}

// AddConnection registers a newly accepted RTSP client.
func (ct *RTSPClientTracker) AddConnection(id, remoteAddr string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.connections[id] = &RTSPClientInfo{
		ID:          id,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
	}

	ct.totalConnections++

	currentCount := len(ct.connections)
	if currentCount > ct.peakConnections {
		ct.peakConnections = currentCount
	}
}

// RemoveConnection drops a client from the live set, typically once its
// event loop has exited.
func (ct *RTSPClientTracker) RemoveConnection(id string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	delete(ct.connections, id)
}

// UpdateConnectionStats records an RTSP/RTCP message (sent or received)
// against the owning client's counters.
func (ct *RTSPClientTracker) UpdateConnectionStats(id string, sent bool, bytes uint64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if conn, exists := ct.connections[id]; exists {
		conn.LastMessageAt = time.Now()
		if sent {
			conn.MessagesSent++
			conn.BytesSent += bytes
		} else {
			conn.MessagesRecv++
			conn.BytesRecv += bytes
		}
	}
}

// GetActiveCount returns the current number of connected RTSP clients.
func (ct *RTSPClientTracker) GetActiveCount() int {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	return len(ct.connections)
}

// GetConnectionStats returns detailed per-client statistics for the
// operational monitor and the /metrics/system endpoint.
func (ct *RTSPClientTracker) GetConnectionStats() map[string]interface{} {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	var totalMessagesSent, totalMessagesRecv uint64
	var totalBytesSent, totalBytesRecv uint64
	var avgConnectionDuration time.Duration

	now := time.Now()
	connectionDetails := make([]map[string]interface{}, 0, len(ct.connections))

	for _, conn := range ct.connections {
		totalMessagesSent += conn.MessagesSent
		totalMessagesRecv += conn.MessagesRecv
		totalBytesSent += conn.BytesSent
		totalBytesRecv += conn.BytesRecv
		avgConnectionDuration += now.Sub(conn.ConnectedAt)

		connectionDetails = append(connectionDetails, map[string]interface{}{
			"id":            conn.ID,
			"remote_addr":   conn.RemoteAddr,
			"duration_sec":  now.Sub(conn.ConnectedAt).Seconds(),
			"messages_sent": conn.MessagesSent,
			"messages_recv": conn.MessagesRecv,
			"bytes_sent":    conn.BytesSent,
			"bytes_recv":    conn.BytesRecv,
			"idle_sec":      now.Sub(conn.LastMessageAt).Seconds(),
		})
	}

	activeCount := len(ct.connections)
	if activeCount > 0 {
		avgConnectionDuration = avgConnectionDuration / time.Duration(activeCount)
	}

	return map[string]interface{}{
		"active":              activeCount,
		"total":               ct.totalConnections,
		"peak":                ct.peakConnections,
		"messages_sent_total": totalMessagesSent,
		"messages_recv_total": totalMessagesRecv,
		"bytes_sent_total":    totalBytesSent,
		"bytes_recv_total":    totalBytesRecv,
		"avg_duration_sec":    avgConnectionDuration.Seconds(),
		"clients":             connectionDetails,
	}
}

// GetSummary returns the headline client counts without the per-client
// detail list.
func (ct *RTSPClientTracker) GetSummary() map[string]interface{} {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	return map[string]interface{}{
		"active": len(ct.connections),
		"total":  ct.totalConnections,
		"peak":   ct.peakConnections,
	}
}
