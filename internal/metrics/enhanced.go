package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// HostStats tracks host-level CPU and Go heap usage, refreshed on
// EnhancedMetrics' collection tick. CPU sampling goes through gopsutil
// rather than Go's own runtime stats, since the host's SCTP/TCP relay
// path can burn CPU outside anything runtime/metrics accounts for
// (kernel-side socket buffering, syscalls).
type HostStats struct {
	mu             sync.RWMutex
	lastCPUTime    time.Time
	cpuPercent     float64
	memoryStats    runtime.MemStats
	lastMemUpdate  time.Time
}

// NewHostStats creates a host stats tracker and takes its first CPU
// sample.
func NewHostStats() *HostStats {
	hs := &HostStats{
		lastCPUTime:   time.Now(),
		lastMemUpdate: time.Now(),
	}
	hs.updateCPU()
	return hs
}

// Update refreshes both memory and CPU readings.
func (hs *HostStats) Update() {
	hs.updateMemory()
	hs.updateCPU()
}

func (hs *HostStats) updateMemory() {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	runtime.ReadMemStats(&hs.memoryStats)
	hs.lastMemUpdate = time.Now()
}

func (hs *HostStats) updateCPU() {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	cpuPercents, err := cpu.Percent(time.Second, false)
	if err != nil || len(cpuPercents) == 0 {
		return
	}

	currentCPU := cpuPercents[0]

	if hs.cpuPercent == 0 {
		hs.cpuPercent = currentCPU
	} else {
		alpha := 0.3
		hs.cpuPercent = alpha*currentCPU + (1-alpha)*hs.cpuPercent
	}

	hs.lastCPUTime = time.Now()
}

// GetMemoryMB returns heap usage in megabytes.
func (hs *HostStats) GetMemoryMB() float64 {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	return float64(hs.memoryStats.HeapAlloc) / 1024 / 1024
}

// GetMemoryStats returns detailed memory statistics.
func (hs *HostStats) GetMemoryStats() map[string]interface{} {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	return map[string]interface{}{
		"heap_alloc_mb":    float64(hs.memoryStats.HeapAlloc) / 1024 / 1024,
		"heap_sys_mb":      float64(hs.memoryStats.HeapSys) / 1024 / 1024,
		"heap_idle_mb":     float64(hs.memoryStats.HeapIdle) / 1024 / 1024,
		"heap_inuse_mb":    float64(hs.memoryStats.HeapInuse) / 1024 / 1024,
		"heap_released_mb": float64(hs.memoryStats.HeapReleased) / 1024 / 1024,
		"stack_inuse_mb":   float64(hs.memoryStats.StackInuse) / 1024 / 1024,
		"sys_total_mb":     float64(hs.memoryStats.Sys) / 1024 / 1024,
		"gc_count":         hs.memoryStats.NumGC,
		"gc_cpu_percent":   hs.memoryStats.GCCPUFraction * 100,
		"goroutines":       runtime.NumGoroutine(),
	}
}

// GetCPUPercent returns the current smoothed CPU usage percentage.
func (hs *HostStats) GetCPUPercent() float64 {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	return hs.cpuPercent
}

// GetSystemInfo returns a compact view combining CPU, memory and Go
// runtime identification, used by the /metrics/system endpoint.
func (hs *HostStats) GetSystemInfo() map[string]interface{} {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	return map[string]interface{}{
		"cpu": map[string]interface{}{
			"cores":   runtime.NumCPU(),
			"percent": hs.cpuPercent,
		},
		"memory": map[string]interface{}{
			"heap_alloc_mb": float64(hs.memoryStats.HeapAlloc) / 1024 / 1024,
			"sys_total_mb":  float64(hs.memoryStats.Sys) / 1024 / 1024,
			"gc_count":      hs.memoryStats.NumGC,
		},
		"runtime": map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"go_version": runtime.Version(),
		},
	}
}

// schedulerCPUSampler estimates CPU pressure from goroutine scheduler
// latency. It is intentionally cheap: one Gosched() and a stopwatch,
// smoothed over a rolling window. EnhancedMetrics samples it on every
// collection tick, but nothing reads its value: the reported CPU
// percentage is always HostStats' gopsutil reading, even when that
// reading fails.
type schedulerCPUSampler struct {
	mu         sync.RWMutex
	cpuPercent float64
	samples    []float64
	maxSamples int
}

func newSchedulerCPUSampler() *schedulerCPUSampler {
	return &schedulerCPUSampler{
		maxSamples: 60,
		samples:    make([]float64, 0, 60),
	}
}

// Sample takes one CPU pressure estimate and folds it into the rolling
// average.
func (s *schedulerCPUSampler) Sample() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	runtime.Gosched()
	schedLatency := time.Since(start).Seconds()

	usage := (1.0 - schedLatency*1000) * 100
	if usage < 0 {
		usage = 0
	}
	if usage > 100 {
		usage = 100
	}

	s.samples = append(s.samples, usage)
	if len(s.samples) > s.maxSamples {
		s.samples = s.samples[1:]
	}

	sum := 0.0
	for _, v := range s.samples {
		sum += v
	}
	s.cpuPercent = sum / float64(len(s.samples))

	return s.cpuPercent
}

// EnhancedMetrics layers host resource sampling, Go runtime metrics and
// a per-client connection tracker on top of the Prometheus-backed
// Metrics type, and exposes the combined view through
// GetAccurateStats/GetSimpleStats for the HTTP monitor endpoints.
type EnhancedMetrics struct {
	// Don't embed Metrics to avoid duplicate registration
	originalMetrics *Metrics

	hostStats         *HostStats
	runtimeStats      *GoRuntimeStats
	cpuSampler        *schedulerCPUSampler
	connectionTracker *RTSPClientTracker

	// simpleMetrics backs the MetricsInterface methods (interface.go) with
	// a Prometheus-free counter set. Code written against
	// MetricsInterface (internal/ingest) compiles against either a plain
	// *Metrics or an *EnhancedMetrics, but through an *EnhancedMetrics
	// its calls update these counters only, not the Prometheus metrics.
	simpleMetrics *LiteMetrics

	mu             sync.RWMutex
	startTime      time.Time
	lastUpdateTime time.Time
	updateInterval time.Duration
}

// NewEnhancedMetrics creates a new enhanced metrics instance that reuses existing metrics
func NewEnhancedMetrics(existingMetrics *Metrics) *EnhancedMetrics {
	return &EnhancedMetrics{
		originalMetrics:   existingMetrics,
		hostStats:         NewHostStats(),
		runtimeStats:      NewGoRuntimeStats(),
		cpuSampler:        newSchedulerCPUSampler(),
		connectionTracker: NewRTSPClientTracker(),
		simpleMetrics:     NewLiteMetrics(),
		startTime:         time.Now(),
		lastUpdateTime:    time.Now(),
		updateInterval:    5 * time.Second,
	}
}

// StartCollection begins automatic metrics collection
func (em *EnhancedMetrics) StartCollection() {
	ticker := time.NewTicker(em.updateInterval)
	go func() {
		for range ticker.C {
			em.updateAllMetrics()
		}
	}()
}

// updateAllMetrics updates all metric types
func (em *EnhancedMetrics) updateAllMetrics() {
	em.mu.Lock()
	defer em.mu.Unlock()

	em.hostStats.Update()
	em.runtimeStats.Update()
	em.cpuSampler.Sample()

	em.originalMetrics.UpdateMemoryUsage(uint64(em.hostStats.GetMemoryMB() * 1024 * 1024))
	em.originalMetrics.UpdateCPUUsage(em.hostStats.GetCPUPercent())

	em.lastUpdateTime = time.Now()
}

// AddConnection tracks a new RTSP client connection
func (em *EnhancedMetrics) AddConnection(id, remoteAddr string) {
	em.originalMetrics.IncrementConnections()
	em.connectionTracker.AddConnection(id, remoteAddr)
}

// RemoveConnection removes a tracked connection
func (em *EnhancedMetrics) RemoveConnection(id string) {
	em.originalMetrics.DecrementConnections()
	em.connectionTracker.RemoveConnection(id)
}

// UpdateConnectionMessage updates message statistics for a connection
func (em *EnhancedMetrics) UpdateConnectionMessage(id string, sent bool, bytes int) {
	if sent {
		em.originalMetrics.IncrementMessagesSent()
	} else {
		em.originalMetrics.IncrementMessagesReceived()
	}

	em.originalMetrics.RecordMessageSize(bytes)
	em.connectionTracker.UpdateConnectionStats(id, sent, uint64(bytes))
}

// GetAccurateStats returns comprehensive and accurate statistics
func (em *EnhancedMetrics) GetAccurateStats() map[string]interface{} {
	em.mu.RLock()
	defer em.mu.RUnlock()

	return map[string]interface{}{
		"timestamp":      time.Now().Unix(),
		"uptime_seconds": time.Since(em.startTime).Seconds(),
		"last_update":    em.lastUpdateTime.Unix(),

		"connections": em.connectionTracker.GetConnectionStats(),

		"system": map[string]interface{}{
			"memory": em.hostStats.GetMemoryStats(),
			"cpu": map[string]interface{}{
				"percent": em.hostStats.GetCPUPercent(),
				"cores":   em.hostStats.GetSystemInfo()["cpu"].(map[string]interface{})["cores"],
			},
		},

		"runtime": em.runtimeStats.GetAllStats(),

		"performance": map[string]interface{}{
			"memory_mb":    em.hostStats.GetMemoryMB(),
			"cpu_percent":  em.hostStats.GetCPUPercent(),
			"goroutines":   em.hostStats.GetSystemInfo()["runtime"].(map[string]interface{})["goroutines"],
			"active_conns": em.connectionTracker.GetActiveCount(),
		},
	}
}

// GetSimpleStats returns simplified metrics for the operational monitor
func (em *EnhancedMetrics) GetSimpleStats() map[string]interface{} {
	return map[string]interface{}{
		"connections": map[string]interface{}{
			"active": em.connectionTracker.GetActiveCount(),
		},
		"system": map[string]interface{}{
			"memory": map[string]interface{}{
				"heap_alloc": uint64(em.hostStats.GetMemoryMB() * 1024 * 1024),
			},
			"goroutines": em.hostStats.GetSystemInfo()["runtime"].(map[string]interface{})["goroutines"],
		},
	}
}
