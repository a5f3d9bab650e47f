package metrics

import (
	"runtime"
	"sync"
	"time"
)

// Collector periodically samples process-level metrics that have no
// natural trigger of their own, as distinct from event-driven metrics
// (probes, decisions, joins) which are recorded at the call site.
type Collector struct {
	startTime time.Time
	mu        sync.RWMutex
}

// NewCollector creates a collector with its uptime clock starting now.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
	}
}

// Collect samples memory and uptime. Call on a fixed interval from the
// node's background housekeeping, never from the protocol loop.
func (c *Collector) Collect() {
	c.collectMemory()
	c.collectUptime()
}

func (c *Collector) collectMemory() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_alloc").Set(float64(m.HeapAlloc))
	MemoryUsage.WithLabelValues("heap_sys").Set(float64(m.HeapSys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}

func (c *Collector) collectUptime() {
	c.mu.RLock()
	start := c.startTime
	c.mu.RUnlock()
	Uptime.Set(time.Since(start).Seconds())
}
