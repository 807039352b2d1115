package metrics

import (
	"sync"
	"time"
)

// Source exposes the tracker state sampled into gauges
type Source interface {
	NodeCount() int
	ActiveTaskCount() int
}

// Collector periodically samples a Source into the tracker gauges
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a new metrics collector
func NewCollector(source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Collect samples the source once
func (c *Collector) Collect() {
	TrackedNodes.Set(float64(c.source.NodeCount()))
	ActiveTasks.Set(float64(c.source.ActiveTaskCount()))
}
