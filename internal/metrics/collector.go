package metrics

import (
	"sync/atomic"
)

// Collector holds the process-wide order tallies. One instance is created at
// startup and shared by the worker (writer) and the metrics endpoint (reader).
type Collector struct {
	processed int64
	failed    int64
	malformed int64
	requeued  int64
}

func New() *Collector {
	return &Collector{}
}

func (c *Collector) IncProcessed() {
	atomic.AddInt64(&c.processed, 1)
}

func (c *Collector) IncFailed() {
	atomic.AddInt64(&c.failed, 1)
}

func (c *Collector) IncMalformed() {
	atomic.AddInt64(&c.malformed, 1)
}

func (c *Collector) IncRequeued() {
	atomic.AddInt64(&c.requeued, 1)
}

func (c *Collector) Processed() int64 {
	return atomic.LoadInt64(&c.processed)
}

func (c *Collector) Failed() int64 {
	return atomic.LoadInt64(&c.failed)
}

func (c *Collector) Malformed() int64 {
	return atomic.LoadInt64(&c.malformed)
}

func (c *Collector) Requeued() int64 {
	return atomic.LoadInt64(&c.requeued)
}

type Stats struct {
	ProcessedOrders int64 `json:"processedOrders"`
	FailedOrders    int64 `json:"failedOrders"`
	MalformedEvents int64 `json:"malformedEvents"`
	RequeuedEvents  int64 `json:"requeuedEvents"`
}

func (c *Collector) Stats() Stats {
	return Stats{
		ProcessedOrders: c.Processed(),
		FailedOrders:    c.Failed(),
		MalformedEvents: c.Malformed(),
		RequeuedEvents:  c.Requeued(),
	}
}
