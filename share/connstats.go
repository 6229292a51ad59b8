package mxshare

import (
	"fmt"
	"sync/atomic"
)

// ConnStats keep track of both currently open and total connection counts for an entity
type ConnStats struct {
	count int64
	open  int64
}

// ConnStatsSnapshot is a point-in-time copy of a ConnStats
type ConnStatsSnapshot struct {
	Total int64 `json:"total"`
	Open  int64 `json:"open"`
}

// New adds one to the total connection count in a ConnStats and returns the new
// total, which callers use as a connection id
func (c *ConnStats) New() int64 {
	return atomic.AddInt64(&c.count, 1)
}

// Open adds one to the current open connection count in a ConnStats
func (c *ConnStats) Open() {
	atomic.AddInt64(&c.open, 1)
}

// Close subtracts one from the current open connection count in a ConnStats
func (c *ConnStats) Close() {
	atomic.AddInt64(&c.open, -1)
}

// Snapshot returns the current counters
func (c *ConnStats) Snapshot() ConnStatsSnapshot {
	return ConnStatsSnapshot{
		Total: atomic.LoadInt64(&c.count),
		Open:  atomic.LoadInt64(&c.open),
	}
}

func (c *ConnStats) String() string {
	return fmt.Sprintf("[%d/%d]", atomic.LoadInt64(&c.open), atomic.LoadInt64(&c.count))
}
