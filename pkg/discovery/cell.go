package discovery

import (
	"context"
	"sync"

	"github.com/sammck-go/portmux/pkg/observability"
)

// Source says how a hostname was resolved
type Source = observability.DiscoverySource

const (
	// SourceFixed is a hostname supplied by configuration
	SourceFixed = observability.DiscoverySourceFixed
	// SourceDiscovered is a hostname found in the tunnel daemon's log
	SourceDiscovered = observability.DiscoverySourceDiscovered
	// SourceFallback is the sentinel published after polling gave up
	SourceFallback = observability.DiscoverySourceFallback
)

// Result is the resolved public hostname
type Result struct {
	Hostname string `json:"hostname"`
	Source   Source `json:"source"`
}

// Cell holds a Result that is written once and read by any number of
// consumers. The zero value is not usable; use NewCell.
type Cell struct {
	once   sync.Once
	done   chan struct{}
	result Result
}

// NewCell returns an empty cell
func NewCell() *Cell {
	return &Cell{done: make(chan struct{})}
}

// Publish stores r if nothing has been published yet. It reports whether r was
// stored.
func (c *Cell) Publish(r Result) bool {
	stored := false
	c.once.Do(func() {
		c.result = r
		stored = true
		close(c.done)
	})
	return stored
}

// Done returns a channel that is closed once a result is published
func (c *Cell) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until a result is published or ctx is done
func (c *Cell) Wait(ctx context.Context) (Result, error) {
	select {
	case <-c.done:
		return c.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Get returns the published result without blocking. ok is false while the
// cell is still pending.
func (c *Cell) Get() (result Result, ok bool) {
	select {
	case <-c.done:
		return c.result, true
	default:
		return Result{}, false
	}
}
