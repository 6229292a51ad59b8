package muxnet

import (
	"context"
	"net"
	"time"

	"github.com/jpillora/sizestr"

	"github.com/sammck-go/portmux/pkg/observability"
	mxshare "github.com/sammck-go/portmux/share"
)

// DefaultDialTimeout bounds the backend connect attempt
const DefaultDialTimeout = 5 * time.Second

// Relay splices tunnel connections onto fresh loopback connections to the
// backend. It never retries: a failed connect drops the public connection and
// the client is expected to reconnect.
type Relay struct {
	logger      mxshare.Logger
	backendAddr string
	dialer      net.Dialer
	observer    observability.Observer
	connStats   mxshare.ConnStats
}

// NewRelay creates a Relay that dials backendAddr
func NewRelay(logger mxshare.Logger, backendAddr string, dialTimeout time.Duration, observer observability.Observer) *Relay {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	if observer == nil {
		observer = observability.NoopObserver
	}
	return &Relay{
		logger:      logger,
		backendAddr: backendAddr,
		dialer:      net.Dialer{Timeout: dialTimeout},
		observer:    observer,
	}
}

// BackendAddr returns the address the relay dials
func (r *Relay) BackendAddr() string {
	return r.backendAddr
}

// Stats returns the relay's connection counters
func (r *Relay) Stats() mxshare.ConnStatsSnapshot {
	return r.connStats.Snapshot()
}

// Serve takes ownership of conn and blocks until the relay pair is torn down.
// The prefix consumed during classification is written to the backend before any
// other byte, then both directions are copied until either side closes. conn is
// always closed on return.
func (r *Relay) Serve(ctx context.Context, conn *PrefixConn) {
	id := r.connStats.New()
	l := r.logger.Fork("relay#%d %s", id, conn.RemoteAddr())

	backend, err := r.dialer.DialContext(ctx, "tcp", r.backendAddr)
	if err != nil {
		l.WLogf("backend connect to %s failed: %s", r.backendAddr, err)
		r.observer.BackendDialFailed()
		conn.Close()
		return
	}

	prefix := conn.DrainPrefix()
	if _, err := backend.Write(prefix); err != nil {
		l.DLogf("prefix write failed: %s", err)
		backend.Close()
		conn.Close()
		return
	}

	r.connStats.Open()
	l.DLogf("%s: Open", &r.connStats)
	sent, received := Pipe(conn, backend)
	sent += int64(len(prefix))
	r.connStats.Close()
	r.observer.RelayClosed(sent, received)
	l.DLogf("%s: Close (sent %s received %s)", &r.connStats, sizestr.ToString(sent), sizestr.ToString(received))
}
