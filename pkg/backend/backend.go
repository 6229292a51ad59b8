// Package backend checks that the tunnel backend is accepting connections.
// The check is informational: the port-mux listens and relays whether or not
// the backend ever becomes ready.
package backend

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/jpillora/backoff"

	mxshare "github.com/sammck-go/portmux/share"
)

const (
	// DefaultMaxAttempts is the number of dials WaitReady makes before giving up
	DefaultMaxAttempts = 10
	// DefaultDialTimeout bounds each dial
	DefaultDialTimeout = time.Second

	minRetryInterval = 100 * time.Millisecond
	maxRetryInterval = 2 * time.Second
)

// ReadyConfig controls WaitReady
type ReadyConfig struct {
	Addr        string
	MaxAttempts int
	DialTimeout time.Duration
}

// WaitReady dials config.Addr until a connection succeeds, config.MaxAttempts
// dials have failed, or ctx is done. It logs the outcome and returns the
// number of attempts made along with the last dial error, if any.
func WaitReady(ctx context.Context, logger mxshare.Logger, config ReadyConfig) (int, error) {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	dialer := &net.Dialer{Timeout: config.DialTimeout}
	b := &backoff.Backoff{Min: minRetryInterval, Max: maxRetryInterval, Factor: 2}
	t0 := time.Now()
	var err error
	for {
		attempt := int(b.Attempt()) + 1
		var conn net.Conn
		conn, err = dialer.DialContext(ctx, "tcp", config.Addr)
		if err == nil {
			conn.Close()
			logger.ILogf("backend %s ready (attempt %d, %s)", config.Addr, attempt, time.Since(t0).Round(time.Millisecond))
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if attempt >= config.MaxAttempts {
			logger.WLogf("backend %s not ready after %d attempts: %s", config.Addr, attempt, err)
			return attempt, fmt.Errorf("backend %s not ready: %w", config.Addr, err)
		}
		d := b.Duration()
		logger.DLogf("backend %s not ready: %s (attempt %d/%d, retry in %s)", config.Addr, err, attempt, config.MaxAttempts, d)
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(d):
		}
	}
}
