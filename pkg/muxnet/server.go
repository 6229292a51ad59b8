// Package muxnet serves plain HTTP status requests and WebSocket tunnel traffic
// on a single public TCP port. Each accepted connection is sniffed once, on its
// first chunk of data, and handed either to the StatusResponder or to the Relay
// that splices it onto the private backend port.
package muxnet

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/sammck-go/portmux/pkg/observability"
	"github.com/sammck-go/portmux/pkg/sniff"
	mxshare "github.com/sammck-go/portmux/share"
)

// ErrServerClosed is returned by Run after the server has been shut down
// without error
var ErrServerClosed = errors.New("muxnet: server closed")

// sniffBufferSize is the largest first chunk the classifier looks at
const sniffBufferSize = 32 << 10

const (
	acceptRetryMin = 5 * time.Millisecond
	acceptRetryMax = time.Second
)

// Config describes the public listener and its two downstream handlers
type Config struct {
	// ListenAddr is the public host:port; bind failure is fatal
	ListenAddr string

	// BackendAddr is the loopback host:port of the tunnel backend
	BackendAddr string

	// Strategy classifies the first chunk of each connection
	Strategy sniff.Strategy

	// SniffTimeout closes connections that send nothing for this long. Zero waits
	// forever, leaving silent connections open.
	SniffTimeout time.Duration

	// DialTimeout bounds each backend connect
	DialTimeout time.Duration

	Observer observability.Observer
}

// DefaultConfig returns a Config for the default upgrade-path strategy
func DefaultConfig() Config {
	return Config{
		ListenAddr:  ":8080",
		BackendAddr: "127.0.0.1:8081",
		Strategy:    sniff.UpgradePath{Path: sniff.DefaultUpgradePath},
		DialTimeout: DefaultDialTimeout,
	}
}

// Server accepts public connections, classifies each one exactly once and
// dispatches it to the status responder or the backend relay.
type Server struct {
	mxshare.ShutdownHelper
	config    Config
	observer  observability.Observer
	listener  net.Listener
	status    *StatusResponder
	relay     *Relay
	connStats mxshare.ConnStats

	connsMu sync.Mutex
	conns   map[*PrefixConn]struct{}
}

// NewServer creates a Server; it does not bind until Listen or Run
func NewServer(logger mxshare.Logger, config Config) (*Server, error) {
	if config.Strategy == nil {
		config.Strategy = sniff.UpgradePath{Path: sniff.DefaultUpgradePath}
	}
	if config.Observer == nil {
		config.Observer = observability.NoopObserver
	}
	if config.BackendAddr == "" {
		return nil, errors.New("muxnet: missing backend address")
	}
	s := &Server{
		config:   config,
		observer: config.Observer,
		conns:    make(map[*PrefixConn]struct{}),
	}
	s.InitShutdownHelper(logger, s)
	s.relay = NewRelay(logger, config.BackendAddr, config.DialTimeout, config.Observer)
	return s, nil
}

// Listen binds the public port. A bind failure (address in use, permission
// denied) is returned and the server is shut down; there is no fallback port.
func (s *Server) Listen(ctx context.Context) error {
	return s.DoOnceActivate(
		func() error {
			s.ShutdownOnContext(ctx)
			l, err := net.Listen("tcp", s.config.ListenAddr)
			if err != nil {
				return s.ELogErrorf("listen on %s failed: %s", s.config.ListenAddr, err)
			}
			s.listener = l
			s.status = NewStatusResponder(s.Fork("status"), l.Addr())
			if err := s.status.Start(); err != nil {
				l.Close()
				return err
			}
			s.AddShutdownChild(s.status)
			s.ILogf("Listening on %s; %s routes tunnel traffic to %s", l.Addr(), s.config.Strategy.Name(), s.config.BackendAddr)
			return nil
		},
		true,
	)
}

// Run binds the public port if needed and accepts connections until ctx is
// done or the server is closed. It returns the bind error, the accept error that
// stopped the server, or ErrServerClosed.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}
	go s.acceptLoop(ctx)
	err := s.WaitShutdown()
	if err == nil || errors.Is(err, context.Canceled) {
		err = ErrServerClosed
	}
	return err
}

// Addr returns the bound public address, or nil before Listen
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Config returns the effective configuration
func (s *Server) Config() Config {
	return s.config
}

// Stats returns counters for public connections
func (s *Server) Stats() mxshare.ConnStatsSnapshot {
	return s.connStats.Snapshot()
}

// RelayStats returns counters for established backend relays
func (s *Server) RelayStats() mxshare.ConnStatsSnapshot {
	return s.relay.Stats()
}

// acceptLoop runs until the listener is closed. Any other Accept error (fd
// exhaustion, aborted handshakes) is logged and retried after a capped delay;
// it never stops the server.
func (s *Server) acceptLoop(ctx context.Context) {
	b := &backoff.Backoff{Min: acceptRetryMin, Max: acceptRetryMax, Factor: 2}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.IsStartedShutdown() || errors.Is(err, net.ErrClosed) {
				s.StartShutdown(nil)
				return
			}
			d := b.Duration()
			s.WLogf("accept error: %s; retrying in %s", err, d)
			select {
			case <-time.After(d):
			case <-s.ShutdownStartedChan():
				return
			}
			continue
		}
		b.Reset()
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) track(conn net.Conn) *PrefixConn {
	var pc *PrefixConn
	pc = NewPrefixConn(conn, func() {
		s.connsMu.Lock()
		delete(s.conns, pc)
		s.connsMu.Unlock()
		s.connStats.Close()
		s.observer.ConnClosed()
	})
	s.connStats.New()
	s.connStats.Open()
	s.observer.ConnAccepted()
	s.connsMu.Lock()
	s.conns[pc] = struct{}{}
	s.connsMu.Unlock()
	return pc
}

// handleConn classifies conn on its first chunk and dispatches it exactly once
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	pc := s.track(conn)
	if s.IsStartedShutdown() {
		pc.Close()
		return
	}

	if err := s.sniff(pc); err != nil {
		s.TLogf("%s closed before classification: %s", conn.RemoteAddr(), err)
		pc.Close()
		return
	}

	verdict := s.config.Strategy.Classify(pc.Prefix())
	pc.SetVerdict(verdict)
	s.observer.Classified(verdict)
	s.DLogf("%s: %s classified as %s after %d bytes", &s.connStats, conn.RemoteAddr(), verdict, len(pc.Prefix()))

	switch verdict {
	case sniff.VerdictTunnel:
		s.relay.Serve(ctx, pc)
	default:
		s.status.Serve(pc)
	}
}

// sniff waits for the first chunk of data. Zero-byte reads do not count as data.
func (s *Server) sniff(pc *PrefixConn) error {
	if s.config.SniffTimeout > 0 {
		pc.SetReadDeadline(time.Now().Add(s.config.SniffTimeout))
		defer pc.SetReadDeadline(time.Time{})
	}
	buf := make([]byte, sniffBufferSize)
	for {
		n, err := pc.fill(buf)
		if n > 0 {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
// as an advisory completion value, actually shut down, then return the real completion value.
// Relays in flight are severed, not drained.
func (s *Server) HandleOnceShutdown(completionErr error) error {
	s.TLogf("HandleOnceShutdown")
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.connsMu.Lock()
	conns := make([]*PrefixConn, 0, len(s.conns))
	for pc := range s.conns {
		conns = append(conns, pc)
	}
	s.connsMu.Unlock()
	for _, pc := range conns {
		pc.Close()
	}

	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}
