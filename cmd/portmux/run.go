package main

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sammck-go/portmux/pkg/admin"
	"github.com/sammck-go/portmux/pkg/backend"
	"github.com/sammck-go/portmux/pkg/discovery"
	"github.com/sammck-go/portmux/pkg/keepalive"
	"github.com/sammck-go/portmux/pkg/muxnet"
	"github.com/sammck-go/portmux/pkg/observability"
	"github.com/sammck-go/portmux/pkg/observability/prom"
	"github.com/sammck-go/portmux/pkg/sharelink"
	mxshare "github.com/sammck-go/portmux/share"
)

// newLogger returns the root logger and a closer for its output
func newLogger(o *options) (mxshare.Logger, io.Closer) {
	level := mxshare.StringToLogLevel(o.LogLevel)
	if o.LogFile == "" {
		return mxshare.NewLogger("portmux", level), io.NopCloser(os.Stderr)
	}
	w, closer := mxshare.NewLogFileWriter(o.logFileConfig())
	return mxshare.NewLoggerWithWriter(w, "portmux", mxshare.DefaultLogFlags, level), closer
}

// process ties the components together for one run
type process struct {
	logger   mxshare.Logger
	opts     *options
	started  time.Time
	server   *muxnet.Server
	observer *observability.AtomicObserver
	cell     *discovery.Cell

	mu      sync.Mutex
	monitor *keepalive.Monitor
}

// run binds the public port and runs until ctx is done. A bind failure is
// returned; everything after the bind is best effort.
func run(ctx context.Context, o *options) error {
	logger, closer := newLogger(o)
	defer closer.Close()

	p := &process{
		logger:   logger,
		opts:     o,
		started:  time.Now(),
		observer: observability.NewAtomicObserver(),
		cell:     discovery.NewCell(),
	}

	var reg *prometheus.Registry
	if o.MetricsListen != "" {
		reg = prom.NewRegistry()
		p.observer.Set(prom.NewObserver(reg))
	}

	muxConfig, err := o.muxConfig()
	if err != nil {
		return err
	}
	muxConfig.Observer = p.observer
	p.server, err = muxnet.NewServer(logger.Fork("mux"), muxConfig)
	if err != nil {
		return err
	}
	if err := p.server.Listen(ctx); err != nil {
		return err
	}

	if reg != nil {
		adminServer := admin.New(logger.Fork("admin"), reg, p.status)
		if err := adminServer.Listen(ctx, o.MetricsListen); err != nil {
			p.server.Close()
			return err
		}
		p.server.AddShutdownChild(adminServer)
	}

	go backend.WaitReady(ctx, logger.Fork("backend"), backend.ReadyConfig{
		Addr:        o.backendAddr(),
		MaxAttempts: o.BackendWaitAttempts,
		DialTimeout: o.DialTimeout,
	})

	disc, err := discovery.New(logger.Fork("discovery"), o.discoveryConfig(), p.cell, p.observer)
	if err != nil {
		p.server.Close()
		return err
	}
	go p.resolve(ctx, disc)

	err = p.server.Run(ctx)
	if errors.Is(err, muxnet.ErrServerClosed) {
		logger.ILogf("stopped")
		return nil
	}
	return err
}

// resolve waits for the hostname, publishes the share link, and keeps the
// tunnel warm when the hostname was discovered from the daemon's log
func (p *process) resolve(ctx context.Context, disc *discovery.Discoverer) {
	if err := disc.Run(ctx); err != nil {
		return
	}
	result, _ := p.cell.Get()
	p.publishLink(result)

	if result.Source != discovery.SourceDiscovered {
		return
	}
	monitor, err := keepalive.New(p.logger.Fork("keepalive"), p.opts.keepaliveConfig(disc.Config().Scheme, result), p.observer)
	if err != nil {
		p.logger.WLogf("keepalive disabled: %s", err)
		return
	}
	p.mu.Lock()
	p.monitor = monitor
	p.mu.Unlock()
	monitor.Run(ctx)
}

func (p *process) publishLink(result discovery.Result) {
	link, err := sharelink.New(p.opts.linkParams(result))
	if err != nil {
		p.logger.WLogf("no share link: %s", err)
		return
	}
	s := link.String()
	p.logger.ILogf("share link: %s", s)
	if p.opts.LinkFile == disabled {
		return
	}
	if err := sharelink.WriteFile(p.opts.LinkFile, s+"\n"); err != nil {
		p.logger.WLogf("write %s failed: %s", p.opts.LinkFile, err)
		return
	}
	p.logger.DLogf("share link written to %s", p.opts.LinkFile)
}

func (p *process) status() admin.Status {
	cfg := p.server.Config()
	st := admin.Status{
		Listen:      p.opts.listenAddr(),
		Backend:     cfg.BackendAddr,
		Strategy:    cfg.Strategy.Name(),
		Uptime:      admin.FormatUptime(p.started),
		Connections: p.server.Stats(),
		Relays:      p.server.RelayStats(),
	}
	if addr := p.server.Addr(); addr != nil {
		st.Listen = addr.String()
	}
	if result, ok := p.cell.Get(); ok {
		st.Hostname = &result
	}
	p.mu.Lock()
	monitor := p.monitor
	p.mu.Unlock()
	if monitor != nil {
		ks := monitor.Status()
		st.Keepalive = &ks
	}
	return st
}
