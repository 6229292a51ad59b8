// Package keepalive periodically requests the public health endpoint through
// the tunnel so the tunnel provider sees traffic on an otherwise idle hostname.
package keepalive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sammck-go/portmux/pkg/observability"
	mxshare "github.com/sammck-go/portmux/share"
)

const (
	// DefaultInterval is the time between probes
	DefaultInterval = 30 * time.Second
	// DefaultTimeout bounds a single probe
	DefaultTimeout = 10 * time.Second
	// DefaultPath is the health path requested on the public hostname
	DefaultPath = "/health"

	// browser-like headers; some edges treat bare clients differently
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/113.0.0.0 Safari/537.36"
	acceptHeader   = "*/*"
	acceptLanguage = "en-US,en;q=0.9"

	maxDrainBytes = 64 << 10
)

// Config controls the probe target and cadence
type Config struct {
	Scheme   string
	Hostname string
	Path     string
	Interval time.Duration
	Timeout  time.Duration
}

// Monitor probes <scheme>://<hostname><path> on a fixed interval. Failures
// are logged every time; a success following a failure is logged once; a
// success following a success is silent.
type Monitor struct {
	logger   mxshare.Logger
	config   Config
	url      string
	client   *http.Client
	observer observability.Observer

	mu          sync.Mutex
	lastSuccess bool
	lastProbe   time.Time
	probes      int64
	failures    int64
}

// New creates a Monitor. observer may be nil.
func New(logger mxshare.Logger, config Config, observer observability.Observer) (*Monitor, error) {
	if config.Hostname == "" {
		return nil, logger.Errorf("no hostname to probe")
	}
	if config.Scheme == "" {
		config.Scheme = "https"
	}
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if observer == nil {
		observer = observability.NoopObserver
	}
	return &Monitor{
		logger:      logger,
		config:      config,
		url:         fmt.Sprintf("%s://%s%s", config.Scheme, config.Hostname, config.Path),
		client:      &http.Client{Timeout: config.Timeout},
		observer:    observer,
		lastSuccess: true,
	}, nil
}

// URL returns the probed URL
func (m *Monitor) URL() string {
	return m.url
}

// Status is a point-in-time view of the monitor
type Status struct {
	URL         string    `json:"url"`
	LastSuccess bool      `json:"last_success"`
	LastProbe   time.Time `json:"last_probe"`
	Probes      int64     `json:"probes"`
	Failures    int64     `json:"failures"`
}

// Status returns the current outcome state
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		URL:         m.url,
		LastSuccess: m.lastSuccess,
		LastProbe:   m.lastProbe,
		Probes:      m.probes,
		Failures:    m.failures,
	}
}

// Run probes every Interval until ctx is done. The first probe happens one
// Interval after Run is called.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.ILogf("keepalive every %s: %s", m.config.Interval, m.url)
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe performs one request and records the outcome. The returned error
// describes a failure and is already logged.
func (m *Monitor) Probe(ctx context.Context) error {
	err := m.get(ctx)
	if err != nil && ctx.Err() != nil {
		// shutting down; not a tunnel failure
		return err
	}
	ok := err == nil

	m.mu.Lock()
	recovered := ok && !m.lastSuccess
	m.lastSuccess = ok
	m.lastProbe = time.Now()
	m.probes++
	if !ok {
		m.failures++
	}
	m.mu.Unlock()

	m.observer.Keepalive(ok)
	switch {
	case !ok:
		m.logger.WLogf("keepalive failed: %s", err)
	case recovered:
		m.logger.ILogf("keepalive ok again: %s", m.url)
	}
	return err
}

func (m *Monitor) get(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Language", acceptLanguage)
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d from %s", resp.StatusCode, m.url)
	}
	return nil
}
