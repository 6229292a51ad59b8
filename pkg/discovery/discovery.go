// Package discovery learns the public hostname assigned to the tunnel by
// watching the tunnel daemon's log file. The hostname is either fixed by
// configuration, found by polling the log, or replaced by a fallback sentinel
// once polling gives up.
package discovery

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sammck-go/portmux/pkg/observability"
	mxshare "github.com/sammck-go/portmux/share"
)

const (
	// DefaultPattern matches quick-tunnel URLs; group 1 is the hostname
	DefaultPattern = `https://([^/\s]*trycloudflare\.com)`
	// DefaultInterval is the time between polls of the log
	DefaultInterval = 2 * time.Second
	// DefaultMaxRetries is the number of failed polls before giving up
	DefaultMaxRetries = 10
	// DefaultFallback is published when polling gives up
	DefaultFallback = "unknown.trycloudflare.com"
	// DefaultScheme is the scheme the public hostname is reached on
	DefaultScheme = "https"

	maxLineBytes = 1 << 20
)

// Config controls how the hostname is resolved
type Config struct {
	// FixedHostname, when set, is used as-is and nothing is polled
	FixedHostname string
	// ArtifactPath is the tunnel daemon's log file
	ArtifactPath string
	Pattern      string
	Interval     time.Duration
	MaxRetries   int
	Fallback     string
	Scheme       string
	// Watch enables an extra scan whenever the log file is written
	Watch bool
}

// DefaultConfig returns the stock quick-tunnel settings for artifactPath
func DefaultConfig(artifactPath string) Config {
	return Config{
		ArtifactPath: artifactPath,
		Pattern:      DefaultPattern,
		Interval:     DefaultInterval,
		MaxRetries:   DefaultMaxRetries,
		Fallback:     DefaultFallback,
		Scheme:       DefaultScheme,
		Watch:        true,
	}
}

// Discoverer resolves the public hostname and publishes it to a Cell
type Discoverer struct {
	logger   mxshare.Logger
	config   Config
	pattern  *regexp.Regexp
	cell     *Cell
	observer observability.Observer
	attempts int64
}

// New validates config and creates a Discoverer that publishes into cell.
// observer may be nil.
func New(logger mxshare.Logger, config Config, cell *Cell, observer observability.Observer) (*Discoverer, error) {
	if cell == nil {
		cell = NewCell()
	}
	if observer == nil {
		observer = observability.NoopObserver
	}
	if config.Pattern == "" {
		config.Pattern = DefaultPattern
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.Fallback == "" {
		config.Fallback = DefaultFallback
	}
	if config.Scheme == "" {
		config.Scheme = DefaultScheme
	}
	d := &Discoverer{
		logger:   logger,
		config:   config,
		cell:     cell,
		observer: observer,
	}
	if config.FixedHostname != "" {
		return d, nil
	}
	if config.ArtifactPath == "" {
		return nil, logger.Errorf("no fixed hostname and no log file to scan")
	}
	re, err := regexp.Compile(config.Pattern)
	if err != nil {
		return nil, logger.Errorf("bad hostname pattern %q: %s", config.Pattern, err)
	}
	if re.NumSubexp() < 1 {
		return nil, logger.Errorf("hostname pattern %q has no capture group", config.Pattern)
	}
	d.pattern = re
	return d, nil
}

// Cell returns the cell the result is published to
func (d *Discoverer) Cell() *Cell {
	return d.cell
}

// Config returns the effective configuration
func (d *Discoverer) Config() Config {
	return d.config
}

// Attempts returns the number of poll attempts made so far. Scans triggered by
// file events are not counted.
func (d *Discoverer) Attempts() int {
	return int(atomic.LoadInt64(&d.attempts))
}

// Run resolves the hostname and publishes it. A fixed hostname is published
// immediately. Otherwise the log is scanned every Interval until a match is
// found or MaxRetries polls have failed, in which case the fallback is
// published. Run returns ctx.Err() if ctx is done first, without publishing.
func (d *Discoverer) Run(ctx context.Context) error {
	if d.config.FixedHostname != "" {
		d.publish(d.config.FixedHostname, SourceFixed)
		return nil
	}

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if d.config.Watch {
		watcher, err := d.watch()
		if err != nil {
			d.logger.WLogf("not watching %s, polling only: %s", d.config.ArtifactPath, err)
		} else {
			defer watcher.Close()
			events = watcher.Events
			watchErrs = watcher.Errors
		}
	}

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()
	target := filepath.Clean(d.config.ArtifactPath)

	for {
		select {
		case <-ctx.Done():
			d.logger.DLogf("stopped after %d polls", d.Attempts())
			return ctx.Err()
		case <-ticker.C:
			attempt := int(atomic.AddInt64(&d.attempts, 1))
			hostname, err := d.Scan()
			if hostname != "" {
				d.publish(hostname, SourceDiscovered)
				return nil
			}
			if err != nil {
				d.logger.DLogf("poll %d/%d: %s", attempt, d.config.MaxRetries, err)
			} else {
				d.logger.DLogf("poll %d/%d: no hostname yet", attempt, d.config.MaxRetries)
			}
			if attempt >= d.config.MaxRetries {
				d.logger.DLogf("giving up on %s", d.config.ArtifactPath)
				d.publish(d.config.Fallback, SourceFallback)
				return nil
			}
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if hostname, _ := d.Scan(); hostname != "" {
				d.publish(hostname, SourceDiscovered)
				return nil
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			d.logger.WLogf("watch error: %s", err)
		}
	}
}

// watch subscribes to the directory holding the log file, since the file
// itself may not exist yet
func (d *Discoverer) watch() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(d.config.ArtifactPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	d.logger.DLogf("watching %s", dir)
	return watcher, nil
}

// Scan reads the log file once and returns the first hostname it finds. A
// missing file is an error; a file with no match returns "" and nil.
func (d *Discoverer) Scan() (string, error) {
	f, err := os.Open(d.config.ArtifactPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64<<10), maxLineBytes)
	for scanner.Scan() {
		if m := d.pattern.FindSubmatch(scanner.Bytes()); m != nil && len(m[1]) > 0 {
			return string(m[1]), nil
		}
	}
	return "", scanner.Err()
}

func (d *Discoverer) publish(hostname string, source Source) {
	if !d.cell.Publish(Result{Hostname: hostname, Source: source}) {
		return
	}
	d.observer.Discovery(source)
	switch source {
	case SourceFallback:
		d.logger.WLogf("public hostname: %s (%s)", hostname, source)
	default:
		d.logger.ILogf("public hostname: %s (%s)", hostname, source)
	}
}
