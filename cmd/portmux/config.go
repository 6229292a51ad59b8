package main

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/sammck-go/portmux/pkg/backend"
	"github.com/sammck-go/portmux/pkg/discovery"
	"github.com/sammck-go/portmux/pkg/keepalive"
	"github.com/sammck-go/portmux/pkg/muxnet"
	"github.com/sammck-go/portmux/pkg/sharelink"
	"github.com/sammck-go/portmux/pkg/sniff"
	mxshare "github.com/sammck-go/portmux/share"
)

const (
	defaultPort     = 8080
	defaultFilePath = "world"
	defaultUUID     = "96ce5271-7a3b-455b-adb3-69772d34d34e"
	defaultCFIP     = "www.visa.com.tw"
	defaultCFPort   = 443
	defaultName     = "app.koyeb.com"

	bootLogName  = "boot.log"
	linkFileName = "link.txt"
	// disabled turns off an optional file output
	disabled = "-"
)

// options is the flattened command line. Every flag defaults to an
// environment variable so the binary can run unchanged in container
// platforms that only offer env configuration.
type options struct {
	Port        int
	BackendPort int
	ListenHost  string
	BackendHost string

	SniffMode    string
	UpgradePath  string
	SniffTimeout time.Duration
	DialTimeout  time.Duration

	Domain            string
	FilePath          string
	BootLog           string
	DiscoveryInterval time.Duration
	DiscoveryRetries  int
	Fallback          string
	Scheme            string
	Watch             bool

	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration

	BackendWaitAttempts int

	UUID     string
	CFIP     string
	CFPort   int
	Name     string
	LinkFile string

	MetricsListen string

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

// optionsFromEnv returns options populated from the environment, or the
// built-in defaults for unset variables
func optionsFromEnv() (*options, error) {
	o := &options{
		ListenHost:  mxshare.EnvString("", "PORTMUX_LISTEN_HOST"),
		BackendHost: mxshare.EnvString("127.0.0.1", "PORTMUX_BACKEND_HOST"),
		SniffMode:   mxshare.EnvString(sniff.StrategyUpgradePath, "PORTMUX_SNIFF_MODE"),
		UpgradePath: mxshare.EnvString(sniff.DefaultUpgradePath, "PORTMUX_UPGRADE_PATH"),
		Domain:      mxshare.EnvString("", "ARGO_DOMAIN", "PORTMUX_DOMAIN"),
		FilePath:    mxshare.EnvString(defaultFilePath, "FILE_PATH"),
		BootLog:     mxshare.EnvString("", "PORTMUX_BOOT_LOG"),
		Fallback:    mxshare.EnvString(discovery.DefaultFallback, "PORTMUX_FALLBACK_HOSTNAME"),
		Scheme:      mxshare.EnvString(discovery.DefaultScheme, "PORTMUX_PUBLIC_SCHEME"),
		UUID:        mxshare.EnvString(defaultUUID, "UUID"),
		CFIP:        mxshare.EnvString(defaultCFIP, "CFIP"),
		Name:        mxshare.EnvString(defaultName, "NAME"),
		LinkFile:    mxshare.EnvString("", "PORTMUX_LINK_FILE"),

		MetricsListen: mxshare.EnvString("", "PORTMUX_METRICS_LISTEN"),
		LogLevel:      mxshare.EnvString("info", "PORTMUX_LOG_LEVEL"),
		LogFile:       mxshare.EnvString("", "PORTMUX_LOG_FILE"),
	}

	var err error
	ints := []struct {
		dst      *int
		fallback int
		keys     []string
	}{
		{&o.Port, defaultPort, []string{"ARGO_PORT", "PORTMUX_PORT"}},
		{&o.BackendPort, 0, []string{"PORTMUX_BACKEND_PORT"}},
		{&o.DiscoveryRetries, discovery.DefaultMaxRetries, []string{"PORTMUX_DISCOVERY_RETRIES"}},
		{&o.BackendWaitAttempts, backend.DefaultMaxAttempts, []string{"PORTMUX_BACKEND_WAIT_ATTEMPTS"}},
		{&o.CFPort, defaultCFPort, []string{"CFPORT"}},
		{&o.LogMaxSizeMB, 10, []string{"PORTMUX_LOG_MAX_SIZE_MB"}},
		{&o.LogMaxBackups, 3, []string{"PORTMUX_LOG_MAX_BACKUPS"}},
		{&o.LogMaxAgeDays, 7, []string{"PORTMUX_LOG_MAX_AGE_DAYS"}},
	}
	for _, v := range ints {
		if *v.dst, err = mxshare.EnvInt(v.fallback, v.keys...); err != nil {
			return nil, fmt.Errorf("%s: %w", v.keys[0], err)
		}
	}

	durations := []struct {
		dst      *time.Duration
		fallback time.Duration
		key      string
	}{
		{&o.SniffTimeout, 0, "PORTMUX_SNIFF_TIMEOUT"},
		{&o.DialTimeout, muxnet.DefaultDialTimeout, "PORTMUX_DIAL_TIMEOUT"},
		{&o.DiscoveryInterval, discovery.DefaultInterval, "PORTMUX_DISCOVERY_INTERVAL"},
		{&o.KeepaliveInterval, keepalive.DefaultInterval, "PORTMUX_KEEPALIVE_INTERVAL"},
		{&o.KeepaliveTimeout, keepalive.DefaultTimeout, "PORTMUX_KEEPALIVE_TIMEOUT"},
	}
	for _, v := range durations {
		if *v.dst, err = mxshare.EnvDuration(v.fallback, v.key); err != nil {
			return nil, fmt.Errorf("%s: %w", v.key, err)
		}
	}

	if o.Watch, err = mxshare.EnvBool(true, "PORTMUX_WATCH"); err != nil {
		return nil, fmt.Errorf("PORTMUX_WATCH: %w", err)
	}
	if o.LogCompress, err = mxshare.EnvBool(false, "PORTMUX_LOG_COMPRESS"); err != nil {
		return nil, fmt.Errorf("PORTMUX_LOG_COMPRESS: %w", err)
	}
	return o, nil
}

// bindFlags registers a flag for every option, defaulting to its current value
func (o *options) bindFlags(flags *pflag.FlagSet) {
	flags.IntVarP(&o.Port, "port", "p", o.Port, "public listen port (env ARGO_PORT)")
	flags.IntVar(&o.BackendPort, "backend-port", o.BackendPort, "loopback backend port; 0 means port+1 (env PORTMUX_BACKEND_PORT)")
	flags.StringVar(&o.ListenHost, "listen-host", o.ListenHost, "public listen host; empty means all interfaces")
	flags.StringVar(&o.BackendHost, "backend-host", o.BackendHost, "backend host")

	flags.StringVar(&o.SniffMode, "sniff-mode", o.SniffMode, "classifier: upgrade-path or http-marker")
	flags.StringVar(&o.UpgradePath, "upgrade-path", o.UpgradePath, "websocket path routed to the backend")
	flags.DurationVar(&o.SniffTimeout, "sniff-timeout", o.SniffTimeout, "close connections silent for this long; 0 waits forever")
	flags.DurationVar(&o.DialTimeout, "dial-timeout", o.DialTimeout, "backend connect timeout")

	flags.StringVarP(&o.Domain, "domain", "d", o.Domain, "fixed public hostname; disables log polling and keepalive (env ARGO_DOMAIN)")
	flags.StringVar(&o.FilePath, "file-path", o.FilePath, "working directory of the tunnel daemon (env FILE_PATH)")
	flags.StringVar(&o.BootLog, "boot-log", o.BootLog, "tunnel daemon log to scan; default <file-path>/boot.log")
	flags.DurationVar(&o.DiscoveryInterval, "discovery-interval", o.DiscoveryInterval, "time between log scans")
	flags.IntVar(&o.DiscoveryRetries, "discovery-retries", o.DiscoveryRetries, "failed scans before using the fallback hostname")
	flags.StringVar(&o.Fallback, "fallback-hostname", o.Fallback, "hostname used when discovery gives up")
	flags.StringVar(&o.Scheme, "public-scheme", o.Scheme, "scheme the public hostname is reached on, used by keepalive")
	flags.BoolVar(&o.Watch, "watch", o.Watch, "also scan the log whenever it is written")

	flags.DurationVar(&o.KeepaliveInterval, "keepalive-interval", o.KeepaliveInterval, "time between keepalive probes")
	flags.DurationVar(&o.KeepaliveTimeout, "keepalive-timeout", o.KeepaliveTimeout, "keepalive probe timeout")

	flags.IntVar(&o.BackendWaitAttempts, "backend-wait-attempts", o.BackendWaitAttempts, "backend readiness dials at startup")

	flags.StringVar(&o.UUID, "uuid", o.UUID, "client id in the share link (env UUID)")
	flags.StringVar(&o.CFIP, "cf-ip", o.CFIP, "edge address in the share link (env CFIP)")
	flags.IntVar(&o.CFPort, "cf-port", o.CFPort, "edge port in the share link (env CFPORT)")
	flags.StringVar(&o.Name, "name", o.Name, "label in the share link (env NAME)")
	flags.StringVar(&o.LinkFile, "link-file", o.LinkFile, "share link output; default <file-path>/link.txt, - disables")

	flags.StringVar(&o.MetricsListen, "metrics-listen", o.MetricsListen, "admin listen address for /metrics and /status; empty disables")

	flags.StringVar(&o.LogLevel, "log-level", o.LogLevel, "panic, fatal, error, warning, info, debug or trace")
	flags.StringVar(&o.LogFile, "log-file", o.LogFile, "rotating log file; empty logs to stderr")
	flags.IntVar(&o.LogMaxSizeMB, "log-max-size", o.LogMaxSizeMB, "log file size in MB before rotation")
	flags.IntVar(&o.LogMaxBackups, "log-max-backups", o.LogMaxBackups, "rotated log files to keep")
	flags.IntVar(&o.LogMaxAgeDays, "log-max-age", o.LogMaxAgeDays, "days to keep rotated log files")
	flags.BoolVar(&o.LogCompress, "log-compress", o.LogCompress, "gzip rotated log files")
}

// Validate checks ranges and fills in derived defaults
func (o *options) Validate() error {
	if o.Port < 0 || o.Port > 65535 {
		return fmt.Errorf("port %d out of range", o.Port)
	}
	if o.BackendPort == 0 {
		if o.Port == 0 {
			return fmt.Errorf("backend port is required when the public port is 0")
		}
		o.BackendPort = o.Port + 1
	}
	if o.BackendPort < 1 || o.BackendPort > 65535 {
		return fmt.Errorf("backend port %d out of range", o.BackendPort)
	}
	if o.BackendPort == o.Port {
		return fmt.Errorf("backend port must differ from the public port")
	}
	if _, err := sniff.ParseStrategy(o.SniffMode, o.UpgradePath); err != nil {
		return err
	}
	if o.SniffTimeout < 0 {
		return fmt.Errorf("sniff timeout must not be negative")
	}
	if o.Scheme != "" && o.Scheme != "http" && o.Scheme != "https" {
		return fmt.Errorf("public scheme must be http or https, not %q", o.Scheme)
	}
	if mxshare.StringToLogLevel(o.LogLevel) == mxshare.LogLevelUnknown {
		return fmt.Errorf("unknown log level %q", o.LogLevel)
	}
	if o.BootLog == "" {
		o.BootLog = filepath.Join(o.FilePath, bootLogName)
	}
	if o.LinkFile == "" {
		o.LinkFile = filepath.Join(o.FilePath, linkFileName)
	}
	return nil
}

func (o *options) listenAddr() string {
	return net.JoinHostPort(o.ListenHost, strconv.Itoa(o.Port))
}

func (o *options) backendAddr() string {
	return net.JoinHostPort(o.BackendHost, strconv.Itoa(o.BackendPort))
}

func (o *options) muxConfig() (muxnet.Config, error) {
	strategy, err := sniff.ParseStrategy(o.SniffMode, o.UpgradePath)
	if err != nil {
		return muxnet.Config{}, err
	}
	return muxnet.Config{
		ListenAddr:   o.listenAddr(),
		BackendAddr:  o.backendAddr(),
		Strategy:     strategy,
		SniffTimeout: o.SniffTimeout,
		DialTimeout:  o.DialTimeout,
	}, nil
}

func (o *options) discoveryConfig() discovery.Config {
	c := discovery.DefaultConfig(o.BootLog)
	c.FixedHostname = o.Domain
	c.Interval = o.DiscoveryInterval
	c.MaxRetries = o.DiscoveryRetries
	c.Fallback = o.Fallback
	c.Scheme = o.Scheme
	c.Watch = o.Watch
	return c
}

func (o *options) keepaliveConfig(scheme string, result discovery.Result) keepalive.Config {
	return keepalive.Config{
		Scheme:   scheme,
		Hostname: result.Hostname,
		Interval: o.KeepaliveInterval,
		Timeout:  o.KeepaliveTimeout,
	}
}

func (o *options) linkParams(result discovery.Result) sharelink.Params {
	return sharelink.Params{
		Name:        o.Name,
		Address:     o.CFIP,
		Port:        o.CFPort,
		ID:          o.UUID,
		Hostname:    result.Hostname,
		UpgradePath: o.UpgradePath,
	}
}

func (o *options) logFileConfig() mxshare.LogFileConfig {
	return mxshare.LogFileConfig{
		Filename:   o.LogFile,
		MaxSizeMB:  o.LogMaxSizeMB,
		MaxBackups: o.LogMaxBackups,
		MaxAgeDays: o.LogMaxAgeDays,
		Compress:   o.LogCompress,
	}
}
