// Package sniff decides, from the first bytes of a fresh connection, whether the
// connection carries a plain HTTP request or upgraded tunnel traffic. Every
// strategy is a pure function of the bytes seen so far.
package sniff

import (
	"bytes"
	"fmt"
	"strings"
)

// Verdict is the one-time routing decision for a connection
type Verdict int

const (
	// VerdictUnclassified means no bytes have been classified yet
	VerdictUnclassified Verdict = iota

	// VerdictHTTP routes the connection to the status responder
	VerdictHTTP

	// VerdictTunnel routes the connection to the backend relay
	VerdictTunnel
)

func (v Verdict) String() string {
	switch v {
	case VerdictHTTP:
		return "http"
	case VerdictTunnel:
		return "tunnel"
	default:
		return "unclassified"
	}
}

// Strategy classifies a connection prefix. Implementations must not retain or
// modify prefix.
type Strategy interface {
	Name() string
	Classify(prefix []byte) Verdict
}

const (
	// StrategyUpgradePath is the name of the UpgradePath strategy
	StrategyUpgradePath = "upgrade-path"

	// StrategyHTTPMarker is the name of the HTTPMarker strategy
	StrategyHTTPMarker = "http-marker"

	// DefaultUpgradePath is the path the backend accepts upgraded traffic on
	DefaultUpgradePath = "/king"
)

var (
	markerHTTP11  = []byte("HTTP/1.1")
	markerGet     = []byte("GET ")
	markerPost    = []byte("POST ")
	markerUpgrade = []byte("Upgrade: websocket")
)

// HTTPMarker treats anything that mentions an HTTP/1.1 version token or a GET/POST
// request-line marker anywhere in the prefix as HTTP, and everything else as
// tunnel traffic. A WebSocket handshake is itself HTTP/1.1, so this strategy only
// suits backends that speak a non-HTTP framing on the public port.
type HTTPMarker struct{}

// Name implements Strategy
func (HTTPMarker) Name() string { return StrategyHTTPMarker }

// Classify implements Strategy
func (HTTPMarker) Classify(prefix []byte) Verdict {
	if len(prefix) == 0 {
		return VerdictUnclassified
	}
	if bytes.Contains(prefix, markerHTTP11) ||
		bytes.Contains(prefix, markerGet) ||
		bytes.Contains(prefix, markerPost) {
		return VerdictHTTP
	}
	return VerdictTunnel
}

// UpgradePath routes a connection to the tunnel only when the prefix carries both
// a WebSocket upgrade header and the configured path. Everything else, including
// well-formed HTTP lacking that exact combination, is HTTP.
type UpgradePath struct {
	Path string
}

// Name implements Strategy
func (UpgradePath) Name() string { return StrategyUpgradePath }

// Classify implements Strategy
func (s UpgradePath) Classify(prefix []byte) Verdict {
	if len(prefix) == 0 {
		return VerdictUnclassified
	}
	if bytes.Contains(prefix, markerUpgrade) && bytes.Contains(prefix, []byte(s.Path)) {
		return VerdictTunnel
	}
	return VerdictHTTP
}

// ParseStrategy returns the strategy registered under name. An empty name selects
// UpgradePath. path is only used by UpgradePath and defaults to DefaultUpgradePath.
func ParseStrategy(name string, path string) (Strategy, error) {
	if path == "" {
		path = DefaultUpgradePath
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", StrategyUpgradePath:
		return UpgradePath{Path: path}, nil
	case StrategyHTTPMarker:
		return HTTPMarker{}, nil
	}
	return nil, fmt.Errorf("unknown sniff strategy %q (want %q or %q)", name, StrategyUpgradePath, StrategyHTTPMarker)
}
