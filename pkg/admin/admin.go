// Package admin serves Prometheus metrics and a JSON status document on a
// listener separate from the public port.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sammck-go/portmux/pkg/discovery"
	"github.com/sammck-go/portmux/pkg/keepalive"
	"github.com/sammck-go/portmux/pkg/observability/prom"
	mxshare "github.com/sammck-go/portmux/share"
)

const (
	// MetricsPath serves the Prometheus exposition
	MetricsPath = "/metrics"
	// StatusPath serves the JSON status document
	StatusPath = "/status"
)

// Status is the document served at StatusPath
type Status struct {
	Listen      string                    `json:"listen"`
	Backend     string                    `json:"backend"`
	Strategy    string                    `json:"strategy"`
	Uptime      string                    `json:"uptime"`
	Hostname    *discovery.Result         `json:"hostname"`
	Keepalive   *keepalive.Status         `json:"keepalive"`
	Connections mxshare.ConnStatsSnapshot `json:"connections"`
	Relays      mxshare.ConnStatsSnapshot `json:"relays"`
}

// StatusFunc assembles a fresh Status for each request
type StatusFunc func() Status

// Server is the admin HTTP listener
type Server struct {
	*mxshare.HTTPServer
	registry *prometheus.Registry
	status   StatusFunc
}

// New creates an admin server exporting reg and the documents produced by
// status
func New(logger mxshare.Logger, reg *prometheus.Registry, status StatusFunc) *Server {
	return &Server{
		HTTPServer: mxshare.NewHTTPServer(logger),
		registry:   reg,
		status:     status,
	}
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get(MetricsPath, prom.Handler(s.registry).ServeHTTP)
	r.Get(StatusPath, func(w http.ResponseWriter, req *http.Request) {
		render.JSON(w, req, s.status())
	})
	return r
}

// Listen binds addr and serves in the background until ctx is done
func (s *Server) Listen(ctx context.Context, addr string) error {
	if err := s.HTTPServer.Listen(ctx, addr, s.Handler()); err != nil {
		return err
	}
	s.ILogf("admin listening on %s (%s, %s)", s.BoundAddr(), MetricsPath, StatusPath)
	return nil
}

// FormatUptime renders the time since start at second resolution
func FormatUptime(start time.Time) string {
	return time.Since(start).Round(time.Second).String()
}
