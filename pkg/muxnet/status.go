package muxnet

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/jpillora/requestlog"

	mxshare "github.com/sammck-go/portmux/share"
)

const (
	// HealthPath answers liveness checks on the public port
	HealthPath = "/health"

	statusReadHeaderTimeout = 5 * time.Second
	statusReadTimeout       = 10 * time.Second
	statusWriteTimeout      = 10 * time.Second
	statusIdleTimeout       = 60 * time.Second
	statusMaxHeaderBytes    = 32 << 10
)

// StatusResponder answers plain HTTP on connections the classifier routed away
// from the backend: GET /health is 200 "OK", everything else is an empty 404.
type StatusResponder struct {
	mxshare.ShutdownHelper
	listener *chanListener
	server   *http.Server
}

// NewStatusResponder creates a responder that reports addr as its local address.
// Call Start before handing it connections.
func NewStatusResponder(logger mxshare.Logger, addr net.Addr) *StatusResponder {
	r := &StatusResponder{
		listener: newChanListener(addr),
	}
	r.InitShutdownHelper(logger, r)
	r.server = &http.Server{
		Handler:           r.handler(),
		ReadHeaderTimeout: statusReadHeaderTimeout,
		ReadTimeout:       statusReadTimeout,
		WriteTimeout:      statusWriteTimeout,
		IdleTimeout:       statusIdleTimeout,
		MaxHeaderBytes:    statusMaxHeaderBytes,
	}
	return r
}

func (r *StatusResponder) handler() http.Handler {
	router := chi.NewRouter()
	router.Use(r.flagUpgrades)
	router.HandleFunc(HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	var h http.Handler = router
	if r.GetLogLevel() >= mxshare.LogLevelDebug {
		h = requestlog.Wrap(h)
	}
	return h
}

// flagUpgrades notes websocket handshakes that reached the responder, which
// happens when a client upgrades on a path the classifier does not route.
func (r *StatusResponder) flagUpgrades(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if websocket.IsWebSocketUpgrade(req) {
			r.DLogf("websocket upgrade on unrouted path %q from %s", req.URL.Path, req.RemoteAddr)
		}
		next.ServeHTTP(w, req)
	})
}

// Start begins serving connections handed over through Serve
func (r *StatusResponder) Start() error {
	return r.DoOnceActivate(
		func() error {
			go func() {
				err := r.server.Serve(r.listener)
				if errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
					err = nil
				}
				r.StartShutdown(err)
			}()
			return nil
		},
		true,
	)
}

// Serve hands ownership of conn to the HTTP engine. Any prefix already consumed
// by the classifier is replayed through conn's Read, so the engine sees the
// request from its first byte. conn is closed on failure.
func (r *StatusResponder) Serve(conn net.Conn) error {
	if err := r.listener.push(conn); err != nil {
		conn.Close()
		return r.DLogErrorf("status responder closed: %s", err)
	}
	return nil
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
// as an advisory completion value, actually shut down, then return the real completion value.
func (r *StatusResponder) HandleOnceShutdown(completionErr error) error {
	r.TLogf("HandleOnceShutdown")
	r.listener.Close()
	err := r.server.Close()
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}
