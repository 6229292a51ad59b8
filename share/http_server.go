package mxshare

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// HTTPServer is a net/http Server bound to a ShutdownHelper, so it stops with
// its parent context and can be a shutdown child of another component.
type HTTPServer struct {
	ShutdownHelper
	*http.Server
	listener net.Listener
}

// NewHTTPServer creates a new HTTPServer with conservative timeouts
func NewHTTPServer(logger Logger) *HTTPServer {
	h := &HTTPServer{
		Server: &http.Server{
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
	h.InitShutdownHelper(logger, h)
	return h
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
// as an advisory completion value, actually shut down, then return the real completion value.
func (h *HTTPServer) HandleOnceShutdown(completionErr error) error {
	h.DLogf("HandleOnceShutdown")
	var err error
	if h.listener != nil {
		err = h.Server.Close()
		if err != nil {
			h.DLogf("close failed, ignoring: %s", err)
		}
	}
	if completionErr == nil || errors.Is(completionErr, http.ErrServerClosed) || errors.Is(completionErr, context.Canceled) {
		completionErr = err
	}
	return completionErr
}

// Listen binds addr and starts serving handler in the background. The server
// shuts down when ctx is done.
func (h *HTTPServer) Listen(ctx context.Context, addr string, handler http.Handler) error {
	return h.DoOnceActivate(
		func() error {
			h.ShutdownOnContext(ctx)

			l, err := net.Listen("tcp", addr)
			if err != nil {
				return h.ELogErrorf("listen on %s failed: %s", addr, err)
			}
			h.Handler = handler
			h.listener = l

			go func() {
				h.StartShutdown(h.Serve(l))
			}()

			return nil
		},
		true,
	)
}

// BoundAddr returns the listening address, or nil before Listen
func (h *HTTPServer) BoundAddr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Shutdown completely shuts down the server, then returns the final completion code
func (h *HTTPServer) Shutdown(completionError error) error {
	return h.ShutdownHelper.Shutdown(completionError)
}

// Close completely shuts down the server, then returns the final completion code
func (h *HTTPServer) Close() error {
	return h.ShutdownHelper.Close()
}
