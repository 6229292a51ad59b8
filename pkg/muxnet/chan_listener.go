package muxnet

import (
	"net"
	"sync"
)

// chanListener is a net.Listener whose connections are pushed in by the
// port-mux rather than accepted from a socket. It lets a stock http.Server serve
// connections that were classified as HTTP.
type chanListener struct {
	addr net.Addr
	ch   chan net.Conn

	closeOnce sync.Once
	done      chan struct{}
}

func newChanListener(addr net.Addr) *chanListener {
	return &chanListener{
		addr: addr,
		ch:   make(chan net.Conn),
		done: make(chan struct{}),
	}
}

// push hands conn to the next Accept. It fails once the listener is closed.
func (l *chanListener) push(conn net.Conn) error {
	select {
	case l.ch <- conn:
		return nil
	case <-l.done:
		return net.ErrClosed
	}
}

// Accept implements net.Listener
func (l *chanListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.ch:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

// Close implements net.Listener
func (l *chanListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

// Addr implements net.Listener
func (l *chanListener) Addr() net.Addr {
	return l.addr
}
