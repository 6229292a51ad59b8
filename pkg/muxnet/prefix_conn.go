package muxnet

import (
	"bytes"
	"net"
	"sync"

	"github.com/sammck-go/portmux/pkg/sniff"
)

// PrefixConn is a public connection together with the bytes consumed from it
// before classification. Until dispatch it is owned by the accepting goroutine;
// afterwards it is owned by exactly one handler, so no locking is needed on the
// prefix.
type PrefixConn struct {
	net.Conn

	prefix bytes.Buffer
	// replayed is the number of prefix bytes already handed back out through Read
	// or DrainPrefix
	replayed int
	verdict  sniff.Verdict

	closeOnce sync.Once
	closeErr  error
	onClose   func()
}

// NewPrefixConn wraps conn. onClose, if not nil, is called exactly once after
// the first Close.
func NewPrefixConn(conn net.Conn, onClose func()) *PrefixConn {
	return &PrefixConn{
		Conn:    conn,
		onClose: onClose,
	}
}

// fill performs one read from the socket into buf and appends whatever arrived
// to the prefix. It returns the number of bytes appended.
func (c *PrefixConn) fill(buf []byte) (int, error) {
	n, err := c.Conn.Read(buf)
	if n > 0 {
		c.prefix.Write(buf[:n])
	}
	return n, err
}

// Prefix returns the bytes consumed before classification. The slice aliases
// the internal buffer and must not be modified.
func (c *PrefixConn) Prefix() []byte {
	return c.prefix.Bytes()
}

// DrainPrefix returns the prefix bytes not yet handed out and marks them
// consumed, so later Reads go straight to the socket.
func (c *PrefixConn) DrainPrefix() []byte {
	rest := c.prefix.Bytes()[c.replayed:]
	c.replayed = c.prefix.Len()
	return rest
}

// Verdict returns the classification, VerdictUnclassified until SetVerdict
func (c *PrefixConn) Verdict() sniff.Verdict {
	return c.verdict
}

// SetVerdict records the classification. Only the first terminal verdict sticks.
func (c *PrefixConn) SetVerdict(v sniff.Verdict) {
	if c.verdict == sniff.VerdictUnclassified {
		c.verdict = v
	}
}

// Read replays un-consumed prefix bytes before reading from the socket, which
// lets a standard request engine take over a connection that has already been
// sniffed.
func (c *PrefixConn) Read(p []byte) (int, error) {
	if c.replayed < c.prefix.Len() {
		n := copy(p, c.prefix.Bytes()[c.replayed:])
		c.replayed += n
		return n, nil
	}
	return c.Conn.Read(p)
}

// Close closes the socket. It is safe to call more than once.
func (c *PrefixConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Conn.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
	return c.closeErr
}
