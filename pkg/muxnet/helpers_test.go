package muxnet

import (
	"log"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prep/socketpair"
	"github.com/stretchr/testify/require"

	"github.com/sammck-go/portmux/pkg/observability"
	"github.com/sammck-go/portmux/pkg/sniff"
	mxshare "github.com/sammck-go/portmux/share"
)

// testLogWriter forwards log output to t.Log until the test completes; goroutines
// that outlive the test are silenced.
type testLogWriter struct {
	t    *testing.T
	mu   sync.Mutex
	done bool
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.done {
		w.t.Log(string(p))
	}
	return len(p), nil
}

func newTestLogger(t *testing.T) mxshare.Logger {
	w := &testLogWriter{t: t}
	t.Cleanup(func() {
		w.mu.Lock()
		w.done = true
		w.mu.Unlock()
	})
	return mxshare.NewLoggerWithWriter(w, t.Name(), log.Lmicroseconds, mxshare.LogLevelDebug)
}

func newSocketPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b, err := socketpair.New("unix")
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

// recordingObserver counts the events the tests care about
type recordingObserver struct {
	accepted    int64
	closed      int64
	dialFailed  int64
	relayClosed int64

	mu         sync.Mutex
	classified []sniff.Verdict
}

var _ observability.Observer = (*recordingObserver)(nil)

func (o *recordingObserver) ConnAccepted()      { atomic.AddInt64(&o.accepted, 1) }
func (o *recordingObserver) ConnClosed()        { atomic.AddInt64(&o.closed, 1) }
func (o *recordingObserver) BackendDialFailed() { atomic.AddInt64(&o.dialFailed, 1) }
func (o *recordingObserver) RelayClosed(int64, int64) {
	atomic.AddInt64(&o.relayClosed, 1)
}
func (o *recordingObserver) Keepalive(bool)                          {}
func (o *recordingObserver) Discovery(observability.DiscoverySource) {}

func (o *recordingObserver) Classified(v sniff.Verdict) {
	o.mu.Lock()
	o.classified = append(o.classified, v)
	o.mu.Unlock()
}

func (o *recordingObserver) verdicts() []sniff.Verdict {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]sniff.Verdict(nil), o.classified...)
}
