package backend

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	mxshare "github.com/sammck-go/portmux/share"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newLogger() (mxshare.Logger, *syncBuffer) {
	out := &syncBuffer{}
	return mxshare.NewLoggerWithWriter(out, "backend", 0, mxshare.LogLevelDebug), out
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestReadyOnFirstAttempt(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	logger, out := newLogger()
	n, err := WaitReady(context.Background(), logger, ReadyConfig{Addr: l.Addr().String()})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Contains(t, out.String(), "ready (attempt 1")
}

func TestReadyAfterBackendStartsLate(t *testing.T) {
	addr := freeAddr(t)
	go func() {
		time.Sleep(250 * time.Millisecond)
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return
		}
		t.Cleanup(func() { l.Close() })
		c, err := l.Accept()
		if err == nil {
			c.Close()
		}
	}()

	logger, _ := newLogger()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n, err := WaitReady(ctx, logger, ReadyConfig{Addr: addr, MaxAttempts: 20})
	require.NoError(t, err)
	require.Greater(t, n, 1)
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	logger, out := newLogger()
	n, err := WaitReady(context.Background(), logger, ReadyConfig{Addr: freeAddr(t), MaxAttempts: 3})
	require.Error(t, err)
	require.Equal(t, 3, n)
	require.Contains(t, out.String(), "not ready after 3 attempts")
}

func TestStopsOnCancel(t *testing.T) {
	logger, _ := newLogger()
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err := WaitReady(ctx, logger, ReadyConfig{Addr: freeAddr(t), MaxAttempts: 1000})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
