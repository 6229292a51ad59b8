package admin

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sammck-go/portmux/pkg/discovery"
	"github.com/sammck-go/portmux/pkg/observability/prom"
	"github.com/sammck-go/portmux/pkg/sniff"
	mxshare "github.com/sammck-go/portmux/share"
)

func newServer(t *testing.T) *Server {
	t.Helper()
	reg := prom.NewRegistry()
	obs := prom.NewObserver(reg)
	obs.ConnAccepted()
	obs.Classified(sniff.VerdictTunnel)

	logger := mxshare.NewLoggerWithWriter(io.Discard, "admin", log.LstdFlags, mxshare.LogLevelInfo)
	return New(logger, reg, func() Status {
		return Status{
			Listen:      "127.0.0.1:8080",
			Backend:     "127.0.0.1:8081",
			Strategy:    sniff.StrategyUpgradePath,
			Hostname:    &discovery.Result{Hostname: "a.trycloudflare.com", Source: discovery.SourceDiscovered},
			Connections: mxshare.ConnStatsSnapshot{Total: 3, Open: 1},
		}
	})
}

func TestStatusDocument(t *testing.T) {
	srv := httptest.NewServer(newServer(t).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + StatusPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var doc map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	require.Equal(t, "upgrade-path", doc["strategy"])
	require.Equal(t, map[string]interface{}{"hostname": "a.trycloudflare.com", "source": "discovered"}, doc["hostname"])
	require.Nil(t, doc["keepalive"])
	require.Equal(t, map[string]interface{}{"total": float64(3), "open": float64(1)}, doc["connections"])
}

func TestMetricsExposition(t *testing.T) {
	srv := httptest.NewServer(newServer(t).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + MetricsPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "portmux_accepted_total 1")
	require.Contains(t, string(body), `portmux_classified_total{verdict="tunnel"} 1`)

	resp2, err := http.Post(srv.URL+MetricsPath, "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	resp2.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestListenStopsWithContext(t *testing.T) {
	s := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Listen(ctx, "127.0.0.1:0"))

	resp, err := http.Get("http://" + s.BoundAddr().String() + StatusPath)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case <-s.ShutdownDoneChan():
	case <-time.After(5 * time.Second):
		t.Fatal("admin server did not stop")
	}
	require.NoError(t, s.WaitShutdown())
}

func TestListenBindFailure(t *testing.T) {
	first := newServer(t)
	require.NoError(t, first.Listen(context.Background(), "127.0.0.1:0"))
	defer first.Close()

	second := newServer(t)
	err := second.Listen(context.Background(), first.BoundAddr().String())
	require.Error(t, err)
	require.Contains(t, err.Error(), "listen on")
}
