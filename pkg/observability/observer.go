package observability

import (
	"sync"
	"sync/atomic"

	"github.com/sammck-go/portmux/pkg/sniff"
)

// DiscoverySource says how the public hostname was resolved.
type DiscoverySource string

const (
	// DiscoverySourceFixed is a hostname taken from configuration
	DiscoverySourceFixed DiscoverySource = "fixed"
	// DiscoverySourceDiscovered is a hostname found by polling the tunnel log
	DiscoverySourceDiscovered DiscoverySource = "discovered"
	// DiscoverySourceFallback is the sentinel used after polling gave up
	DiscoverySourceFallback DiscoverySource = "fallback"
)

// Observer receives port-mux metric events.
type Observer interface {
	ConnAccepted()
	Classified(v sniff.Verdict)
	ConnClosed()
	RelayClosed(sent int64, received int64)
	BackendDialFailed()
	Keepalive(ok bool)
	Discovery(source DiscoverySource)
}

type noopObserver struct{}

func (noopObserver) ConnAccepted()             {}
func (noopObserver) Classified(sniff.Verdict)  {}
func (noopObserver) ConnClosed()               {}
func (noopObserver) RelayClosed(int64, int64)  {}
func (noopObserver) BackendDialFailed()        {}
func (noopObserver) Keepalive(bool)            {}
func (noopObserver) Discovery(DiscoverySource) {}

// NoopObserver is a zero-cost observer used when metrics are disabled.
var NoopObserver Observer = noopObserver{}

// AtomicObserver swaps its delegate at runtime.
type AtomicObserver struct {
	once sync.Once
	v    atomic.Value
}

type observerHolder struct {
	obs Observer
}

// NewAtomicObserver returns an initialized atomic observer.
func NewAtomicObserver() *AtomicObserver {
	a := &AtomicObserver{}
	a.once.Do(func() { a.v.Store(&observerHolder{obs: NoopObserver}) })
	return a
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicObserver) Set(obs Observer) {
	if obs == nil {
		obs = NoopObserver
	}
	a.once.Do(func() { a.v.Store(&observerHolder{obs: NoopObserver}) })
	a.v.Store(&observerHolder{obs: obs})
}

func (a *AtomicObserver) load() Observer {
	a.once.Do(func() { a.v.Store(&observerHolder{obs: NoopObserver}) })
	return a.v.Load().(*observerHolder).obs
}

func (a *AtomicObserver) ConnAccepted()              { a.load().ConnAccepted() }
func (a *AtomicObserver) Classified(v sniff.Verdict) { a.load().Classified(v) }
func (a *AtomicObserver) ConnClosed()                { a.load().ConnClosed() }
func (a *AtomicObserver) RelayClosed(sent int64, received int64) {
	a.load().RelayClosed(sent, received)
}
func (a *AtomicObserver) BackendDialFailed()               { a.load().BackendDialFailed() }
func (a *AtomicObserver) Keepalive(ok bool)                { a.load().Keepalive(ok) }
func (a *AtomicObserver) Discovery(source DiscoverySource) { a.load().Discovery(source) }
