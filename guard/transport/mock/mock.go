// Package mock is an in-memory transport that links several guard nodes inside one process.
package mock

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/pushchain/bridge-guard/guard/transport"
)

// Filter decides whether a payload from one peer to another is delivered.
type Filter func(from, to string, payload []byte) bool

// Transport is a simple in-memory implementation used by tests and local demos.
type Transport struct {
	id        string
	handler   transport.Handler
	handlerMu sync.RWMutex

	peersMu sync.RWMutex
	peers   map[string]*Transport

	filterMu sync.RWMutex
	filter   Filter

	inflight sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)

// New creates a mock transport with the given ID.
func New(id string) *Transport {
	return &Transport{
		id:    id,
		peers: make(map[string]*Transport),
	}
}

// Link connects two mock transports so they can exchange messages.
func Link(a, b *Transport) {
	a.peersMu.Lock()
	a.peers[b.id] = b
	a.peersMu.Unlock()

	b.peersMu.Lock()
	b.peers[a.id] = a
	b.peersMu.Unlock()
}

// LinkAll connects every pair of the given transports.
func LinkAll(ts ...*Transport) {
	for i := range ts {
		for j := i + 1; j < len(ts); j++ {
			Link(ts[i], ts[j])
		}
	}
}

// SetFilter installs a delivery filter on outbound payloads. Payloads the filter rejects are
// silently dropped, which simulates message loss. A nil filter delivers everything.
func (t *Transport) SetFilter(f Filter) {
	t.filterMu.Lock()
	t.filter = f
	t.filterMu.Unlock()
}

// Wait blocks until every payload this transport sent has been handled by its receiver.
func (t *Transport) Wait() {
	t.inflight.Wait()
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) ListenAddrs() []string { return []string{"mock://" + t.id} }

func (t *Transport) RegisterHandler(handler transport.Handler) error {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	if t.handler != nil {
		return errors.New("mock transport: handler already registered")
	}
	t.handler = handler
	return nil
}

func (t *Transport) EnsurePeer(peerID string, _ []string) error {
	t.peersMu.RLock()
	defer t.peersMu.RUnlock()
	if _, ok := t.peers[peerID]; !ok {
		return errors.Errorf("mock transport: unknown peer %s", peerID)
	}
	return nil
}

func (t *Transport) Send(ctx context.Context, peerID string, payload []byte) error {
	t.peersMu.RLock()
	target, ok := t.peers[peerID]
	t.peersMu.RUnlock()
	if !ok {
		return errors.Errorf("mock transport: peer %s not linked", peerID)
	}

	t.filterMu.RLock()
	filter := t.filter
	t.filterMu.RUnlock()
	if filter != nil && !filter(t.id, peerID, payload) {
		return nil
	}

	target.handlerMu.RLock()
	handler := target.handler
	target.handlerMu.RUnlock()
	if handler == nil {
		return errors.Errorf("mock transport: peer %s missing handler", peerID)
	}

	data := append([]byte(nil), payload...)
	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		_ = handler(context.WithoutCancel(ctx), t.id, data)
	}()
	return nil
}

func (t *Transport) Close() error {
	return nil
}
