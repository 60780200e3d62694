// Package network is the guards' broadcast channel. It maps transport peers to guard indices and
// routes enveloped payloads to per-channel subscribers.
package network

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/pushchain/bridge-guard/guard/transport"
)

// Handler receives a payload published on a channel by the guard with index sender.
type Handler func(ctx context.Context, sender int, payload json.RawMessage)

// Peer describes how to reach another guard.
type Peer struct {
	Index  int
	PeerID string
	Addrs  []string
}

// Envelope is the wire format of every message exchanged between guards.
type Envelope struct {
	Channel string          `json:"channel"`
	Sender  int             `json:"sender"`
	Payload json.RawMessage `json:"payload"`
}

// Network sends and receives channel messages over a transport.
type Network struct {
	self      int
	transport transport.Transport
	logger    zerolog.Logger

	peersMu  sync.RWMutex
	byIndex  map[int]string
	byPeerID map[string]int

	subsMu sync.RWMutex
	subs   map[string][]Handler
}

// New creates a broadcast channel for the guard with index self.
func New(self int, tr transport.Transport, logger zerolog.Logger) *Network {
	return &Network{
		self:      self,
		transport: tr,
		logger:    logger.With().Str("component", "network").Int("guard_index", self).Logger(),
		byIndex:   make(map[int]string),
		byPeerID:  make(map[string]int),
		subs:      make(map[string][]Handler),
	}
}

// Start registers the inbound handler with the transport.
func (n *Network) Start() error {
	return n.transport.RegisterHandler(n.receive)
}

// AddPeer makes another guard reachable.
func (n *Network) AddPeer(p Peer) error {
	if p.Index == n.self {
		return nil
	}
	if err := n.transport.EnsurePeer(p.PeerID, p.Addrs); err != nil {
		return errors.Wrapf(err, "failed to register guard %d", p.Index)
	}
	n.peersMu.Lock()
	n.byIndex[p.Index] = p.PeerID
	n.byPeerID[p.PeerID] = p.Index
	n.peersMu.Unlock()
	return nil
}

// Subscribe registers a handler for a channel. Handlers run on the transport's delivery goroutine.
func (n *Network) Subscribe(channel string, handler Handler) {
	n.subsMu.Lock()
	n.subs[channel] = append(n.subs[channel], handler)
	n.subsMu.Unlock()
}

// Broadcast sends payload on channel to every known guard. Failures to individual peers are logged
// and do not stop delivery to the rest.
func (n *Network) Broadcast(ctx context.Context, channel string, payload any) error {
	data, err := n.encode(channel, payload)
	if err != nil {
		return err
	}

	n.peersMu.RLock()
	targets := make(map[int]string, len(n.byIndex))
	for idx, id := range n.byIndex {
		targets[idx] = id
	}
	n.peersMu.RUnlock()

	for idx, peerID := range targets {
		if err := n.transport.Send(ctx, peerID, data); err != nil {
			n.logger.Warn().Err(err).Int("target", idx).Str("channel", channel).Msg("broadcast delivery failed")
		}
	}
	return nil
}

// Send delivers payload on channel to a single guard.
func (n *Network) Send(ctx context.Context, channel string, target int, payload any) error {
	n.peersMu.RLock()
	peerID, ok := n.byIndex[target]
	n.peersMu.RUnlock()
	if !ok {
		return errors.Errorf("unknown guard %d", target)
	}

	data, err := n.encode(channel, payload)
	if err != nil {
		return err
	}
	return errors.Wrapf(n.transport.Send(ctx, peerID, data), "failed to send to guard %d", target)
}

func (n *Network) encode(channel string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode payload")
	}
	data, err := json.Marshal(Envelope{Channel: channel, Sender: n.self, Payload: raw})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode envelope")
	}
	return data, nil
}

func (n *Network) receive(ctx context.Context, sender string, data []byte) error {
	n.peersMu.RLock()
	index, known := n.byPeerID[sender]
	n.peersMu.RUnlock()
	if !known {
		n.logger.Debug().Str("peer_id", sender).Msg("dropping message from unknown peer")
		return nil
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		n.logger.Debug().Err(err).Int("sender", index).Msg("dropping malformed envelope")
		return nil
	}
	if env.Sender != index {
		n.logger.Warn().
			Int("sender", index).
			Int("claimed_sender", env.Sender).
			Msg("dropping envelope with spoofed sender")
		return nil
	}

	n.subsMu.RLock()
	handlers := append([]Handler(nil), n.subs[env.Channel]...)
	n.subsMu.RUnlock()

	for _, h := range handlers {
		h(ctx, index, env.Payload)
	}
	return nil
}
