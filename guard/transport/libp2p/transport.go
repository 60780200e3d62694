// Package libp2p implements the guard transport over libp2p streams, one length-prefixed frame per stream.
package libp2p

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"io"
	"strings"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/pushchain/bridge-guard/guard/transport"
)

// Transport implements transport.Transport on top of libp2p.
type Transport struct {
	cfg        Config
	host       host.Host
	protocolID protocol.ID

	handlerMu sync.RWMutex
	handler   transport.Handler

	peerMu sync.RWMutex
	peers  map[string]peer.AddrInfo

	logger zerolog.Logger
}

var _ transport.Transport = (*Transport)(nil)

// New creates a libp2p transport instance.
func New(cfg Config, logger zerolog.Logger) (*Transport, error) {
	cfg.setDefaults()

	priv, err := loadIdentity(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create libp2p host")
	}

	tr := &Transport{
		cfg:        cfg,
		host:       h,
		protocolID: protocol.ID(cfg.ProtocolID),
		peers:      make(map[string]peer.AddrInfo),
		logger:     logger.With().Str("component", "transport_libp2p").Logger(),
	}

	h.SetStreamHandler(tr.protocolID, tr.handleStream)
	return tr, nil
}

// ID implements transport.Transport.
func (t *Transport) ID() string {
	return t.host.ID().String()
}

// ListenAddrs implements transport.Transport.
func (t *Transport) ListenAddrs() []string {
	suffix := "/p2p/" + t.host.ID().String()
	var all, dialable []string
	for _, addr := range t.host.Addrs() {
		full := addr.String() + suffix
		all = append(all, full)
		if !isUnspecified(addr) {
			dialable = append(dialable, full)
		}
	}
	if len(dialable) == 0 {
		return all
	}
	return dialable
}

// RegisterHandler implements transport.Transport.
func (t *Transport) RegisterHandler(handler transport.Handler) error {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	if t.handler != nil {
		return errors.New("libp2p transport: handler already registered")
	}
	t.handler = handler
	return nil
}

// EnsurePeer implements transport.Transport.
func (t *Transport) EnsurePeer(peerID string, addrs []string) error {
	if peerID == "" || len(addrs) == 0 {
		return errors.New("libp2p transport: invalid peer info")
	}
	id, err := peer.Decode(peerID)
	if err != nil {
		return errors.Wrapf(err, "invalid peer id %s", peerID)
	}

	multiaddrs, err := normalizeAddrs(addrs, id)
	if err != nil {
		return err
	}

	t.peerMu.Lock()
	t.peers[peerID] = peer.AddrInfo{ID: id, Addrs: multiaddrs}
	t.peerMu.Unlock()
	return nil
}

// Send implements transport.Transport.
func (t *Transport) Send(ctx context.Context, peerID string, payload []byte) error {
	info, err := t.lookupPeer(peerID)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()

	// libp2p reuses an existing connection if there is one
	if err := t.host.Connect(dialCtx, info); err != nil {
		return errors.Wrapf(err, "failed to connect to peer %s", peerID)
	}

	stream, err := t.host.NewStream(dialCtx, info.ID, t.protocolID)
	if err != nil {
		return errors.Wrapf(err, "failed to open stream to peer %s", peerID)
	}
	defer stream.Close()

	if err := stream.SetWriteDeadline(time.Now().Add(t.cfg.IOTimeout)); err != nil {
		t.logger.Debug().Err(err).Str("peer_id", peerID).Msg("failed to set write deadline")
	}

	if err := writeFramed(stream, payload); err != nil {
		return errors.Wrapf(err, "failed to write payload to peer %s", peerID)
	}
	return nil
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	return t.host.Close()
}

func (t *Transport) lookupPeer(peerID string) (peer.AddrInfo, error) {
	t.peerMu.RLock()
	info, ok := t.peers[peerID]
	t.peerMu.RUnlock()
	if !ok {
		return peer.AddrInfo{}, errors.Errorf("libp2p transport: unknown peer %s", peerID)
	}
	return info, nil
}

func (t *Transport) handleStream(stream network.Stream) {
	defer stream.Close()

	_ = stream.SetReadDeadline(time.Now().Add(t.cfg.IOTimeout))

	payload, err := readFramed(stream, t.cfg.MaxMessageSize)
	if err != nil {
		t.logger.Warn().Err(err).Msg("libp2p read failed")
		return
	}

	t.handlerMu.RLock()
	handler := t.handler
	t.handlerMu.RUnlock()
	if handler == nil {
		return
	}

	sender := stream.Conn().RemotePeer().String()
	go func() {
		if err := handler(context.Background(), sender, payload); err != nil {
			t.logger.Warn().Err(err).Str("peer_id", sender).Msg("libp2p handler error")
		}
	}()
}

// loadIdentity derives the libp2p key from an Ed25519 seed, or generates one.
func loadIdentity(seedHex string) (crypto.PrivKey, error) {
	seedHex = strings.TrimPrefix(strings.TrimSpace(seedHex), "0x")
	if seedHex == "" {
		priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
		return priv, errors.Wrap(err, "failed to generate p2p identity")
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, errors.Wrap(err, "p2p key hex decode failed")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errors.Errorf("wrong p2p key length: got %d bytes, expected %d", len(seed), ed25519.SeedSize)
	}
	// libp2p expects the 64-byte private||public form
	priv, err := crypto.UnmarshalEd25519PrivateKey(ed25519.NewKeyFromSeed(seed))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load p2p identity")
	}
	return priv, nil
}

// PeerIDFromSeed returns the peer id a transport configured with the given seed will use.
func PeerIDFromSeed(seedHex string) (string, error) {
	if strings.TrimSpace(seedHex) == "" {
		return "", errors.New("empty p2p key")
	}
	priv, err := loadIdentity(seedHex)
	if err != nil {
		return "", err
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return "", errors.Wrap(err, "failed to derive peer id")
	}
	return id.String(), nil
}

func writeFramed(w io.Writer, payload []byte) error {
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.BigEndian, uint32(len(payload))); err != nil {
		return err
	}
	if _, err := bw.Write(payload); err != nil {
		return err
	}
	return bw.Flush()
}

func readFramed(r io.Reader, maxSize uint32) ([]byte, error) {
	br := bufio.NewReader(r)
	var length uint32
	if err := binary.Read(br, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length > maxSize {
		return nil, errors.Errorf("frame of %d bytes exceeds limit %d", length, maxSize)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func normalizeAddrs(raw []string, expected peer.ID) ([]ma.Multiaddr, error) {
	var results []ma.Multiaddr
	for _, addr := range raw {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		maddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid multiaddr %q", addr)
		}
		if _, err := maddr.ValueForProtocol(ma.P_P2P); err == nil {
			info, err := peer.AddrInfoFromP2pAddr(maddr)
			if err != nil {
				return nil, err
			}
			if info.ID != expected {
				return nil, errors.Errorf("multiaddr peer mismatch: expected %s got %s", expected, info.ID)
			}
			results = append(results, info.Addrs...)
			continue
		}
		results = append(results, maddr)
	}
	if len(results) == 0 {
		return nil, errors.New("no usable addresses provided")
	}
	return results, nil
}

func isUnspecified(addr ma.Multiaddr) bool {
	if ip, err := manet.ToIP(addr); err == nil {
		return ip.IsUnspecified()
	}
	return false
}
