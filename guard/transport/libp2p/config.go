package libp2p

import "time"

// Config controls the libp2p transport behaviour.
type Config struct {
	// ListenAddrs is the list of multiaddrs to bind to. Defaults to /ip4/0.0.0.0/tcp/0.
	ListenAddrs []string
	// ProtocolID is the stream protocol identifier. Defaults to /bridge-guard/1.0.0.
	ProtocolID string
	// PrivateKeyHex optionally holds a 32-byte Ed25519 seed, hex encoded.
	// If empty, a fresh identity is generated on every start.
	PrivateKeyHex string
	// DialTimeout bounds outbound dial operations.
	DialTimeout time.Duration
	// IOTimeout bounds stream read/write operations.
	IOTimeout time.Duration
	// MaxMessageSize caps the length of an inbound frame.
	MaxMessageSize uint32
}

func (c *Config) setDefaults() {
	if len(c.ListenAddrs) == 0 {
		c.ListenAddrs = []string{"/ip4/0.0.0.0/tcp/0"}
	}
	if c.ProtocolID == "" {
		c.ProtocolID = "/bridge-guard/1.0.0"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.IOTimeout == 0 {
		c.IOTimeout = 15 * time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 4 << 20
	}
}
