package config

import "time"

type Config struct {
	// Log Config
	LogLevel   int    `json:"log_level" mapstructure:"log_level"`     // e.g., 0 = debug, 1 = info, etc.
	LogFormat  string `json:"log_format" mapstructure:"log_format"`   // "json" or "console"
	LogSampler bool   `json:"log_sampler" mapstructure:"log_sampler"` // if true, samples logs (e.g., 1 in 5)

	// Node Config
	NodeHome string `json:"node_home" mapstructure:"node_home"` // Node home directory (default: ~/.guard)

	// Guard set. The position of an entry in Guards is the guard's index.
	GuardIndex       int         `json:"guard_index" mapstructure:"guard_index"`
	PrivateKeyHex    string      `json:"private_key_hex" mapstructure:"private_key_hex"` // secp256k1 key signing agreement messages
	Guards           []GuardPeer `json:"guards" mapstructure:"guards"`
	MinimumAgreement int         `json:"minimum_agreement" mapstructure:"minimum_agreement"` // default: floor(2N/3)+1

	// Turn and agreement timing
	TurnDurationSeconds   int `json:"turn_duration_seconds" mapstructure:"turn_duration_seconds"`     // default: 180
	ResendIntervalSeconds int `json:"resend_interval_seconds" mapstructure:"resend_interval_seconds"` // default: 15

	// Processing
	SignTimeoutSeconds   int `json:"sign_timeout_seconds" mapstructure:"sign_timeout_seconds"`     // default: 300
	EventTimeoutSeconds  int `json:"event_timeout_seconds" mapstructure:"event_timeout_seconds"`   // default: 86400
	OrderTimeoutSeconds  int `json:"order_timeout_seconds" mapstructure:"order_timeout_seconds"`   // default: 86400
	UnexpectedFailsLimit int `json:"unexpected_fails_limit" mapstructure:"unexpected_fails_limit"` // default: 3

	// Loop intervals
	ScanIntervalSeconds         int `json:"scan_interval_seconds" mapstructure:"scan_interval_seconds"`                   // default: 30
	EventProcessIntervalSeconds int `json:"event_process_interval_seconds" mapstructure:"event_process_interval_seconds"` // default: 60
	OrderProcessIntervalSeconds int `json:"order_process_interval_seconds" mapstructure:"order_process_interval_seconds"` // default: 60
	TxProcessIntervalSeconds    int `json:"tx_process_interval_seconds" mapstructure:"tx_process_interval_seconds"`       // default: 30
	TimeoutCheckIntervalSeconds int `json:"timeout_check_interval_seconds" mapstructure:"timeout_check_interval_seconds"` // default: 3600
	RequeueIntervalSeconds      int `json:"requeue_interval_seconds" mapstructure:"requeue_interval_seconds"`             // default: 600

	// Transaction cleanup
	TransactionCleanupIntervalSeconds int `json:"transaction_cleanup_interval_seconds" mapstructure:"transaction_cleanup_interval_seconds"` // default: 3600
	TransactionRetentionPeriodSeconds int `json:"transaction_retention_period_seconds" mapstructure:"transaction_retention_period_seconds"` // default: 604800

	// Query Server Config
	QueryServerPort int `json:"query_server_port" mapstructure:"query_server_port"` // Port for HTTP query server (default: 8080)

	// P2P configuration
	P2PPrivateKeyHex string `json:"p2p_private_key_hex" mapstructure:"p2p_private_key_hex"` // Ed25519 seed in hex for libp2p identity
	P2PListen        string `json:"p2p_listen" mapstructure:"p2p_listen"`                   // libp2p listen address (default: /ip4/0.0.0.0/tcp/39000)

	// Per-chain configuration keyed by network name
	ChainConfigs map[string]ChainSpecificConfig `json:"chain_configs" mapstructure:"chain_configs"`

	Notification NotificationConfig `json:"notification" mapstructure:"notification"`
}

// GuardPeer describes one member of the guard set.
type GuardPeer struct {
	PublicKey string   `json:"public_key" mapstructure:"public_key"` // compressed or uncompressed secp256k1 key, hex
	PeerID    string   `json:"peer_id" mapstructure:"peer_id"`       // libp2p peer id
	Addrs     []string `json:"addrs" mapstructure:"addrs"`           // libp2p multiaddrs
}

// ChainSpecificConfig holds all chain-specific configuration in one place
type ChainSpecificConfig struct {
	// Confirmations a source lock needs before its event is stored
	EventConfirmations uint64 `json:"event_confirmations" mapstructure:"event_confirmations"`
}

// NotificationConfig selects the sinks operator notifications go to. The log sink is always on.
type NotificationConfig struct {
	GuardName       string `json:"guard_name" mapstructure:"guard_name"`
	SlackWebhookURL string `json:"slack_webhook_url,omitempty" mapstructure:"slack_webhook_url"`
	WebhookURL      string `json:"webhook_url,omitempty" mapstructure:"webhook_url"`
	CooldownSeconds int    `json:"cooldown_seconds" mapstructure:"cooldown_seconds"` // default: 300
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// GuardCount returns the size of the guard set.
func (c *Config) GuardCount() int { return len(c.Guards) }

func (c *Config) TurnDuration() time.Duration   { return seconds(c.TurnDurationSeconds) }
func (c *Config) ResendInterval() time.Duration { return seconds(c.ResendIntervalSeconds) }
func (c *Config) SignTimeout() time.Duration    { return seconds(c.SignTimeoutSeconds) }
func (c *Config) EventTimeout() time.Duration   { return seconds(c.EventTimeoutSeconds) }
func (c *Config) OrderTimeout() time.Duration   { return seconds(c.OrderTimeoutSeconds) }

// EventConfirmations returns the configured confirmations per network.
func (c *Config) EventConfirmations() map[string]uint64 {
	out := make(map[string]uint64, len(c.ChainConfigs))
	for network, chainCfg := range c.ChainConfigs {
		out[network] = chainCfg.EventConfirmations
	}
	return out
}
