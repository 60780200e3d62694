package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/pushchain/bridge-guard/guard/constant"
	"github.com/pushchain/bridge-guard/guard/turn"
)

const (
	configSubdir   = constant.ConfigSubdir
	configFileName = constant.ConfigFileName

	// EnvPrefix prefixes environment overrides, e.g. GUARD_LOG_LEVEL or GUARD_PRIVATE_KEY_HEX.
	EnvPrefix = "GUARD"
)

//go:embed default_config.json
var defaultConfigJSON []byte

func validateConfig(cfg *Config) error {
	// Validate log level
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		return fmt.Errorf("log level must be between 0 and 5")
	}

	// Validate log format
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	// Validate guard set
	n := len(cfg.Guards)
	if n == 0 {
		return fmt.Errorf("at least one guard must be configured")
	}
	if cfg.GuardIndex < 0 || cfg.GuardIndex >= n {
		return fmt.Errorf("guard index %d out of range [0, %d)", cfg.GuardIndex, n)
	}
	for i, g := range cfg.Guards {
		if g.PublicKey == "" {
			return fmt.Errorf("guard %d has no public key", i)
		}
	}
	if cfg.MinimumAgreement == 0 {
		cfg.MinimumAgreement = turn.MinimumAgreement(n)
	}
	if 2*cfg.MinimumAgreement <= n || cfg.MinimumAgreement > n {
		return fmt.Errorf("minimum agreement %d must be a strict majority of %d guards", cfg.MinimumAgreement, n)
	}

	// Set defaults for timing
	durations := []struct {
		name  string
		value *int
		def   int
	}{
		{"turn duration", &cfg.TurnDurationSeconds, 180},
		{"resend interval", &cfg.ResendIntervalSeconds, 15},
		{"sign timeout", &cfg.SignTimeoutSeconds, 300},
		{"event timeout", &cfg.EventTimeoutSeconds, 86400},
		{"order timeout", &cfg.OrderTimeoutSeconds, 86400},
		{"scan interval", &cfg.ScanIntervalSeconds, 30},
		{"event process interval", &cfg.EventProcessIntervalSeconds, 60},
		{"order process interval", &cfg.OrderProcessIntervalSeconds, 60},
		{"tx process interval", &cfg.TxProcessIntervalSeconds, 30},
		{"timeout check interval", &cfg.TimeoutCheckIntervalSeconds, 3600},
		{"requeue interval", &cfg.RequeueIntervalSeconds, 600},
		{"transaction cleanup interval", &cfg.TransactionCleanupIntervalSeconds, 3600},
		{"transaction retention period", &cfg.TransactionRetentionPeriodSeconds, 604800},
		{"notification cooldown", &cfg.Notification.CooldownSeconds, 300},
	}
	for _, d := range durations {
		if *d.value < 0 {
			return fmt.Errorf("%s must not be negative", d.name)
		}
		if *d.value == 0 {
			*d.value = d.def
		}
	}

	if cfg.UnexpectedFailsLimit == 0 {
		cfg.UnexpectedFailsLimit = 3
	}
	if cfg.UnexpectedFailsLimit < 0 {
		return fmt.Errorf("unexpected fails limit must not be negative")
	}

	// Set defaults for query server. A negative port disables it.
	if cfg.QueryServerPort == 0 {
		cfg.QueryServerPort = 8080
	}
	if cfg.QueryServerPort > 65535 {
		return fmt.Errorf("query server port %d is out of range", cfg.QueryServerPort)
	}

	if cfg.P2PListen == "" {
		cfg.P2PListen = "/ip4/0.0.0.0/tcp/39000"
	}

	// Initialize ChainConfigs if nil or empty
	if len(cfg.ChainConfigs) == 0 {
		// Load defaults from embedded config
		var defaultCfg Config
		if err := json.Unmarshal(defaultConfigJSON, &defaultCfg); err == nil {
			cfg.ChainConfigs = defaultCfg.ChainConfigs
		} else {
			cfg.ChainConfigs = make(map[string]ChainSpecificConfig)
		}
	}

	return nil
}

// Save writes the given config to <NodeHome>/config/guard_config.json.
func Save(cfg *Config, basePath string) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Join(basePath, configSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(configDir, configFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads <basePath>/config/guard_config.json on top of the embedded defaults, applies GUARD_*
// environment overrides and validates the result.
func Load(basePath string) (Config, error) {
	configFile := filepath.Join(basePath, configSubdir, configFileName)
	if _, err := os.Stat(configFile); err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigFile(configFile)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDefaultConfig loads the default configuration from embedded JSON
func LoadDefaultConfig() (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	return &cfg, nil
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(defaultConfigJSON)); err != nil {
		return nil, fmt.Errorf("failed to read default config: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}
