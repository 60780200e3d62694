package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func guards(n int) []GuardPeer {
	out := make([]GuardPeer, n)
	for i := range out {
		out[i] = GuardPeer{PublicKey: "02aa", PeerID: "peer"}
	}
	return out
}

func TestValidateConfig(t *testing.T) {
	testCases := []struct {
		name        string
		config      *Config
		expectError bool
		errorMsg    string
		validate    func(t *testing.T, cfg *Config)
	}{
		{
			name: "Valid config with all fields",
			config: &Config{
				LogLevel:              2,
				LogFormat:             "json",
				Guards:                guards(4),
				GuardIndex:            3,
				MinimumAgreement:      3,
				TurnDurationSeconds:   60,
				ResendIntervalSeconds: 5,
				QueryServerPort:       9000,
			},
			expectError: false,
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3, cfg.MinimumAgreement)
				assert.Equal(t, 60, cfg.TurnDurationSeconds)
				assert.Equal(t, 9000, cfg.QueryServerPort)
			},
		},
		{
			name: "Invalid log level (too high)",
			config: &Config{
				LogLevel:  6,
				LogFormat: "json",
				Guards:    guards(1),
			},
			expectError: true,
			errorMsg:    "log level must be between 0 and 5",
		},
		{
			name: "Invalid log format",
			config: &Config{
				LogLevel:  2,
				LogFormat: "xml",
				Guards:    guards(1),
			},
			expectError: true,
			errorMsg:    "log format must be 'json' or 'console'",
		},
		{
			name: "No guards",
			config: &Config{
				LogLevel:  2,
				LogFormat: "json",
			},
			expectError: true,
			errorMsg:    "at least one guard",
		},
		{
			name: "Guard index out of range",
			config: &Config{
				LogLevel:   2,
				LogFormat:  "json",
				Guards:     guards(3),
				GuardIndex: 3,
			},
			expectError: true,
			errorMsg:    "out of range",
		},
		{
			name: "Missing public key",
			config: &Config{
				LogLevel:  2,
				LogFormat: "json",
				Guards:    []GuardPeer{{PublicKey: "02aa"}, {}},
			},
			expectError: true,
			errorMsg:    "guard 1 has no public key",
		},
		{
			name: "Minimum agreement not a majority",
			config: &Config{
				LogLevel:         2,
				LogFormat:        "json",
				Guards:           guards(4),
				MinimumAgreement: 2,
			},
			expectError: true,
			errorMsg:    "strict majority",
		},
		{
			name: "Minimum agreement above guard count",
			config: &Config{
				LogLevel:         2,
				LogFormat:        "json",
				Guards:           guards(4),
				MinimumAgreement: 5,
			},
			expectError: true,
			errorMsg:    "strict majority",
		},
		{
			name: "Negative duration",
			config: &Config{
				LogLevel:           2,
				LogFormat:          "json",
				Guards:             guards(1),
				SignTimeoutSeconds: -1,
			},
			expectError: true,
			errorMsg:    "sign timeout must not be negative",
		},
		{
			name: "Negative query port disables the server",
			config: &Config{
				LogLevel:        2,
				LogFormat:       "json",
				Guards:          guards(1),
				QueryServerPort: -1,
			},
			expectError: false,
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, -1, cfg.QueryServerPort)
			},
		},
		{
			name: "Query port out of range",
			config: &Config{
				LogLevel:        2,
				LogFormat:       "json",
				Guards:          guards(1),
				QueryServerPort: 70000,
			},
			expectError: true,
			errorMsg:    "out of range",
		},
		{
			name: "Config with defaults applied",
			config: &Config{
				LogLevel:  2,
				LogFormat: "console",
				Guards:    guards(7),
			},
			expectError: false,
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 5, cfg.MinimumAgreement)
				assert.Equal(t, 180, cfg.TurnDurationSeconds)
				assert.Equal(t, 15, cfg.ResendIntervalSeconds)
				assert.Equal(t, 300, cfg.SignTimeoutSeconds)
				assert.Equal(t, 3, cfg.UnexpectedFailsLimit)
				assert.Equal(t, 8080, cfg.QueryServerPort)
				assert.Equal(t, "/ip4/0.0.0.0/tcp/39000", cfg.P2PListen)
				assert.Equal(t, uint64(10), cfg.EventConfirmations()["ergo"])
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateConfig(tc.config)

			if tc.expectError {
				assert.Error(t, err)
				if tc.errorMsg != "" {
					assert.Contains(t, err.Error(), tc.errorMsg)
				}
			} else {
				assert.NoError(t, err)
				if tc.validate != nil {
					tc.validate(t, tc.config)
				}
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	tempDir := t.TempDir()

	t.Run("Save and load valid config", func(t *testing.T) {
		cfg := &Config{
			LogLevel:            3,
			LogFormat:           "json",
			Guards:              guards(4),
			GuardIndex:          2,
			TurnDurationSeconds: 90,
			QueryServerPort:     8888,
			ChainConfigs: map[string]ChainSpecificConfig{
				"ergo": {EventConfirmations: 20},
			},
		}

		require.NoError(t, Save(cfg, tempDir))

		configPath := filepath.Join(tempDir, configSubdir, configFileName)
		_, err := os.Stat(configPath)
		assert.NoError(t, err)

		loadedCfg, err := Load(tempDir)
		require.NoError(t, err)

		assert.Equal(t, cfg.LogLevel, loadedCfg.LogLevel)
		assert.Equal(t, cfg.LogFormat, loadedCfg.LogFormat)
		assert.Equal(t, cfg.GuardIndex, loadedCfg.GuardIndex)
		assert.Equal(t, cfg.Guards, loadedCfg.Guards)
		assert.Equal(t, 3, loadedCfg.MinimumAgreement)
		assert.Equal(t, cfg.TurnDuration(), loadedCfg.TurnDuration())
		assert.Equal(t, cfg.QueryServerPort, loadedCfg.QueryServerPort)
		assert.Equal(t, uint64(20), loadedCfg.EventConfirmations()["ergo"])
	})

	t.Run("Environment overrides file", func(t *testing.T) {
		t.Setenv("GUARD_LOG_LEVEL", "0")
		t.Setenv("GUARD_PRIVATE_KEY_HEX", "abcd")

		loadedCfg, err := Load(tempDir)
		require.NoError(t, err)
		assert.Equal(t, 0, loadedCfg.LogLevel)
		assert.Equal(t, "abcd", loadedCfg.PrivateKeyHex)
	})

	t.Run("Save invalid config", func(t *testing.T) {
		cfg := &Config{
			LogLevel:  -1,
			LogFormat: "json",
			Guards:    guards(1),
		}

		err := Save(cfg, tempDir)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid config")
	})

	t.Run("Load from non-existent file", func(t *testing.T) {
		_, err := Load(filepath.Join(tempDir, "non_existent"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("Load invalid JSON", func(t *testing.T) {
		configDir := filepath.Join(tempDir, "invalid", configSubdir)
		require.NoError(t, os.MkdirAll(configDir, 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(configDir, configFileName), []byte("{invalid json}"), 0o600))

		_, err := Load(filepath.Join(tempDir, "invalid"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})

	t.Run("Zero query port falls back to the default", func(t *testing.T) {
		cfg := &Config{
			LogLevel:  2,
			LogFormat: "json",
			Guards:    guards(1),
		}
		dir := filepath.Join(tempDir, "zero-port")
		require.NoError(t, Save(cfg, dir))

		configPath := filepath.Join(dir, configSubdir, configFileName)
		data, err := os.ReadFile(configPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"query_server_port": 8080`)
		require.NoError(t, os.WriteFile(configPath,
			[]byte(strings.Replace(string(data), `"query_server_port": 8080`, `"query_server_port": 0`, 1)), 0o600))

		loadedCfg, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, 8080, loadedCfg.QueryServerPort)
	})

	t.Run("Load config without guards", func(t *testing.T) {
		configDir := filepath.Join(tempDir, "empty", configSubdir)
		require.NoError(t, os.MkdirAll(configDir, 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(configDir, configFileName), []byte(`{"log_level": 2}`), 0o600))

		_, err := Load(filepath.Join(tempDir, "empty"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "at least one guard")
	})
}

func TestLoadDefaultConfig(t *testing.T) {
	cfg, err := LoadDefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 180, cfg.TurnDurationSeconds)
	assert.Contains(t, cfg.ChainConfigs, "cardano")
	assert.Empty(t, cfg.Guards)
}
