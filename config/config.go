// Package config loads the node configuration and the genesis validator set.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/geanlabs/gravity/sigverify"
	"github.com/geanlabs/gravity/types"
)

const (
	BackendMemory = "memory"
	BackendPebble = "pebble"
)

// Config is the node configuration file.
type Config struct {
	Network           string              `yaml:"network"`
	BridgeID          string              `yaml:"bridge_id"`
	SignatureScheme   string              `yaml:"signature_scheme"`
	ValsetThreshold   sigverify.Threshold `yaml:"valset_threshold"`
	OracleThreshold   sigverify.Threshold `yaml:"oracle_threshold"`
	RecoveryCacheSize int                 `yaml:"recovery_cache_size"`
	Genesis           string              `yaml:"genesis"`
	ValidatorKey      string              `yaml:"validator_key"`
	LogLevel          string              `yaml:"log_level"`

	Storage StorageConfig `yaml:"storage"`
	Clock   ClockConfig   `yaml:"clock"`
	P2P     P2PConfig     `yaml:"p2p"`
	Query   string        `yaml:"query_addr"`
	Metrics string        `yaml:"metrics_addr"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// ClockConfig derives destination chain heights when no host pushes them.
type ClockConfig struct {
	GenesisTime  uint64 `yaml:"genesis_time"`
	BlockSeconds uint64 `yaml:"block_seconds"`
}

type P2PConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	NodeKey    string `yaml:"node_key"`
	Bootnodes  string `yaml:"bootnodes"`
}

// Default returns the configuration used for fields a file leaves out.
func Default() *Config {
	return &Config{
		Network:           "devnet",
		SignatureScheme:   sigverify.SchemeECDSA,
		ValsetThreshold:   sigverify.TwoThirds,
		OracleThreshold:   sigverify.TwoThirds,
		RecoveryCacheSize: 4096,
		LogLevel:          "info",
		Storage:           StorageConfig{Backend: BackendMemory},
		Clock:             ClockConfig{BlockSeconds: 12},
		P2P:               P2PConfig{ListenAddr: "/ip4/0.0.0.0/udp/9000/quic-v1"},
		Query:             "127.0.0.1:8545",
		Metrics:           "127.0.0.1:9090",
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks fields that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := c.ParsedBridgeID(); err != nil {
		return fmt.Errorf("bridge_id: %w", err)
	}
	if _, err := sigverify.NewRecoverer(c.SignatureScheme); err != nil {
		return err
	}
	if err := c.ValsetThreshold.Validate(); err != nil {
		return fmt.Errorf("valset_threshold: %w", err)
	}
	if err := c.OracleThreshold.Validate(); err != nil {
		return fmt.Errorf("oracle_threshold: %w", err)
	}
	if c.Genesis == "" {
		return fmt.Errorf("genesis: path is required")
	}
	switch strings.ToLower(c.Storage.Backend) {
	case BackendMemory:
	case BackendPebble:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage: pebble backend needs a path")
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	return nil
}

// ParsedBridgeID decodes BridgeID.
func (c *Config) ParsedBridgeID() (types.BridgeID, error) {
	return types.ParseBridgeID(c.BridgeID)
}

// Marshal encodes the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
