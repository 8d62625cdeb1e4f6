package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/tolelom/stakebox/core"
)

// LogConfig controls structured logging.
type LogConfig struct {
	Level      string `json:"level" toml:"level"`   // debug, info, warn, error
	Format     string `json:"format" toml:"format"` // json or text
	Env        string `json:"env" toml:"env"`
	File       string `json:"file,omitempty" toml:"file"` // empty logs to stderr
	MaxSizeMB  int    `json:"max_size_mb,omitempty" toml:"max_size_mb"`
	MaxBackups int    `json:"max_backups,omitempty" toml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days,omitempty" toml:"max_age_days"`
}

// OracleConfig enables the in-process randomness fulfilment service.
type OracleConfig struct {
	Enabled         bool   `json:"enabled" toml:"enabled"`
	KeyFile         string `json:"key_file" toml:"key_file"`         // ed25519 account keystore
	VRFKeyFile      string `json:"vrf_key_file" toml:"vrf_key_file"` // secp256k1 keystore
	PasswordEnv     string `json:"password_env" toml:"password_env"`
	IntervalMs      int    `json:"interval_ms" toml:"interval_ms"`
	ResubmitAfterMs int    `json:"resubmit_after_ms" toml:"resubmit_after_ms"`
	Fee             uint64 `json:"fee" toml:"fee"`
}

// P2PConfig controls block replication. The producer listens; read
// replicas list the producer under Peers.
type P2PConfig struct {
	ListenAddr string   `json:"listen_addr,omitempty" toml:"listen_addr"`
	Peers      []string `json:"peers,omitempty" toml:"peers"`
}

// Enabled reports whether replication is configured.
func (c P2PConfig) Enabled() bool {
	return c.ListenAddr != "" || len(c.Peers) > 0
}

// Config holds all node configuration.
type Config struct {
	NodeID         string        `json:"node_id" toml:"node_id"`
	DataDir        string        `json:"data_dir" toml:"data_dir"`
	RPCAddr        string        `json:"rpc_addr" toml:"rpc_addr"`
	RPCAuthToken   string        `json:"rpc_auth_token,omitempty" toml:"rpc_auth_token"`
	RPCTLS         TLSConfig     `json:"rpc_tls" toml:"rpc_tls"`
	MaxBlockTxs    int           `json:"max_block_txs" toml:"max_block_txs"` // 0 → 500
	BlockTimeMs    int           `json:"block_time_ms" toml:"block_time_ms"`
	MempoolSize    int           `json:"mempool_size" toml:"mempool_size"`
	Validators     []string      `json:"validators" toml:"validators"` // authorised proposer pubkey hexes
	KeyFile        string        `json:"key_file" toml:"key_file"`     // proposer keystore
	PasswordEnv    string        `json:"password_env" toml:"password_env"`
	MetricsEnabled bool          `json:"metrics_enabled" toml:"metrics_enabled"`
	Log            LogConfig     `json:"log" toml:"log"`
	Oracle         OracleConfig  `json:"oracle" toml:"oracle"`
	P2P            P2PConfig     `json:"p2p" toml:"p2p"`
	Genesis        GenesisConfig `json:"genesis" toml:"genesis"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:      "node0",
		DataDir:     "./data",
		RPCAddr:     "127.0.0.1:8545",
		MaxBlockTxs: 500,
		BlockTimeMs: 2000,
		MempoolSize: 10_000,
		KeyFile:     "./data/node.key",
		PasswordEnv: "STAKEBOX_PASSWORD",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Env:    "dev",
		},
		Oracle: OracleConfig{
			IntervalMs:      2000,
			ResubmitAfterMs: 30_000,
			PasswordEnv:     "STAKEBOX_ORACLE_PASSWORD",
		},
		Genesis: GenesisConfig{
			ChainID: "stakebox-dev",
			Alloc:   map[string]uint64{},
			RewardMint: MintConfig{
				ID:       "reward",
				Name:     "Stake Reward",
				Decimals: 0,
			},
			Program: ProgramConfig{
				RewardRate: core.RewardRate{Numerator: 1, Denominator: 1},
			},
		},
	}
}

// Load reads a config file from path. Files ending in .toml are decoded as
// TOML, everything else as JSON. Relative paths inside the file resolve
// against the file's directory.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if err := cfg.Genesis.resolve(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path as TOML or formatted JSON by extension.
func Save(cfg *Config, path string) error {
	if strings.ToLower(filepath.Ext(path)) == ".toml" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		return toml.NewEncoder(f).Encode(cfg)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the node settings and the genesis program.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir required")
	}
	if c.RPCAddr == "" {
		return errors.New("config: rpc_addr required")
	}
	if c.MaxBlockTxs < 0 || c.BlockTimeMs < 0 || c.MempoolSize < 0 {
		return errors.New("config: limits must be >= 0")
	}
	if c.RPCTLS.Enabled() && (c.RPCTLS.CertFile == "" || c.RPCTLS.KeyFile == "") {
		return errors.New("config: rpc_tls needs both cert_file and key_file")
	}
	if c.Oracle.Enabled {
		if c.Oracle.KeyFile == "" || c.Oracle.VRFKeyFile == "" {
			return errors.New("config: oracle key_file and vrf_key_file required when oracle is enabled")
		}
	}
	return c.Genesis.Validate()
}
