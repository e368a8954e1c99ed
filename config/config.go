package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// TLSConfig holds paths to the PEM files needed for mTLS.
// When nil or all paths empty, the node falls back to plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`   // CA certificate PEM path
	NodeCert string `json:"node_cert"` // node certificate PEM path
	NodeKey  string `json:"node_key"`  // node private key PEM path
}

// SeedPeer identifies a remote node to connect to on startup.
type SeedPeer struct {
	ID   string `json:"id"`   // remote node ID
	Addr string `json:"addr"` // host:port
}

// Config holds all node configuration.
type Config struct {
	NodeID  string `json:"node_id"`
	DataDir string `json:"data_dir"`
	RPCPort int    `json:"rpc_port"`
	P2PPort int    `json:"p2p_port"`

	// LoopchainDefaultChannel is the one channel allowed to mint a new
	// peer id (store.ChainStore.MakePeerID, spec.md §8.4).
	LoopchainDefaultChannel string `json:"loopchain_default_channel"`
	// Channels lists every channel this node runs a BlockManager for.
	// Must include LoopchainDefaultChannel.
	Channels []string `json:"channels"`

	// ConsensusAlgorithm selects the consensus.Strategy: one of "none",
	// "default", "siever", "lft".
	ConsensusAlgorithm string `json:"consensus_algorithm"`
	// MaxRetryCreateDB bounds store.OpenChainStore's retry loop.
	MaxRetryCreateDB int `json:"max_retry_create_db"`
	// SleepSecondsInServiceLoop is how long an idle BlockManager tick
	// loop sleeps between polls of its queues.
	SleepSecondsInServiceLoop float64 `json:"sleep_seconds_in_service_loop"`
	// TimeoutForPeerVoteSeconds is how long an lft peer waits after
	// casting its vote before re-checking the block's tally against the
	// quorum.
	TimeoutForPeerVoteSeconds float64 `json:"timeout_for_peer_vote_seconds"`
	// DefaultStoragePath is the base directory under which each
	// channel's ChainStore is opened (one subdirectory per channel).
	DefaultStoragePath string `json:"default_storage_path"`
	// MaxBlockTxs caps transactions per block; 0 → 500.
	MaxBlockTxs int `json:"max_block_txs"`

	SeedPeers    []SeedPeer `json:"seed_peers,omitempty"`     // initial peers to connect to
	TLS          *TLSConfig `json:"tls,omitempty"`            // nil → plain TCP
	RPCAuthToken string     `json:"rpc_auth_token,omitempty"` // empty → no auth
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:                    "node0",
		DataDir:                   "./data",
		RPCPort:                   8545,
		P2PPort:                   30303,
		LoopchainDefaultChannel:   "loopchain_default",
		Channels:                  []string{"loopchain_default"},
		ConsensusAlgorithm:        "default",
		MaxRetryCreateDB:          3,
		SleepSecondsInServiceLoop: 0.1,
		TimeoutForPeerVoteSeconds: 5,
		DefaultStoragePath:        "./data/chains",
		MaxBlockTxs:               500,
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port must be 1-65535, got %d", c.RPCPort)
	}
	if c.P2PPort <= 0 || c.P2PPort > 65535 {
		return fmt.Errorf("p2p_port must be 1-65535, got %d", c.P2PPort)
	}
	if c.RPCPort == c.P2PPort {
		return fmt.Errorf("rpc_port and p2p_port must not be the same (%d)", c.RPCPort)
	}
	if c.LoopchainDefaultChannel == "" {
		return fmt.Errorf("loopchain_default_channel must not be empty")
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("channels list must not be empty")
	}
	foundDefault := false
	for _, ch := range c.Channels {
		if ch == c.LoopchainDefaultChannel {
			foundDefault = true
		}
	}
	if !foundDefault {
		return fmt.Errorf("channels must include loopchain_default_channel %q", c.LoopchainDefaultChannel)
	}
	switch c.ConsensusAlgorithm {
	case "none", "default", "siever", "lft":
	default:
		return fmt.Errorf("consensus_algorithm must be one of none/default/siever/lft, got %q", c.ConsensusAlgorithm)
	}
	if c.MaxRetryCreateDB <= 0 {
		return fmt.Errorf("max_retry_create_db must be positive")
	}
	if c.DefaultStoragePath == "" {
		return fmt.Errorf("default_storage_path must not be empty")
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
