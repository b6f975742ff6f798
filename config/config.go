// Package config loads the connector's on-disk TOML configuration,
// creating a default file (with a freshly generated coordinator identity)
// on first run.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"agentconnector/crypto"
)

// CacheConfig controls capability cache sizing and refresh cadence.
type CacheConfig struct {
	MaxEntries             int     `toml:"MaxEntries"`
	TTLSeconds             int     `toml:"TTLSeconds"`
	WarmupLimit            int     `toml:"WarmupLimit"`
	RefreshIntervalSeconds int     `toml:"RefreshIntervalSeconds"`
	RefreshStaleFraction   float64 `toml:"RefreshStaleFraction"`
}

// DiscoveryConfig controls social-graph peer discovery defaults.
type DiscoveryConfig struct {
	ExtendedHops bool `toml:"ExtendedHops"`
	DefaultLimit int  `toml:"DefaultLimit"`
}

// CoordinationConfig exposes suggested defaults for proposal authoring.
// Quorum and threshold remain per-proposal fields (spec §3); only a
// suggested voting window is configured here.
type CoordinationConfig struct {
	DefaultVotingWindowSeconds int `toml:"DefaultVotingWindowSeconds"`
}

// LoggingConfig controls the structured logger and its optional rotating
// file sink.
type LoggingConfig struct {
	Service    string `toml:"Service"`
	Env        string `toml:"Env"`
	FilePath   string `toml:"FilePath"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Config is the connector's full on-disk configuration.
type Config struct {
	DataDir        string             `toml:"DataDir"`
	CoordinatorKey string             `toml:"CoordinatorKey"`
	Cache          CacheConfig        `toml:"Cache"`
	Discovery      DiscoveryConfig    `toml:"Discovery"`
	Coordination   CoordinationConfig `toml:"Coordination"`
	Logging        LoggingConfig      `toml:"Logging"`
}

// Load reads the configuration at path, creating a default file (with a
// freshly generated ed25519 coordinator identity) if none exists yet. A
// config file missing its CoordinatorKey is treated the same way: a fresh
// key is generated and the file is rewritten with it filled in.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if cfg.CoordinatorKey == "" {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("config: generate coordinator key: %w", err)
		}
		cfg.CoordinatorKey = key.SeedHex()
		if err := writeConfig(path, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// createDefault writes and returns a default configuration with a freshly
// generated coordinator identity.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("config: generate coordinator key: %w", err)
	}

	cfg := &Config{
		DataDir:        "./agentconnector-data",
		CoordinatorKey: key.SeedHex(),
		Cache: CacheConfig{
			MaxEntries:             10_000,
			TTLSeconds:             86_400,
			WarmupLimit:            1_000,
			RefreshIntervalSeconds: 3_600,
			RefreshStaleFraction:   0.8,
		},
		Discovery: DiscoveryConfig{
			ExtendedHops: true,
			DefaultLimit: 20,
		},
		Coordination: CoordinationConfig{
			DefaultVotingWindowSeconds: 3_600,
		},
		Logging: LoggingConfig{
			Service:    "agentconnector",
			Env:        "development",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}

	if err := writeConfig(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeConfig(path string, cfg *Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}
