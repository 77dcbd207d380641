// config.go - Configuration for the wallet daemon.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the daemon configuration.
type Config struct {
	// Account
	AccountName string `json:"account_name"`
	Mnemonic    string `json:"mnemonic,omitempty"`

	// Pool and network. Empty IndexerURL runs against a seeded in-memory
	// oracle for demonstration.
	PoolAddress string `json:"pool_address"`
	IndexerURL  string `json:"indexer_url,omitempty"`
	GatewayURL  string `json:"gateway_url,omitempty"`

	// File paths
	WalletPath string `json:"wallet_path"`
	KeyDir     string `json:"key_dir"`

	// Logging
	LogLevel string `json:"log_level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		AccountName: "default",
		PoolAddress: "0x0000000000000000000000000000000000000001",
		WalletPath:  "wallet.json",
		KeyDir:      "keys",
		LogLevel:    "info",
	}
}

// LoadConfig loads configuration from file, writing the default on first run.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		var config Config
		if err := json.NewDecoder(file).Decode(&config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		return &config, nil
	}

	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}
	return config, nil
}

// SaveConfig saves configuration to file.
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.AccountName == "" {
		return fmt.Errorf("account_name must not be empty")
	}
	if c.PoolAddress == "" {
		return fmt.Errorf("pool_address must not be empty")
	}
	if c.WalletPath == "" {
		return fmt.Errorf("wallet_path must not be empty")
	}
	if c.IndexerURL != "" && c.GatewayURL == "" {
		return fmt.Errorf("gateway_url is required when indexer_url is set")
	}
	return nil
}
