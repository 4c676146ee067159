package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the serve-time configuration, loadable from a JSON file with
// environment overrides.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Identities []IdentityConfig `json:"identities,omitempty"`
}

type ServerConfig struct {
	Address      string `json:"address"`
	DataDir      string `json:"data_dir"`
	DatabasePath string `json:"database_path,omitempty"`
}

// IdentityConfig seeds the static identity resolver. Production
// deployments replace this with the external attribute service.
type IdentityConfig struct {
	DistinguishedName string   `json:"distinguished_name"`
	DisplayName       string   `json:"display_name"`
	Clearance         []string `json:"clearance"`
	SCIControls       []string `json:"sci_controls,omitempty"`
	SARAccess         []string `json:"sar_access,omitempty"`
	Country           string   `json:"country,omitempty"`
	Groups            []string `json:"groups,omitempty"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaultsAndEnv()
	return &cfg, nil
}

// LoadFromEnv builds a config from environment variables alone.
func LoadFromEnv() *Config {
	cfg := &Config{}
	cfg.applyDefaultsAndEnv()
	return cfg
}

func (c *Config) applyDefaultsAndEnv() {
	if v := os.Getenv("ODRIVE_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("ODRIVE_DATA_DIR"); v != "" {
		c.Server.DataDir = v
	}
	if v := os.Getenv("ODRIVE_DB_PATH"); v != "" {
		c.Server.DatabasePath = v
	}

	if c.Server.Address == "" {
		c.Server.Address = ":4430"
	}
	if c.Server.DataDir == "" {
		c.Server.DataDir = "./data"
	}
	if c.Server.DatabasePath == "" {
		c.Server.DatabasePath = filepath.Join(c.Server.DataDir, "metadata.db")
	}
}
