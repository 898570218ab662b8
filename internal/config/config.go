// Package config loads server configuration from an optional YAML file
// with environment expansion. A .env file next to the process is folded
// into the environment first, so `${VAR}` references in the YAML resolve
// against it. Command-line flags override whatever the file says.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config holds every tunable the server reads.
type Config struct {
	Addr             string `yaml:"addr"`              // listen address
	Engine           string `yaml:"engine"`            // "kvs" or "bolt"
	DataDir          string `yaml:"data_dir"`          // directory holding the database files
	CompactThreshold int64  `yaml:"compact_threshold"` // log bytes that trigger compaction
	LogFile          string `yaml:"log_file"`          // optional log tee target
	Quiet            bool   `yaml:"quiet"`             // errors-only logging
}

// DefaultAddr is where the server listens when nothing else is configured.
const DefaultAddr = "127.0.0.1:4000"

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:    DefaultAddr,
		Engine:  "kvs",
		DataDir: ".",
	}
}

// Load reads path over the defaults. An empty path returns the defaults
// untouched; a missing .env is fine.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
