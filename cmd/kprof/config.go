package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the kprof configuration file (~/.config/kprof/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	Backend      string `yaml:"backend"`
	WorkloadsDir string `yaml:"workloads_dir"`

	// Profiling defaults
	Warmup *int    `yaml:"warmup"`
	Repeat *int    `yaml:"repeat"`
	Seed   *uint64 `yaml:"seed"`
	Verify *bool   `yaml:"verify"`

	// Output
	Format    string `yaml:"format"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string   `yaml:"server_address"`
	RateLimit     *float64 `yaml:"rate_limit"`
	RateBurst     *int     `yaml:"rate_burst"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "kprof", "config.yaml")
}

// LoadConfig reads the config file at path, or the default location when
// path is empty. A missing default file yields a zero Config; a missing
// explicit file is an error.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
	}
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

func applyCommonConfig(c *cli.Command, cfg Config) {
	if cfg.Backend != "" && !c.IsSet("backend") {
		backendName = cfg.Backend
	}
	if cfg.WorkloadsDir != "" && !c.IsSet("workloads-dir") {
		workloadsDir = cfg.WorkloadsDir
	}
}

// applyProfileConfig applies config file defaults to profile command
// variables when the corresponding flag was not explicitly set.
func applyProfileConfig(c *cli.Command, cfg Config, warmup, repeat *int, seed *uint64, verify *bool, format *string) {
	applyCommonConfig(c, cfg)
	if cfg.Warmup != nil && !c.IsSet("warmup") {
		*warmup = *cfg.Warmup
	}
	if cfg.Repeat != nil && !c.IsSet("repeat") {
		*repeat = *cfg.Repeat
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		*seed = *cfg.Seed
	}
	if cfg.Verify != nil && !c.IsSet("verify") {
		*verify = *cfg.Verify
	}
	if cfg.Format != "" && !c.IsSet("format") {
		*format = cfg.Format
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, warmup, repeat *int, rateLimit *float64, rateBurst *int) {
	applyCommonConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.Warmup != nil && !c.IsSet("warmup") {
		*warmup = *cfg.Warmup
	}
	if cfg.Repeat != nil && !c.IsSet("repeat") {
		*repeat = *cfg.Repeat
	}
	if cfg.RateLimit != nil && !c.IsSet("rate-limit") {
		*rateLimit = *cfg.RateLimit
	}
	if cfg.RateBurst != nil && !c.IsSet("rate-burst") {
		*rateBurst = *cfg.RateBurst
	}
}
