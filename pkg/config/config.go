// Package config loads conaryd's configuration: a YAML file plus
// environment variable overrides, following the teacher's cobra-flag-
// then-env-override pattern (cmd/warren reads cluster config the same
// way cmd/conary reads daemon config here).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/conarylabs/conary/pkg/log"
)

// Config is conaryd's on-disk configuration.
type Config struct {
	// Root is the filesystem root operations are applied under.
	Root string `yaml:"root"`
	// DBRoot holds conary.db, the objects directory, and per-transaction
	// working areas.
	DBRoot string `yaml:"db_root"`
	// Listen is the daemon's primary HTTP listen address.
	Listen string `yaml:"listen"`
	// Socket is an optional Unix socket path. It is parsed from the config
	// file, but conaryd opens no listener on it.
	Socket string `yaml:"socket,omitempty"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel log.Level `yaml:"log_level"`
	// LogJSON selects structured JSON log output over console output.
	LogJSON bool `yaml:"log_json"`
	// ScriptletTimeoutSeconds is parsed from the config file, but conaryd
	// does not read it: the daemon's scriptlets and triggers always run with
	// the engine's default timeout (30s).
	ScriptletTimeoutSeconds int `yaml:"scriptlet_timeout_seconds,omitempty"`
}

const (
	// DefaultRoot is the filesystem root used when CONARY_ROOT and the
	// config file both leave it unset.
	DefaultRoot = "/"
	// DefaultDBRoot is the metadata/CAS root used when CONARY_DB_ROOT and
	// the config file both leave it unset.
	DefaultDBRoot = "/var/lib/conary"
	// DefaultListen is the daemon's default HTTP listen address.
	DefaultListen = "127.0.0.1:7726"
)

// Default returns a Config populated with package defaults.
func Default() Config {
	return Config{
		Root:     DefaultRoot,
		DBRoot:   DefaultDBRoot,
		Listen:   DefaultListen,
		LogLevel: log.InfoLevel,
	}
}

// Load reads path as YAML over the package defaults, then applies
// CONARY_ROOT / CONARY_DB_ROOT / CONARY_LISTEN / CONARY_LOG_LEVEL
// environment overrides per spec.md's environment section. path may be
// empty, in which case only defaults and environment overrides apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Root == "" {
		cfg.Root = DefaultRoot
	}
	if cfg.DBRoot == "" {
		cfg.DBRoot = DefaultDBRoot
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONARY_ROOT"); v != "" {
		cfg.Root = v
	}
	if v := os.Getenv("CONARY_DB_ROOT"); v != "" {
		cfg.DBRoot = v
	}
	if v := os.Getenv("CONARY_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("CONARY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = log.Level(v)
	}
}

// DBPath returns the path to the metadata database under DBRoot.
func (c Config) DBPath() string {
	return filepath.Join(c.DBRoot, "conary.db")
}
