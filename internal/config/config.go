// Copyright (c) Swattek Systems, Inc.
// SPDX-License-Identifier: BSD-3-Clause

// Package config loads the proxy core's static configuration from a
// YAML file. The file's path comes from cmd/proxycored's -config flag
// (or PROXYCORE_CONFIG); the fields in the file have no
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Listener describes one accepting socket and the handshake behavior
// the acceptor should apply to connections it produces.
type Listener struct {
	Name        string `yaml:"name"`
	Addr        string `yaml:"addr"`
	AcceptProxy bool   `yaml:"accept_proxy"`
	SendProxy   bool   `yaml:"send_proxy"`
	TLS         *TLS   `yaml:"tls,omitempty"`
	Upstream    string `yaml:"upstream"`
}

// TLS holds the certificate pair parsed from a listener's tls section.
// The acceptor in cmd/proxycored does not read it, so no listener
// terminates TLS.
type TLS struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Config is the root document loaded from disk.
type Config struct {
	Listeners []Listener `yaml:"listeners"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	Log LogConfig `yaml:"log"`
}

// LogConfig is parsed from the log section. Nothing passes it to
// internal/logging, which is configured from the -v and -logfile flags
// instead.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// New returns a Config populated with the defaults every field falls
// back to when the YAML document omits it.
func New() *Config {
	return &Config{
		ConnectTimeout: 10 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses path on top of New()'s defaults.
func Load(path string) (*Config, error) {
	cfg := New()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(cfg.Listeners) == 0 {
		return nil, fmt.Errorf("config: %s defines no listeners", path)
	}
	for i, l := range cfg.Listeners {
		if l.Addr == "" {
			return nil, fmt.Errorf("config: listener %d (%s): addr is required", i, l.Name)
		}
		if l.Upstream == "" {
			return nil, fmt.Errorf("config: listener %d (%s): upstream is required", i, l.Name)
		}
	}
	return cfg, nil
}
