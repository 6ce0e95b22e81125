package config

// loader.go - configuration loading from a YAML file and environment
// variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables
//   3. Config file (--config)
//   4. Defaults   (defaults.go)

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// ── Config file ──────────────────────────────────────────────────────

// fileConfig is the on-disk layout:
//
//	proxy:
//	  host: proxy.corp
//	  port: 3128
//	timeout: 10s
//	tunnels:
//	  - name: db
//	    local_port: 5432
//	    remote_host: db.internal
//	    remote_port: 5432
type fileConfig struct {
	Proxy   *Proxy   `yaml:"proxy"`
	Timeout string   `yaml:"timeout"`
	Breaker int      `yaml:"breaker"`
	Jump    string   `yaml:"jump"`
	SSHKey  string   `yaml:"ssh_key"`
	Verbose int      `yaml:"verbose"`
	Tunnels []Tunnel `yaml:"tunnels"`
}

// LoadFile reads a YAML tunnel file and overlays it onto cfg.  Tunnels
// from the file are appended to any already present.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	return parseFile(data, cfg)
}

func parseFile(data []byte, cfg *Config) error {
	var fc fileConfig
	if err := yaml.UnmarshalStrict(data, &fc); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	if fc.Proxy != nil {
		p := *fc.Proxy
		if p.Port == 0 {
			p.Port = DefaultProxyPort
		}
		cfg.Proxy = &p
	}
	if fc.Timeout != "" {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return fmt.Errorf("parsing config: timeout %q: %w", fc.Timeout, err)
		}
		cfg.Timeout = d
	}
	if fc.Breaker > 0 {
		cfg.BreakerThreshold = fc.Breaker
	}
	if fc.Jump != "" {
		cfg.JumpSpec = fc.Jump
	}
	if fc.SSHKey != "" {
		cfg.SSHKeyPath = fc.SSHKey
	}
	if fc.Verbose > 0 {
		cfg.Verbose = fc.Verbose
	}
	for i, t := range fc.Tunnels {
		if t.LocalHost == "" {
			t.LocalHost = DefaultLocalHost
		}
		if t.Name == "" {
			t.Name = fmt.Sprintf("tunnel-%d", i+1)
		}
		cfg.Tunnels = append(cfg.Tunnels, t)
	}
	return nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the PTUN_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  A malformed PTUN_PROXY is
// reported; other malformed values are ignored.
func LoadFromEnv(cfg *Config) error {
	if v := os.Getenv("PTUN_PROXY"); v != "" {
		p, err := ParseProxy(v)
		if err != nil {
			return fmt.Errorf("PTUN_PROXY: %w", err)
		}
		cfg.Proxy = p
	}
	if v := envInt("PTUN_TIMEOUT"); v > 0 {
		cfg.Timeout = secondsDuration(v)
	}
	if v := envInt("PTUN_BREAKER"); v > 0 {
		cfg.BreakerThreshold = v
	}

	// SSH jump host
	if v := os.Getenv("PTUN_JUMP"); v != "" {
		cfg.JumpSpec = v
	}
	if v := os.Getenv("PTUN_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("PTUN_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("PTUN_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("PTUN_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Output
	if v := envInt("PTUN_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
