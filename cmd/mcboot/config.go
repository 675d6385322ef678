package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/mcportal/internal/config"
	"github.com/danmuck/mcportal/internal/portal"
	"github.com/danmuck/mcportal/internal/protocol"
)

type bootConfig struct {
	Stream      portal.StreamConfig
	LayoutPath  string
	TopologyOut string
	Flags       protocol.Flags
}

func defaultBootConfig() bootConfig {
	stream := portal.DefaultStreamConfig()
	stream.Address = "127.0.0.1:7070"
	stream.MaxConnectAttempts = 10
	return bootConfig{
		Stream:     stream,
		LayoutPath: "layout.toml",
		Flags:      protocol.FlagPriority,
	}
}

// mcboot loader for TOML config with default overlay. Relative layout and
// topology paths resolve against the config file's directory.
func loadBootConfig(path string) (bootConfig, error) {
	cfg := defaultBootConfig()

	raw, meta, err := config.DecodeBootFile(path)
	if err != nil {
		return bootConfig{}, err
	}
	if meta.IsDefined("network") {
		cfg.Stream.Network = strings.TrimSpace(raw.Network)
	}
	if meta.IsDefined("address") {
		cfg.Stream.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("connect_timeout") {
		d, err := parseDuration("connect_timeout", raw.ConnectTimeout)
		if err != nil {
			return bootConfig{}, err
		}
		cfg.Stream.ConnectTimeout = d
	}
	if meta.IsDefined("call_timeout") {
		d, err := parseDuration("call_timeout", raw.CallTimeout)
		if err != nil {
			return bootConfig{}, err
		}
		cfg.Stream.CallTimeout = d
	}
	if meta.IsDefined("connect_attempts") {
		cfg.Stream.MaxConnectAttempts = raw.ConnectAttempts
	}
	if meta.IsDefined("redial_attempts") {
		cfg.Stream.RedialAttempts = raw.RedialAttempts
	}
	if meta.IsDefined("layout") {
		cfg.LayoutPath = resolvePath(path, raw.Layout)
	} else {
		cfg.LayoutPath = resolvePath(path, cfg.LayoutPath)
	}
	if meta.IsDefined("topology_out") {
		cfg.TopologyOut = resolvePath(path, raw.TopologyOut)
	}
	if meta.IsDefined("priority") && !raw.Priority {
		cfg.Flags = 0
	}

	switch cfg.Stream.Network {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return bootConfig{}, fmt.Errorf("load mcboot config: unsupported network %q", cfg.Stream.Network)
	}
	if cfg.Stream.Address == "" {
		return bootConfig{}, fmt.Errorf("load mcboot config: %w", portal.ErrAddressRequired)
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("load mcboot config: %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("load mcboot config: %s must be positive", key)
	}
	return d, nil
}

func resolvePath(configPath, target string) string {
	target = strings.TrimSpace(target)
	if target == "" || filepath.IsAbs(target) {
		return target
	}
	return filepath.Join(filepath.Dir(configPath), target)
}
