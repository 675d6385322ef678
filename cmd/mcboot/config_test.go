package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadBootConfigDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
address = "10.0.0.5:7070"
call_timeout = "750ms"
redial_attempts = 5
layout = "boards/ls2088.toml"
topology_out = "/var/lib/mcboot/topology.toml"
priority = false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadBootConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Stream.Network != "tcp" {
		t.Fatalf("expected default network, got %q", cfg.Stream.Network)
	}
	if cfg.Stream.Address != "10.0.0.5:7070" {
		t.Fatalf("unexpected address: %q", cfg.Stream.Address)
	}
	if cfg.Stream.CallTimeout != 750*time.Millisecond {
		t.Fatalf("unexpected call timeout: %s", cfg.Stream.CallTimeout)
	}
	if cfg.Stream.ConnectTimeout != 5*time.Second {
		t.Fatalf("expected default connect timeout, got %s", cfg.Stream.ConnectTimeout)
	}
	if cfg.Stream.RedialAttempts != 5 {
		t.Fatalf("unexpected redial attempts: %d", cfg.Stream.RedialAttempts)
	}
	if cfg.LayoutPath != filepath.Join(dir, "boards/ls2088.toml") {
		t.Fatalf("layout path not resolved against config dir: %q", cfg.LayoutPath)
	}
	if cfg.TopologyOut != "/var/lib/mcboot/topology.toml" {
		t.Fatalf("unexpected topology path: %q", cfg.TopologyOut)
	}
	if cfg.Flags != 0 {
		t.Fatalf("expected priority flag cleared, got %#x", cfg.Flags)
	}
}

func TestLoadBootConfigRejects(t *testing.T) {
	cases := map[string]string{
		"network":  `network = "udp"`,
		"duration": `connect_timeout = "soon"`,
		"unknown":  `adress = "typo:1"`,
		"address":  `address = ""`,
	}
	for name, content := range cases {
		path := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := loadBootConfig(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
