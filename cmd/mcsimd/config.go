package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/mcportal/internal/config"
	"github.com/danmuck/mcportal/internal/mcsim"
	"github.com/danmuck/mcportal/internal/protocol"
)

type blobStage struct {
	Address uint64
	Code    uint16
}

type simdConfig struct {
	Node        string
	Network     string
	Listen      string
	AdminAddr   string
	CORSOrigins []string
	Sim         mcsim.Config
	Server      mcsim.ServerConfig
	Blobs       []blobStage
}

func defaultSimdConfig() simdConfig {
	return simdConfig{
		Node:        "mcsim",
		Network:     "tcp",
		Listen:      ":7070",
		AdminAddr:   ":7071",
		CORSOrigins: []string{"http://localhost:3000"},
		Sim:         mcsim.DefaultConfig(),
		Server:      mcsim.DefaultServerConfig(),
	}
}

// mcsimd loader for TOML config with default overlay.
func loadSimdConfig(path string) (simdConfig, error) {
	cfg := defaultSimdConfig()

	raw, meta, err := config.DecodeSimFile(path)
	if err != nil {
		return simdConfig{}, err
	}
	if meta.IsDefined("node") {
		cfg.Node = strings.TrimSpace(raw.Node)
	}
	if meta.IsDefined("network") {
		cfg.Network = strings.TrimSpace(raw.Network)
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CORSOrigins
	}
	if meta.IsDefined("idle_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.IdleTimeout))
		if err != nil || d <= 0 {
			return simdConfig{}, fmt.Errorf("load mcsimd config: bad idle_timeout %q", raw.IdleTimeout)
		}
		cfg.Server.IdleTimeout = d
	}
	if meta.IsDefined("seed") {
		cfg.Sim.Seed = raw.Seed
	}
	if meta.IsDefined("root_id") {
		cfg.Sim.RootID = raw.RootID
	}
	if meta.IsDefined("root_label") {
		if err := protocol.CheckLabel(raw.RootLabel); err != nil {
			return simdConfig{}, fmt.Errorf("load mcsimd config: root_label: %w", err)
		}
		cfg.Sim.RootLabel = raw.RootLabel
	}
	if meta.IsDefined("root_icid") {
		cfg.Sim.RootICID = raw.RootICID
	}
	if meta.IsDefined("root_portal") {
		cfg.Sim.RootPortal = raw.RootPortal
	}
	if meta.IsDefined("icids") {
		cfg.Sim.ICIDs = raw.ICIDs
	}
	if meta.IsDefined("portals") {
		cfg.Sim.Portals = raw.Portals
	}
	if meta.IsDefined("firmware") {
		fw, err := protocol.ParseFirmwareVersion(raw.Firmware)
		if err != nil {
			return simdConfig{}, fmt.Errorf("load mcsimd config: %w", err)
		}
		cfg.Sim.Firmware = fw
	}
	for i, obj := range raw.Objects {
		if obj.Type == "" || protocol.CheckLabel(obj.Type) != nil {
			return simdConfig{}, fmt.Errorf("load mcsimd config: objects[%d] bad type %q", i, obj.Type)
		}
		cfg.Sim.Objects = append(cfg.Sim.Objects, mcsim.ObjectDecl{Type: obj.Type, ID: obj.ID, Label: obj.Label})
	}
	for _, b := range raw.Blobs {
		cfg.Blobs = append(cfg.Blobs, blobStage{Address: b.Address, Code: b.Code})
	}

	switch cfg.Network {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return simdConfig{}, fmt.Errorf("load mcsimd config: unsupported network %q", cfg.Network)
	}
	if cfg.Listen == "" {
		return simdConfig{}, fmt.Errorf("load mcsimd config: listen address required")
	}
	return cfg, nil
}
