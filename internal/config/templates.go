package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindBoot   = "mcboot"
	KindSim    = "mcsimd"
	KindLayout = "layout"
)

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}

func Template(kind string) (string, error) {
	switch normalizeKind(kind) {
	case KindBoot:
		return bootTemplate, nil
	case KindSim:
		return simTemplate, nil
	case KindLayout:
		return layoutTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const bootTemplate = `network = "tcp"
address = "127.0.0.1:7070"
connect_timeout = "5s"
call_timeout = "2s"
connect_attempts = 10
redial_attempts = 3
layout = "layout.toml"
topology_out = "topology.toml"
priority = true
`

const simTemplate = `node = "mcsim"
network = "tcp"
listen = ":7070"
admin_addr = ":7071"
cors_origins = ["http://localhost:3000"]
idle_timeout = "5m"
seed = 0

root_id = 1
root_label = "root"
root_icid = 0
root_portal = 0
icids = [10, 11, 12, 13, 14, 15, 16, 17]
portals = [2, 3, 4, 5, 6, 7, 8, 9]
firmware = "10.28.0"

[[objects]]
type = "dpni"
id = 1
label = "eth0"

[[objects]]
type = "dpmac"
id = 3

[[blobs]]
address = 0x80000000
code = 0
`

const layoutTemplate = `name = "linux-boot"

[[containers]]
name = "linux"
options = ["spawn", "alloc", "objcreate"]

[[containers]]
name = "dpdk"
parent = "linux"
icid = 12
options = ["alloc"]

[[objects]]
name = "parser"
type = "dpsparser"
container = "linux"
blobs = [0x80000000]

[[connections]]
endpoint1 = "dpni.1"
endpoint2 = "dpmac.3"
committed_rate = 1000
max_rate = 10000

[handoff]
destroy = []
keep_root_open = false
`
