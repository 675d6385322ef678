package config

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// Topology is the container tree as discovered through the portal,
// written out at hand-off for the next boot stage.
type Topology struct {
	Firmware string        `toml:"firmware"`
	Root     ContainerNode `toml:"root"`
}

type ContainerNode struct {
	ID          uint32           `toml:"id"`
	Label       string           `toml:"label"`
	ICID        uint16           `toml:"icid"`
	PortalID    int32            `toml:"portal_id"`
	Options     []string         `toml:"options"`
	Objects     []ObjectNode     `toml:"objects,omitempty"`
	Connections []ConnectionNode `toml:"connections,omitempty"`
	Children    []ContainerNode  `toml:"children,omitempty"`
}

type ObjectNode struct {
	Type    string `toml:"type"`
	ID      uint32 `toml:"id"`
	Label   string `toml:"label,omitempty"`
	Version string `toml:"version"`
}

type ConnectionNode struct {
	Endpoint string `toml:"endpoint"`
	Peer     string `toml:"peer"`
	State    string `toml:"state"`
}

func MarshalTopology(t Topology) ([]byte, error) {
	out, err := toml.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("topology marshal failed: %w", err)
	}
	return out, nil
}

func UnmarshalTopology(data []byte) (Topology, error) {
	var t Topology
	if err := toml.Unmarshal(data, &t); err != nil {
		return Topology{}, fmt.Errorf("topology parse failed: %w", err)
	}
	return t, nil
}
