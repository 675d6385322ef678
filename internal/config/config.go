package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/mcportal/internal/protocol"
)

// Layout is a boot layout: the containers, objects and connections the
// boot flow sets up through the portal before hand-off.
type Layout struct {
	Name        string             `toml:"name"`
	Containers  []ContainerLayout  `toml:"containers"`
	Objects     []ObjectLayout     `toml:"objects"`
	Connections []ConnectionLayout `toml:"connections"`
	Handoff     HandoffLayout      `toml:"handoff"`
}

// ContainerLayout is one child container. Parent names an earlier
// container; empty means the root. Unset ICID or PortalID draw from the
// parent's pool.
type ContainerLayout struct {
	Name     string   `toml:"name"`
	Parent   string   `toml:"parent"`
	ICID     *uint16  `toml:"icid"`
	PortalID *uint32  `toml:"portal_id"`
	Options  []string `toml:"options"`
}

// ObjectLayout is one object created inside a container and configured
// with the listed blobs.
type ObjectLayout struct {
	Name      string   `toml:"name"`
	Type      string   `toml:"type"`
	Container string   `toml:"container"`
	Blobs     []uint64 `toml:"blobs"`
}

// ConnectionLayout links two endpoints written as "type.id" or
// "type.id:interface".
type ConnectionLayout struct {
	Endpoint1     string `toml:"endpoint1"`
	Endpoint2     string `toml:"endpoint2"`
	CommittedRate uint32 `toml:"committed_rate"`
	MaxRate       uint32 `toml:"max_rate"`
}

type HandoffLayout struct {
	// Destroy lists containers torn down before hand-off.
	Destroy []string `toml:"destroy"`
	// KeepRootOpen leaves the root session open for the next stage.
	KeepRootOpen bool `toml:"keep_root_open"`
}

func LoadLayout(path string) (Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	layout, err := ParseLayout(data)
	if err != nil {
		return Layout{}, fmt.Errorf("%s: %w", path, err)
	}
	return layout, nil
}

// ParseLayout decodes and validates a layout document.
func ParseLayout(data []byte) (Layout, error) {
	var layout Layout
	if err := toml.Unmarshal(data, &layout); err != nil {
		return Layout{}, fmt.Errorf("layout parse failed: %w", err)
	}
	if err := ValidateLayout(layout); err != nil {
		return Layout{}, fmt.Errorf("layout invalid: %w", err)
	}
	return layout, nil
}

func ValidateLayout(layout Layout) error {
	names := map[string]bool{"": true}
	for i, c := range layout.Containers {
		name := c.Name
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("containers[%d] missing name", i)
		}
		if err := protocol.CheckLabel(name); err != nil {
			return fmt.Errorf("containers[%d] name %q: %w", i, name, err)
		}
		if names[name] {
			return fmt.Errorf("containers[%d] duplicate name %q", i, name)
		}
		if !names[c.Parent] {
			return fmt.Errorf("containers[%d] parent %q is not declared before it", i, c.Parent)
		}
		names[name] = true
	}
	objects := map[string]bool{}
	for i, o := range layout.Objects {
		if strings.TrimSpace(o.Type) == "" {
			return fmt.Errorf("objects[%d] missing type", i)
		}
		if !names[o.Container] {
			return fmt.Errorf("objects[%d] unknown container %q", i, o.Container)
		}
		if o.Name != "" {
			if objects[o.Name] {
				return fmt.Errorf("objects[%d] duplicate name %q", i, o.Name)
			}
			objects[o.Name] = true
		}
	}
	for i, c := range layout.Connections {
		if _, err := ParseEndpoint(c.Endpoint1); err != nil {
			return fmt.Errorf("connections[%d] endpoint1: %w", i, err)
		}
		if _, err := ParseEndpoint(c.Endpoint2); err != nil {
			return fmt.Errorf("connections[%d] endpoint2: %w", i, err)
		}
	}
	for i, name := range layout.Handoff.Destroy {
		if name == "" || !names[name] {
			return fmt.Errorf("handoff.destroy[%d] unknown container %q", i, name)
		}
	}
	return nil
}

// ParseEndpoint reads "type.id" or "type.id:interface".
func ParseEndpoint(raw string) (protocol.Endpoint, error) {
	raw = strings.TrimSpace(raw)
	typ, rest, ok := strings.Cut(raw, ".")
	if !ok || typ == "" {
		return protocol.Endpoint{}, fmt.Errorf("endpoint %q: want type.id[:interface]", raw)
	}
	if err := protocol.CheckLabel(typ); err != nil {
		return protocol.Endpoint{}, fmt.Errorf("endpoint %q: %w", raw, err)
	}
	idPart, ifPart, hasIf := strings.Cut(rest, ":")
	id, err := strconv.ParseUint(idPart, 10, 32)
	if err != nil {
		return protocol.Endpoint{}, fmt.Errorf("endpoint %q: bad id: %w", raw, err)
	}
	ep := protocol.Endpoint{Type: typ, ID: uint32(id)}
	if hasIf {
		iface, err := strconv.ParseUint(ifPart, 10, 32)
		if err != nil {
			return protocol.Endpoint{}, fmt.Errorf("endpoint %q: bad interface: %w", raw, err)
		}
		ep.Interface = uint32(iface)
	}
	return ep, nil
}
