package mcsim

import (
	"fmt"
	"slices"
	"strings"

	"github.com/danmuck/mcportal/internal/protocol"
)

// ContainerInfo is the admin view of one container.
type ContainerInfo struct {
	ID          uint32   `json:"id"`
	Parent      uint32   `json:"parent,omitempty"`
	Label       string   `json:"label"`
	Options     uint32   `json:"options"`
	ICID        uint16   `json:"icid"`
	PortalID    uint32   `json:"portal_id"`
	FreeICIDs   []uint16 `json:"free_icids"`
	FreePortals []uint32 `json:"free_portals"`
	Children    []uint32 `json:"children"`
	Objects     []string `json:"objects"`
}

// LinkInfo is the admin view of one connection, listed once per pair.
type LinkInfo struct {
	Endpoint1     string `json:"endpoint1"`
	Endpoint2     string `json:"endpoint2"`
	State         int32  `json:"state"`
	MaxRate       uint32 `json:"max_rate"`
	CommittedRate uint32 `json:"committed_rate"`
}

type Snapshot struct {
	Containers  []ContainerInfo `json:"containers"`
	Connections []LinkInfo      `json:"connections"`
	Portals     int             `json:"portals"`
}

// FreeICIDs returns the free ICIDs in a container's pool, ascending.
func (s *Sim) FreeICIDs(containerID uint32) ([]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[containerID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownContainer, containerID)
	}
	return slices.Clone(c.icids), nil
}

// FreePortals returns the free portal ids in a container's pool,
// ascending.
func (s *Sim) FreePortals(containerID uint32) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[containerID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownContainer, containerID)
	}
	return slices.Clone(c.portals), nil
}

// Container returns the admin view of one container.
func (s *Sim) Container(id uint32) (ContainerInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[id]
	if !ok {
		return ContainerInfo{}, false
	}
	return s.info(c), true
}

func (s *Sim) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint32, 0, len(s.containers))
	for id := range s.containers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := Snapshot{
		Containers:  make([]ContainerInfo, 0, len(ids)),
		Connections: s.linkInfo(),
		Portals:     len(s.portals),
	}
	for _, id := range ids {
		out.Containers = append(out.Containers, s.info(s.containers[id]))
	}
	return out
}

func (s *Sim) info(c *container) ContainerInfo {
	info := ContainerInfo{
		ID:          c.id,
		Label:       c.label,
		Options:     c.options,
		ICID:        c.icid,
		PortalID:    c.portalID,
		FreeICIDs:   slices.Clone(c.icids),
		FreePortals: slices.Clone(c.portals),
		Children:    make([]uint32, 0, len(c.children)),
		Objects:     make([]string, 0, len(c.objects)),
	}
	if c.parent != nil {
		info.Parent = c.parent.id
	}
	for id := range c.children {
		info.Children = append(info.Children, id)
	}
	slices.Sort(info.Children)
	for key := range c.objects {
		info.Objects = append(info.Objects, key.String())
	}
	slices.Sort(info.Objects)
	return info
}

func (s *Sim) linkInfo() []LinkInfo {
	out := make([]LinkInfo, 0, len(s.links)/2)
	for ep, l := range s.links {
		if endpointLess(l.peer, ep) {
			continue
		}
		out = append(out, LinkInfo{
			Endpoint1:     ep.String(),
			Endpoint2:     l.peer.String(),
			State:         l.state,
			MaxRate:       l.maxRate,
			CommittedRate: l.committedRate,
		})
	}
	slices.SortFunc(out, func(a, b LinkInfo) int { return strings.Compare(a.Endpoint1, b.Endpoint1) })
	return out
}

func endpointLess(a, b protocol.Endpoint) bool {
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.Interface < b.Interface
}
