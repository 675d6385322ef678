// Package dprc manages resource containers through an MC portal: session
// lifecycle, child containers and their identifier pools, discovery, and
// the connections between object endpoints.
package dprc

import (
	"errors"
	"fmt"

	"github.com/danmuck/mcportal/internal/mcerr"
	"github.com/danmuck/mcportal/internal/portal"
	"github.com/danmuck/mcportal/internal/protocol"
	"github.com/danmuck/mcportal/internal/session"
)

// Sentinels asking the firmware to draw from the parent's pool.
const (
	ICIDFromPool     uint16 = 0xffff
	PortalIDFromPool int32  = -1
)

// Options are the general option bits of a container.
type Options uint32

const (
	SpawnAllowed           Options = 0x01
	AllocAllowed           Options = 0x02
	ObjectCreateAllowed    Options = 0x04
	TopologyChangesAllowed Options = 0x08
	IOMMUBypass            Options = 0x10
	AIOP                   Options = 0x20
	IRQConfigAllowed       Options = 0x40
)

func (o Options) Has(bits Options) bool { return o&bits == bits }

// Config describes a child container.
type Config struct {
	ICID     uint16
	PortalID int32
	Options  Options
	Label    string
}

// PoolConfig returns a config drawing both identifiers from the parent.
func PoolConfig(options Options, label string) Config {
	return Config{
		ICID:     ICIDFromPool,
		PortalID: PortalIDFromPool,
		Options:  options,
		Label:    label,
	}
}

// Child is a freshly created container.
type Child struct {
	ID           uint32
	PortalOffset uint64
}

type Attributes struct {
	ID       uint32
	ICID     uint16
	PortalID int32
	Options  Options
}

type Client struct {
	portal *portal.Portal
}

func New(p *portal.Portal) *Client {
	return &Client{portal: p}
}

func (c *Client) Portal() *portal.Portal { return c.portal }

// GetContainerID returns the container owning the portal.
func (c *Client) GetContainerID() (uint32, error) {
	var out protocol.ContainerID
	if err := c.portal.Call(protocol.GetContainerID{}, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

func (c *Client) GetAPIVersion() (protocol.APIVersion, error) {
	var out protocol.APIVersion
	err := c.portal.Call(protocol.GetAPIVersion{Code: protocol.OpDPRCGetAPIVersion}, &out)
	return out, err
}

// Open starts a new session on an existing container.
func (c *Client) Open(id uint32) (session.Handle, error) {
	return c.portal.Open(protocol.Open{Code: protocol.OpDPRCOpen, ID: id}, session.Container(id))
}

func (c *Client) Close(h session.Handle) error {
	return c.portal.Close(h)
}

// CreateContainer creates a child of the container behind parent.
func (c *Client) CreateContainer(parent session.Handle, cfg Config) (Child, error) {
	if err := protocol.CheckLabel(cfg.Label); err != nil {
		return Child{}, invalid(protocol.OpDPRCCreateContainer, err)
	}
	scope, _ := c.portal.Sessions().Scope(parent)

	var out protocol.CreateContainerResult
	req := protocol.CreateContainer{
		Options:  uint32(cfg.Options),
		ICID:     cfg.ICID,
		PortalID: uint32(cfg.PortalID),
		Label:    cfg.Label,
	}
	if err := c.portal.Invoke(parent, req, &out); err != nil {
		return Child{}, err
	}
	c.portal.Sessions().Bind(out.ChildID, scope.ID)
	return Child{ID: out.ChildID, PortalOffset: out.PortalOffset}, nil
}

// DestroyContainer destroys a child of the container behind parent. Any
// local handle on the child, on its descendants or on objects inside
// them is stale afterwards.
func (c *Client) DestroyContainer(parent session.Handle, childID uint32) error {
	c.locateOpenObjects(childID)
	if err := c.portal.Invoke(parent, protocol.DestroyContainer{ChildID: childID}, nil); err != nil {
		return mcerr.WithID(err, childID)
	}
	n := c.portal.Sessions().InvalidateContainer(childID)
	logger := c.portal.Logger()
	logger.Debug().Uint32("child", childID).Int("handles_dropped", n).Msg("container destroyed")
	return nil
}

// ResetContainer destroys everything inside a child but keeps the child.
func (c *Client) ResetContainer(parent session.Handle, childID uint32) error {
	c.locateOpenObjects(childID)
	if err := c.portal.Invoke(parent, protocol.ResetContainer{ChildID: childID}, nil); err != nil {
		return mcerr.WithID(err, childID)
	}
	c.portal.Sessions().InvalidateContents(childID)
	return nil
}

// locateOpenObjects records where the objects below container id live
// when some open object session has no known container, so that the
// invalidation after destroy or reset reaches it.
func (c *Client) locateOpenObjects(id uint32) {
	if !c.portal.Sessions().HasUnplaced() {
		return
	}
	if err := c.placeContents(id); err != nil {
		logger := c.portal.Logger()
		logger.Warn().Err(err).Uint32("container", id).Msg("container listing failed; open object handles may outlive it")
	}
}

func (c *Client) placeContents(id uint32) (err error) {
	h, err := c.Open(id)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, c.Close(h))
	}()

	objs, err := c.Objects(h)
	if err != nil {
		return err
	}
	sessions := c.portal.Sessions()
	for _, obj := range objs {
		if obj.Type != session.ContainerType {
			sessions.Place(obj.Type, obj.ID, id)
			continue
		}
		sessions.Bind(obj.ID, id)
		if err := c.placeContents(obj.ID); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) GetAttributes(h session.Handle) (Attributes, error) {
	var out protocol.Attributes
	if err := c.portal.Invoke(h, protocol.GetAttributes{}, &out); err != nil {
		return Attributes{}, err
	}
	return Attributes{
		ID:       out.ContainerID,
		ICID:     out.ICID,
		PortalID: int32(out.PortalID),
		Options:  Options(out.Options),
	}, nil
}

func (c *Client) GetObjectCount(h session.Handle) (int, error) {
	var out protocol.ObjectCount
	if err := c.portal.Invoke(h, protocol.GetObjectCount{}, &out); err != nil {
		return 0, err
	}
	return int(out.Count), nil
}

// GetObject describes the index-th object of the container. Child
// containers are listed as objects of type "dprc".
func (c *Client) GetObject(h session.Handle, index int) (protocol.ObjectDesc, error) {
	var out protocol.ObjectDesc
	err := c.portal.Invoke(h, protocol.GetObject{Index: uint32(index)}, &out)
	return out, err
}

// Objects lists every object of the container.
func (c *Client) Objects(h session.Handle) ([]protocol.ObjectDesc, error) {
	n, err := c.GetObjectCount(h)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.ObjectDesc, 0, n)
	for i := 0; i < n; i++ {
		desc, err := c.GetObject(h, i)
		if err != nil {
			return nil, fmt.Errorf("dprc: object %d of %d: %w", i, n, err)
		}
		out = append(out, desc)
	}
	return out, nil
}

// Resource types counted by GetResourceCount.
const (
	ResourceICID   = "icid"
	ResourcePortal = "mcp"
)

// GetResourceCount returns how many identifiers of resType are free in
// the container's pool.
func (c *Client) GetResourceCount(h session.Handle, resType string) (int, error) {
	if err := protocol.CheckLabel(resType); err != nil {
		return 0, invalid(protocol.OpDPRCGetResourceCount, err)
	}
	var out protocol.ResourceCount
	if err := c.portal.Invoke(h, protocol.GetResourceCount{Type: resType}, &out); err != nil {
		return 0, err
	}
	return int(out.Count), nil
}

func invalid(op protocol.Opcode, err error) error {
	return &mcerr.CallError{Op: op.String(), Opcode: op, Err: fmt.Errorf("%w: %w", mcerr.ErrInvalidArgument, err)}
}
