// Package mcsim simulates the MC firmware behind one or more portals.
//
// The model covers what the portal client exercises: a container tree
// with ICID and portal pools, objects by type, endpoint connections,
// per-portal token namespaces and staged parser blobs. It is used as the
// transport in tests and behind the mcsimd daemon.
package mcsim

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/mcportal/internal/protocol"
)

var (
	ErrUnknownContainer = errors.New("mcsim: unknown container")
	ErrObjectExists     = errors.New("mcsim: object already exists")
	ErrPortalDetached   = errors.New("mcsim: portal detached")
)

// Container option bits, as carried on the wire.
const (
	optSpawn        uint32 = 0x01
	optAlloc        uint32 = 0x02
	optObjectCreate uint32 = 0x04
	optTopology     uint32 = 0x08

	icidFromPool   uint16 = 0xffff
	portalFromPool uint32 = 0xffffffff

	// PortalStride is the size of one portal's register window.
	PortalStride uint64 = 0x10000
)

// ObjectDecl is an object present at boot, e.g. a MAC declared in a
// static boot descriptor.
type ObjectDecl struct {
	Type  string `toml:"type"`
	ID    uint32 `toml:"id"`
	Label string `toml:"label"`
}

type Config struct {
	RootID      uint32
	RootLabel   string
	RootICID    uint16
	RootPortal  uint32
	RootOptions uint32
	ICIDs       []uint16
	Portals     []uint32
	Objects     []ObjectDecl

	Firmware protocol.FirmwareVersion
	// APIVersions per object type; types not listed report 1.0.
	APIVersions map[string]protocol.APIVersion
	// Seed makes token issue deterministic; zero seeds from the clock.
	Seed   int64
	Logger zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		RootID:      1,
		RootLabel:   "root",
		RootOptions: optSpawn | optAlloc | optObjectCreate | optTopology,
		ICIDs:       []uint16{10, 11, 12, 13, 14, 15, 16, 17},
		Portals:     []uint32{2, 3, 4, 5, 6, 7, 8, 9},
		Firmware:    protocol.FirmwareVersion{Revision: 0, Major: 10, Minor: 28},
		APIVersions: map[string]protocol.APIVersion{
			"dprc":      {Major: 6, Minor: 6},
			"dpsparser": {Major: 1, Minor: 0},
		},
		Logger: zerolog.Nop(),
	}
}

type objKey struct {
	Type string
	ID   uint32
}

func (k objKey) String() string { return fmt.Sprintf("%s.%d", k.Type, k.ID) }

type object struct {
	key       objKey
	label     string
	container *container
}

type container struct {
	id       uint32
	label    string
	options  uint32
	parent   *container
	icid     uint16
	portalID uint32
	// Pools the identifiers were drawn from; nil for the root.
	icidFrom   *container
	portalFrom *container

	icids    []uint16
	portals  []uint32
	children map[uint32]*container
	objects  map[objKey]*object
}

func (c *container) has(opt uint32) bool { return c.options&opt != 0 }

// within reports whether c is anc or one of its descendants.
func (c *container) within(anc *container) bool {
	for cur := c; cur != nil; cur = cur.parent {
		if cur == anc {
			return true
		}
	}
	return false
}

type link struct {
	peer          protocol.Endpoint
	state         int32
	maxRate       uint32
	committedRate uint32
}

type Sim struct {
	mu     sync.Mutex
	cfg    Config
	logger zerolog.Logger
	rng    *rand.Rand

	root       *container
	containers map[uint32]*container
	nextID     uint32
	objects    map[objKey]*object
	links      map[protocol.Endpoint]link
	blobs      map[uint64]uint16
	portals    []*Portal
	stats      map[protocol.Opcode]uint64
}

// New builds a simulator holding the root container and the objects
// declared in cfg. Declaring the same object twice is an error. Duplicate
// pool identifiers are kept once.
func New(cfg Config) (*Sim, error) {
	if cfg.RootID == 0 {
		cfg.RootID = 1
	}
	if cfg.APIVersions == nil {
		cfg.APIVersions = map[string]protocol.APIVersion{}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	root := &container{
		id:       cfg.RootID,
		label:    cfg.RootLabel,
		options:  cfg.RootOptions,
		icid:     cfg.RootICID,
		portalID: cfg.RootPortal,
		icids:    sortedICIDs(cfg.ICIDs),
		portals:  sortedPortals(cfg.Portals),
		children: map[uint32]*container{},
		objects:  map[objKey]*object{},
	}
	s := &Sim{
		cfg:        cfg,
		logger:     cfg.Logger,
		rng:        rand.New(rand.NewSource(seed)),
		root:       root,
		containers: map[uint32]*container{root.id: root},
		nextID:     root.id + 1,
		objects:    map[objKey]*object{},
		links:      map[protocol.Endpoint]link{},
		blobs:      map[uint64]uint16{},
		stats:      map[protocol.Opcode]uint64{},
	}
	for _, decl := range cfg.Objects {
		if err := s.declare(root, decl); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// RootID is the id of the root container.
func (s *Sim) RootID() uint32 { return s.root.id }

// DeclareObject places an object inside a container without going
// through create, the way static boot descriptors do.
func (s *Sim) DeclareObject(containerID uint32, decl ObjectDecl) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[containerID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownContainer, containerID)
	}
	return s.declare(c, decl)
}

func (s *Sim) declare(c *container, decl ObjectDecl) error {
	key := objKey{Type: decl.Type, ID: decl.ID}
	if _, dup := s.objects[key]; dup {
		return fmt.Errorf("%w: %s", ErrObjectExists, key)
	}
	obj := &object{key: key, label: decl.Label, container: c}
	s.objects[key] = obj
	c.objects[key] = obj
	return nil
}

// StageBlob makes a parser blob available at addr. code is what the
// soft parser reports when the blob is applied.
func (s *Sim) StageBlob(addr uint64, code uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[addr] = code
}

// Attach opens a portal owned by container id. Every portal has its own
// token namespace.
func (s *Sim) Attach(containerID uint32) (*Portal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[containerID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownContainer, containerID)
	}
	p := &Portal{sim: s, owner: c, sessions: map[uint16]scope{}}
	s.portals = append(s.portals, p)
	return p, nil
}

// Detach drops a portal and every session issued through it.
func (s *Sim) Detach(p *Portal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detach(p)
}

func (s *Sim) detach(p *Portal) {
	p.owner = nil
	clear(p.sessions)
	for i, cur := range s.portals {
		if cur == p {
			s.portals = append(s.portals[:i], s.portals[i+1:]...)
			return
		}
	}
}

// CommandCount reports how many commands with opcode op were executed.
func (s *Sim) CommandCount(op protocol.Opcode) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats[op]
}

func sortedICIDs(in []uint16) []uint16 {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

func sortedPortals(in []uint32) []uint32 {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
