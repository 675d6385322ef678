package mcsim

import (
	"cmp"
	"slices"
	"strings"

	"github.com/danmuck/mcportal/internal/protocol"
)

const containerType = "dprc"

// blobInvalidAddress is what the soft parser reports for an address with
// nothing staged.
const blobInvalidAddress uint16 = 1

func (s *Sim) execute(p *Portal, cmd protocol.Command) protocol.Command {
	req, err := protocol.DecodeRequest(cmd)
	if err != nil {
		return protocol.Respond(cmd, protocol.StatusUnsupportedOp, 0, nil)
	}
	token := cmd.Header.Token
	fail := func(status protocol.Status) protocol.Command {
		return protocol.Respond(cmd, status, token, nil)
	}
	ok := func(out protocol.Response) protocol.Command {
		return protocol.Respond(cmd, protocol.StatusOK, token, out)
	}

	switch r := req.(type) {
	case protocol.Close:
		if _, found := p.sessions[token]; !found {
			return fail(protocol.StatusAuthError)
		}
		delete(p.sessions, token)
		return ok(nil)

	case protocol.Open:
		sc, status := s.resolveOpen(p, r)
		if status != protocol.StatusOK {
			return fail(status)
		}
		return protocol.Respond(cmd, protocol.StatusOK, p.issue(sc), nil)

	case protocol.GetAPIVersion:
		return ok(s.apiVersion(objectOf(r.Code)))

	case protocol.GetContainerID:
		return ok(&protocol.ContainerID{ID: p.owner.id})

	case protocol.GetFirmwareVersion:
		fw := s.cfg.Firmware
		return ok(&fw)

	case protocol.CreateContainer:
		parent, status := p.containerSession(token)
		if status != protocol.StatusOK {
			return fail(status)
		}
		out, status := s.createContainer(parent, r)
		if status != protocol.StatusOK {
			return fail(status)
		}
		return ok(out)

	case protocol.DestroyContainer:
		parent, status := p.containerSession(token)
		if status != protocol.StatusOK {
			return fail(status)
		}
		child, found := parent.children[r.ChildID]
		if !found {
			return fail(protocol.StatusConfigError)
		}
		s.destroyContainer(child)
		return ok(nil)

	case protocol.ResetContainer:
		parent, status := p.containerSession(token)
		if status != protocol.StatusOK {
			return fail(status)
		}
		child, found := parent.children[r.ChildID]
		if !found {
			return fail(protocol.StatusConfigError)
		}
		s.emptyContainer(child)
		return ok(nil)

	case protocol.GetAttributes:
		c, status := p.containerSession(token)
		if status != protocol.StatusOK {
			return fail(status)
		}
		return ok(&protocol.Attributes{
			ContainerID: c.id,
			ICID:        c.icid,
			Options:     c.options,
			PortalID:    c.portalID,
		})

	case protocol.GetObjectCount:
		c, status := p.containerSession(token)
		if status != protocol.StatusOK {
			return fail(status)
		}
		return ok(&protocol.ObjectCount{Count: uint32(len(s.listing(c)))})

	case protocol.GetObject:
		c, status := p.containerSession(token)
		if status != protocol.StatusOK {
			return fail(status)
		}
		list := s.listing(c)
		if int(r.Index) >= len(list) {
			return fail(protocol.StatusConfigError)
		}
		desc := list[r.Index]
		return ok(&desc)

	case protocol.GetResourceCount:
		c, status := p.containerSession(token)
		if status != protocol.StatusOK {
			return fail(status)
		}
		switch r.Type {
		case "icid":
			return ok(&protocol.ResourceCount{Count: uint32(len(c.icids))})
		case "mcp":
			return ok(&protocol.ResourceCount{Count: uint32(len(c.portals))})
		default:
			return fail(protocol.StatusConfigError)
		}

	case protocol.Connect:
		c, status := p.containerSession(token)
		if status != protocol.StatusOK {
			return fail(status)
		}
		return protocol.Respond(cmd, s.connect(c, r), token, nil)

	case protocol.Disconnect:
		c, status := p.containerSession(token)
		if status != protocol.StatusOK {
			return fail(status)
		}
		if !c.has(optTopology) {
			return fail(protocol.StatusNoPrivilege)
		}
		s.unlink(r.Endpoint)
		return ok(nil)

	case protocol.GetConnection:
		if _, status := p.containerSession(token); status != protocol.StatusOK {
			return fail(status)
		}
		l, found := s.links[r.Endpoint]
		if !found {
			return ok(&protocol.ConnectionState{State: protocol.LinkNone})
		}
		return ok(&protocol.ConnectionState{Peer: l.peer, State: l.state})

	case protocol.CreateObject:
		c, status := p.containerSession(token)
		if status != protocol.StatusOK {
			return fail(status)
		}
		if !c.has(optObjectCreate) {
			return fail(protocol.StatusNoPrivilege)
		}
		objType := objectOf(r.Code)
		id := s.freeObjectID(objType)
		if err := s.declare(c, ObjectDecl{Type: objType, ID: id}); err != nil {
			s.logger.Error().Err(err).Msg("object id allocator handed out a live id")
			return fail(protocol.StatusInvalidState)
		}
		return ok(&protocol.ObjectID{ID: id})

	case protocol.DestroyObject:
		c, status := p.containerSession(token)
		if status != protocol.StatusOK {
			return fail(status)
		}
		obj, found := c.objects[objKey{Type: objectOf(r.Code), ID: r.ObjectID}]
		if !found {
			return fail(protocol.StatusConfigError)
		}
		s.removeObject(obj)
		return ok(nil)

	case protocol.ApplyBlob:
		if _, status := p.objectSession(token, objectOf(r.Opcode())); status != protocol.StatusOK {
			return fail(status)
		}
		code, staged := s.blobs[r.Address]
		if !staged {
			code = blobInvalidAddress
		}
		return ok(&protocol.BlobReport{Error: code})
	}
	return fail(protocol.StatusUnsupportedOp)
}

func objectOf(op protocol.Opcode) string {
	spec, _ := protocol.Lookup(op)
	return spec.Object
}

func (s *Sim) apiVersion(objType string) *protocol.APIVersion {
	v, found := s.cfg.APIVersions[objType]
	if !found {
		v = protocol.APIVersion{Major: 1, Minor: 0}
	}
	return &v
}

func (s *Sim) resolveOpen(p *Portal, r protocol.Open) (scope, protocol.Status) {
	objType := objectOf(r.Code)
	if objType == containerType {
		c, found := s.containers[r.ID]
		if !found {
			return scope{}, protocol.StatusConfigError
		}
		if !c.within(p.owner) {
			return scope{}, protocol.StatusNoPrivilege
		}
		return scope{container: c}, protocol.StatusOK
	}
	obj, found := s.objects[objKey{Type: objType, ID: r.ID}]
	if !found {
		return scope{}, protocol.StatusConfigError
	}
	if !obj.container.within(p.owner) {
		return scope{}, protocol.StatusNoPrivilege
	}
	return scope{obj: obj}, protocol.StatusOK
}

func (s *Sim) createContainer(parent *container, r protocol.CreateContainer) (*protocol.CreateContainerResult, protocol.Status) {
	if !parent.has(optSpawn) {
		return nil, protocol.StatusNoPrivilege
	}
	icid, icidFrom, found := allocate(parent, r.ICID, icidFromPool, icidPool)
	if !found {
		return nil, protocol.StatusNoResource
	}
	portalID, portalFrom, found := allocate(parent, r.PortalID, portalFromPool, portalPool)
	if !found {
		give(icidPool(icidFrom), icid)
		return nil, protocol.StatusNoResource
	}

	child := &container{
		id:         s.nextID,
		label:      strings.TrimRight(r.Label, "\x00"),
		options:    r.Options,
		parent:     parent,
		icid:       icid,
		portalID:   portalID,
		icidFrom:   icidFrom,
		portalFrom: portalFrom,
		children:   map[uint32]*container{},
		objects:    map[objKey]*object{},
	}
	s.nextID++
	parent.children[child.id] = child
	s.containers[child.id] = child
	return &protocol.CreateContainerResult{
		ChildID:      child.id,
		PortalOffset: uint64(portalID) * PortalStride,
	}, protocol.StatusOK
}

// destroyContainer removes c and everything beneath it, returning its
// identifiers to the pools they came from.
func (s *Sim) destroyContainer(c *container) {
	s.emptyContainer(c)
	if c.icidFrom != nil {
		give(icidPool(c.icidFrom), c.icid)
	}
	if c.portalFrom != nil {
		give(portalPool(c.portalFrom), c.portalID)
	}
	delete(c.parent.children, c.id)
	delete(s.containers, c.id)

	for _, p := range slices.Clone(s.portals) {
		for token, sc := range p.sessions {
			if sc.container == c {
				delete(p.sessions, token)
			}
		}
		if p.owner == c {
			s.detach(p)
		}
	}
}

// emptyContainer destroys every child and object of c, keeping c.
func (s *Sim) emptyContainer(c *container) {
	for _, child := range c.children {
		s.destroyContainer(child)
	}
	for _, obj := range c.objects {
		s.removeObject(obj)
	}
}

func (s *Sim) removeObject(obj *object) {
	for ep := range s.links {
		if ep.Type == obj.key.Type && ep.ID == obj.key.ID {
			s.unlink(ep)
		}
	}
	delete(obj.container.objects, obj.key)
	delete(s.objects, obj.key)
	for _, p := range s.portals {
		for token, sc := range p.sessions {
			if sc.obj == obj {
				delete(p.sessions, token)
			}
		}
	}
}

func (s *Sim) freeObjectID(objType string) uint32 {
	for id := uint32(0); ; id++ {
		if _, taken := s.objects[objKey{Type: objType, ID: id}]; !taken {
			return id
		}
	}
}

func (s *Sim) connect(c *container, r protocol.Connect) protocol.Status {
	if !c.has(optTopology) {
		return protocol.StatusNoPrivilege
	}
	if r.Endpoint1 == r.Endpoint2 {
		return protocol.StatusConfigError
	}
	eps := []protocol.Endpoint{r.Endpoint1, r.Endpoint2}
	for _, ep := range eps {
		obj, found := s.objects[objKey{Type: ep.Type, ID: ep.ID}]
		if !found || !obj.container.within(c) {
			return protocol.StatusConfigError
		}
	}
	for _, ep := range eps {
		if _, busy := s.links[ep]; busy {
			return protocol.StatusBusy
		}
	}
	s.links[r.Endpoint1] = link{peer: r.Endpoint2, state: protocol.LinkUp, maxRate: r.MaxRate, committedRate: r.CommittedRate}
	s.links[r.Endpoint2] = link{peer: r.Endpoint1, state: protocol.LinkUp, maxRate: r.MaxRate, committedRate: r.CommittedRate}
	return protocol.StatusOK
}

func (s *Sim) unlink(ep protocol.Endpoint) {
	l, found := s.links[ep]
	if !found {
		return
	}
	delete(s.links, ep)
	delete(s.links, l.peer)
}

// listing is the discovery order of a container: child containers by
// id, then objects by type and id.
func (s *Sim) listing(c *container) []protocol.ObjectDesc {
	out := make([]protocol.ObjectDesc, 0, len(c.children)+len(c.objects))
	ids := make([]uint32, 0, len(c.children))
	for id := range c.children {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	dprcVersion := s.apiVersion(containerType)
	for _, id := range ids {
		out = append(out, protocol.ObjectDesc{
			Type:         containerType,
			ID:           id,
			Label:        c.children[id].label,
			VersionMajor: dprcVersion.Major,
			VersionMinor: dprcVersion.Minor,
		})
	}

	objs := make([]*object, 0, len(c.objects))
	for _, obj := range c.objects {
		objs = append(objs, obj)
	}
	slices.SortFunc(objs, func(a, b *object) int {
		if a.key.Type != b.key.Type {
			return strings.Compare(a.key.Type, b.key.Type)
		}
		return cmp.Compare(a.key.ID, b.key.ID)
	})
	for _, obj := range objs {
		v := s.apiVersion(obj.key.Type)
		out = append(out, protocol.ObjectDesc{
			Type:         obj.key.Type,
			ID:           obj.key.ID,
			Label:        obj.label,
			VersionMajor: v.Major,
			VersionMinor: v.Minor,
		})
	}
	return out
}
