package mcsim

import (
	"time"

	"github.com/danmuck/mcportal/internal/observability"
	"github.com/danmuck/mcportal/internal/protocol"
)

// scope is what a token was issued for: a container or an object.
type scope struct {
	container *container
	obj       *object
}

// Portal is one simulated MC portal. It satisfies the portal client's
// Transport interface.
type Portal struct {
	sim      *Sim
	owner    *container
	sessions map[uint16]scope
}

// ContainerID is the container owning the portal, zero once detached.
func (p *Portal) ContainerID() uint32 {
	p.sim.mu.Lock()
	defer p.sim.mu.Unlock()
	if p.owner == nil {
		return 0
	}
	return p.owner.id
}

// Sessions reports how many tokens are open on the portal.
func (p *Portal) Sessions() int {
	p.sim.mu.Lock()
	defer p.sim.mu.Unlock()
	return len(p.sessions)
}

func (p *Portal) Send(cmd protocol.Command) (protocol.Command, error) {
	s := p.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.owner == nil {
		return protocol.Command{}, ErrPortalDetached
	}

	start := time.Now()
	rsp := s.execute(p, cmd)
	op := cmd.Header.Opcode
	s.stats[op]++
	observability.RecordSimCommand(op.String(), rsp.Header.Status.String())
	s.logger.Debug().
		Str("op", op.String()).
		Uint32("portal_container", p.owner.id).
		Uint16("token", cmd.Header.Token).
		Str("status", rsp.Header.Status.String()).
		Dur("duration", time.Since(start)).
		Msg("mcsim command")
	return rsp, nil
}

func (p *Portal) issue(sc scope) uint16 {
	for {
		token := uint16(p.sim.rng.Intn(0xffff)) + 1
		if _, taken := p.sessions[token]; !taken {
			p.sessions[token] = sc
			return token
		}
	}
}

func (p *Portal) containerSession(token uint16) (*container, protocol.Status) {
	sc, ok := p.sessions[token]
	if !ok {
		return nil, protocol.StatusAuthError
	}
	if sc.container == nil {
		return nil, protocol.StatusInvalidState
	}
	return sc.container, protocol.StatusOK
}

func (p *Portal) objectSession(token uint16, objType string) (*object, protocol.Status) {
	sc, ok := p.sessions[token]
	if !ok {
		return nil, protocol.StatusAuthError
	}
	if sc.obj == nil || sc.obj.key.Type != objType {
		return nil, protocol.StatusInvalidState
	}
	return sc.obj, protocol.StatusOK
}
