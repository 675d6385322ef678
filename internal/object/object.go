// Package object implements the call shape every MC object type shares:
// open, close, create, destroy and get_api_version, parametrized by the
// type's opcodes. Type specific configuration calls go through Invoke.
package object

import (
	"errors"
	"fmt"
	"slices"

	"github.com/danmuck/mcportal/internal/mcerr"
	"github.com/danmuck/mcportal/internal/portal"
	"github.com/danmuck/mcportal/internal/protocol"
	"github.com/danmuck/mcportal/internal/session"
)

var ErrForeignOpcode = errors.New("object: opcode registered to another type")

// Kind binds an object type name to its opcodes. Close is the shared
// close opcode for every type.
type Kind struct {
	Type          string
	Open          protocol.Opcode
	Create        protocol.Opcode
	Destroy       protocol.Opcode
	GetAPIVersion protocol.Opcode
}

// Validate checks that every opcode is registered to the type with the
// shape the driver will send.
func (k Kind) Validate() error {
	checks := []struct {
		op    protocol.Opcode
		shape protocol.Shape
	}{
		{k.Open, protocol.ShapeOpen},
		{k.Create, protocol.ShapeCreateObject},
		{k.Destroy, protocol.ShapeDestroyObject},
		{k.GetAPIVersion, protocol.ShapeAPIVersion},
	}
	if err := protocol.CheckLabel(k.Type); err != nil || k.Type == "" {
		return fmt.Errorf("object: invalid type %q", k.Type)
	}
	owned := protocol.ObjectOpcodes(k.Type)
	for _, c := range checks {
		spec, ok := protocol.Lookup(c.op)
		if !ok {
			return fmt.Errorf("object: %s: %w: %s", k.Type, protocol.ErrUnknownOpcode, c.op)
		}
		if spec.Shape != c.shape {
			return fmt.Errorf("object: %s: %w: %s", k.Type, protocol.ErrShapeMismatch, c.op)
		}
		if !slices.Contains(owned, c.op) {
			return fmt.Errorf("%w: %s is not a %s call", ErrForeignOpcode, c.op, k.Type)
		}
	}
	return nil
}

type Driver struct {
	kind   Kind
	portal *portal.Portal
}

// NewDriver returns a driver for kind on p. It panics when kind is
// inconsistent with the opcode table.
func NewDriver(kind Kind, p *portal.Portal) *Driver {
	if err := kind.Validate(); err != nil {
		panic(err)
	}
	return &Driver{kind: kind, portal: p}
}

// Open starts a session on object id.
func (d *Driver) Open(id uint32) (session.Handle, error) {
	return d.portal.Open(protocol.Open{Code: d.kind.Open, ID: id}, session.Scope{Type: d.kind.Type, ID: id})
}

func (d *Driver) Close(h session.Handle) error {
	return d.portal.Close(h)
}

// Create makes a new object inside the container behind container and
// returns its id.
func (d *Driver) Create(container session.Handle) (uint32, error) {
	scope, _ := d.portal.Sessions().Scope(container)
	var out protocol.ObjectID
	if err := d.portal.Invoke(container, protocol.CreateObject{Code: d.kind.Create}, &out); err != nil {
		return 0, err
	}
	d.portal.Sessions().Place(d.kind.Type, out.ID, scope.ID)
	return out.ID, nil
}

// Destroy releases object id back to the container behind container.
// Sessions still open on the object become stale.
func (d *Driver) Destroy(container session.Handle, id uint32) error {
	if err := d.portal.Invoke(container, protocol.DestroyObject{Code: d.kind.Destroy, ObjectID: id}, nil); err != nil {
		return mcerr.WithID(err, id)
	}
	d.portal.Sessions().Forget(d.kind.Type, id)
	return nil
}

// GetAPIVersion needs no session and is safe to call at any time.
func (d *Driver) GetAPIVersion() (protocol.APIVersion, error) {
	var out protocol.APIVersion
	err := d.portal.Call(protocol.GetAPIVersion{Code: d.kind.GetAPIVersion}, &out)
	return out, err
}

// Invoke sends a type specific call on the object session h.
func (d *Driver) Invoke(h session.Handle, req protocol.Request, out protocol.Response) error {
	if scope, ok := d.portal.Sessions().Scope(h); ok && scope.Type != d.kind.Type {
		op := req.Opcode()
		return &mcerr.CallError{
			Op:     op.String(),
			Opcode: op,
			Err:    fmt.Errorf("%w: %s session used for %s", mcerr.ErrInvalidArgument, scope, d.kind.Type),
		}
	}
	return d.portal.Invoke(h, req, out)
}
