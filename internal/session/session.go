// Package session tracks the tokens a portal has been issued.
//
// The firmware hands out a 16-bit token per open session. Callers never
// see tokens directly: they hold a Handle, and every call resolves it
// through RequireValid first. Handles are never reused, so a handle that
// was closed, destroyed or invalidated stays stale even if the firmware
// later issues the same token value again.
//
// A Table is owned by one portal and is not safe for concurrent use.
package session

import (
	"fmt"

	"github.com/danmuck/mcportal/internal/mcerr"
)

// ContainerType is the object type of resource containers.
const ContainerType = "dprc"

// Handle is an opaque reference to a registered token. The zero Handle
// is never valid.
type Handle uint64

func (h Handle) String() string { return fmt.Sprintf("handle#%d", uint64(h)) }

// Scope names what a session is opened on.
type Scope struct {
	Type string
	ID   uint32
}

func (s Scope) IsContainer() bool { return s.Type == ContainerType }

func (s Scope) String() string { return fmt.Sprintf("%s.%d", s.Type, s.ID) }

// Container returns the scope of container id.
func Container(id uint32) Scope { return Scope{Type: ContainerType, ID: id} }

type entry struct {
	token uint16
	scope Scope
}

type Table struct {
	next    Handle
	live    map[Handle]entry
	parents map[uint32]uint32
	placed  map[Scope]uint32
}

func NewTable() *Table {
	return &Table{
		live:    make(map[Handle]entry),
		parents: make(map[uint32]uint32),
		placed:  make(map[Scope]uint32),
	}
}

// Register records a token issued by the firmware for scope.
func (t *Table) Register(token uint16, scope Scope) Handle {
	t.next++
	t.live[t.next] = entry{token: token, scope: scope}
	return t.next
}

// Invalidate makes h stale. Unknown or already stale handles are ignored.
func (t *Table) Invalidate(h Handle) {
	delete(t.live, h)
}

// RequireValid returns the token behind h, or ErrStaleToken.
func (t *Table) RequireValid(h Handle) (uint16, error) {
	e, ok := t.live[h]
	if !ok {
		return 0, fmt.Errorf("%w: %s", mcerr.ErrStaleToken, h)
	}
	return e.token, nil
}

// Scope reports what h was opened on.
func (t *Table) Scope(h Handle) (Scope, bool) {
	e, ok := t.live[h]
	return e.scope, ok
}

// InvalidateAll makes every handle stale. Used after the portal loses
// synchronization with the firmware.
func (t *Table) InvalidateAll() {
	clear(t.live)
}

// Len is the number of live handles.
func (t *Table) Len() int { return len(t.live) }

// Bind records that container child was created inside parent.
func (t *Table) Bind(child, parent uint32) {
	t.parents[child] = parent
}

// Place records that an object lives in container.
func (t *Table) Place(objType string, objID, container uint32) {
	t.placed[Scope{Type: objType, ID: objID}] = container
}

// HasUnplaced reports whether some live object session has no recorded
// container, which happens when an object is opened without being created
// through this table's portal.
func (t *Table) HasUnplaced() bool {
	for _, e := range t.live {
		if e.scope.IsContainer() {
			continue
		}
		if _, ok := t.placed[e.scope]; !ok {
			return true
		}
	}
	return false
}

// Forget drops the placement of a destroyed object and invalidates any
// session still open on it. It returns the number of handles invalidated.
func (t *Table) Forget(objType string, objID uint32) int {
	scope := Scope{Type: objType, ID: objID}
	delete(t.placed, scope)
	n := 0
	for h, e := range t.live {
		if e.scope == scope {
			delete(t.live, h)
			n++
		}
	}
	return n
}

// InvalidateContainer makes stale every handle on container id, on any
// container bound beneath it, and on any object placed in one of those.
// The hierarchy below id is forgotten. It returns the number of handles
// invalidated.
func (t *Table) InvalidateContainer(id uint32) int {
	return t.invalidate(t.subtree(id))
}

// InvalidateContents is InvalidateContainer for a container that
// survives: sessions on id itself stay valid, and so does its own
// binding to its parent.
func (t *Table) InvalidateContents(id uint32) int {
	doomed := t.subtree(id)
	n := 0
	for h, e := range t.live {
		if c, ok := t.placed[e.scope]; ok && c == id && !e.scope.IsContainer() {
			delete(t.live, h)
			n++
		}
	}
	for obj, c := range t.placed {
		if c == id {
			delete(t.placed, obj)
		}
	}
	delete(doomed, id)
	return n + t.invalidate(doomed)
}

func (t *Table) invalidate(doomed map[uint32]bool) int {
	n := 0
	for h, e := range t.live {
		if e.scope.IsContainer() {
			if doomed[e.scope.ID] {
				delete(t.live, h)
				n++
			}
			continue
		}
		if c, ok := t.placed[e.scope]; ok && doomed[c] {
			delete(t.live, h)
			n++
		}
	}

	for obj, c := range t.placed {
		if doomed[c] {
			delete(t.placed, obj)
		}
	}
	for c := range doomed {
		delete(t.parents, c)
	}
	return n
}

func (t *Table) subtree(root uint32) map[uint32]bool {
	out := map[uint32]bool{root: true}
	for grew := true; grew; {
		grew = false
		for child, parent := range t.parents {
			if out[parent] && !out[child] {
				out[child] = true
				grew = true
			}
		}
	}
	return out
}
