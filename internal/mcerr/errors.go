// Package mcerr classifies portal call failures.
//
// Callers match with errors.Is against the sentinels; *CallError carries
// the opcode, token and identifiers involved for diagnosis.
package mcerr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/mcportal/internal/protocol"
)

var (
	ErrTransport         = errors.New("mcerr: transport failure")
	ErrMalformedResponse = errors.New("mcerr: malformed response")
	ErrStaleToken        = errors.New("mcerr: stale token")
	ErrNotFound          = errors.New("mcerr: not found")
	ErrPermissionDenied  = errors.New("mcerr: permission denied")
	ErrResourceExhausted = errors.New("mcerr: resource exhausted")
	ErrAlreadyConnected  = errors.New("mcerr: already connected")
	ErrUnsupported       = errors.New("mcerr: unsupported operation")
	ErrInvalidState      = errors.New("mcerr: invalid state")
	ErrInvalidArgument   = errors.New("mcerr: invalid argument")
	ErrRemote            = errors.New("mcerr: remote failure")
)

// FromStatus maps a completion status to its sentinel. OK maps to nil.
func FromStatus(status protocol.Status) error {
	switch status {
	case protocol.StatusOK:
		return nil
	case protocol.StatusAuthError:
		return ErrStaleToken
	case protocol.StatusNoPrivilege:
		return ErrPermissionDenied
	case protocol.StatusConfigError:
		return ErrNotFound
	case protocol.StatusNoResource, protocol.StatusNoMemory:
		return ErrResourceExhausted
	case protocol.StatusBusy:
		return ErrAlreadyConnected
	case protocol.StatusDMAError, protocol.StatusTimeout:
		return ErrTransport
	case protocol.StatusUnsupportedOp:
		return ErrUnsupported
	case protocol.StatusInvalidState:
		return ErrInvalidState
	default:
		return ErrRemote
	}
}

// CallError is a failed portal call.
type CallError struct {
	Op     string
	Opcode protocol.Opcode
	Token  uint16
	// ID is the object or container the call was about, when there is one.
	ID     uint32
	HasID  bool
	Status protocol.Status
	Err    error
}

func (e *CallError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	fmt.Fprintf(&b, " [%s", e.Opcode)
	if e.Token != 0 {
		fmt.Fprintf(&b, " token=0x%04x", e.Token)
	}
	if e.HasID {
		fmt.Fprintf(&b, " id=%d", e.ID)
	}
	if e.Status != protocol.StatusOK {
		fmt.Fprintf(&b, " status=%s", e.Status)
	}
	b.WriteString("]")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *CallError) Unwrap() error { return e.Err }

// WithID returns a copy of err annotated with id when err is a
// *CallError; other errors are returned unchanged.
func WithID(err error, id uint32) error {
	var ce *CallError
	if !errors.As(err, &ce) {
		return err
	}
	cp := *ce
	cp.ID = id
	cp.HasID = true
	return &cp
}

// StatusOf reports the firmware status behind err, if any.
func StatusOf(err error) (protocol.Status, bool) {
	var ce *CallError
	if !errors.As(err, &ce) || ce.Status == protocol.StatusOK {
		return 0, false
	}
	return ce.Status, true
}
