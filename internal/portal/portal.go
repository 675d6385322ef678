// Package portal is the per-portal call context: it owns the session
// table for one MC portal and funnels every call through the codec and
// the transport.
//
// A Portal is used by one goroutine at a time. Independent portals have
// independent token namespaces.
package portal

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/mcportal/internal/mcerr"
	"github.com/danmuck/mcportal/internal/protocol"
	"github.com/danmuck/mcportal/internal/session"
)

type Option func(*Portal)

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Portal) { p.logger = logger }
}

// WithFlags sets the hardware flags carried by every command.
func WithFlags(flags protocol.Flags) Option {
	return func(p *Portal) { p.flags = flags }
}

type Portal struct {
	transport Transport
	sessions  *session.Table
	flags     protocol.Flags
	logger    zerolog.Logger
}

func New(t Transport, opts ...Option) *Portal {
	p := &Portal{
		transport: t,
		sessions:  session.NewTable(),
		flags:     protocol.FlagPriority,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Portal) Sessions() *session.Table { return p.sessions }

func (p *Portal) Logger() zerolog.Logger { return p.logger }

// Call sends a request that needs no session.
func (p *Portal) Call(req protocol.Request, out protocol.Response) error {
	_, err := p.roundTrip(0, req, out)
	return err
}

// Invoke sends req on the session behind h. A stale handle fails with
// ErrStaleToken before anything reaches the transport.
func (p *Portal) Invoke(h session.Handle, req protocol.Request, out protocol.Response) error {
	token, err := p.sessions.RequireValid(h)
	if err != nil {
		return &mcerr.CallError{Op: req.Opcode().String(), Opcode: req.Opcode(), Err: err}
	}
	_, err = p.roundTrip(token, req, out)
	if errors.Is(err, mcerr.ErrStaleToken) {
		// The firmware no longer knows the token.
		p.sessions.Invalidate(h)
	}
	return err
}

// Open sends an open or create style request and registers the token
// returned in the response header under scope.
func (p *Portal) Open(req protocol.Request, scope session.Scope) (session.Handle, error) {
	hdr, err := p.roundTrip(0, req, nil)
	if err != nil {
		return 0, mcerr.WithID(err, scope.ID)
	}
	return p.sessions.Register(hdr.Token, scope), nil
}

// Close ends the session behind h. The handle is stale afterwards even
// when the firmware reports an error, since the token cannot be used
// again either way.
func (p *Portal) Close(h session.Handle) error {
	err := p.Invoke(h, protocol.Close{}, nil)
	p.sessions.Invalidate(h)
	return err
}

// FirmwareVersion reports the MC firmware revision.
func (p *Portal) FirmwareVersion() (protocol.FirmwareVersion, error) {
	var out protocol.FirmwareVersion
	err := p.Call(protocol.GetFirmwareVersion{}, &out)
	return out, err
}

func (p *Portal) roundTrip(token uint16, req protocol.Request, out protocol.Response) (protocol.Header, error) {
	op := req.Opcode()
	callErr := func(status protocol.Status, err error) error {
		return &mcerr.CallError{Op: op.String(), Opcode: op, Token: token, Status: status, Err: err}
	}

	cmd, err := protocol.Marshal(req, p.flags, token)
	if err != nil {
		return protocol.Header{}, callErr(0, fmt.Errorf("%w: %w", mcerr.ErrInvalidArgument, err))
	}

	start := time.Now()
	rsp, err := p.transport.Send(cmd)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, protocol.ErrTruncated) {
			return protocol.Header{}, p.desync(op, token, callErr(0, fmt.Errorf("%w: %w", mcerr.ErrMalformedResponse, err)))
		}
		return protocol.Header{}, p.desync(op, token, callErr(0, fmt.Errorf("%w: %w", mcerr.ErrTransport, err)))
	}

	status, err := protocol.Unmarshal(rsp, op, out)
	if err != nil {
		return protocol.Header{}, p.desync(op, token, callErr(0, fmt.Errorf("%w: %w", mcerr.ErrMalformedResponse, err)))
	}

	p.logger.Debug().
		Str("op", op.String()).
		Uint16("opcode", uint16(op)).
		Uint16("token", token).
		Str("status", status.String()).
		Dur("duration", elapsed).
		Msg("portal call")

	if serr := mcerr.FromStatus(status); serr != nil {
		if errors.Is(serr, mcerr.ErrTransport) {
			return protocol.Header{}, p.desync(op, token, callErr(status, serr))
		}
		return protocol.Header{}, callErr(status, serr)
	}
	return rsp.Header, nil
}

// desync drops every session: after a transport failure or a malformed
// response the firmware state is unknown.
func (p *Portal) desync(op protocol.Opcode, token uint16, err error) error {
	dropped := p.sessions.Len()
	p.sessions.InvalidateAll()
	p.logger.Error().
		Err(err).
		Str("op", op.String()).
		Uint16("token", token).
		Int("sessions_dropped", dropped).
		Msg("portal desynchronized")
	return err
}
