package mcsim

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/mcportal/internal/protocol"
	"github.com/danmuck/mcportal/internal/protocol/frame"
)

type ServerConfig struct {
	// ContainerID owns the portal attached for each connection; zero
	// means the root container.
	ContainerID uint32
	// IdleTimeout closes connections that send nothing for this long.
	IdleTimeout time.Duration
	Limits      frame.Limits
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		IdleTimeout: 5 * time.Minute,
		Limits:      frame.DefaultLimits(),
	}
}

// Server answers framed command records on a listener, one simulated
// portal per connection.
type Server struct {
	sim    *Sim
	cfg    ServerConfig
	logger zerolog.Logger

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	active  atomic.Int64
}

func NewServer(sim *Sim, cfg ServerConfig, logger zerolog.Logger) *Server {
	def := DefaultServerConfig()
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = def.Limits
	}
	if cfg.ContainerID == 0 {
		cfg.ContainerID = sim.RootID()
	}
	return &Server{
		sim:    sim,
		cfg:    cfg,
		logger: logger,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections until ctx is done or ln fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		go s.handleConn(conn)
	}
}

// Active is the number of connected clients.
func (s *Server) Active() int { return int(s.active.Load()) }

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)
	remote := conn.RemoteAddr().String()
	active := s.active.Add(1)
	s.logger.Info().Str("remote", remote).Int64("active_clients", active).Msg("portal client connected")
	defer func() {
		remaining := s.active.Add(-1)
		s.logger.Info().Str("remote", remote).Int64("active_clients", remaining).Msg("portal client disconnected")
	}()

	p, err := s.sim.Attach(s.cfg.ContainerID)
	if err != nil {
		s.logger.Error().Err(err).Msg("attach portal")
		return
	}
	defer s.sim.Detach(p)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		fr, err := frame.ReadFrame(conn, s.cfg.Limits)
		if err != nil {
			return
		}
		reply := s.answer(p, fr)
		if err := frame.WriteFrame(conn, reply, s.cfg.Limits); err != nil {
			s.logger.Warn().Err(err).Str("remote", remote).Msg("write response")
			return
		}
	}
}

func (s *Server) answer(p *Portal, fr frame.Frame) frame.Frame {
	fault := func(err error) frame.Frame {
		s.logger.Warn().Err(err).Uint32("seq", fr.Header.Sequence).Msg("portal fault")
		return frame.New(frame.KindFault, fr.Header.Sequence, []byte(err.Error()))
	}
	if fr.Header.Kind != frame.KindRequest {
		return fault(errors.New("mcsim: expected request frame"))
	}
	var cmd protocol.Command
	if err := cmd.UnmarshalBinary(fr.Payload); err != nil {
		return fault(err)
	}
	rsp, err := p.Send(cmd)
	if err != nil {
		return fault(err)
	}
	raw, _ := rsp.MarshalBinary()
	return frame.New(frame.KindResponse, fr.Header.Sequence, raw)
}

func (s *Server) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}
