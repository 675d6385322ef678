package portal

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/mcportal/internal/protocol"
	"github.com/danmuck/mcportal/internal/protocol/frame"
)

var (
	ErrAddressRequired  = errors.New("portal: stream address required")
	ErrSequenceMismatch = errors.New("portal: response sequence mismatch")
	ErrUnexpectedKind   = errors.New("portal: unexpected frame kind")
	ErrFault            = errors.New("portal: peer fault")
	ErrStreamClosed     = errors.New("portal: stream closed")
)

// StreamConfig configures a portal reached over a unix or tcp socket.
type StreamConfig struct {
	Network        string
	Address        string
	ConnectTimeout time.Duration
	// CallTimeout bounds one round trip, write and read together.
	CallTimeout time.Duration
	// RedialDelay is the pause after the first failed dial. Later pauses
	// double, never exceeding CallTimeout.
	RedialDelay time.Duration
	// MaxConnectAttempts bounds the initial dial; zero retries until ctx
	// is done.
	MaxConnectAttempts int
	// RedialAttempts bounds reconnection after a broken stream.
	RedialAttempts int
	Limits         frame.Limits
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Network:        "tcp",
		ConnectTimeout: 5 * time.Second,
		CallTimeout:    2 * time.Second,
		RedialDelay:    100 * time.Millisecond,
		RedialAttempts: 3,
		Limits:         frame.DefaultLimits(),
	}
}

// WithDefaults fills unset fields from DefaultStreamConfig.
func (c StreamConfig) WithDefaults() StreamConfig {
	def := DefaultStreamConfig()
	if strings.TrimSpace(c.Network) == "" {
		c.Network = def.Network
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.RedialDelay <= 0 {
		c.RedialDelay = def.RedialDelay
	}
	if c.RedialAttempts <= 0 {
		c.RedialAttempts = def.RedialAttempts
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = def.Limits
	}
	return c
}

// StreamTransport exchanges framed command records with a simulator or a
// host-side portal proxy. Each Send is one request frame and one response
// frame carrying the same sequence number.
type StreamTransport struct {
	cfg    StreamConfig
	logger zerolog.Logger
	rng    *rand.Rand

	mu   sync.Mutex
	conn net.Conn
	seq  uint32
}

// NewStreamTransport wraps an established connection. If the connection
// breaks, the transport redials cfg.Address.
func NewStreamTransport(conn net.Conn, cfg StreamConfig, logger zerolog.Logger) *StreamTransport {
	return &StreamTransport{
		cfg:    cfg.WithDefaults(),
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		conn:   conn,
	}
}

// DialStream connects to cfg.Address, retrying with backoff.
func DialStream(ctx context.Context, cfg StreamConfig, logger zerolog.Logger) (*StreamTransport, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	t := NewStreamTransport(nil, cfg, logger)
	conn, err := t.dialWithRetry(ctx, t.cfg.MaxConnectAttempts)
	if err != nil {
		return nil, err
	}
	t.conn = conn
	return t, nil
}

func (t *StreamTransport) Send(cmd protocol.Command) (protocol.Command, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		if strings.TrimSpace(t.cfg.Address) == "" {
			return protocol.Command{}, ErrStreamClosed
		}
		conn, err := t.dialWithRetry(context.Background(), t.cfg.RedialAttempts)
		if err != nil {
			return protocol.Command{}, err
		}
		t.conn = conn
	}

	rsp, err := t.exchange(cmd)
	if err != nil && !errors.Is(err, protocol.ErrTruncated) {
		// The stream position is unknown after a failed exchange.
		_ = t.conn.Close()
		t.conn = nil
	}
	return rsp, err
}

func (t *StreamTransport) exchange(cmd protocol.Command) (protocol.Command, error) {
	t.seq++
	seq := t.seq

	raw, _ := cmd.MarshalBinary()
	if err := t.conn.SetDeadline(time.Now().Add(t.cfg.CallTimeout)); err != nil {
		return protocol.Command{}, err
	}
	if err := frame.WriteFrame(t.conn, frame.New(frame.KindRequest, seq, raw), t.cfg.Limits); err != nil {
		return protocol.Command{}, fmt.Errorf("portal: write request: %w", err)
	}
	fr, err := frame.ReadFrame(t.conn, t.cfg.Limits)
	if err != nil {
		return protocol.Command{}, fmt.Errorf("portal: read response: %w", err)
	}
	if fr.Header.Sequence != seq {
		return protocol.Command{}, fmt.Errorf("%w: sent=%d got=%d", ErrSequenceMismatch, seq, fr.Header.Sequence)
	}
	switch fr.Header.Kind {
	case frame.KindResponse:
	case frame.KindFault:
		return protocol.Command{}, fmt.Errorf("%w: %s", ErrFault, string(fr.Payload))
	default:
		return protocol.Command{}, fmt.Errorf("%w: %d", ErrUnexpectedKind, fr.Header.Kind)
	}

	var rsp protocol.Command
	if err := rsp.UnmarshalBinary(fr.Payload); err != nil {
		return protocol.Command{}, err
	}
	return rsp, nil
}

// Close releases the connection. Later sends redial.
func (t *StreamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *StreamTransport) dialWithRetry(ctx context.Context, maxAttempts int) (net.Conn, error) {
	var attempt int
	for {
		attempt++
		dialer := net.Dialer{Timeout: t.cfg.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, t.cfg.Network, t.cfg.Address)
		if err == nil {
			t.logger.Debug().Str("addr", t.cfg.Address).Int("attempt", attempt).Msg("portal stream connected")
			return conn, nil
		}
		t.logger.Warn().Err(err).Str("addr", t.cfg.Address).Int("attempt", attempt).Msg("portal stream dial failed")
		if maxAttempts > 0 && attempt >= maxAttempts {
			return nil, err
		}
		if err := t.sleepBackoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

// redialDelay returns the pause after failed dial attempt n (1-based). With
// rng set the pause is drawn from [d/2, d).
func (c StreamConfig) redialDelay(attempt int, rng *rand.Rand) time.Duration {
	d := c.RedialDelay
	for i := 1; i < attempt && d < c.CallTimeout; i++ {
		d *= 2
	}
	if c.CallTimeout > 0 && d > c.CallTimeout {
		d = c.CallTimeout
	}
	if rng != nil && d > 1 {
		half := d / 2
		d = half + time.Duration(rng.Int63n(int64(d-half)))
	}
	return d
}

func (t *StreamTransport) sleepBackoff(ctx context.Context, attempt int) error {
	delay := t.cfg.redialDelay(attempt, t.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
