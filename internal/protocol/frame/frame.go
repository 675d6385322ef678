// Package frame carries command records over a byte stream, for portals
// that are reached through a socket instead of portal memory.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	FixedHeaderLen uint16 = 16
	Magic          uint32 = 0x4d435031 // "MCP1"
	Version        uint16 = 1
)

// Kind says what the payload holds.
type Kind uint16

const (
	KindRequest  Kind = 1
	KindResponse Kind = 2
	// KindFault carries a transport-level failure reported by the peer as
	// text. It is never a firmware status.
	KindFault Kind = 3
)

var (
	ErrShortHeader     = errors.New("frame: short fixed header")
	ErrInvalidMagic    = errors.New("frame: invalid magic")
	ErrUnsupported     = errors.New("frame: unsupported version")
	ErrUnknownKind     = errors.New("frame: unknown kind")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Header is the fixed wire header, big-endian.
type Header struct {
	Magic      uint32
	Version    uint16
	Kind       Kind
	Sequence   uint32
	PayloadLen uint32
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 4 * 1024,
	}
}

// New builds a frame of kind k for seq with the current magic/version.
func New(k Kind, seq uint32, payload []byte) Frame {
	return Frame{
		Header:  Header{Magic: Magic, Version: Version, Kind: k, Sequence: seq},
		Payload: payload,
	}
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.Magic != Magic {
		return Frame{}, ErrInvalidMagic
	}
	if h.Version != Version {
		return Frame{}, ErrUnsupported
	}
	switch h.Kind {
	case KindRequest, KindResponse, KindFault:
	default:
		return Frame{}, fmt.Errorf("%w: %d", ErrUnknownKind, h.Kind)
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if uint64(len(f.Payload)) > uint64(limits.MaxPayloadBytes) {
		return ErrPayloadTooLarge
	}
	h := f.Header
	h.PayloadLen = uint32(len(f.Payload))

	// One write per frame so concurrent writers on a shared conn never
	// interleave a header with another frame's payload.
	buf := make([]byte, 0, int(FixedHeaderLen)+len(f.Payload))
	buf = append(buf, EncodeHeader(h)...)
	buf = append(buf, f.Payload...)
	_, err := w.Write(buf)
	return err
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Kind))
	binary.BigEndian.PutUint32(buf[8:12], h.Sequence)
	binary.BigEndian.PutUint32(buf[12:16], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		Kind:       Kind(binary.BigEndian.Uint16(b[6:8])),
		Sequence:   binary.BigEndian.Uint32(b[8:12]),
		PayloadLen: binary.BigEndian.Uint32(b[12:16]),
	}, nil
}
