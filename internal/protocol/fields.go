package protocol

import (
	"bytes"
	"encoding/binary"
)

// Params is the fixed parameter area following the header word.
// Offsets are byte offsets into the area; layouts are fixed per opcode,
// so an out of range offset is a programming error and panics.
type Params [ParamSize]byte

// PutUint8 writes v at off.
func (p *Params) PutUint8(off int, v uint8) {
	p[off] = v
}

// PutUint16 writes v little-endian at off.
func (p *Params) PutUint16(off int, v uint16) {
	binary.LittleEndian.PutUint16(p[off:off+2], v)
}

// PutUint32 writes v little-endian at off.
func (p *Params) PutUint32(off int, v uint32) {
	binary.LittleEndian.PutUint32(p[off:off+4], v)
}

// PutUint64 writes v little-endian at off.
func (p *Params) PutUint64(off int, v uint64) {
	binary.LittleEndian.PutUint64(p[off:off+8], v)
}

// PutLabel writes s as a NUL-padded LabelSize field at off. Text beyond
// LabelSize-1 bytes is dropped; callers validate with CheckLabel first.
func (p *Params) PutLabel(off int, s string) {
	field := p[off : off+LabelSize]
	clear(field)
	n := len(s)
	if n > LabelSize-1 {
		n = LabelSize - 1
	}
	copy(field, s[:n])
}

func (p *Params) Uint8(off int) uint8 {
	return p[off]
}

func (p *Params) Uint16(off int) uint16 {
	return binary.LittleEndian.Uint16(p[off : off+2])
}

func (p *Params) Uint32(off int) uint32 {
	return binary.LittleEndian.Uint32(p[off : off+4])
}

func (p *Params) Uint64(off int) uint64 {
	return binary.LittleEndian.Uint64(p[off : off+8])
}

// Label reads a NUL-terminated text field at off.
func (p *Params) Label(off int) string {
	field := p[off : off+LabelSize]
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}

// CheckLabel reports whether s fits a fixed text field.
func CheckLabel(s string) error {
	if len(s) > LabelSize-1 {
		return ErrLabelTooLong
	}
	return nil
}
