package protocol

import "errors"

var (
	ErrTruncated       = errors.New("protocol: truncated record")
	ErrPayloadTooLarge = errors.New("protocol: payload too large for opcode")
	ErrUnknownOpcode   = errors.New("protocol: unknown opcode")
	ErrOpcodeMismatch  = errors.New("protocol: response opcode mismatch")
	ErrShapeMismatch   = errors.New("protocol: request shape does not match opcode")
	ErrLabelTooLong    = errors.New("protocol: label too long")
)
