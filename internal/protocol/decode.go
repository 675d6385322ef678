package protocol

import (
	"encoding/binary"
	"fmt"
)

// UnmarshalBinary reads one record. Shorter input is ErrTruncated; bytes
// past RecordSize are ignored.
func (c *Command) UnmarshalBinary(b []byte) error {
	if len(b) < RecordSize {
		return fmt.Errorf("%w: %d of %d bytes", ErrTruncated, len(b), RecordSize)
	}
	c.Header = headerFromWord(binary.LittleEndian.Uint64(b[0:HeaderSize]))
	copy(c.Params[:], b[HeaderSize:RecordSize])
	return nil
}

// DecodeResponse checks that rsp answers sent and returns its status and
// parameter area.
func DecodeResponse(rsp Command, sent Opcode) (Status, Params, error) {
	if rsp.Header.Opcode != sent {
		return 0, Params{}, fmt.Errorf("%w: sent %s, got %s", ErrOpcodeMismatch, sent, rsp.Header.Opcode)
	}
	return rsp.Header.Status, rsp.Params, nil
}

// Unmarshal decodes a typed reply. out is only filled when the status is
// OK; it may be nil for calls without a reply payload.
func Unmarshal(rsp Command, sent Opcode, out Response) (Status, error) {
	status, params, err := DecodeResponse(rsp, sent)
	if err != nil {
		return 0, err
	}
	if status == StatusOK && out != nil {
		out.decode(&params)
	}
	return status, nil
}

// DecodeRequest rebuilds the typed request carried by cmd.
func DecodeRequest(cmd Command) (Request, error) {
	spec, ok := specs[cmd.Header.Opcode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOpcode, cmd.Header.Opcode)
	}
	decode, ok := requestDecoders[spec.Shape]
	if !ok {
		return nil, fmt.Errorf("%w: no decoder for %s", ErrUnknownOpcode, cmd.Header.Opcode)
	}
	return decode(cmd.Header.Opcode, &cmd.Params), nil
}
