package protocol

import (
	"encoding/binary"
	"fmt"
)

// MarshalBinary lays the record out as the MC expects it in portal memory.
func (c Command) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RecordSize)
	binary.LittleEndian.PutUint64(buf[0:HeaderSize], c.Header.word())
	copy(buf[HeaderSize:], c.Params[:])
	return buf, nil
}

// EncodeCommand builds a record from a raw parameter payload. The payload
// may not exceed the request size declared for op.
func EncodeCommand(op Opcode, flags Flags, token uint16, payload []byte) (Command, error) {
	spec, ok := specs[op]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownOpcode, op)
	}
	if len(payload) > spec.RequestSize {
		return Command{}, fmt.Errorf("%w: %s takes %d bytes, got %d", ErrPayloadTooLarge, op, spec.RequestSize, len(payload))
	}
	cmd := Command{Header: Header{Opcode: op, Flags: flags, Token: token}}
	copy(cmd.Params[:], payload)
	return cmd, nil
}

// Marshal encodes a typed request. The token is zero for calls that
// start a new session.
func Marshal(req Request, flags Flags, token uint16) (Command, error) {
	op := req.Opcode()
	cmd, err := EncodeCommand(op, flags, token, nil)
	if err != nil {
		return Command{}, err
	}
	if specs[op].Shape != req.shape() {
		return Command{}, fmt.Errorf("%w: %T cannot carry %s", ErrShapeMismatch, req, op)
	}
	req.encode(&cmd.Params)
	return cmd, nil
}

// Respond builds the reply to req. The opcode and token are echoed and
// out, when non-nil, fills the parameter area.
func Respond(req Command, status Status, token uint16, out Response) Command {
	rsp := Command{Header: Header{
		SourceID:  req.Header.SourceID,
		Flags:     req.Header.Flags,
		Status:    status,
		SoftFlags: req.Header.SoftFlags,
		Token:     token,
		Opcode:    req.Header.Opcode,
	}}
	if out != nil && status == StatusOK {
		out.encode(&rsp.Params)
	}
	return rsp
}
