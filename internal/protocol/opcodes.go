package protocol

import (
	"fmt"
	"sort"
)

// Opcodes. DPRC and MC ids are the base command id shifted left by four
// with the command version (1) in the low nibble. Close is shared by
// every object type: the token names the session being closed.
const (
	OpClose Opcode = 0x8001

	OpDPRCOpen             Opcode = 0x8051
	OpDPRCGetAPIVersion    Opcode = 0xa051
	OpDPRCGetContainerID   Opcode = 0x8301
	OpDPRCCreateContainer  Opcode = 0x1511
	OpDPRCDestroyContainer Opcode = 0x1521
	OpDPRCGetAttributes    Opcode = 0x0041
	OpDPRCResetContainer   Opcode = 0x0051
	OpDPRCGetObjectCount   Opcode = 0x1591
	OpDPRCGetObject        Opcode = 0x15a1
	OpDPRCGetResourceCount Opcode = 0x15b1
	OpDPRCConnect          Opcode = 0x1671
	OpDPRCDisconnect       Opcode = 0x1681
	OpDPRCGetConnection    Opcode = 0x16c1

	OpMCGetFirmwareVersion Opcode = 0x8311

	OpDPSParserOpen          Opcode = 0x8111
	OpDPSParserCreate        Opcode = 0x9111
	OpDPSParserDestroy       Opcode = 0x9911
	OpDPSParserGetAPIVersion Opcode = 0xa111
	OpDPSParserApplyBlob     Opcode = 0x1181
)

// Shape names the parameter layout family of an opcode. Each request
// variant belongs to exactly one shape.
type Shape uint8

const (
	ShapeClose Shape = iota + 1
	ShapeOpen
	ShapeAPIVersion
	ShapeContainerID
	ShapeCreateContainer
	ShapeDestroyContainer
	ShapeResetContainer
	ShapeAttributes
	ShapeObjectCount
	ShapeObject
	ShapeResourceCount
	ShapeConnect
	ShapeDisconnect
	ShapeGetConnection
	ShapeFirmwareVersion
	ShapeCreateObject
	ShapeDestroyObject
	ShapeApplyBlob
)

// Spec describes one opcode: its name, layout family and the number of
// parameter bytes each direction uses.
type Spec struct {
	Name         string
	Object       string
	Shape        Shape
	RequestSize  int
	ResponseSize int
}

var specs = map[Opcode]Spec{
	OpClose: {Name: "close", Shape: ShapeClose},

	OpDPRCOpen:             {Name: "open", Object: "dprc", Shape: ShapeOpen, RequestSize: 4},
	OpDPRCGetAPIVersion:    {Name: "get_api_version", Object: "dprc", Shape: ShapeAPIVersion, ResponseSize: 4},
	OpDPRCGetContainerID:   {Name: "get_container_id", Object: "dprc", Shape: ShapeContainerID, ResponseSize: 4},
	OpDPRCCreateContainer:  {Name: "create_container", Object: "dprc", Shape: ShapeCreateContainer, RequestSize: 32, ResponseSize: 24},
	OpDPRCDestroyContainer: {Name: "destroy_container", Object: "dprc", Shape: ShapeDestroyContainer, RequestSize: 4},
	OpDPRCGetAttributes:    {Name: "get_attributes", Object: "dprc", Shape: ShapeAttributes, ResponseSize: 16},
	OpDPRCResetContainer:   {Name: "reset_container", Object: "dprc", Shape: ShapeResetContainer, RequestSize: 4},
	OpDPRCGetObjectCount:   {Name: "get_obj_count", Object: "dprc", Shape: ShapeObjectCount, ResponseSize: 8},
	OpDPRCGetObject:        {Name: "get_obj", Object: "dprc", Shape: ShapeObject, RequestSize: 4, ResponseSize: 56},
	OpDPRCGetResourceCount: {Name: "get_res_count", Object: "dprc", Shape: ShapeResourceCount, RequestSize: 24, ResponseSize: 4},
	OpDPRCConnect:          {Name: "connect", Object: "dprc", Shape: ShapeConnect, RequestSize: 56},
	OpDPRCDisconnect:       {Name: "disconnect", Object: "dprc", Shape: ShapeDisconnect, RequestSize: 24},
	OpDPRCGetConnection:    {Name: "get_connection", Object: "dprc", Shape: ShapeGetConnection, RequestSize: 24, ResponseSize: 52},

	OpMCGetFirmwareVersion: {Name: "get_firmware_version", Object: "mc", Shape: ShapeFirmwareVersion, ResponseSize: 12},

	OpDPSParserOpen:          {Name: "open", Object: "dpsparser", Shape: ShapeOpen, RequestSize: 4},
	OpDPSParserCreate:        {Name: "create", Object: "dpsparser", Shape: ShapeCreateObject, ResponseSize: 4},
	OpDPSParserDestroy:       {Name: "destroy", Object: "dpsparser", Shape: ShapeDestroyObject, RequestSize: 4},
	OpDPSParserGetAPIVersion: {Name: "get_api_version", Object: "dpsparser", Shape: ShapeAPIVersion, ResponseSize: 4},
	OpDPSParserApplyBlob:     {Name: "apply_spb", Object: "dpsparser", Shape: ShapeApplyBlob, RequestSize: 8, ResponseSize: 2},
}

// Lookup returns the spec registered for op.
func Lookup(op Opcode) (Spec, bool) {
	spec, ok := specs[op]
	return spec, ok
}

// Opcodes returns every known opcode in ascending order.
func Opcodes() []Opcode {
	out := make([]Opcode, 0, len(specs))
	for op := range specs {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ObjectOpcodes returns the opcodes registered for one object type.
func ObjectOpcodes(object string) []Opcode {
	out := make([]Opcode, 0)
	for _, op := range Opcodes() {
		if specs[op].Object == object {
			out = append(out, op)
		}
	}
	return out
}

func (op Opcode) String() string {
	spec, ok := specs[op]
	if !ok {
		return fmt.Sprintf("opcode(0x%04x)", uint16(op))
	}
	if spec.Object == "" {
		return spec.Name
	}
	return spec.Object + "." + spec.Name
}
