package protocol

import "fmt"

// Record geometry.
const (
	HeaderSize = 8
	ParamWords = 7
	ParamSize  = ParamWords * 8
	RecordSize = HeaderSize + ParamSize

	// LabelSize is the width of fixed text fields (labels, object types).
	// One byte is kept for the terminating NUL.
	LabelSize = 16
)

// Opcode identifies one MC command.
type Opcode uint16

// Flags are the hardware flag bits (header byte 1).
type Flags uint8

const (
	// FlagPriority routes the command through the high priority queue.
	FlagPriority Flags = 0x80
)

// SoftFlags are the software flag bits (header byte 3).
type SoftFlags uint8

const (
	SoftFlagInterruptDisable SoftFlags = 0x01
)

// Status is the completion code the MC writes into response byte 2.
type Status uint8

const (
	StatusOK            Status = 0x0
	StatusReady         Status = 0x1
	StatusAuthError     Status = 0x2
	StatusNoPrivilege   Status = 0x3
	StatusDMAError      Status = 0x4
	StatusConfigError   Status = 0x5
	StatusTimeout       Status = 0x6
	StatusNoResource    Status = 0x7
	StatusNoMemory      Status = 0x8
	StatusBusy          Status = 0x9
	StatusUnsupportedOp Status = 0xa
	StatusInvalidState  Status = 0xb
)

var statusNames = map[Status]string{
	StatusOK:            "OK",
	StatusReady:         "READY",
	StatusAuthError:     "AUTH_ERR",
	StatusNoPrivilege:   "NO_PRIVILEGE",
	StatusDMAError:      "DMA_ERR",
	StatusConfigError:   "CONFIG_ERR",
	StatusTimeout:       "TIMEOUT",
	StatusNoResource:    "NO_RESOURCE",
	StatusNoMemory:      "NO_MEMORY",
	StatusBusy:          "BUSY",
	StatusUnsupportedOp: "UNSUPPORTED_OP",
	StatusInvalidState:  "INVALID_STATE",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS_0x%02x", uint8(s))
}

// Header is the first 64-bit word of a command record.
//
//	byte 0    source id
//	byte 1    hardware flags
//	byte 2    status (responses only)
//	byte 3    software flags
//	bytes 4-5 token
//	bytes 6-7 opcode
type Header struct {
	SourceID  uint8
	Flags     Flags
	Status    Status
	SoftFlags SoftFlags
	Token     uint16
	Opcode    Opcode
}

func (h Header) word() uint64 {
	return uint64(h.SourceID) |
		uint64(h.Flags)<<8 |
		uint64(h.Status)<<16 |
		uint64(h.SoftFlags)<<24 |
		uint64(h.Token)<<32 |
		uint64(h.Opcode)<<48
}

func headerFromWord(w uint64) Header {
	return Header{
		SourceID:  uint8(w),
		Flags:     Flags(w >> 8),
		Status:    Status(w >> 16),
		SoftFlags: SoftFlags(w >> 24),
		Token:     uint16(w >> 32),
		Opcode:    Opcode(w >> 48),
	}
}

// Command is one complete record, used for both directions.
type Command struct {
	Header Header
	Params Params
}

// Endpoint names one attachment point of an object.
type Endpoint struct {
	Type      string
	ID        uint32
	Interface uint32
}

func (e Endpoint) String() string {
	if e.Interface == 0 {
		return fmt.Sprintf("%s.%d", e.Type, e.ID)
	}
	return fmt.Sprintf("%s.%d:%d", e.Type, e.ID, e.Interface)
}
