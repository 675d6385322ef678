package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Request is one outbound call. The set of variants is closed: only
// types in this package implement it, and each declares the Shape its
// opcode must carry.
type Request interface {
	Opcode() Opcode
	shape() Shape
	encode(p *Params)
}

// Response is the typed parameter area of a successful reply.
type Response interface {
	encode(p *Params)
	decode(p *Params)
}

// Close ends the session named by the header token.
type Close struct{}

func (Close) Opcode() Opcode   { return OpClose }
func (Close) shape() Shape     { return ShapeClose }
func (Close) encode(p *Params) {}

// Open starts a session on an existing object. Code selects the object
// type's open opcode; the token comes back in the response header.
type Open struct {
	Code Opcode
	ID   uint32
}

func (r Open) Opcode() Opcode   { return r.Code }
func (Open) shape() Shape       { return ShapeOpen }
func (r Open) encode(p *Params) { p.PutUint32(0, r.ID) }

// GetAPIVersion asks for an object type's interface version.
type GetAPIVersion struct {
	Code Opcode
}

func (r GetAPIVersion) Opcode() Opcode { return r.Code }
func (GetAPIVersion) shape() Shape     { return ShapeAPIVersion }
func (GetAPIVersion) encode(*Params)   {}

// GetContainerID asks which container owns the calling portal.
type GetContainerID struct{}

func (GetContainerID) Opcode() Opcode { return OpDPRCGetContainerID }
func (GetContainerID) shape() Shape   { return ShapeContainerID }
func (GetContainerID) encode(*Params) {}

// CreateContainer layout:
//
//	word 0    le32 options, le16 icid
//	word 1    le32 pad, le32 portal id
//	words 2-3 label
type CreateContainer struct {
	Options  uint32
	ICID     uint16
	PortalID uint32
	Label    string
}

func (CreateContainer) Opcode() Opcode { return OpDPRCCreateContainer }
func (CreateContainer) shape() Shape   { return ShapeCreateContainer }
func (r CreateContainer) encode(p *Params) {
	p.PutUint32(0, r.Options)
	p.PutUint16(4, r.ICID)
	p.PutUint32(12, r.PortalID)
	p.PutLabel(16, r.Label)
}

// DestroyContainer names a child of the session's container.
type DestroyContainer struct {
	ChildID uint32
}

func (DestroyContainer) Opcode() Opcode     { return OpDPRCDestroyContainer }
func (DestroyContainer) shape() Shape       { return ShapeDestroyContainer }
func (r DestroyContainer) encode(p *Params) { p.PutUint32(0, r.ChildID) }

// ResetContainer destroys everything inside a child, keeping the child.
type ResetContainer struct {
	ChildID uint32
}

func (ResetContainer) Opcode() Opcode     { return OpDPRCResetContainer }
func (ResetContainer) shape() Shape       { return ShapeResetContainer }
func (r ResetContainer) encode(p *Params) { p.PutUint32(0, r.ChildID) }

type GetAttributes struct{}

func (GetAttributes) Opcode() Opcode { return OpDPRCGetAttributes }
func (GetAttributes) shape() Shape   { return ShapeAttributes }
func (GetAttributes) encode(*Params) {}

type GetObjectCount struct{}

func (GetObjectCount) Opcode() Opcode { return OpDPRCGetObjectCount }
func (GetObjectCount) shape() Shape   { return ShapeObjectCount }
func (GetObjectCount) encode(*Params) {}

type GetObject struct {
	Index uint32
}

func (GetObject) Opcode() Opcode     { return OpDPRCGetObject }
func (GetObject) shape() Shape       { return ShapeObject }
func (r GetObject) encode(p *Params) { p.PutUint32(0, r.Index) }

// GetResourceCount counts free identifiers of one resource type.
type GetResourceCount struct {
	Type string
}

func (GetResourceCount) Opcode() Opcode     { return OpDPRCGetResourceCount }
func (GetResourceCount) shape() Shape       { return ShapeResourceCount }
func (r GetResourceCount) encode(p *Params) { p.PutLabel(8, r.Type) }

// Connect layout:
//
//	word 0    le32 ep1 id, le32 ep1 interface
//	word 1    le32 ep2 id, le32 ep2 interface
//	words 2-3 ep1 type
//	word 4    le32 max rate, le32 committed rate
//	words 5-6 ep2 type
type Connect struct {
	Endpoint1     Endpoint
	Endpoint2     Endpoint
	MaxRate       uint32
	CommittedRate uint32
}

func (Connect) Opcode() Opcode { return OpDPRCConnect }
func (Connect) shape() Shape   { return ShapeConnect }
func (r Connect) encode(p *Params) {
	p.PutUint32(0, r.Endpoint1.ID)
	p.PutUint32(4, r.Endpoint1.Interface)
	p.PutUint32(8, r.Endpoint2.ID)
	p.PutUint32(12, r.Endpoint2.Interface)
	p.PutLabel(16, r.Endpoint1.Type)
	p.PutUint32(32, r.MaxRate)
	p.PutUint32(36, r.CommittedRate)
	p.PutLabel(40, r.Endpoint2.Type)
}

type Disconnect struct {
	Endpoint Endpoint
}

func (Disconnect) Opcode() Opcode     { return OpDPRCDisconnect }
func (Disconnect) shape() Shape       { return ShapeDisconnect }
func (r Disconnect) encode(p *Params) { putEndpoint(p, 0, r.Endpoint) }

type GetConnection struct {
	Endpoint Endpoint
}

func (GetConnection) Opcode() Opcode     { return OpDPRCGetConnection }
func (GetConnection) shape() Shape       { return ShapeGetConnection }
func (r GetConnection) encode(p *Params) { putEndpoint(p, 0, r.Endpoint) }

type GetFirmwareVersion struct{}

func (GetFirmwareVersion) Opcode() Opcode { return OpMCGetFirmwareVersion }
func (GetFirmwareVersion) shape() Shape   { return ShapeFirmwareVersion }
func (GetFirmwareVersion) encode(*Params) {}

// CreateObject is sent with the container token in the header.
type CreateObject struct {
	Code Opcode
}

func (r CreateObject) Opcode() Opcode { return r.Code }
func (CreateObject) shape() Shape     { return ShapeCreateObject }
func (CreateObject) encode(*Params)   {}

// DestroyObject is sent with the container token in the header.
type DestroyObject struct {
	Code     Opcode
	ObjectID uint32
}

func (r DestroyObject) Opcode() Opcode   { return r.Code }
func (DestroyObject) shape() Shape       { return ShapeDestroyObject }
func (r DestroyObject) encode(p *Params) { p.PutUint32(0, r.ObjectID) }

// ApplyBlob points the soft parser at a blob staged in memory.
type ApplyBlob struct {
	Address uint64
}

func (ApplyBlob) Opcode() Opcode     { return OpDPSParserApplyBlob }
func (ApplyBlob) shape() Shape       { return ShapeApplyBlob }
func (r ApplyBlob) encode(p *Params) { p.PutUint64(0, r.Address) }

func putEndpoint(p *Params, off int, ep Endpoint) {
	p.PutUint32(off, ep.ID)
	p.PutUint32(off+4, ep.Interface)
	p.PutLabel(off+8, ep.Type)
}

func endpointAt(p *Params, off int) Endpoint {
	return Endpoint{
		ID:        p.Uint32(off),
		Interface: p.Uint32(off + 4),
		Type:      p.Label(off + 8),
	}
}

// requestDecoders rebuilds a request variant from a record. Every Shape
// has an entry; the table test enforces it.
var requestDecoders = map[Shape]func(op Opcode, p *Params) Request{
	ShapeClose:       func(Opcode, *Params) Request { return Close{} },
	ShapeOpen:        func(op Opcode, p *Params) Request { return Open{Code: op, ID: p.Uint32(0)} },
	ShapeAPIVersion:  func(op Opcode, _ *Params) Request { return GetAPIVersion{Code: op} },
	ShapeContainerID: func(Opcode, *Params) Request { return GetContainerID{} },
	ShapeCreateContainer: func(_ Opcode, p *Params) Request {
		return CreateContainer{
			Options:  p.Uint32(0),
			ICID:     p.Uint16(4),
			PortalID: p.Uint32(12),
			Label:    p.Label(16),
		}
	},
	ShapeDestroyContainer: func(_ Opcode, p *Params) Request { return DestroyContainer{ChildID: p.Uint32(0)} },
	ShapeResetContainer:   func(_ Opcode, p *Params) Request { return ResetContainer{ChildID: p.Uint32(0)} },
	ShapeAttributes:       func(Opcode, *Params) Request { return GetAttributes{} },
	ShapeObjectCount:      func(Opcode, *Params) Request { return GetObjectCount{} },
	ShapeObject:           func(_ Opcode, p *Params) Request { return GetObject{Index: p.Uint32(0)} },
	ShapeResourceCount:    func(_ Opcode, p *Params) Request { return GetResourceCount{Type: p.Label(8)} },
	ShapeConnect: func(_ Opcode, p *Params) Request {
		return Connect{
			Endpoint1:     Endpoint{ID: p.Uint32(0), Interface: p.Uint32(4), Type: p.Label(16)},
			Endpoint2:     Endpoint{ID: p.Uint32(8), Interface: p.Uint32(12), Type: p.Label(40)},
			MaxRate:       p.Uint32(32),
			CommittedRate: p.Uint32(36),
		}
	},
	ShapeDisconnect:      func(_ Opcode, p *Params) Request { return Disconnect{Endpoint: endpointAt(p, 0)} },
	ShapeGetConnection:   func(_ Opcode, p *Params) Request { return GetConnection{Endpoint: endpointAt(p, 0)} },
	ShapeFirmwareVersion: func(Opcode, *Params) Request { return GetFirmwareVersion{} },
	ShapeCreateObject:    func(op Opcode, _ *Params) Request { return CreateObject{Code: op} },
	ShapeDestroyObject: func(op Opcode, p *Params) Request {
		return DestroyObject{Code: op, ObjectID: p.Uint32(0)}
	},
	ShapeApplyBlob: func(_ Opcode, p *Params) Request { return ApplyBlob{Address: p.Uint64(0)} },
}

// APIVersion is the (major, minor) interface revision of an object type.
type APIVersion struct {
	Major uint16
	Minor uint16
}

func (v APIVersion) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

func (v *APIVersion) encode(p *Params) {
	p.PutUint16(0, v.Major)
	p.PutUint16(2, v.Minor)
}

func (v *APIVersion) decode(p *Params) {
	v.Major = p.Uint16(0)
	v.Minor = p.Uint16(2)
}

type ContainerID struct {
	ID uint32
}

func (r *ContainerID) encode(p *Params) { p.PutUint32(0, r.ID) }
func (r *ContainerID) decode(p *Params) { r.ID = p.Uint32(0) }

// CreateContainerResult layout: word 1 le32 child id, word 2 le64 portal
// offset.
type CreateContainerResult struct {
	ChildID      uint32
	PortalOffset uint64
}

func (r *CreateContainerResult) encode(p *Params) {
	p.PutUint32(8, r.ChildID)
	p.PutUint64(16, r.PortalOffset)
}

func (r *CreateContainerResult) decode(p *Params) {
	r.ChildID = p.Uint32(8)
	r.PortalOffset = p.Uint64(16)
}

type Attributes struct {
	ContainerID uint32
	ICID        uint16
	Options     uint32
	PortalID    uint32
}

func (r *Attributes) encode(p *Params) {
	p.PutUint32(0, r.ContainerID)
	p.PutUint16(4, r.ICID)
	p.PutUint32(8, r.Options)
	p.PutUint32(12, r.PortalID)
}

func (r *Attributes) decode(p *Params) {
	r.ContainerID = p.Uint32(0)
	r.ICID = p.Uint16(4)
	r.Options = p.Uint32(8)
	r.PortalID = p.Uint32(12)
}

type ObjectCount struct {
	Count uint32
}

func (r *ObjectCount) encode(p *Params) { p.PutUint32(4, r.Count) }
func (r *ObjectCount) decode(p *Params) { r.Count = p.Uint32(4) }

// ObjectDesc layout:
//
//	word 0    le32 pad, le32 id
//	word 1    le16 vendor, u8 irq count, u8 region count, le32 state
//	word 2    le16 version major, le16 version minor, le16 flags
//	words 3-4 type
//	words 5-6 label
type ObjectDesc struct {
	Type         string
	ID           uint32
	Vendor       uint16
	IRQCount     uint8
	RegionCount  uint8
	State        uint32
	VersionMajor uint16
	VersionMinor uint16
	Flags        uint16
	Label        string
}

func (r *ObjectDesc) encode(p *Params) {
	p.PutUint32(4, r.ID)
	p.PutUint16(8, r.Vendor)
	p.PutUint8(10, r.IRQCount)
	p.PutUint8(11, r.RegionCount)
	p.PutUint32(12, r.State)
	p.PutUint16(16, r.VersionMajor)
	p.PutUint16(18, r.VersionMinor)
	p.PutUint16(20, r.Flags)
	p.PutLabel(24, r.Type)
	p.PutLabel(40, r.Label)
}

func (r *ObjectDesc) decode(p *Params) {
	r.ID = p.Uint32(4)
	r.Vendor = p.Uint16(8)
	r.IRQCount = p.Uint8(10)
	r.RegionCount = p.Uint8(11)
	r.State = p.Uint32(12)
	r.VersionMajor = p.Uint16(16)
	r.VersionMinor = p.Uint16(18)
	r.Flags = p.Uint16(20)
	r.Type = p.Label(24)
	r.Label = p.Label(40)
}

type ResourceCount struct {
	Count uint32
}

func (r *ResourceCount) encode(p *Params) { p.PutUint32(0, r.Count) }
func (r *ResourceCount) decode(p *Params) { r.Count = p.Uint32(0) }

// Link state values carried in a get_connection response.
const (
	LinkNone     int32 = -1
	LinkDown     int32 = 0
	LinkUp       int32 = 1
	LinkDegraded int32 = 2
)

// ConnectionState layout: words 0-2 pad, word 3 le32 ep2 id, le32 ep2
// interface, words 4-5 ep2 type, word 6 le32 state.
type ConnectionState struct {
	Peer  Endpoint
	State int32
}

func (r *ConnectionState) encode(p *Params) {
	putEndpoint(p, 24, r.Peer)
	p.PutUint32(48, uint32(r.State))
}

func (r *ConnectionState) decode(p *Params) {
	r.Peer = endpointAt(p, 24)
	r.State = int32(p.Uint32(48))
}

type FirmwareVersion struct {
	Revision uint32
	Major    uint32
	Minor    uint32
}

func (r FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", r.Major, r.Minor, r.Revision)
}

// ParseFirmwareVersion reads "major.minor" or "major.minor.revision".
func ParseFirmwareVersion(raw string) (FirmwareVersion, error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) < 2 || len(parts) > 3 {
		return FirmwareVersion{}, fmt.Errorf("protocol: bad firmware version %q", raw)
	}
	var nums [3]uint32
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return FirmwareVersion{}, fmt.Errorf("protocol: bad firmware version %q: %w", raw, err)
		}
		nums[i] = uint32(n)
	}
	return FirmwareVersion{Major: nums[0], Minor: nums[1], Revision: nums[2]}, nil
}

func (r *FirmwareVersion) encode(p *Params) {
	p.PutUint32(0, r.Revision)
	p.PutUint32(4, r.Major)
	p.PutUint32(8, r.Minor)
}

func (r *FirmwareVersion) decode(p *Params) {
	r.Revision = p.Uint32(0)
	r.Major = p.Uint32(4)
	r.Minor = p.Uint32(8)
}

type ObjectID struct {
	ID uint32
}

func (r *ObjectID) encode(p *Params) { p.PutUint32(0, r.ID) }
func (r *ObjectID) decode(p *Params) { r.ID = p.Uint32(0) }

// BlobReport carries the soft parser's own error code. It travels in a
// response whose header status may well be OK.
type BlobReport struct {
	Error uint16
}

func (r *BlobReport) encode(p *Params) { p.PutUint16(0, r.Error) }
func (r *BlobReport) decode(p *Params) { r.Error = p.Uint16(0) }
