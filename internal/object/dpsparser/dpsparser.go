// Package dpsparser drives the soft parser object, which loads parser
// blobs staged in memory.
package dpsparser

import (
	"github.com/danmuck/mcportal/internal/object"
	"github.com/danmuck/mcportal/internal/portal"
	"github.com/danmuck/mcportal/internal/protocol"
	"github.com/danmuck/mcportal/internal/session"
)

const Type = "dpsparser"

var Kind = object.Kind{
	Type:          Type,
	Open:          protocol.OpDPSParserOpen,
	Create:        protocol.OpDPSParserCreate,
	Destroy:       protocol.OpDPSParserDestroy,
	GetAPIVersion: protocol.OpDPSParserGetAPIVersion,
}

// Blob error codes reported by the firmware after apply_spb.
const (
	BlobOK              uint16 = 0
	BlobInvalidAddress  uint16 = 1
	BlobInvalidHeader   uint16 = 2
	BlobVersionMismatch uint16 = 3
	BlobTooLarge        uint16 = 4
)

// BlobResult is the outcome of a completed apply_spb call. Code is the
// parser's own report and is independent of the call's error.
type BlobResult struct {
	Code uint16
}

func (r BlobResult) OK() bool { return r.Code == BlobOK }

type SoftParser struct {
	*object.Driver
}

func New(p *portal.Portal) *SoftParser {
	return &SoftParser{Driver: object.NewDriver(Kind, p)}
}

// ApplyBlob loads the blob at physical address addr. A nil error only
// means the firmware ran the call: check BlobResult as well.
func (s *SoftParser) ApplyBlob(h session.Handle, addr uint64) (BlobResult, error) {
	var out protocol.BlobReport
	if err := s.Invoke(h, protocol.ApplyBlob{Address: addr}, &out); err != nil {
		return BlobResult{}, err
	}
	return BlobResult{Code: out.Error}, nil
}
