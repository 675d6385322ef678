package portal

import (
	"time"

	"github.com/danmuck/mcportal/internal/observability"
	"github.com/danmuck/mcportal/internal/protocol"
)

// Transport delivers one command record to the MC and returns its
// response. Send blocks until the response arrives or the link fails; an
// implementation may apply its own timeout or retry policy.
type Transport interface {
	Send(cmd protocol.Command) (protocol.Command, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(cmd protocol.Command) (protocol.Command, error)

func (f TransportFunc) Send(cmd protocol.Command) (protocol.Command, error) { return f(cmd) }

// Instrument records prometheus metrics for every round trip through t.
func Instrument(t Transport) Transport {
	return TransportFunc(func(cmd protocol.Command) (protocol.Command, error) {
		start := time.Now()
		rsp, err := t.Send(cmd)
		if err != nil {
			observability.RecordPortalTransportFailure()
			observability.RecordPortalCommand(cmd.Header.Opcode.String(), "transport_error", time.Since(start))
			return rsp, err
		}
		observability.RecordPortalCommand(cmd.Header.Opcode.String(), rsp.Header.Status.String(), time.Since(start))
		return rsp, nil
	})
}
