package dprc

import (
	"fmt"

	"github.com/danmuck/mcportal/internal/protocol"
	"github.com/danmuck/mcportal/internal/session"
)

// Endpoint names one attachment point: object type, object id and
// interface index (zero for single-interface objects).
type Endpoint = protocol.Endpoint

// RateConfig shapes virtual links. Physical links ignore it.
type RateConfig struct {
	CommittedRate uint32
	MaxRate       uint32
}

type LinkState int32

const (
	NoConnection LinkState = LinkState(protocol.LinkNone)
	LinkDown     LinkState = LinkState(protocol.LinkDown)
	LinkUp       LinkState = LinkState(protocol.LinkUp)
	LinkDegraded LinkState = LinkState(protocol.LinkDegraded)
)

func (s LinkState) String() string {
	switch s {
	case NoConnection:
		return "none"
	case LinkDown:
		return "down"
	case LinkUp:
		return "up"
	case LinkDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Connection is what GetConnection found for an endpoint.
type Connection struct {
	Peer  Endpoint
	State LinkState
}

func (c Connection) Connected() bool { return c.State != NoConnection }

// Connect links ep1 and ep2. An endpoint already in a connection fails
// with ErrAlreadyConnected.
func (c *Client) Connect(h session.Handle, ep1, ep2 Endpoint, rate *RateConfig) error {
	if err := checkEndpoints(protocol.OpDPRCConnect, ep1, ep2); err != nil {
		return err
	}
	req := protocol.Connect{Endpoint1: ep1, Endpoint2: ep2}
	if rate != nil {
		req.MaxRate = rate.MaxRate
		req.CommittedRate = rate.CommittedRate
	}
	return c.portal.Invoke(h, req, nil)
}

// Disconnect removes the connection of ep. An unconnected endpoint is
// not an error.
func (c *Client) Disconnect(h session.Handle, ep Endpoint) error {
	if err := checkEndpoints(protocol.OpDPRCDisconnect, ep); err != nil {
		return err
	}
	return c.portal.Invoke(h, protocol.Disconnect{Endpoint: ep}, nil)
}

// GetConnection reports the peer and link state of ep. An unconnected
// endpoint returns a Connection whose Connected is false.
func (c *Client) GetConnection(h session.Handle, ep Endpoint) (Connection, error) {
	if err := checkEndpoints(protocol.OpDPRCGetConnection, ep); err != nil {
		return Connection{}, err
	}
	var out protocol.ConnectionState
	if err := c.portal.Invoke(h, protocol.GetConnection{Endpoint: ep}, &out); err != nil {
		return Connection{}, err
	}
	state := LinkState(out.State)
	if state == NoConnection {
		return Connection{State: NoConnection}, nil
	}
	return Connection{Peer: out.Peer, State: state}, nil
}

func checkEndpoints(op protocol.Opcode, eps ...Endpoint) error {
	for _, ep := range eps {
		if ep.Type == "" {
			return invalid(op, fmt.Errorf("endpoint %s has no type", ep))
		}
		if err := protocol.CheckLabel(ep.Type); err != nil {
			return invalid(op, err)
		}
	}
	return nil
}
