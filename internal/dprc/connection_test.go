package dprc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/mcportal/internal/mcerr"
	"github.com/danmuck/mcportal/internal/mcsim"
)

func withPorts(cfg *mcsim.Config) {
	cfg.Objects = []mcsim.ObjectDecl{
		{Type: "dpni", ID: 0},
		{Type: "dpmac", ID: 1},
		{Type: "dpmac", ID: 2},
	}
}

func TestConnectThenQueryThenDisconnect(t *testing.T) {
	f := newFixture(t, withPorts)
	ni := Endpoint{Type: "dpni", ID: 0}
	mac := Endpoint{Type: "dpmac", ID: 1}

	require.NoError(t, f.client.Connect(f.root, ni, mac, &RateConfig{CommittedRate: 1000, MaxRate: 10000}))

	conn, err := f.client.GetConnection(f.root, ni)
	require.NoError(t, err)
	require.True(t, conn.Connected())
	require.Equal(t, mac, conn.Peer)
	require.Equal(t, LinkUp, conn.State)
	require.Equal(t, "up", conn.State.String())

	require.NoError(t, f.client.Disconnect(f.root, ni))
	conn, err = f.client.GetConnection(f.root, ni)
	require.NoError(t, err)
	require.False(t, conn.Connected())
	require.Equal(t, NoConnection, conn.State)

	require.NoError(t, f.client.Disconnect(f.root, ni))
}

func TestSecondConnectIsAlreadyConnected(t *testing.T) {
	f := newFixture(t, withPorts)
	ni := Endpoint{Type: "dpni", ID: 0}

	require.NoError(t, f.client.Connect(f.root, ni, Endpoint{Type: "dpmac", ID: 1}, nil))
	err := f.client.Connect(f.root, ni, Endpoint{Type: "dpmac", ID: 2}, nil)
	require.ErrorIs(t, err, mcerr.ErrAlreadyConnected)

	// The failed call left the session usable.
	_, err = f.client.GetConnection(f.root, ni)
	require.NoError(t, err)
}

func TestConnectRequiresTopologyOption(t *testing.T) {
	f := newFixture(t, withPorts)
	child, err := f.client.CreateContainer(f.root, PoolConfig(0, "c"))
	require.NoError(t, err)
	h, err := f.client.Open(child.ID)
	require.NoError(t, err)

	err = f.client.Connect(h, Endpoint{Type: "dpni", ID: 0}, Endpoint{Type: "dpmac", ID: 1}, nil)
	require.ErrorIs(t, err, mcerr.ErrPermissionDenied)
}

func TestEndpointWithoutTypeRejectedLocally(t *testing.T) {
	f := newFixture(t, withPorts)
	calls := f.tr.calls
	_, err := f.client.GetConnection(f.root, Endpoint{ID: 3})
	require.ErrorIs(t, err, mcerr.ErrInvalidArgument)
	require.Equal(t, calls, f.tr.calls)
}
