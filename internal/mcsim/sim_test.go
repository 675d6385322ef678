package mcsim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/mcportal/internal/protocol"
)

func newTestSim(t *testing.T) (*Sim, *Portal) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Seed = 7
	cfg.ICIDs = []uint16{11, 10}
	cfg.Portals = []uint32{3}
	cfg.Objects = []ObjectDecl{{Type: "dpmac", ID: 1}, {Type: "dpmac", ID: 2}, {Type: "dpni", ID: 0}}
	sim, err := New(cfg)
	require.NoError(t, err)
	p, err := sim.Attach(sim.RootID())
	require.NoError(t, err)
	return sim, p
}

func send(t *testing.T, p *Portal, token uint16, req protocol.Request, out protocol.Response) (protocol.Status, uint16) {
	t.Helper()
	cmd, err := protocol.Marshal(req, protocol.FlagPriority, token)
	require.NoError(t, err)
	rsp, err := p.Send(cmd)
	require.NoError(t, err)
	status, err := protocol.Unmarshal(rsp, cmd.Header.Opcode, out)
	require.NoError(t, err)
	return status, rsp.Header.Token
}

func openRoot(t *testing.T, p *Portal) uint16 {
	t.Helper()
	status, token := send(t, p, 0, protocol.Open{Code: protocol.OpDPRCOpen, ID: 1}, nil)
	require.Equal(t, protocol.StatusOK, status)
	require.NotZero(t, token)
	return token
}

func TestCreateContainerDrawsLowestFromParentPool(t *testing.T) {
	sim, p := newTestSim(t)
	root := openRoot(t, p)

	var out protocol.CreateContainerResult
	status, _ := send(t, p, root, protocol.CreateContainer{
		Options:  uint32(optSpawn),
		ICID:     icidFromPool,
		PortalID: portalFromPool,
		Label:    "child",
	}, &out)
	require.Equal(t, protocol.StatusOK, status)
	require.Equal(t, uint64(3)*PortalStride, out.PortalOffset)

	info, ok := sim.Container(out.ChildID)
	require.True(t, ok)
	require.Equal(t, uint16(10), info.ICID)
	require.Equal(t, uint32(3), info.PortalID)
	require.Equal(t, "child", info.Label)

	icids, _ := sim.FreeICIDs(1)
	portals, _ := sim.FreePortals(1)
	require.Equal(t, []uint16{11}, icids)
	require.Empty(t, portals)

	// ICID is available but the portal pool is empty; nothing may leak.
	status, _ = send(t, p, root, protocol.CreateContainer{ICID: icidFromPool, PortalID: portalFromPool}, &out)
	require.Equal(t, protocol.StatusNoResource, status)
	icids, _ = sim.FreeICIDs(1)
	require.Equal(t, []uint16{11}, icids)
}

func TestExplicitIdentifiersMustBeFree(t *testing.T) {
	sim, p := newTestSim(t)
	root := openRoot(t, p)

	var out protocol.CreateContainerResult
	status, _ := send(t, p, root, protocol.CreateContainer{ICID: 42, PortalID: portalFromPool}, &out)
	require.Equal(t, protocol.StatusNoResource, status)

	status, _ = send(t, p, root, protocol.CreateContainer{ICID: 11, PortalID: 3}, &out)
	require.Equal(t, protocol.StatusOK, status)
	icids, _ := sim.FreeICIDs(1)
	require.Equal(t, []uint16{10}, icids)
}

func TestSpawnRequiresOption(t *testing.T) {
	_, p := newTestSim(t)
	root := openRoot(t, p)

	var child protocol.CreateContainerResult
	status, _ := send(t, p, root, protocol.CreateContainer{ICID: icidFromPool, PortalID: portalFromPool}, &child)
	require.Equal(t, protocol.StatusOK, status)

	status, childToken := send(t, p, 0, protocol.Open{Code: protocol.OpDPRCOpen, ID: child.ChildID}, nil)
	require.Equal(t, protocol.StatusOK, status)

	status, _ = send(t, p, childToken, protocol.CreateContainer{ICID: icidFromPool, PortalID: portalFromPool}, &protocol.CreateContainerResult{})
	require.Equal(t, protocol.StatusNoPrivilege, status)
}

func TestAllocAllowedFallsBackToGrandparent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ICIDs = []uint16{20, 21}
	cfg.Portals = []uint32{5, 6}
	sim, err := New(cfg)
	require.NoError(t, err)
	p, err := sim.Attach(sim.RootID())
	require.NoError(t, err)
	root := openRoot(t, p)

	var child protocol.CreateContainerResult
	status, _ := send(t, p, root, protocol.CreateContainer{
		Options:  uint32(optSpawn | optAlloc),
		ICID:     icidFromPool,
		PortalID: portalFromPool,
	}, &child)
	require.Equal(t, protocol.StatusOK, status)

	_, childToken := send(t, p, 0, protocol.Open{Code: protocol.OpDPRCOpen, ID: child.ChildID}, nil)
	var grandchild protocol.CreateContainerResult
	status, _ = send(t, p, childToken, protocol.CreateContainer{ICID: icidFromPool, PortalID: portalFromPool}, &grandchild)
	require.Equal(t, protocol.StatusOK, status)

	info, _ := sim.Container(grandchild.ChildID)
	require.Equal(t, uint16(21), info.ICID)
	require.Equal(t, uint32(6), info.PortalID)

	// Destroying the child returns the grandchild's identifiers to the
	// root pool they came from.
	status, _ = send(t, p, root, protocol.DestroyContainer{ChildID: child.ChildID}, nil)
	require.Equal(t, protocol.StatusOK, status)
	icids, _ := sim.FreeICIDs(1)
	portals, _ := sim.FreePortals(1)
	require.Equal(t, []uint16{20, 21}, icids)
	require.Equal(t, []uint32{5, 6}, portals)

	// Sessions on the destroyed subtree are gone.
	status, _ = send(t, p, childToken, protocol.GetAttributes{}, &protocol.Attributes{})
	require.Equal(t, protocol.StatusAuthError, status)
}

func TestDestroyRejectsForeignChild(t *testing.T) {
	_, p := newTestSim(t)
	root := openRoot(t, p)
	status, _ := send(t, p, root, protocol.DestroyContainer{ChildID: 1}, nil)
	require.Equal(t, protocol.StatusConfigError, status)
}

func TestOpenUnknownContainer(t *testing.T) {
	_, p := newTestSim(t)
	status, _ := send(t, p, 0, protocol.Open{Code: protocol.OpDPRCOpen, ID: 99}, nil)
	require.Equal(t, protocol.StatusConfigError, status)
}

func TestTokensArePerPortal(t *testing.T) {
	sim, p := newTestSim(t)
	root := openRoot(t, p)

	other, err := sim.Attach(sim.RootID())
	require.NoError(t, err)
	status, _ := send(t, other, root, protocol.GetAttributes{}, &protocol.Attributes{})
	require.Equal(t, protocol.StatusAuthError, status)

	status, _ = send(t, p, root, protocol.Close{}, nil)
	require.Equal(t, protocol.StatusOK, status)
	status, _ = send(t, p, root, protocol.Close{}, nil)
	require.Equal(t, protocol.StatusAuthError, status)
}

func TestConnectionLifecycle(t *testing.T) {
	sim, p := newTestSim(t)
	root := openRoot(t, p)
	mac1 := protocol.Endpoint{Type: "dpmac", ID: 1}
	mac2 := protocol.Endpoint{Type: "dpmac", ID: 2}
	ni := protocol.Endpoint{Type: "dpni", ID: 0}

	status, _ := send(t, p, root, protocol.Connect{Endpoint1: ni, Endpoint2: mac1, MaxRate: 1000}, nil)
	require.Equal(t, protocol.StatusOK, status)

	var st protocol.ConnectionState
	send(t, p, root, protocol.GetConnection{Endpoint: mac1}, &st)
	require.Equal(t, ni, st.Peer)
	require.Equal(t, protocol.LinkUp, st.State)

	status, _ = send(t, p, root, protocol.Connect{Endpoint1: ni, Endpoint2: mac2}, nil)
	require.Equal(t, protocol.StatusBusy, status)

	status, _ = send(t, p, root, protocol.Connect{Endpoint1: ni, Endpoint2: protocol.Endpoint{Type: "dpmac", ID: 9}}, nil)
	require.Equal(t, protocol.StatusConfigError, status)

	require.Len(t, sim.Snapshot().Connections, 1)

	for i := 0; i < 2; i++ {
		status, _ = send(t, p, root, protocol.Disconnect{Endpoint: mac1}, nil)
		require.Equal(t, protocol.StatusOK, status)
	}
	send(t, p, root, protocol.GetConnection{Endpoint: ni}, &st)
	require.Equal(t, protocol.LinkNone, st.State)
}

func TestObjectLifecycleAndBlobReport(t *testing.T) {
	sim, p := newTestSim(t)
	root := openRoot(t, p)
	sim.StageBlob(0x8000_0000, 0)

	var id protocol.ObjectID
	status, _ := send(t, p, root, protocol.CreateObject{Code: protocol.OpDPSParserCreate}, &id)
	require.Equal(t, protocol.StatusOK, status)

	status, token := send(t, p, 0, protocol.Open{Code: protocol.OpDPSParserOpen, ID: id.ID}, nil)
	require.Equal(t, protocol.StatusOK, status)

	var report protocol.BlobReport
	status, _ = send(t, p, token, protocol.ApplyBlob{Address: 0x8000_0000}, &report)
	require.Equal(t, protocol.StatusOK, status)
	require.Equal(t, uint16(0), report.Error)

	status, _ = send(t, p, token, protocol.ApplyBlob{Address: 0x1234}, &report)
	require.Equal(t, protocol.StatusOK, status)
	require.Equal(t, blobInvalidAddress, report.Error)

	// A container token cannot drive the parser.
	status, _ = send(t, p, root, protocol.ApplyBlob{Address: 0x8000_0000}, &report)
	require.Equal(t, protocol.StatusInvalidState, status)

	status, _ = send(t, p, root, protocol.DestroyObject{Code: protocol.OpDPSParserDestroy, ObjectID: id.ID}, nil)
	require.Equal(t, protocol.StatusOK, status)
	status, _ = send(t, p, token, protocol.ApplyBlob{Address: 0x8000_0000}, &report)
	require.Equal(t, protocol.StatusAuthError, status)
}

func TestDiscoveryListing(t *testing.T) {
	_, p := newTestSim(t)
	root := openRoot(t, p)

	var child protocol.CreateContainerResult
	send(t, p, root, protocol.CreateContainer{ICID: icidFromPool, PortalID: portalFromPool, Label: "linux"}, &child)

	var count protocol.ObjectCount
	send(t, p, root, protocol.GetObjectCount{}, &count)
	require.Equal(t, uint32(4), count.Count)

	var desc protocol.ObjectDesc
	send(t, p, root, protocol.GetObject{Index: 0}, &desc)
	require.Equal(t, "dprc", desc.Type)
	require.Equal(t, child.ChildID, desc.ID)
	require.Equal(t, "linux", desc.Label)

	send(t, p, root, protocol.GetObject{Index: 3}, &desc)
	require.Equal(t, "dpni", desc.Type)

	status, _ := send(t, p, root, protocol.GetObject{Index: 4}, &desc)
	require.Equal(t, protocol.StatusConfigError, status)

	var res protocol.ResourceCount
	send(t, p, root, protocol.GetResourceCount{Type: "icid"}, &res)
	require.Equal(t, uint32(1), res.Count)
}

func TestUnknownOpcodeIsUnsupported(t *testing.T) {
	_, p := newTestSim(t)
	rsp, err := p.Send(protocol.Command{Header: protocol.Header{Opcode: 0x0fff}})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusUnsupportedOp, rsp.Header.Status)
}

func TestDetachedPortalFails(t *testing.T) {
	sim, p := newTestSim(t)
	sim.Detach(p)
	_, err := p.Send(protocol.Command{Header: protocol.Header{Opcode: protocol.OpDPRCGetContainerID}})
	require.ErrorIs(t, err, ErrPortalDetached)
}

func TestNewRejectsDuplicateObject(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Objects = []ObjectDecl{{Type: "dpmac", ID: 4}, {Type: "dpmac", ID: 4, Label: "again"}}
	_, err := New(cfg)
	require.ErrorIs(t, err, ErrObjectExists)
}

func TestNewKeepsPoolIdentifiersOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ICIDs = []uint16{12, 10, 12, 11, 10}
	cfg.Portals = []uint32{7, 7, 2}
	sim, err := New(cfg)
	require.NoError(t, err)

	icids, err := sim.FreeICIDs(sim.RootID())
	require.NoError(t, err)
	require.Equal(t, []uint16{10, 11, 12}, icids)
	portals, err := sim.FreePortals(sim.RootID())
	require.NoError(t, err)
	require.Equal(t, []uint32{2, 7}, portals)
}
