package mcsim

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/mcportal/internal/portal"
	"github.com/danmuck/mcportal/internal/protocol"
	"github.com/danmuck/mcportal/internal/protocol/frame"
	"github.com/danmuck/mcportal/internal/testutil/testlog"
)

func startServer(t *testing.T, sim *Sim) (*Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(sim, ServerConfig{}, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Errorf("server did not stop")
		}
	})
	return srv, ln.Addr().String()
}

func TestServerAnswersPortalClient(t *testing.T) {
	logger := testlog.Start(t)
	sim, err := New(DefaultConfig())
	require.NoError(t, err)
	srv, addr := startServer(t, sim)
	require.Zero(t, srv.Active())

	tr, err := portal.DialStream(context.Background(), portal.StreamConfig{Address: addr, MaxConnectAttempts: 3}, logger)
	require.NoError(t, err)
	defer tr.Close()

	p := portal.New(tr, portal.WithLogger(logger))
	var id protocol.ContainerID
	require.NoError(t, p.Call(protocol.GetContainerID{}, &id))
	require.Equal(t, sim.RootID(), id.ID)

	fw, err := p.FirmwareVersion()
	require.NoError(t, err)
	require.Equal(t, uint32(10), fw.Major)
	require.Equal(t, 1, srv.Active())

	require.NoError(t, tr.Close())
	require.Eventually(t, func() bool { return srv.Active() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServerFaultsOnTruncatedRecord(t *testing.T) {
	sim, err := New(DefaultConfig())
	require.NoError(t, err)
	_, addr := startServer(t, sim)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, frame.WriteFrame(conn, frame.New(frame.KindRequest, 1, make([]byte, 10)), frame.DefaultLimits()))
	fr, err := frame.ReadFrame(conn, frame.DefaultLimits())
	require.NoError(t, err)
	require.Equal(t, frame.KindFault, fr.Header.Kind)
	require.Equal(t, uint32(1), fr.Header.Sequence)
	require.Contains(t, string(fr.Payload), "truncated")
}

func TestAdminRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sim, err := New(DefaultConfig())
	require.NoError(t, err)
	router := sim.AdminRouter("mcsimd-test", nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/containers/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var info ContainerInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, uint32(1), info.ID)
	require.Len(t, info.FreeICIDs, 8)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/containers/77", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/containers/x", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	for _, path := range []string{"/health", "/containers", "/connections", "/metrics"} {
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}
