package portal

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/danmuck/mcportal/internal/protocol"
	"github.com/danmuck/mcportal/internal/protocol/frame"
	"github.com/danmuck/mcportal/internal/testutil/testlog"
)

// testContext stands in for testing.T.Context (Go 1.24+): the context is
// cancelled when the test finishes.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// serveOnce answers one request frame on conn using answer.
func serveOnce(t *testing.T, conn net.Conn, answer func(req frame.Frame) frame.Frame) {
	t.Helper()
	go func() {
		req, err := frame.ReadFrame(conn, frame.DefaultLimits())
		if err != nil {
			return
		}
		_ = frame.WriteFrame(conn, answer(req), frame.DefaultLimits())
	}()
}

func echoRecord(status protocol.Status) func(frame.Frame) frame.Frame {
	return func(req frame.Frame) frame.Frame {
		var cmd protocol.Command
		_ = cmd.UnmarshalBinary(req.Payload)
		raw, _ := protocol.Respond(cmd, status, 0x77, nil).MarshalBinary()
		return frame.New(frame.KindResponse, req.Header.Sequence, raw)
	}
}

func TestStreamTransportRoundTrip(t *testing.T) {
	logger := testlog.Start(t)
	client, server := net.Pipe()
	defer server.Close()
	tr := NewStreamTransport(client, StreamConfig{CallTimeout: time.Second}, logger)
	defer tr.Close()

	serveOnce(t, server, echoRecord(protocol.StatusOK))
	cmd, _ := protocol.Marshal(protocol.Open{Code: protocol.OpDPRCOpen, ID: 1}, 0, 0)
	rsp, err := tr.Send(cmd)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if rsp.Header.Opcode != protocol.OpDPRCOpen || rsp.Header.Token != 0x77 {
		t.Fatalf("unexpected response header %+v", rsp.Header)
	}
}

func TestStreamTransportSequenceMismatchBreaksStream(t *testing.T) {
	logger := testlog.Start(t)
	client, server := net.Pipe()
	defer server.Close()
	tr := NewStreamTransport(client, StreamConfig{CallTimeout: time.Second}, logger)

	serveOnce(t, server, func(req frame.Frame) frame.Frame {
		fr := echoRecord(protocol.StatusOK)(req)
		fr.Header.Sequence++
		return fr
	})
	cmd, _ := protocol.Marshal(protocol.GetContainerID{}, 0, 0)
	if _, err := tr.Send(cmd); !errors.Is(err, ErrSequenceMismatch) {
		t.Fatalf("expected sequence mismatch, got %v", err)
	}
	// No address to redial.
	if _, err := tr.Send(cmd); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected closed stream, got %v", err)
	}
}

func TestStreamTransportFault(t *testing.T) {
	logger := testlog.Start(t)
	client, server := net.Pipe()
	defer server.Close()
	tr := NewStreamTransport(client, StreamConfig{CallTimeout: time.Second}, logger)
	defer tr.Close()

	serveOnce(t, server, func(req frame.Frame) frame.Frame {
		return frame.New(frame.KindFault, req.Header.Sequence, []byte("portal reset"))
	})
	cmd, _ := protocol.Marshal(protocol.GetContainerID{}, 0, 0)
	_, err := tr.Send(cmd)
	if !errors.Is(err, ErrFault) {
		t.Fatalf("expected fault, got %v", err)
	}
}

func TestStreamTransportTimeout(t *testing.T) {
	logger := testlog.Start(t)
	client, server := net.Pipe()
	defer server.Close()
	tr := NewStreamTransport(client, StreamConfig{CallTimeout: 50 * time.Millisecond}, logger)
	defer tr.Close()

	go func() {
		_, _ = frame.ReadFrame(server, frame.DefaultLimits())
	}()
	cmd, _ := protocol.Marshal(protocol.GetContainerID{}, 0, 0)
	_, err := tr.Send(cmd)
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestDialStreamRequiresAddress(t *testing.T) {
	logger := testlog.Start(t)
	_, err := DialStream(testContext(t), StreamConfig{}, logger)
	if !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}
}

func TestStreamConfigRedialDelayCappedByCallTimeout(t *testing.T) {
	testlog.Start(t)
	cfg := StreamConfig{RedialDelay: 100 * time.Millisecond, CallTimeout: 300 * time.Millisecond}
	want := map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 300 * time.Millisecond,
		8: 300 * time.Millisecond,
	}
	for attempt, d := range want {
		if got := cfg.redialDelay(attempt, nil); got != d {
			t.Fatalf("attempt %d: got=%v want=%v", attempt, got, d)
		}
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 32; i++ {
		got := cfg.redialDelay(2, rng)
		if got < 100*time.Millisecond || got >= 200*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}

func TestStreamTransportRedialsAfterBrokenStream(t *testing.T) {
	logger := testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan struct{}, 4)
	go func() {
		for n := 0; ; n++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- struct{}{}
			if n == 0 {
				// First stream dies mid-call.
				_, _ = frame.ReadFrame(conn, frame.DefaultLimits())
				_ = conn.Close()
				continue
			}
			go func() {
				defer conn.Close()
				for {
					req, err := frame.ReadFrame(conn, frame.DefaultLimits())
					if err != nil {
						return
					}
					_ = frame.WriteFrame(conn, echoRecord(protocol.StatusOK)(req), frame.DefaultLimits())
				}
			}()
		}
	}()

	tr, err := DialStream(testContext(t), StreamConfig{
		Address:     ln.Addr().String(),
		CallTimeout: time.Second,
		RedialDelay: time.Millisecond,
	}, logger)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	cmd, _ := protocol.Marshal(protocol.GetContainerID{}, 0, 0)
	if _, err := tr.Send(cmd); err == nil {
		t.Fatalf("expected broken stream error")
	}
	rsp, err := tr.Send(cmd)
	if err != nil {
		t.Fatalf("send after redial: %v", err)
	}
	if rsp.Header.Status != protocol.StatusOK {
		t.Fatalf("unexpected status %v", rsp.Header.Status)
	}
	if got := len(accepted); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}
}
