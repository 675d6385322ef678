package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/mcportal/internal/bootflow"
	"github.com/danmuck/mcportal/internal/config"
	"github.com/danmuck/mcportal/internal/mcsim"
	"github.com/danmuck/mcportal/internal/portal"
)

func TestServeBootsLayoutOverStream(t *testing.T) {
	cfg := defaultSimdConfig()
	cfg.AdminAddr = ""
	cfg.Sim.Seed = 3
	cfg.Sim.Objects = []mcsim.ObjectDecl{{Type: "dpni", ID: 1}, {Type: "dpmac", ID: 3}}
	sim, err := mcsim.New(cfg.Sim)
	if err != nil {
		t.Fatalf("new sim: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, sim, ln, cfg, zerolog.Nop()) }()

	stream := portal.DefaultStreamConfig()
	stream.Address = ln.Addr().String()
	stream.MaxConnectAttempts = 3
	tr, err := portal.DialStream(context.Background(), stream, zerolog.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	runner := bootflow.New(portal.New(tr))
	layout := config.Layout{
		Containers:  []config.ContainerLayout{{Name: "linux", Options: []string{"spawn"}}},
		Connections: []config.ConnectionLayout{{Endpoint1: "dpni.1", Endpoint2: "dpmac.3"}},
	}
	res, err := runner.Run(layout)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Containers) != 1 || res.Connections != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(sim.Snapshot().Containers) != 2 {
		t.Fatalf("expected child container in simulator")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
}
