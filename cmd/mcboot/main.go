package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/danmuck/mcportal/internal/bootflow"
	"github.com/danmuck/mcportal/internal/config"
	"github.com/danmuck/mcportal/internal/observability"
	"github.com/danmuck/mcportal/internal/portal"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "mcboot: %v\n", err)
			os.Exit(1)
		}
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("mcboot", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "cmd/mcboot/config.toml", "mcboot config path")
	layoutPath := flags.String("layout", "", "layout path (overrides config)")
	address := flags.String("address", "", "portal stream address (overrides config)")
	topologyOut := flags.String("topology-out", "", "write the discovered topology here (overrides config)")
	exportOnly := flags.Bool("export-only", false, "do not boot the layout, only export the topology")
	if err := flags.Parse(args); err != nil {
		return err
	}

	logger := observability.InitLogger("mcboot")
	observability.RegisterMetrics()

	cfg, err := loadBootConfig(*configPath)
	if err != nil {
		return err
	}
	if *layoutPath != "" {
		cfg.LayoutPath = *layoutPath
	}
	if *address != "" {
		cfg.Stream.Address = *address
	}
	if *topologyOut != "" {
		cfg.TopologyOut = *topologyOut
	}
	if *exportOnly && cfg.TopologyOut == "" {
		return errors.New("--export-only needs a topology output path")
	}

	layout, err := config.LoadLayout(cfg.LayoutPath)
	switch {
	case err == nil:
	case *exportOnly && errors.Is(err, fs.ErrNotExist):
		log.Debug().Str("path", cfg.LayoutPath).Msg("no layout; exporting interface 0 connections only")
	default:
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport, err := portal.DialStream(ctx, cfg.Stream, logger)
	if err != nil {
		return err
	}
	defer transport.Close()
	log.Info().Str("network", cfg.Stream.Network).Str("address", cfg.Stream.Address).Msg("portal connected")

	p := portal.New(portal.Instrument(transport), portal.WithLogger(logger), portal.WithFlags(cfg.Flags))
	runner := bootflow.New(p, bootflow.WithLogger(logger))

	if *exportOnly {
		if err := runner.WatchLayout(layout); err != nil {
			return err
		}
	} else {
		res, err := runner.Run(layout)
		if err != nil {
			return err
		}
		for _, c := range res.Containers {
			log.Info().
				Str("container", c.Name).
				Uint32("id", c.ID).
				Str("portal_offset", fmt.Sprintf("0x%x", c.PortalOffset)).
				Bool("destroyed", c.Destroyed).
				Msg("boot container")
		}
	}

	if cfg.TopologyOut == "" {
		return nil
	}
	topo, err := runner.Export()
	if err != nil {
		return err
	}
	data, err := config.MarshalTopology(topo)
	if err != nil {
		return err
	}
	if err := os.WriteFile(cfg.TopologyOut, data, 0o644); err != nil {
		return fmt.Errorf("write topology: %w", err)
	}
	log.Info().Str("path", cfg.TopologyOut).Msg("topology exported")
	return nil
}
