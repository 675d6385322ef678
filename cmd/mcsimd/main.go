package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/danmuck/mcportal/internal/mcsim"
	"github.com/danmuck/mcportal/internal/observability"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "mcsimd: %v\n", err)
			os.Exit(1)
		}
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("mcsimd", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "cmd/mcsimd/config.toml", "mcsimd config path")
	listen := flags.String("listen", "", "portal listen address (overrides config)")
	adminAddr := flags.String("admin", "", "admin HTTP address, empty keeps config (use - to disable)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	logger := observability.InitLogger("mcsimd")

	cfg, err := loadSimdConfig(*configPath)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	switch *adminAddr {
	case "":
	case "-":
		cfg.AdminAddr = ""
	default:
		cfg.AdminAddr = *adminAddr
	}
	cfg.Sim.Logger = logger.With().Str("component", "firmware").Logger()

	sim, err := mcsim.New(cfg.Sim)
	if err != nil {
		return fmt.Errorf("build simulator: %w", err)
	}
	for _, b := range cfg.Blobs {
		sim.StageBlob(b.Address, b.Code)
	}
	log.Info().
		Uint32("root", sim.RootID()).
		Str("firmware", cfg.Sim.Firmware.String()).
		Int("objects", len(cfg.Sim.Objects)).
		Int("blobs", len(cfg.Blobs)).
		Msg("simulated firmware ready")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen(cfg.Network, cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s %s: %w", cfg.Network, cfg.Listen, err)
	}
	return serve(ctx, sim, ln, cfg, logger)
}

// serve runs the portal listener and the admin API until ctx is done or
// either of them fails.
func serve(ctx context.Context, sim *mcsim.Sim, ln net.Listener, cfg simdConfig, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	server := mcsim.NewServer(sim, cfg.Server, logger.With().Str("component", "portal").Logger())
	log.Info().Str("network", cfg.Network).Str("addr", ln.Addr().String()).Msg("portal listener started")

	errs := make(chan error, 2)
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := server.Serve(ctx, ln); err != nil {
			errs <- fmt.Errorf("portal listener: %w", err)
		}
	}()

	var admin *http.Server
	if cfg.AdminAddr != "" {
		gin.SetMode(gin.ReleaseMode)
		admin = &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           sim.AdminRouter(cfg.Node, cfg.CORSOrigins, logger.With().Str("component", "admin").Logger()),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.AdminAddr).Msg("admin http started")
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("admin http: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Int("portal_clients", server.Active()).Msg("shutdown requested")
	case runErr = <-errs:
	}
	cancel()
	<-served
	if admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := admin.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("admin http shutdown")
		}
	}
	return runErr
}
