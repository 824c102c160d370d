// Command sfu runs the media session service: the worker pool, the room
// directory fed by the broker and the signaling API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	router "github.com/dkeye/videoroom/internal/adapters/http"
	"github.com/dkeye/videoroom/internal/auth"
	"github.com/dkeye/videoroom/internal/broker"
	"github.com/dkeye/videoroom/internal/config"
	"github.com/dkeye/videoroom/internal/directory"
	"github.com/dkeye/videoroom/internal/logging"
	"github.com/dkeye/videoroom/internal/media"
	"github.com/dkeye/videoroom/internal/media/pion"
	"github.com/dkeye/videoroom/internal/signaling"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("sfu failed")
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logging.Setup("debug", "info")
	cfg, err := config.Load("sfu")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Setup(cfg.Mode, cfg.LogLevel)

	pool := media.NewPool(pion.NewEngine(pion.Config{
		AnnouncedIP: cfg.Media.AnnouncedIP,
		MinPort:     cfg.Media.MinPort,
		MaxPort:     cfg.Media.MaxPort,
		ICEServers:  cfg.Media.ICEServers,
	}), media.PoolConfig{
		Workers:  cfg.Media.Workers,
		Strategy: media.StrategyFor(cfg.Media.Strategy),
	})
	// Without workers no room can ever get a router.
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start media pool: %w", err)
	}
	defer func() {
		if err := pool.Close(); err != nil {
			log.Warn().Err(err).Msg("media pool close")
		}
	}()

	bus, err := broker.Connect(broker.Config{
		URL:            cfg.Broker.URL,
		Name:           cfg.Broker.Name,
		RequestTimeout: cfg.Broker.RequestTimeout,
		Queue:          cfg.Broker.Queue,
	})
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Warn().Err(err).Msg("broker close")
		}
	}()

	dir := directory.New(pool)
	defer dir.Close()

	svc := signaling.NewService(pool, dir, signaling.Config{
		ProducePolicy: signaling.PolicyFor(cfg.Signaling.ProducePolicy),
		EventBuffer:   cfg.Signaling.EventBuffer,
	})
	defer svc.Close()

	ctrl := directory.NewController(dir)
	if err := ctrl.Start(bus); err != nil {
		return fmt.Errorf("start directory controller: %w", err)
	}
	defer func() { _ = ctrl.Stop() }()

	verifier := auth.NewManager(auth.Config{
		Secret:     cfg.Auth.Secret,
		Issuer:     cfg.Auth.Issuer,
		CookieName: cfg.Auth.CookieName,
	})
	r := router.SFURouter(router.RouterConfig{
		Mode: cfg.Mode,
		Ready: func() error {
			if !bus.IsConnected() {
				return errors.New("broker disconnected")
			}
			return nil
		},
	}, svc, verifier)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("sfu started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	log.Info().Msg("shutting down")
	// Ends the event streams so Shutdown does not wait on them.
	svc.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("sfu exited gracefully")
	return nil
}
