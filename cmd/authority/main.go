// Command authority runs the room authority: the client socket, the
// physics loop and the room lifecycle published to the broker.
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
	"github.com/dkeye/videoroom/internal/adapters/ws"
	"github.com/dkeye/videoroom/internal/auth"
	"github.com/dkeye/videoroom/internal/authority"
	"github.com/dkeye/videoroom/internal/broker"
	"github.com/dkeye/videoroom/internal/config"
	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/logging"
	"github.com/dkeye/videoroom/internal/physics"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("authority failed")
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Early setup so config.Load can log; redone once the mode is known.
	logging.Setup("debug", "info")
	cfg, err := config.Load("authority")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Setup(cfg.Mode, cfg.LogLevel)

	var level *physics.Level
	if cfg.Physics.LevelPath != "" {
		if level, err = physics.LoadLevel(cfg.Physics.LevelPath); err != nil {
			return fmt.Errorf("load level: %w", err)
		}
	}

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

	manager := authority.NewManager(authority.Config{
		TickRate:         cfg.Room.TickRate,
		Capacity:         cfg.Room.Capacity,
		ChatMaxLength:    cfg.Room.ChatMaxLength,
		ChatRateLimit:    cfg.Room.ChatRateLimit,
		ChatRateInterval: cfg.Room.ChatRateInterval,
		Backpressure:     cfg.Room.Backpressure,
		Level:            level,
		Spawner:          physics.Spawner{Radius: cfg.Physics.SpawnRadius, Height: cfg.Physics.SpawnHeight},
	}, bus)
	defer manager.Close()

	revoked, err := bus.Subscribe(manager.HandleRevoked, domain.SubjectSessionRevoked)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.SubjectSessionRevoked, err)
	}
	defer func() { _ = revoked.Unsubscribe() }()

	verifier := auth.NewManager(auth.Config{
		Secret:     cfg.Auth.Secret,
		Issuer:     cfg.Auth.Issuer,
		CookieName: cfg.Auth.CookieName,
	})
	handler := ws.NewHandler(manager, verifier, ws.Config{
		ReadLimit:    cfg.HTTP.ReadLimit,
		PingPeriod:   cfg.HTTP.PingPeriod,
		PongWait:     cfg.HTTP.PongWait,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	})

	r := router.AuthorityRouter(ctx, router.RouterConfig{
		Mode:   cfg.Mode,
		Secret: cfg.Auth.Secret,
		Ready: func() error {
			if !bus.IsConnected() {
				return errors.New("broker disconnected")
			}
			return nil
		},
	}, manager, handler)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("authority started")
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
	// Kick sessions first so clients get a reason before the socket drops.
	manager.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("authority exited gracefully")
	return nil
}
