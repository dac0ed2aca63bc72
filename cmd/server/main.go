package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/teleconsult/arcsignal/internal/adapters/http"
	ws "github.com/teleconsult/arcsignal/internal/adapters/signal"
	"github.com/teleconsult/arcsignal/internal/app"
	"github.com/teleconsult/arcsignal/internal/auth"
	"github.com/teleconsult/arcsignal/internal/config"
	"github.com/teleconsult/arcsignal/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	registry := app.NewRegistry()
	rooms := app.NewRoomRegistry(app.RoomRegistryConfig{
		Capacity:   cfg.RoomCapacity,
		TTL:        cfg.RoomTTL,
		EmptyGrace: cfg.EmptyGrace,
	})
	calls := app.NewCallCoordinator(rooms)
	annotations := app.NewAnnotationBroadcaster(domain.SessionConfig{
		MaxAnnotations: cfg.MaxAnnotations,
		Retention:      cfg.SessionRetention,
	})
	vault := app.NewKeyVault(app.VaultConfig{
		KeyTTL:       cfg.KeyTTL,
		HistoryLimit: cfg.KeyHistoryLimit,
		AutoRotate:   cfg.KeyAutoRotate,
	})

	sweeper := app.NewSweeper()
	sweeper.Register("room-cleanup", cfg.CleanupInterval, func(now time.Time) {
		// Destroying a room retires everything attached to it: active
		// calls, the annotation session, key material, and the room
		// pointers of still-connected sessions.
		for _, roomID := range rooms.Sweep(now) {
			calls.EndCallsInRoom(roomID)
			annotations.DropRoom(roomID)
			vault.DropRoom(roomID)
			registry.ClearRoom(roomID)
		}
	})
	sweeper.Register("key-rotation", cfg.RotationInterval, func(now time.Time) {
		vault.SweepExpired(now)
	})
	sweeper.Register("annotation-idle", cfg.SessionRetention, func(now time.Time) {
		annotations.SweepIdle(now)
	})
	go sweeper.Run(ctx)

	provider := auth.GuestFallback{Next: auth.NewJWTProvider(cfg.Secret)}
	ctrl := ws.NewController(registry, rooms, calls, annotations, vault)

	r := router.SetupRouter(ctx, cfg, provider, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("arcsignal server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
