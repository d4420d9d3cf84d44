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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Rooms/internal/adapters/http"
	"github.com/dkeye/Rooms/internal/adapters/rtc"
	wsignal "github.com/dkeye/Rooms/internal/adapters/signal"
	"github.com/dkeye/Rooms/internal/app"
	"github.com/dkeye/Rooms/internal/app/orch"
	"github.com/dkeye/Rooms/internal/app/sfu"
	"github.com/dkeye/Rooms/internal/config"
	"github.com/dkeye/Rooms/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := app.NewRegistry()
	limiter := wsignal.NewJoinRateLimiter(cfg.Signal.JoinLimit, cfg.Signal.JoinInterval)
	ctrl := wsignal.NewSignalWSController(reg, limiter, wsignal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		ICE:        rtc.NewConfig(cfg.Media.ICEServers),
	})

	var (
		media  core.MediaEngine
		engine *sfu.Engine
	)
	sim := sfu.NewSimulated(cfg.Media.SimulatedLatency)
	switch cfg.Media.Engine {
	case config.EngineSimulated:
		media = sim
	default:
		// Browser sessions negotiate real media; harness participants stay simulated.
		engine = sfu.NewEngine(ctx)
		media = sfu.NewMixed(engine, sim, ctrl.HasSession)
	}

	manager := app.NewRoomManager(media, ctrl, cfg.Room.GracePeriod)
	coord := orch.NewSessionCoordinator(manager, media, app.SimplePolicy{}, orch.Options{
		JoinTimeout:        cfg.Room.JoinTimeout,
		NegotiationTimeout: cfg.Room.NegotiationTimeout,
		BarrierTimeout:     cfg.Room.BarrierTimeout,
	})
	ctrl.Bind(coord, engine)

	r := router.SetupRouter(ctx, cfg, coord, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("engine", cfg.Media.Engine).Msg("Rooms server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return coord.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
