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
	"github.com/spf13/cobra"

	"github.com/dkeye/Rendezvous/internal/adapters/events"
	router "github.com/dkeye/Rendezvous/internal/adapters/http"
	"github.com/dkeye/Rendezvous/internal/adapters/rtc"
	"github.com/dkeye/Rendezvous/internal/app"
	"github.com/dkeye/Rendezvous/internal/config"
)

func main() {
	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rendezvous",
		Short:         "WebRTC signaling relay for two-peer rooms",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				log.Error().Err(err).Msg("failed to load config")
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			if err := run(ctx, cfg); err != nil {
				log.Error().Err(err).Msg("server error")
				return err
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.String("config", "", "path to a YAML config file (default config/config.$CONFIG_ENV.yaml)")
	f.Int("port", 3001, "HTTP listen port")
	f.String("mode", "release", "gin mode: debug or release")
	f.String("log-level", "info", "zerolog level")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	ice, err := rtc.NewWebRTCConfig(cfg.ICEServers)
	if err != nil {
		return fmt.Errorf("ice servers: %w", err)
	}

	publisher := events.NewPublisher(cfg.Kafka)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("close event publisher")
		}
	}()

	reg := app.NewRegistry(app.PolicyFromString(cfg.Backpressure))
	coord := app.NewCoordinator(reg, app.NewRoomTable())
	coord.MaxCodeLen = cfg.MaxRoomCodeLen
	coord.Events = publisher

	go coord.RunJanitor(ctx, cfg.RoomIdleTimeout, cfg.JanitorInterval)

	r := router.SetupRouter(ctx, cfg, coord, ice)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Rendezvous server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	// Hijacked websockets are not tracked by Shutdown.
	reg.CancelAll()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	if err := coord.Drain(drainCtx); err != nil {
		log.Warn().Err(err).Int("live", reg.Count()).Msg("connections still open at shutdown")
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
