package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"stayassist/internal/config"
	"stayassist/internal/server"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, cfg)
	stop()
	if err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

// run serves until ctx ends. The server's stores are closed before it returns.
func run(ctx context.Context, cfg config.Config) error {
	s, err := server.NewServer(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "failed to create server")
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close server resources")
		}
	}()

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Str("rasa", cfg.RasaURL).Msg("StayAssist gateway listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "listen")
	}
	return nil
}
