package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"stayassist/internal/config"
	"stayassist/internal/reconcile"
	"stayassist/internal/render"
	"stayassist/internal/session"
	"stayassist/internal/store"
	"stayassist/internal/transport"
)

type flags struct {
	backend   string
	store     string
	storePath string
	session   string
	replay    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Load()
	f := &flags{}
	cmd := &cobra.Command{
		Use:           "stayassist-chat",
		Short:         "Chat with the StayAssist booking assistant from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.SetupLogging(cfg.LogLevel, cfg.LogFormat)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := run(ctx, cfg, f); err != nil {
				log.Error().Err(err).Msg("chat client failed")
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.backend, "backend", cfg.BackendURL, "base URL of the StayAssist gateway")
	cmd.Flags().StringVar(&f.store, "store", cfg.StoreDriver, "turn store driver: memory, file, sqlite or redis")
	cmd.Flags().StringVar(&f.storePath, "store-path", cfg.StorePath, "directory (file) or database file (sqlite) for the turn store")
	cmd.Flags().StringVar(&f.session, "session", "", "session id to resume; a new one is generated when empty")
	cmd.Flags().BoolVar(&f.replay, "replay", false, "print the stored transcript of the session before chatting")
	return cmd
}

func run(ctx context.Context, cfg config.Config, f *flags) error {
	policy, err := reconcile.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return err
	}
	turns, err := openStore(cfg, f)
	if err != nil {
		return err
	}
	defer turns.Close()

	opts := transport.DefaultOptions(f.backend)
	opts.Timeout = cfg.RequestTimeout
	opts.Retries = cfg.RequestRetries
	opts.RetryDelay = cfg.RetryDelay
	opts.Grace = cfg.AvailabilityGrace
	opts.ProbeInterval = cfg.ProbeInterval
	client := transport.New(opts)
	client.StartProbe(ctx)

	term := render.NewTerminal(os.Stdout)
	sess := session.New(client, session.Options{
		ID:         f.session,
		Store:      turns,
		Renderer:   term,
		Reconciler: reconcile.New(policy),
	})
	defer sess.Close()

	log.Info().Str("session", sess.ID()).Str("backend", f.backend).Str("store", f.store).Msg("chat session started")
	if f.replay {
		n, err := sess.Replay(ctx)
		if err != nil {
			return errors.Wrap(err, "replay transcript")
		}
		log.Debug().Int("turns", n).Msg("transcript replayed")
	}
	return newREPL(sess, term, client).Run(ctx, os.Stdin)
}

func openStore(cfg config.Config, f *flags) (store.TurnStore, error) {
	opts := []store.Option{store.WithMaxTurns(cfg.MaxTurns), store.WithPath(f.storePath)}
	switch store.Kind(f.store) {
	case store.KindSQLite:
		if dir := filepath.Dir(f.storePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, "create store directory")
			}
		}
	case store.KindRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for the redis store")
		}
		ro, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, errors.Wrap(err, "parse REDIS_URL")
		}
		opts = append(opts, store.WithRedisClient(redis.NewClient(ro), cfg.RedisTTL))
	}
	return store.NewTurnStore(store.Kind(f.store), opts...)
}
