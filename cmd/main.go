package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Vasu1712/scenyx-chat/internal/api/authn"
	"github.com/Vasu1712/scenyx-chat/internal/api/chat"
	"github.com/Vasu1712/scenyx-chat/internal/config"
	"github.com/Vasu1712/scenyx-chat/internal/logging"
	"github.com/Vasu1712/scenyx-chat/internal/metrics"
	"github.com/Vasu1712/scenyx-chat/internal/middleware"
	"github.com/Vasu1712/scenyx-chat/internal/storage"
	"github.com/Vasu1712/scenyx-chat/internal/storage/memory"
	"github.com/Vasu1712/scenyx-chat/internal/storage/postgres"
	"github.com/Vasu1712/scenyx-chat/internal/storage/valkey"
	"github.com/Vasu1712/scenyx-chat/internal/ws"
)

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "Development relay for the two-party chat client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadRelay(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		log := logging.New("info", nil)
		log.Fatal().Err(err).Msg("relay stopped")
	}
}

func serve(ctx context.Context, cfg config.Relay) error {
	log := logging.New(cfg.LogLevel, nil)

	passwords, err := config.ParseUsers(cfg.Users)
	if err != nil {
		return err
	}
	if len(passwords) < 2 {
		return errors.New("at least two users are required, set RELAY_USERS=alice:pw,bob:pw")
	}
	users, err := authn.NewUsers(passwords)
	if err != nil {
		return err
	}
	issuer := authn.NewIssuer(cfg.JWTSecret, cfg.AccessTTL.Std())

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := ws.NewHub(log)
	m := metrics.New()

	root := mux.NewRouter().UseEncodedPath()
	apiRouter := root.PathPrefix("/API").Subrouter()
	authn.RegisterRoutes(apiRouter, &authn.Handler{Users: users, Issuer: issuer, Log: log})
	chat.RegisterRoutes(root, apiRouter, &chat.Handler{
		Store:     store,
		Hub:       hub,
		Users:     users,
		Tokens:    issuer,
		Metrics:   m,
		UploadDir: cfg.UploadDir,
		MaxUpload: int64(cfg.MaxUpload),
		Origin:    cfg.AllowedOrigin,
		Log:       log,
	})
	root.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           middleware.CORS(cfg.AllowedOrigin, log)(root),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Strs("users", users.Names()).Msg("[Chat] relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info().Msg("[Chat] shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Relay, log zerolog.Logger) (storage.MessageStore, func(), error) {
	switch {
	case cfg.PostgresDSN != "":
		s, err := postgres.NewMessageStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Msg("[Chat] using postgres message store")
		return s, func() { _ = s.Close() }, nil
	case cfg.ValkeyAddr != "":
		s, err := valkey.NewMessageStore(cfg.ValkeyAddr)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("addr", cfg.ValkeyAddr).Msg("[Chat] using valkey message store")
		return s, s.Close, nil
	default:
		log.Info().Msg("[Chat] using in-memory message store")
		return memory.NewMessageStore(), func() {}, nil
	}
}
