package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/voicechat/internal/auth"
	"github.com/vovakirdan/voicechat/internal/config"
	"github.com/vovakirdan/voicechat/internal/realtime"
	"github.com/vovakirdan/voicechat/internal/service/messages"
	"github.com/vovakirdan/voicechat/internal/service/rooms"
	"github.com/vovakirdan/voicechat/internal/store"
	"github.com/vovakirdan/voicechat/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/voicechat/internal/transport/http"
	"github.com/vovakirdan/voicechat/internal/vectorstore"
)

// App wires storage, services and transport of the reference server.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	messages        *messages.Service
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg config.ServerConfig, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.TokenTTL,
	}

	hub := realtime.NewHub(logger)
	transcriber := messages.NewCommandTranscriber(cfg.TranscribeCommand, cfg.TranscribeTimeout)
	if transcriber == nil {
		logger.Info().Msg("voice transcription disabled")
	}
	index := vectorstore.New(cfg.VectorStoreURL, 10*time.Second)
	msgSvc := messages.New(st, hub, index, transcriber, messages.Config{
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, logger)

	server := transporthttp.NewServer(transporthttp.Deps{
		Auth:     auth.NewService(st, jwtConfig),
		Store:    st,
		Messages: msgSvc,
		Rooms:    rooms.New(st),
		Hub:      hub,
	}, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		messages:        msgSvc,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// cleanup stops background work and closes the database.
func (a *App) cleanup() {
	a.messages.Close()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
