// Command relay runs the HTTP relay between autonomous development agents
// and the code forge: event ingestion, rolling status comments, label
// transitions, and the evidence store.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentrelay/relay/internal/config"
	"github.com/agentrelay/relay/internal/evidence"
	"github.com/agentrelay/relay/internal/forge"
	"github.com/agentrelay/relay/internal/httpapi"
	"github.com/agentrelay/relay/internal/store"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg := config.FromEnv()
	if err := cfg.IsValid(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	key, err := cfg.PrivateKey()
	if err != nil {
		logger.Fatal().Err(err).Msg("parse app private key")
	}
	auth := &forge.AppAuth{
		AppID:          cfg.AppID,
		InstallationID: cfg.InstallationID,
		PrivateKey:     key,
		BaseURL:        cfg.APIBaseURL,
	}

	rules, degraded := cfg.ParseLabelRules()
	if degraded {
		logger.Warn().Msg("label rules JSON is invalid; label transitions are disabled")
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open store")
	}
	defer st.Close()

	var objects evidence.ObjectStore
	if cfg.ObjectStoreEndpoint != "" {
		objects, err = evidence.NewMinioObjectStore(
			cfg.ObjectStoreEndpoint, cfg.ObjectStoreAccessKey, cfg.ObjectStoreSecretKey,
			cfg.ObjectStoreBucket, cfg.ObjectStoreUseSSL,
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("dial object store")
		}
	} else {
		logger.Warn().Msg("no object store endpoint configured; evidence uploads will fail")
		objects = evidence.Unconfigured{}
	}

	srv := httpapi.NewServer(st, evidence.NewService(objects, st), rules, auth, cfg.RelayKey, cfg.V1PAT, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("relay listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
}
