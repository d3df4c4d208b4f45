package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/providers/leonardo"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	client, err := leonardo.NewClient(leonardo.Options{
		APIKey:  cfg.LeonardoAPIKey,
		BaseURL: cfg.LeonardoBaseURL,
		Defaults: leonardo.GenerationDefaults{
			ModelID:     cfg.DefaultModelID,
			Width:       cfg.OutputWidth,
			Height:      cfg.OutputHeight,
			NumImages:   cfg.NumImages,
			PromptMagic: cfg.PromptMagic,
			Public:      cfg.PublicImages,
		},
		Polling: leonardo.PollingConfig{
			MaxAttempts: cfg.PollMaxAttempts,
			Delay:       cfg.PollDelay,
		},
		Logger: &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure leonardo client")
	}

	generations := repo.NewGenerationRepository(dbpool)
	app := handlers.NewApp(client, generations, logger)
	app.DB = dbpool
	router := httpapi.NewRouter(app, cfg, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("API listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
