package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"pipemate/api/internal/app"
	"pipemate/api/internal/cache"
	"pipemate/api/internal/config"
	"pipemate/api/internal/content"
	"pipemate/api/internal/logging"
	"pipemate/api/internal/search"
	"pipemate/api/internal/store"
)

func main() {
	cfg := config.Load()
	logging.Init("pipemate-api", cfg.LogLevel, cfg.LogPretty)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	dataStore := store.NewPostgresStore(db)

	contentProvider, err := newContentProvider(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.ContentBackend).Msg("content store setup failed")
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	var githubCache cache.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisCache, err := cache.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisCache.Close()
		githubCache = redisCache
		log.Info().Dur("ttl", cfg.CacheTTL).Msg("caching GitHub reads in redis")
	} else {
		log.Info().Msg("REDIS_URL not set, GitHub reads are not cached")
	}

	service := app.New(cfg, dataStore, contentProvider, searchService, githubCache)
	service.Bootstrap(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("content_backend", cfg.ContentBackend).Msg("pipemate API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("pipemate API stopped")
}

func newContentProvider(ctx context.Context, cfg config.Config) (content.Provider, error) {
	switch cfg.ContentBackend {
	case "github", "":
		return content.GitHubProvider(cfg.GitHubAPIURL), nil
	case "git":
		if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
			return nil, fmt.Errorf("create repos dir: %w", err)
		}
		return content.Static(content.NewGitRepo(cfg.ReposDir, cfg.CommitAuthor, cfg.CommitEmail)), nil
	case "s3":
		objects, err := content.NewObjectStore(ctx, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
		if err != nil {
			return nil, err
		}
		return content.Static(objects), nil
	default:
		return nil, fmt.Errorf("unknown content backend %q", cfg.ContentBackend)
	}
}
