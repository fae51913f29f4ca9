package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"

	"feedbot/internal/backoff"
	"feedbot/internal/config"
	"feedbot/internal/deliver"
	"feedbot/internal/engine"
	"feedbot/internal/scheduler"
	"feedbot/internal/source"
	"feedbot/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	session, err := discordgo.New("Bot " + cfg.DiscordBotToken)
	if err != nil {
		log.Error("create discord session", "error", err)
		os.Exit(1)
	}

	registry := source.NewRegistry(
		http.DefaultClient,
		time.Duration(cfg.FetchTimeoutSecs)*time.Second,
		cfg.NewsFeeds,
		cfg.FreeGamesAPIURL,
		cfg.GiveawaysAPIURL,
	)

	bo := backoff.New(cfg.BackoffMaxFails, time.Duration(cfg.BackoffPauseMinutes)*time.Minute)
	eng := engine.New(store, registry, deliver.NewDiscord(session), bo, log)

	sched := scheduler.New(store, eng, eng, cfg.Workers, log)
	sched.SetTickInterval(time.Duration(cfg.TickSeconds) * time.Second)
	sched.SetConfigCacheTTL(time.Duration(cfg.ConfigCacheSeconds) * time.Second)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting feed delivery engine",
		"tick_seconds", cfg.TickSeconds,
		"workers", cfg.Workers,
		"news_categories", cfg.NewsCategories(),
	)

	sched.Run(ctx)

	log.Info("engine stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
