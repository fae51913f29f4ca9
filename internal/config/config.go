// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Config holds the application configuration.
type Config struct {
	DiscordBotToken string
	DatabasePath    string
	LogLevel        string

	TickSeconds        int
	Workers            int
	FetchTimeoutSecs   int
	ConfigCacheSeconds int

	BackoffMaxFails     int
	BackoffPauseMinutes int

	// NewsFeeds maps a category name to its RSS feed URL.
	NewsFeeds map[string]string

	FreeGamesAPIURL string
	GiveawaysAPIURL string
}

// Default upstream endpoints.
const (
	defaultFreeGamesAPI = "https://www.gamerpower.com/api/giveaways"
	defaultGiveawaysAPI = "https://www.gamerpower.com/api/filter"
)

// Load reads configuration from environment variables.
// Numeric knobs are clamped into safe operating ranges.
func Load() (*Config, error) {
	token := os.Getenv("DISCORD_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/bot.db"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	feeds, err := parseFeedMap(os.Getenv("NEWS_FEEDS"))
	if err != nil {
		return nil, err
	}

	freeGamesAPI := os.Getenv("FREEGAMES_API_URL")
	if freeGamesAPI == "" {
		freeGamesAPI = defaultFreeGamesAPI
	}
	giveawaysAPI := os.Getenv("GIVEAWAYS_API_URL")
	if giveawaysAPI == "" {
		giveawaysAPI = defaultGiveawaysAPI
	}

	cfg := &Config{
		DiscordBotToken:     token,
		DatabasePath:        dbPath,
		LogLevel:            logLevel,
		TickSeconds:         clampedIntEnv("TICK_SECONDS", 15, 5, 60),
		Workers:             clampedIntEnv("WORKERS", 4, 1, 32),
		FetchTimeoutSecs:    clampedIntEnv("FETCH_TIMEOUT_SECONDS", 10, 2, 60),
		ConfigCacheSeconds:  clampedIntEnv("CONFIG_CACHE_SECONDS", 60, 10, 600),
		BackoffMaxFails:     clampedIntEnv("BACKOFF_MAX_FAILS", 5, 1, 20),
		BackoffPauseMinutes: clampedIntEnv("BACKOFF_PAUSE_MINUTES", 30, 1, 1440),
		NewsFeeds:           feeds,
		FreeGamesAPIURL:     freeGamesAPI,
		GiveawaysAPIURL:     giveawaysAPI,
	}
	return cfg, nil
}

// parseFeedMap parses "name=url,name=url" into a map.
func parseFeedMap(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	feeds := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, url, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		url = strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("invalid entry %q in NEWS_FEEDS", pair)
		}
		feeds[name] = url
	}
	return feeds, nil
}

// NewsCategories returns the configured news category names, sorted.
func (c *Config) NewsCategories() []string {
	cats := make([]string, 0, len(c.NewsFeeds))
	for name := range c.NewsFeeds {
		cats = append(cats, name)
	}
	sort.Strings(cats)
	return cats
}

func clampedIntEnv(key string, def, min, max int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
