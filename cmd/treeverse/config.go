package main

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	keyAuthToken      = "TWITTER_AUTH_TOKEN"
	keyCSRFToken      = "TWITTER_CSRF_TOKEN"
	keyProxy          = "TWITTER_PROXY"
	keyQueryID        = "TWITTER_QUERY_ID"
	keyFeatures       = "TWITTER_FEATURES"
	keyQueryTTL       = "TWITTER_QUERY_TTL"
	keyJitter         = "TWITTER_JITTER"
	keyLogLevel       = "LOG_LEVEL"
	keyExpand         = "EXPAND_ALL"
	keyExpandInterval = "EXPAND_INTERVAL"
	keyExpandMaxNodes = "EXPAND_MAX_NODES"
	keyExhaustAfter   = "EXHAUST_AFTER_EMPTY"
	keyArchiveDSN     = "ARCHIVE_DSN"
	keyFromArchive    = "FROM_ARCHIVE"
	keyOutput         = "OUTPUT"
)

func defaultConfigValues() map[string]any {
	return map[string]any{
		keyLogLevel:       "info",
		keyQueryTTL:       6 * time.Hour,
		keyJitter:         true,
		keyExpand:         false,
		keyExpandInterval: 2 * time.Second,
		keyExpandMaxNodes: 500,
		keyExhaustAfter:   0,
		keyFromArchive:    false,
		keyOutput:         "mermaid",
	}
}

// initConfig loads .env when present, then layers defaults under the environment.
func initConfig() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to read .env, continuing", slog.Any("error", err))
	}
	for key, value := range defaultConfigValues() {
		viper.SetDefault(key, value)
	}
	viper.AutomaticEnv()
}

func initLog() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(viper.GetString(keyLogLevel)))); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
