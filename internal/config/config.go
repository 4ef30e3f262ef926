package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	AppName    = "SubLingo"
	AppVersion = "1.0.0"
)

// Config holds all runtime configuration, loaded once at startup.
type Config struct {
	Addr     string
	DataDir  string
	LogLevel string

	// Session store
	SessionPath string
	SessionMax  int
	SessionTTL  time.Duration

	// Translation engine
	MaxTokensPerBatch        int
	SingleBatchMaxChunkToken int
	BatchSizeOverride        int
	EntryCacheSize           int
	CacheTranslations        bool
	AIRateLimit              int

	// Stream activity bus
	ActivityMax                  int
	ActivityTTL                  time.Duration
	ActivityHeartbeat            time.Duration
	ActivityMaxConnAge           time.Duration
	ActivityMaxListenersPerConf  int
	ActivityHeartbeatLogInterval time.Duration

	// Cross-instance broadcast
	RedisURL       string
	RedisKeyPrefix string
}

// Load reads configuration from environment variables, applying defaults
// for anything unset.
func Load() Config {
	dataDir := envString("SUBLINGO_DATA_DIR", "./data")
	sessionPath := envString("SUBLINGO_SESSION_PATH", filepath.Join(dataDir, "sessions.json"))

	return Config{
		Addr:     envString("SUBLINGO_ADDR", ":8080"),
		DataDir:  filepath.Clean(dataDir),
		LogLevel: envString("SUBLINGO_LOG_LEVEL", "info"),

		SessionPath: filepath.Clean(sessionPath),
		SessionMax:  envInt("SESSION_MAX", 1000),
		SessionTTL:  envDurationMS("SESSION_TTL_MS", 90*24*time.Hour),

		MaxTokensPerBatch:        envInt("MAX_TOKENS_PER_BATCH", 30000),
		SingleBatchMaxChunkToken: envInt("SINGLE_BATCH_MAX_TOKENS_PER_CHUNK", 100000),
		BatchSizeOverride:        envInt("TRANSLATION_BATCH_SIZE", 0),
		EntryCacheSize:           envInt("ENTRY_CACHE_SIZE", 10000),
		CacheTranslations:        envBool("CACHE_TRANSLATIONS", true),
		AIRateLimit:              envInt("AI_RATE_LIMIT", 10),

		ActivityMax:                  envInt("STREAM_ACTIVITY_MAX", 500),
		ActivityTTL:                  envDurationMS("STREAM_ACTIVITY_TTL_MS", 6*time.Hour),
		ActivityHeartbeat:            envDurationMS("STREAM_ACTIVITY_HEARTBEAT_MS", 40*time.Second),
		ActivityMaxConnAge:           envDurationMS("STREAM_ACTIVITY_MAX_CONN_AGE_MS", time.Hour),
		ActivityMaxListenersPerConf:  envInt("STREAM_ACTIVITY_MAX_LISTENERS_PER_CONFIG", 4),
		ActivityHeartbeatLogInterval: envDurationMS("STREAM_ACTIVITY_HEARTBEAT_LOG_INTERVAL_MS", 5*time.Minute),

		RedisURL:       envString("REDIS_URL", ""),
		RedisKeyPrefix: envString("REDIS_KEY_PREFIX", ""),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDurationMS(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
