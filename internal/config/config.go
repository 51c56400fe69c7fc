package config

import (
	"errors"
	"os"
	"strconv"
)

type Config struct {
	ListenAddr              string
	CDNBaseURL              string
	LogLevel                string
	CacheTTLSeconds         int
	CacheMaxBytes           int64
	MaxSourceBytes          int64
	FetchTimeoutSeconds     int
	MaxConcurrentTransforms int

	// Optional shared artifact tier.
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	// Optional cross-replica lock, only meaningful with the S3 tier.
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	LockTTLSeconds     int
	MaxLockWaitSeconds int

	NginxPurgeURL string
}

func Load() (Config, error) {
	cfg := Config{
		ListenAddr:              getenv("HIBANA_LISTEN_ADDR", ":8080"),
		CDNBaseURL:              getenv("HIBANA_CDN_BASE_URL", "https://cdn.discordapp.com/emojis"),
		LogLevel:                getenv("HIBANA_LOG_LEVEL", "info"),
		CacheTTLSeconds:         getenvInt("HIBANA_CACHE_TTL_SECONDS", 86400),
		CacheMaxBytes:           getenvInt64("HIBANA_CACHE_MAX_BYTES", 256<<20),
		MaxSourceBytes:          getenvInt64("HIBANA_MAX_SOURCE_BYTES", 8<<20),
		FetchTimeoutSeconds:     getenvInt("HIBANA_FETCH_TIMEOUT_SECONDS", 10),
		MaxConcurrentTransforms: getenvInt("HIBANA_MAX_CONCURRENT_TRANSFORMS", 16),
		S3Endpoint:              getenv("HIBANA_S3_ENDPOINT", ""),
		S3Region:                getenv("HIBANA_S3_REGION", ""),
		S3Bucket:                getenv("HIBANA_S3_BUCKET", ""),
		S3AccessKey:             os.Getenv("HIBANA_S3_ACCESS_KEY"),
		S3SecretKey:             os.Getenv("HIBANA_S3_SECRET_KEY"),
		RedisAddr:               getenv("HIBANA_REDIS_ADDR", ""),
		RedisPassword:           os.Getenv("HIBANA_REDIS_PASSWORD"),
		RedisDB:                 getenvInt("HIBANA_REDIS_DB", 0),
		LockTTLSeconds:          getenvInt("HIBANA_LOCK_TTL_SECONDS", 45),
		MaxLockWaitSeconds:      getenvInt("HIBANA_MAX_LOCK_WAIT_SECONDS", 3),
		NginxPurgeURL:           getenv("HIBANA_NGINX_PURGE_URL", ""),
	}

	if cfg.CDNBaseURL == "" {
		return cfg, errors.New("HIBANA_CDN_BASE_URL is required")
	}
	if cfg.CacheTTLSeconds <= 0 {
		return cfg, errors.New("HIBANA_CACHE_TTL_SECONDS must be positive")
	}
	if cfg.MaxSourceBytes <= 0 {
		return cfg, errors.New("HIBANA_MAX_SOURCE_BYTES must be positive")
	}
	if cfg.SharedTier() && (cfg.S3Endpoint == "" || cfg.S3AccessKey == "" || cfg.S3SecretKey == "") {
		return cfg, errors.New("S3 endpoint/access/secret are required when a bucket is set")
	}
	return cfg, nil
}

// SharedTier reports whether the shared S3 artifact tier is configured.
func (c Config) SharedTier() bool {
	return c.S3Bucket != ""
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
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

func getenvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
