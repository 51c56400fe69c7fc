package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/52poke/hibana/internal/cache"
	"github.com/52poke/hibana/internal/config"
	"github.com/52poke/hibana/internal/httpx"
	"github.com/52poke/hibana/internal/lock"
	"github.com/52poke/hibana/internal/origin"
	"github.com/52poke/hibana/internal/purge"
	"github.com/52poke/hibana/internal/resize"
	"github.com/52poke/hibana/internal/store"
)

const methodPurge = "PURGE"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	cacheOpts := cache.Options{
		MaxBytes:    cfg.CacheMaxBytes,
		TTL:         time.Duration(cfg.CacheTTLSeconds) * time.Second,
		MaxLockWait: time.Duration(cfg.MaxLockWaitSeconds) * time.Second,
		Logger:      logger,
	}

	if cfg.SharedTier() {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
		)
		if err != nil {
			logger.Fatal("aws config", zap.Error(err))
		}
		s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = true
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		})
		cacheOpts.Shared = store.NewS3Store(cfg.S3Bucket, s3Client)

		if cfg.RedisAddr != "" {
			cacheOpts.Locker = &cache.RedisLocker{
				Client: lock.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB),
				TTL:    time.Duration(cfg.LockTTLSeconds) * time.Second,
			}
		}
	}

	transformCache, err := cache.New(cacheOpts)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}
	defer transformCache.Close()

	fetcher := origin.NewClient(cfg.CDNBaseURL, cfg.MaxSourceBytes, time.Duration(cfg.FetchTimeoutSeconds)*time.Second)
	transformer := resize.New(resize.DefaultBox)

	handler := httpx.NewHandler(transformCache, fetcher, transformer, cfg.MaxConcurrentTransforms, logger)
	purgeHandler := &purge.Handler{
		Cache:      transformCache,
		NginxPurge: cfg.NginxPurgeURL,
		Log:        logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/e/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == methodPurge {
			purgeHandler.ServeHTTP(w, r)
			return
		}
		handler.ServeHTTP(w, r)
	}))

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	logger.Info("server shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}
