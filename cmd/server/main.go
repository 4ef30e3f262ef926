package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"sublingo/internal/cache"
	"sublingo/internal/config"
	"sublingo/internal/handler"
	transport "sublingo/internal/http"
	"sublingo/internal/logger"
	"sublingo/internal/scheduler"
	"sublingo/internal/service"
	"sublingo/internal/service/ai"
)

const (
	autosaveInterval = 5 * time.Minute
	shutdownTimeout  = 10 * time.Second
)

func main() {
	cfg := config.Load()
	logger.Init(logger.ParseLevel(cfg.LogLevel))

	sessions := service.NewSessionService(cfg.SessionPath, cfg.SessionMax, cfg.SessionTTL)
	sessions.Load()

	translationCache := cache.New(cfg.EntryCacheSize, cfg.CacheTranslations)
	limiter := ai.NewRateLimiter(cfg.AIRateLimit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pubsub *service.ActivityPubSub
	var broadcaster service.ActivityBroadcaster
	if cfg.RedisURL != "" {
		var err error
		pubsub, err = service.NewActivityPubSub(ctx, cfg.RedisURL, cfg.RedisKeyPrefix)
		if err != nil {
			// Single-instance operation still works without Redis.
			logger.Warn("redis unavailable, running single-instance", "module", "main", "action", "connect", "resource", "redis", "result", "failed", "error", err)
		} else {
			broadcaster = pubsub
		}
	}

	activity := service.NewActivityService(service.ActivityOptions{
		MaxEntries:           cfg.ActivityMax,
		EntryTTL:             cfg.ActivityTTL,
		Heartbeat:            cfg.ActivityHeartbeat,
		MaxListenersPerConf:  cfg.ActivityMaxListenersPerConf,
		HeartbeatLogInterval: cfg.ActivityHeartbeatLogInterval,
	}, broadcaster)

	defaults := service.Options{
		MaxTokensPerBatch:         cfg.MaxTokensPerBatch,
		SingleBatchMaxChunkTokens: cfg.SingleBatchMaxChunkToken,
		BatchSizeOverride:         cfg.BatchSizeOverride,
	}

	sessionHandler := handler.NewSessionHandler(sessions)
	activityHandler := handler.NewActivityHandler(activity, cfg.ActivityMaxConnAge)
	translateHandler := handler.NewTranslateHandler(sessions, translationCache, limiter, defaults)

	router := transport.NewRouter(sessionHandler, activityHandler, translateHandler)

	sched := scheduler.New(sessions, autosaveInterval)
	sched.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := router.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if pubsub != nil {
		g.Go(func() error {
			err := pubsub.Receive(gctx, activity)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("activity receiver stopped", "module", "main", "action", "receive", "resource", "redis", "result", "failed", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			logger.Info("shutting down", "module", "main", "action", "shutdown", "resource", "server", "result", "ok", "signal", sig.String())
		case <-gctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := router.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown incomplete", "module", "main", "action", "shutdown", "resource", "server", "result", "failed", "error", err)
		}

		sched.Stop()
		activity.Close()
		if pubsub != nil {
			if err := pubsub.Close(); err != nil {
				logger.Warn("pubsub close failed", "module", "main", "action", "shutdown", "resource", "redis", "result", "failed", "error", err)
			}
		}
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
