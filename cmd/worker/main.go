package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DayanFA/MedCheck/internal/checkcode"
	"github.com/DayanFA/MedCheck/internal/clock"
	"github.com/DayanFA/MedCheck/internal/config"
	"github.com/DayanFA/MedCheck/internal/queue"
	"github.com/DayanFA/MedCheck/internal/store"
)

// Worker runs the periodic code sweep and drains the audit queue.
func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedis(redisClient.Client, queue.DefaultKey)
	}

	codes := checkcode.NewService(checkcode.NewRepository(db.Client), clock.Real{}, logger)

	go runSweeper(ctx, codes, cfg.SweepInterval, cfg.SweepMaxAge, logger)

	logger.Info("worker started, waiting for messages")
	for {
		msg, err := q.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				break
			}
			logger.Warn("queue consume failed", "err", err)
			time.Sleep(time.Second)
			continue
		}
		logger.Info("audit event",
			"kind", msg.Kind,
			"student", msg.StudentID,
			"session", msg.SessionID,
			"at", msg.At.In(clock.Zone))
	}

	logger.Info("worker stopped")
}

// runSweeper evicts never-redeemed codes on a fixed interval. A failed
// sweep is logged and retried on the next tick.
func runSweeper(ctx context.Context, codes *checkcode.Service, interval, maxAge time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := codes.SweepUnused(ctx, maxAge); err != nil {
				logger.Warn("code sweep failed", "err", err)
			}
		}
	}
}
