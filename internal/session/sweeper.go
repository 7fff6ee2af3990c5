package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/capylingo/internal/metrics"
)

// EvictCallback is called for every session key the sweeper evicts.
type EvictCallback func(key string)

// RunSweeper periodically evicts sessions idle for longer than idle. It blocks
// until ctx is done and then returns nil.
func RunSweeper(ctx context.Context, store Store, interval, idle time.Duration, onEvict EvictCallback) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("session sweeper started", "interval", interval, "idle_ttl", idle)

	for {
		select {
		case <-ticker.C:
			sweepOnce(ctx, store, idle, onEvict)
		case <-ctx.Done():
			slog.Info("session sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

func sweepOnce(ctx context.Context, store Store, idle time.Duration, onEvict EvictCallback) {
	evicted, err := store.Sweep(ctx, idle)
	if err != nil {
		slog.Error("session sweeper failed", "error", err)
		return
	}
	if len(evicted) == 0 {
		return
	}

	metrics.SessionsEvictedTotal.Add(float64(len(evicted)))
	for _, key := range evicted {
		slog.Debug("session evicted", "session_key", key)
		if onEvict != nil {
			onEvict(key)
		}
	}
	slog.Info("session sweep completed", "evicted", len(evicted))
}
