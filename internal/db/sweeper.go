// Package db holds the Postgres bootstrap and the background maintenance
// loops that keep the notes store bounded.
package db

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ExpiredSweeper tombstones every live note whose deadline passed before now.
type ExpiredSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// TombstonePurger physically removes notes tombstoned before the cutoff.
type TombstonePurger interface {
	PurgeTombstones(ctx context.Context, before time.Time) (int64, error)
}

// StartExpirySweeper tombstones expired notes every interval until ctx is
// done. The returned channel is closed once the loop has exited.
// Correctness of reads never depends on this loop; it only bounds how long
// expired payloads stay live in storage.
func StartExpirySweeper(
	ctx context.Context,
	sweeper ExpiredSweeper,
	interval time.Duration,
	log *zap.Logger,
) <-chan struct{} {
	return runEvery(ctx, interval, func(ctx context.Context, now time.Time) {
		n, err := sweeper.SweepExpired(ctx, now)
		if err != nil {
			log.Error("failed to sweep expired notes", zap.Error(err))
			return
		}
		if n > 0 {
			log.Info("marked expired notes as deleted", zap.Int64("expired", n))
		}
	})
}

// StartTombstonePurger deletes notes that have been tombstoned for longer
// than retention. A non-positive retention disables the loop.
func StartTombstonePurger(
	ctx context.Context,
	purger TombstonePurger,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) <-chan struct{} {
	if retention <= 0 {
		done := make(chan struct{})
		close(done)
		return done
	}
	return runEvery(ctx, interval, func(ctx context.Context, now time.Time) {
		n, err := purger.PurgeTombstones(ctx, now.Add(-retention))
		if err != nil {
			log.Error("failed to purge deleted notes", zap.Error(err))
			return
		}
		if n > 0 {
			log.Info("purged deleted notes", zap.Int64("removed", n))
		}
	})
}

func runEvery(ctx context.Context, interval time.Duration, tick func(ctx context.Context, now time.Time)) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				tick(ctx, now.UTC())
			}
		}
	}()
	return done
}
