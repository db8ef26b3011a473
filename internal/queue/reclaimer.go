package queue

import (
	"context"
	"log"
	"time"

	"github.com/openlabels/scanner/internal/database"
)

// Reclaimer re-queues expired leases and prunes terminal rows. Both
// passes are singletons across the replica set, serialized by advisory
// locks.
type Reclaimer struct {
	queue    *Queue
	store    *database.Store
	interval time.Duration
	logger   *log.Logger
}

const cleanupRetention = 7 * 24 * time.Hour

// NewReclaimer builds the loop; interval is typically one minute.
func NewReclaimer(q *Queue, store *database.Store, interval time.Duration) *Reclaimer {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reclaimer{
		queue:    q,
		store:    store,
		interval: interval,
		logger:   log.New(log.Writer(), "[RECLAIM] ", log.LstdFlags),
	}
}

// Run blocks until ctx is cancelled.
func (r *Reclaimer) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	cleanupEvery := 0
	partitionCountdown := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		// Month partitions for the partitioned tables must exist before
		// inserts cross a month boundary. The pass is idempotent; run it
		// on the first tick and then roughly daily, retrying next tick
		// after a failure.
		if partitionCountdown <= 0 {
			if err := r.maintainPartitions(ctx); err != nil && ctx.Err() == nil {
				r.logger.Printf("partition maintenance failed: %v", err)
			} else {
				partitionCountdown = 24 * 60
			}
		}
		partitionCountdown--

		held, err := r.store.WithAdvisoryLock(ctx, database.LockStuckJobReclaim, func(ctx context.Context) error {
			n, err := r.queue.Reclaim(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				r.logger.Printf("reclaimed %d expired leases", n)
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			r.logger.Printf("reclaim pass failed: %v", err)
		}
		_ = held

		// Cleanup runs far less often than reclaim.
		cleanupEvery++
		if cleanupEvery < 60 {
			continue
		}
		cleanupEvery = 0
		_, err = r.store.WithAdvisoryLock(ctx, database.LockJobCleanup, func(ctx context.Context) error {
			n, err := r.queue.Cleanup(ctx, cleanupRetention)
			if err != nil {
				return err
			}
			if n > 0 {
				r.logger.Printf("pruned %d terminal queue rows", n)
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			r.logger.Printf("cleanup pass failed: %v", err)
		}
	}
}

// maintainPartitions creates the current and next month partitions for
// the partitioned tables, serialized across replicas.
func (r *Reclaimer) maintainPartitions(ctx context.Context) error {
	_, err := r.store.WithAdvisoryLock(ctx, database.LockPartitionMaint, func(ctx context.Context) error {
		return r.store.EnsureMonthPartitions(ctx, time.Now().UTC())
	})
	return err
}
