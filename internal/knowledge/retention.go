package knowledge

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// RetentionSweeper periodically deletes expired knowledge entities, the
// same ticker-driven poll-loop shape the search outbox uses for its
// dead-letter cleanup, applied here to the VKS's own retention lifecycle
// instead of a downstream index.
type RetentionSweeper struct {
	store        *Store
	pollInterval time.Duration
	started      atomic.Bool
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewRetentionSweeper creates a sweeper that runs every pollInterval.
func NewRetentionSweeper(store *Store, pollInterval time.Duration) *RetentionSweeper {
	return &RetentionSweeper{store: store, pollInterval: pollInterval, done: make(chan struct{})}
}

// Start begins the sweep loop. Safe to call once; subsequent calls are no-ops.
func (r *RetentionSweeper) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.loop(loopCtx)
}

// Stop cancels the sweep loop and waits for it to exit or ctx to expire.
func (r *RetentionSweeper) Stop(ctx context.Context) {
	if r.cancel == nil {
		return
	}
	r.cancel()
	select {
	case <-r.done:
	case <-ctx.Done():
	}
}

func (r *RetentionSweeper) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *RetentionSweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	n, err := r.store.SweepExpired(sweepCtx)
	if err != nil {
		r.store.logger.Error("knowledge: retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		r.store.logger.Info("knowledge: retention sweep deleted expired entities", "count", n)
	}
}

// SweepExpired deletes entities past ExpiresAt, including the archival
// tier: there is no cold-storage backend in this deployment, so "archival"
// means "kept the longest before deletion", not "moved to a second tier".
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	var ids []uuid.UUID
	rows, err := s.pool.Query(ctx,
		`SELECT entity_id FROM knowledge_entities WHERE expires_at <= now() LIMIT 1000`,
	)
	if err != nil {
		return 0, err
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	ct, err := s.pool.Exec(ctx, `DELETE FROM knowledge_entities WHERE entity_id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	if s.index != nil {
		if err := s.index.DeleteByIDs(ctx, ids); err != nil {
			s.logger.Warn("knowledge: ann cleanup for expired entities failed", "error", err)
		}
	}
	return ct.RowsAffected(), nil
}
