package outbox

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/coziyoo/backend/internal/database"
	"github.com/coziyoo/backend/internal/metrics"
)

// WorkerConfig tunes the polling loop.
type WorkerConfig struct {
	Workers      int
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseBackoff  time.Duration
	ClaimLease   time.Duration
}

// Worker claims pending events and dispatches them to the registry with a
// bounded pool, the same shape as the webhook delivery pool it grew out of.
type Worker struct {
	db       *database.DB
	registry *Registry
	cfg      WorkerConfig
	logger   *log.Logger
	queue    chan *Event
	wg       sync.WaitGroup
}

func NewWorker(db *database.DB, registry *Registry, cfg WorkerConfig) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 5 * time.Second
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 5 * time.Minute
	}
	return &Worker{
		db:       db,
		registry: registry,
		cfg:      cfg,
		logger:   log.New(log.Writer(), "[OUTBOX] ", log.LstdFlags),
		queue:    make(chan *Event, cfg.BatchSize*2),
	}
}

// Run polls until ctx is cancelled, then drains the in-flight pool.
func (w *Worker) Run(ctx context.Context) {
	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go w.consume(ctx)
	}
	w.logger.Printf("🚀 Outbox worker started (workers=%d poll=%s)", w.cfg.Workers, w.cfg.PollInterval)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(w.queue)
			w.wg.Wait()
			w.logger.Println("Outbox worker stopped")
			return
		case <-ticker.C:
			if n, err := w.reclaimStale(ctx); err != nil && ctx.Err() == nil {
				w.logger.Printf("⚠️ Stale claim sweep failed: %v", err)
			} else if n > 0 {
				w.logger.Printf("♻️ Requeued %d events from expired claims", n)
			}
			if err := w.claimBatch(ctx); err != nil && ctx.Err() == nil {
				w.logger.Printf("⚠️ Claim batch failed: %v", err)
			}
		}
	}
}

// claimBatch moves due pending rows to processing and feeds the pool.
// SKIP LOCKED keeps concurrent instances from double-claiming.
func (w *Worker) claimBatch(ctx context.Context) error {
	var claimed []*Event
	err := w.db.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			UPDATE outbox_events
			SET status = 'processing', claimed_at = now()
			WHERE id IN (
				SELECT id FROM outbox_events
				WHERE status = 'pending' AND next_attempt_at <= now()
				ORDER BY next_attempt_at
				LIMIT $1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, event_type, aggregate_type, aggregate_id, payload,
				status, attempt_count, next_attempt_at, last_error, created_at`, w.cfg.BatchSize)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var ev Event
			if err := rows.Scan(&ev.ID, &ev.EventType, &ev.AggregateType, &ev.AggregateID,
				&ev.Payload, &ev.Status, &ev.AttemptCount, &ev.NextAttemptAt,
				&ev.LastError, &ev.CreatedAt); err != nil {
				return err
			}
			claimed = append(claimed, &ev)
		}
		return rows.Err()
	})
	if err != nil {
		return err
	}

	for _, ev := range claimed {
		select {
		case w.queue <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (w *Worker) consume(ctx context.Context) {
	defer w.wg.Done()
	for ev := range w.queue {
		w.dispatch(ctx, ev)
	}
}

func (w *Worker) dispatch(ctx context.Context, ev *Event) {
	handlers := w.registry.handlersFor(ev.EventType)

	var handlerErr error
	for _, h := range handlers {
		if handlerErr = h(ctx, ev); handlerErr != nil {
			break
		}
	}

	if handlerErr == nil {
		if err := w.markProcessed(ctx, ev.ID); err != nil {
			w.logger.Printf("⚠️ Mark processed failed for %s: %v", ev.ID, err)
			return
		}
		metrics.OutboxProcessed.WithLabelValues(ev.EventType).Inc()
		return
	}

	attempt := ev.AttemptCount + 1
	metrics.OutboxFailures.WithLabelValues(ev.EventType).Inc()

	if attempt >= w.cfg.MaxAttempts {
		if err := w.deadLetter(ctx, ev, attempt, handlerErr); err != nil {
			w.logger.Printf("❌ Dead-letter move failed for %s: %v", ev.ID, err)
			return
		}
		metrics.OutboxDeadLettered.WithLabelValues(ev.EventType).Inc()
		w.logger.Printf("💀 Event %s (%s) dead-lettered after %d attempts: %v",
			ev.ID, ev.EventType, attempt, handlerErr)
		return
	}

	backoff := w.cfg.BaseBackoff << uint(attempt-1)
	if backoff > time.Hour {
		backoff = time.Hour
	}
	if err := w.reschedule(ctx, ev.ID, attempt, backoff, handlerErr); err != nil {
		w.logger.Printf("⚠️ Reschedule failed for %s: %v", ev.ID, err)
		return
	}
	w.logger.Printf("🔁 Event %s (%s) attempt %d failed, retrying in %s: %v",
		ev.ID, ev.EventType, attempt, backoff, handlerErr)
}

// reclaimStale returns events stranded in processing by a crash between
// the claim commit and the outcome write. Anything holding a claim longer
// than the lease is presumed dead and goes back to the pending pool;
// handlers are idempotent, so a live-but-slow holder only causes a
// duplicate delivery.
func (w *Worker) reclaimStale(ctx context.Context) (int64, error) {
	res, err := w.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = 'pending', claimed_at = NULL
		WHERE status = 'processing' AND claimed_at < now() - $1 * interval '1 second'`,
		int(w.cfg.ClaimLease.Seconds()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (w *Worker) markProcessed(ctx context.Context, id string) error {
	_, err := w.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = 'processed', processed_at = now()
		WHERE id = $1`, id)
	return err
}

func (w *Worker) reschedule(ctx context.Context, id string, attempt int, backoff time.Duration, cause error) error {
	_, err := w.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = 'pending', claimed_at = NULL, attempt_count = $2,
			next_attempt_at = now() + $3 * interval '1 second', last_error = $4
		WHERE id = $1`,
		id, attempt, int(backoff.Seconds()), cause.Error())
	return err
}

// deadLetter moves the row to outbox_dead_letters atomically.
func (w *Worker) deadLetter(ctx context.Context, ev *Event, attempt int, cause error) error {
	return w.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO outbox_dead_letters
				(id, event_type, aggregate_type, aggregate_id, payload, attempt_count, last_error, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			ev.ID, ev.EventType, ev.AggregateType, ev.AggregateID, []byte(ev.Payload),
			attempt, cause.Error(), ev.CreatedAt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM outbox_events WHERE id = $1`, ev.ID)
		return err
	})
}

// Backoff exposes the retry schedule for inspection and tests.
func (w *Worker) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := w.cfg.BaseBackoff << uint(attempt-1)
	if backoff > time.Hour {
		backoff = time.Hour
	}
	return backoff
}
