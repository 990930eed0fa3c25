package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// ReconcileConfig bounds the background repair loop.
type ReconcileConfig struct {
	// Interval between reconciliation sweeps.
	Interval time.Duration

	// BatchSize caps how many due messages one sweep re-enqueues.
	BatchSize int
}

func (c *ReconcileConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
}

// Reconciler periodically repairs the pending backlog: messages whose
// enrichment was dropped (queue overflow, crash between stages) or
// failed transiently are re-enqueued once their backoff is due, and
// messages that exhausted their attempt budget are marked failed.
type Reconciler struct {
	store       MessageStore
	coordinator *Coordinator
	cfg         ReconcileConfig
	maxAttempts int
	logger      *slog.Logger
}

// NewReconciler creates a reconciler feeding the coordinator's worker
// pool. A nil logger falls back to slog.Default().
func NewReconciler(st MessageStore, coordinator *Coordinator, cfg ReconcileConfig, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Reconciler{
		store:       st,
		coordinator: coordinator,
		cfg:         cfg,
		maxAttempts: coordinator.cfg.MaxAttempts,
		logger:      logger,
	}
}

// Run sweeps immediately, then on every tick until ctx is canceled.
// Blocks; run it on its own goroutine.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("reconciler started",
		"interval", r.cfg.Interval, "batch_size", r.cfg.BatchSize)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep runs one reconciliation pass. Errors are logged, never fatal:
// the next tick tries again.
func (r *Reconciler) sweep(ctx context.Context) {
	failed, err := r.store.FailExhausted(ctx, r.maxAttempts)
	if err != nil {
		r.logger.Error("failed to expire exhausted messages", "error", err)
	} else if failed > 0 {
		r.logger.Warn("messages exhausted their enrichment budget",
			"count", failed, "max_attempts", r.maxAttempts)
	}

	due, err := r.store.ListRetryable(ctx, time.Now(), r.maxAttempts, r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("failed to list retryable messages", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	r.logger.Debug("re-enqueueing pending messages", "count", len(due))
	for _, msg := range due {
		r.coordinator.enqueue(msg)
	}
}
