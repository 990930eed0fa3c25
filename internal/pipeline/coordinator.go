package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/recallio/recall/internal/store"
	"github.com/recallio/recall/internal/vecindex"
)

// Coordinator owns the append and delete protocols across the
// relational store and the vector index.
//
// Coordinator is safe for concurrent use by multiple goroutines.
type Coordinator struct {
	store    MessageStore
	embedder Embedder
	index    Index
	cfg      Config
	logger   *slog.Logger

	queue   chan *store.Message
	workers *errgroup.Group
	baseCtx context.Context
	cancel  context.CancelFunc

	// mu guards stopped and fences every enqueue against the channel
	// close in Stop: sends happen under the read lock, the close happens
	// after taking the write lock.
	mu      sync.RWMutex
	stopped bool

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewCoordinator wires the pipeline. Call Start before Append and Stop
// on shutdown. A nil logger falls back to slog.Default().
func NewCoordinator(st MessageStore, embedder Embedder, index Index, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:    st,
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		logger:   logger,
		queue:    make(chan *store.Message, cfg.QueueSize),
		baseCtx:  baseCtx,
		cancel:   cancel,
	}
}

// Start launches the enrichment worker pool. Idempotent.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		c.workers = &errgroup.Group{}
		for i := 0; i < c.cfg.Workers; i++ {
			c.workers.Go(func() error {
				for msg := range c.queue {
					c.process(msg)
				}
				return nil
			})
		}
		c.logger.Info("enrichment pipeline started",
			"workers", c.cfg.Workers, "queue_size", c.cfg.QueueSize)
	})
}

// Stop drains the queue and waits for in-flight enrichments. If ctx
// expires first, in-flight work is canceled and Stop returns after the
// workers observe the cancellation.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		close(c.queue)
		c.mu.Unlock()
	})
	if c.workers == nil {
		c.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = c.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.cancel()
		<-done
	}
	c.cancel()
	return nil
}

// Append durably stores one message and schedules its enrichment. The
// message is returned in the pending state; callers never wait for the
// embedding. If the enrichment queue is full the message simply stays
// pending until the reconciler retries it.
func (c *Coordinator) Append(ctx context.Context, sessionID uuid.UUID, role, content string) (*store.Message, error) {
	msg, err := c.store.AppendMessage(ctx, sessionID, role, content)
	if err != nil {
		return nil, err
	}

	c.enqueue(msg)
	return msg, nil
}

// enqueue schedules one enrichment without ever blocking or panicking.
// After Stop (or with a full queue) the message simply stays pending;
// the reconciler picks it up on the next start.
func (c *Coordinator) enqueue(msg *store.Message) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.stopped {
		c.logger.Warn("pipeline stopped, leaving message pending",
			"message_id", msg.ID, "session_id", msg.SessionID)
		return
	}

	select {
	case c.queue <- msg:
	default:
		c.logger.Warn("enrichment queue full, deferring to reconciler",
			"message_id", msg.ID, "session_id", msg.SessionID)
	}
}

// process runs one enrichment attempt on a worker. The attempt uses the
// coordinator's lifecycle context, not the request context: the caller
// of Append has long since returned.
func (c *Coordinator) process(msg *store.Message) {
	ctx, cancelAttempt := context.WithTimeout(c.baseCtx, c.cfg.EnrichTimeout)
	defer cancelAttempt()

	if err := c.enrich(ctx, msg); err != nil {
		next := time.Now().Add(c.cfg.backoffFor(msg.Attempts))
		c.logger.Warn("enrichment attempt failed",
			"message_id", msg.ID,
			"session_id", msg.SessionID,
			"attempt", msg.Attempts+1,
			"next_attempt_at", next,
			"error", err)

		recordCtx, cancelRecord := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancelRecord()
		if err := c.store.RecordAttempt(recordCtx, msg.ID, next); err != nil {
			c.logger.Error("failed to record enrichment attempt",
				"message_id", msg.ID, "error", err)
		}
	}
}

// enrich performs the staged commit: embed, upsert the vector record
// keyed by the message id, then flip the message to committed. Every
// step is idempotent, so a crash between steps is repaired by simply
// running enrich again.
func (c *Coordinator) enrich(ctx context.Context, msg *store.Message) error {
	vec, err := c.embedder.Embed(ctx, msg.Content)
	if err != nil {
		return fmt.Errorf("embed message %d: %w", msg.ID, err)
	}

	err = c.index.Upsert(ctx, vecindex.Record{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		Role:      msg.Role,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
		Embedding: vec,
	})
	if err != nil {
		return fmt.Errorf("upsert vector for message %d: %w", msg.ID, err)
	}

	if err := c.store.MarkCommitted(ctx, msg.ID); err != nil {
		// The message is no longer pending: either a duplicate worker
		// got here first or the session was deleted underneath us. The
		// vector record is harmless in both cases.
		if errors.Is(err, store.ErrMessageNotFound) {
			c.logger.Debug("message no longer pending, skipping commit",
				"message_id", msg.ID)
			return nil
		}
		return fmt.Errorf("mark message %d committed: %w", msg.ID, err)
	}

	c.logger.Debug("message committed",
		"message_id", msg.ID, "session_id", msg.SessionID)
	return nil
}

// DeleteSession removes a session everywhere. The relational tombstone
// lands first and synchronously fences the session from every read and
// search path; the physical rows go next; the vector records last. A
// failure on the index side is logged and tolerated because the
// tombstone already guarantees the records are unreachable.
func (c *Coordinator) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	if err := c.store.TombstoneSession(ctx, sessionID); err != nil {
		return err
	}
	if err := c.store.DeleteSessionRows(ctx, sessionID); err != nil {
		return err
	}

	if err := c.index.DeleteSession(ctx, sessionID); err != nil {
		c.logger.Warn("failed to delete vector records, session remains fenced",
			"session_id", sessionID, "error", err)
	}
	return nil
}
