package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Publisher delivers one message downstream.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Store is the relay's view of the outbox table.
type Store interface {
	ClaimTx(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error)
	MarkProcessedTx(ctx context.Context, tx pgx.Tx, id string) error
	MarkFailedTx(ctx context.Context, tx pgx.Tx, id string, dead bool) error
}

// Relay moves outbox rows to a Publisher.
type Relay struct {
	pool        TxBeginner
	store       Store
	publisher   Publisher
	batchSize   int
	maxAttempts int
	logger      *zap.Logger
}

func NewRelay(pool TxBeginner, store Store, publisher Publisher, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		pool:        pool,
		store:       store,
		publisher:   publisher,
		batchSize:   50,
		maxAttempts: 5,
		logger:      logger,
	}
}

func (r *Relay) WithBatchSize(n int) *Relay {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

func (r *Relay) WithMaxAttempts(n int) *Relay {
	if n > 0 {
		r.maxAttempts = n
	}
	return r
}

// Stats summarises one relay pass.
type Stats struct {
	Published int
	Retrying  int
	Dead      int
}

// RunOnce claims a batch, publishes it and records the outcome per row.
func (r *Relay) RunOnce(ctx context.Context) (Stats, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("notify: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	msgs, err := r.store.ClaimTx(ctx, tx, r.batchSize)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, m := range msgs {
		if err := r.publisher.Publish(ctx, m); err != nil {
			dead := m.Attempts+1 >= r.maxAttempts
			if markErr := r.store.MarkFailedTx(ctx, tx, m.ID, dead); markErr != nil {
				return Stats{}, markErr
			}
			if dead {
				stats.Dead++
				r.logger.Error("outbox message dead-lettered",
					zap.String("id", m.ID),
					zap.String("topic", m.Topic),
					zap.Int("attempts", m.Attempts+1),
					zap.Error(err),
				)
			} else {
				stats.Retrying++
				r.logger.Warn("outbox publish failed",
					zap.String("id", m.ID),
					zap.String("topic", m.Topic),
					zap.Int("attempt", m.Attempts+1),
					zap.Error(err),
				)
			}
			continue
		}
		if err := r.store.MarkProcessedTx(ctx, tx, m.ID); err != nil {
			return Stats{}, err
		}
		stats.Published++
	}

	if err := tx.Commit(ctx); err != nil {
		return Stats{}, fmt.Errorf("notify: commit tx: %w", err)
	}
	return stats, nil
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		stats, err := r.RunOnce(ctx)
		if err != nil {
			r.logger.Warn("outbox relay pass failed", zap.Error(err))
		} else if stats.Published+stats.Retrying+stats.Dead > 0 {
			r.logger.Info("outbox relay pass",
				zap.Int("published", stats.Published),
				zap.Int("retrying", stats.Retrying),
				zap.Int("dead", stats.Dead),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
