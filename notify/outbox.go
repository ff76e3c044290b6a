package notify

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PGOutbox reads and writes the outbox table.
type PGOutbox struct{}

func NewOutbox() *PGOutbox { return &PGOutbox{} }

// EnqueueTx inserts msg in the caller's transaction.
func (o *PGOutbox) EnqueueTx(ctx context.Context, tx pgx.Tx, msg Message) error {
	const insertSQL = `
INSERT INTO outbox (topic, key, payload)
VALUES ($1, $2, $3::jsonb)
`
	if _, err := tx.Exec(ctx, insertSQL, msg.Topic, msg.Key, msg.Payload); err != nil {
		return fmt.Errorf("notify: enqueue %s: %w", msg.Topic, err)
	}
	return nil
}

// ClaimTx locks up to limit pending rows. Concurrent relays skip each
// other's rows.
func (o *PGOutbox) ClaimTx(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	const query = `
SELECT id::text, topic, key, payload, attempts, created_at
FROM outbox
WHERE status = 'pending'
ORDER BY created_at, id
FOR UPDATE SKIP LOCKED
LIMIT $1
`
	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: claim: %w", err)
	}
	defer rows.Close()

	msgs := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Key, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("notify: scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate: %w", err)
	}
	return msgs, nil
}

func (o *PGOutbox) MarkProcessedTx(ctx context.Context, tx pgx.Tx, id string) error {
	if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'processed', attempts = attempts + 1, last_attempt = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("notify: mark processed: %w", err)
	}
	return nil
}

// MarkFailedTx records a failed attempt and parks the row as dead once it
// has used up its attempts.
func (o *PGOutbox) MarkFailedTx(ctx context.Context, tx pgx.Tx, id string, dead bool) error {
	status := "pending"
	if dead {
		status = "dead"
	}
	if _, err := tx.Exec(ctx, `UPDATE outbox SET status = $2, attempts = attempts + 1, last_attempt = now() WHERE id = $1`, id, status); err != nil {
		return fmt.Errorf("notify: mark failed: %w", err)
	}
	return nil
}
