package swap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository keeps each swap as a JSON document plus the columns the
// sweeper and listings query on. The version column is the
// compare-and-swap token.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Get(ctx context.Context, id string) (Swap, error) {
	return getSwap(r.pool.QueryRow(ctx, `SELECT document FROM swaps WHERE id = $1`, id))
}

// GetTx reads without locking; UpdateTx detects concurrent writers.
func (r *PGRepository) GetTx(ctx context.Context, tx pgx.Tx, id string) (Swap, error) {
	return getSwap(tx.QueryRow(ctx, `SELECT document FROM swaps WHERE id = $1`, id))
}

func getSwap(row pgx.Row) (Swap, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Swap{}, ErrNotFound
		}
		return Swap{}, fmt.Errorf("swap: get: %w", err)
	}
	return Unmarshal(doc)
}

func (r *PGRepository) InsertTx(ctx context.Context, tx pgx.Tx, s Swap) error {
	doc, err := Marshal(s)
	if err != nil {
		return err
	}
	const insertSQL = `
INSERT INTO swaps (id, initiator_id, recipient_id, state, version, document, dispute_eligible, last_activity_at, delivered_at, window_deadline, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`
	_, err = tx.Exec(ctx, insertSQL,
		s.ID, s.InitiatorID, s.RecipientID, s.State.String(), s.Version, doc,
		s.DisputeEligible, s.LastActivityAt, s.DeliveredAt, s.WindowDeadline(), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: swap %s already exists", ErrVersionConflict, s.ID)
		}
		return fmt.Errorf("swap: insert: %w", err)
	}
	return nil
}

// UpdateTx writes s only if the row still carries expectedVersion.
func (r *PGRepository) UpdateTx(ctx context.Context, tx pgx.Tx, s Swap, expectedVersion int64) error {
	if s.Version <= expectedVersion {
		return fmt.Errorf("swap: update %s: version %d does not advance %d", s.ID, s.Version, expectedVersion)
	}
	doc, err := Marshal(s)
	if err != nil {
		return err
	}
	const updateSQL = `
UPDATE swaps
SET state = $3,
    version = $4,
    document = $5,
    dispute_eligible = $6,
    last_activity_at = $7,
    delivered_at = $8,
    window_deadline = $9,
    updated_at = $10
WHERE id = $1
  AND version = $2
`
	tag, err := tx.Exec(ctx, updateSQL,
		s.ID, expectedVersion, s.State.String(), s.Version, doc,
		s.DisputeEligible, s.LastActivityAt, s.DeliveredAt, s.WindowDeadline(), s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("swap: update: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM swaps WHERE id = $1)`, s.ID).Scan(&exists); err != nil {
		return fmt.Errorf("swap: update: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return fmt.Errorf("%w: swap %s moved past version %d", ErrVersionConflict, s.ID, expectedVersion)
}

func (r *PGRepository) ListForUser(ctx context.Context, userID string, f ListFilter) ([]Swap, error) {
	state := ""
	if f.State.Valid() {
		state = f.State.String()
	}
	const listSQL = `
SELECT document
FROM swaps
WHERE (initiator_id = $1 OR recipient_id = $1)
  AND ($2 = '' OR state = $2)
ORDER BY last_activity_at DESC, id
LIMIT $3
`
	rows, err := r.pool.Query(ctx, listSQL, userID, state, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("swap: list: %w", err)
	}
	return collect(rows)
}

// ListDue returns candidates for the sweeper: idle negotiations, swaps
// delivered before DeliveredBefore and scheduled or in-transit swaps whose
// window deadline passed before WindowBefore and are not yet flagged. Every
// row returned is actionable, so a full batch cannot starve later rows. The
// sweeper re-checks each one.
func (r *PGRepository) ListDue(ctx context.Context, q DueQuery) ([]Swap, error) {
	states := make([]string, 0, len(q.States))
	for _, s := range q.States {
		states = append(states, s.String())
	}
	const dueSQL = `
SELECT document
FROM swaps
WHERE state = ANY($1::text[])
  AND (
        (state IN ('INITIATED', 'NEGOTIATING') AND last_activity_at < $2)
     OR (state = 'DELIVERED' AND delivered_at <= $3)
     OR (state IN ('PICKUP_SCHEDULED', 'IN_TRANSIT') AND NOT dispute_eligible AND window_deadline < $4)
  )
ORDER BY updated_at, id
LIMIT $5
`
	rows, err := r.pool.Query(ctx, dueSQL, states, q.ActivityBefore, q.DeliveredBefore, q.WindowBefore, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("swap: list due: %w", err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]Swap, error) {
	defer rows.Close()
	var out []Swap
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("swap: scan: %w", err)
		}
		s, err := Unmarshal(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("swap: rows: %w", err)
	}
	return out, nil
}
