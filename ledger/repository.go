package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository stores balances on users and entries in ledger_entries.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) LockBalancesTx(ctx context.Context, tx pgx.Tx, userIDs []string) (map[string]int64, error) {
	const query = `
SELECT id::text, points_balance
FROM users
WHERE id = ANY($1::uuid[])
ORDER BY id
FOR UPDATE
`
	rows, err := tx.Query(ctx, query, userIDs)
	if err != nil {
		return nil, fmt.Errorf("ledger: lock balances: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64, len(userIDs))
	for rows.Next() {
		var (
			id      string
			balance int64
		)
		if err := rows.Scan(&id, &balance); err != nil {
			return nil, fmt.Errorf("ledger: scan balance: %w", err)
		}
		out[id] = balance
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate balances: %w", err)
	}
	return out, nil
}

func (r *PGRepository) AppendTx(ctx context.Context, tx pgx.Tx, entries [2]Entry) error {
	for _, e := range entries {
		var after int64
		err := tx.QueryRow(ctx, `UPDATE users SET points_balance = points_balance + $2, updated_at = now() WHERE id = $1 RETURNING points_balance`, e.UserID, e.Delta).Scan(&after)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			var pgErr *pgconn.PgError
			// users_points_balance_check
			if errors.As(err, &pgErr) && pgErr.Code == "23514" {
				return ErrInsufficientBalance
			}
			return fmt.Errorf("ledger: update balance: %w", err)
		}
		if after != e.BalanceAfter {
			return fmt.Errorf("ledger: balance drift for user %s: expected %d got %d", e.UserID, e.BalanceAfter, after)
		}

		const insertSQL = `
INSERT INTO ledger_entries (id, swap_id, user_id, delta, balance_after, kind, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
		if _, err := tx.Exec(ctx, insertSQL, e.ID, e.SwapID, e.UserID, e.Delta, e.BalanceAfter, e.Kind.String(), e.CreatedAt); err != nil {
			return fmt.Errorf("ledger: insert entry: %w", err)
		}
	}
	return nil
}

// ListBySwap returns every entry recorded for a swap in insertion order.
func (r *PGRepository) ListBySwap(ctx context.Context, swapID string) ([]Entry, error) {
	const query = `
SELECT id::text, swap_id::text, user_id::text, delta, balance_after, kind, created_at
FROM ledger_entries
WHERE swap_id = $1
ORDER BY seq
`
	rows, err := r.pool.Query(ctx, query, swapID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, 4)
	for rows.Next() {
		var (
			e    Entry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.SwapID, &e.UserID, &e.Delta, &e.BalanceAfter, &kind, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		if e.Kind, err = ParseKind(kind); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate entries: %w", err)
	}
	return entries, nil
}
