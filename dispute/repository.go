package dispute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ListFilter narrows List. A non-empty UserID limits results to disputes
// where that user is a participant.
type ListFilter struct {
	SwapID string
	UserID string
	Status Status
	Limit  int
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `id::text, swap_id::text, initiator_id::text, recipient_id::text, opened_by::text, reason, description, evidence, status, resolver_id::text, resolution, opened_at, updated_at, closed_at`

// SaveTx upserts the latest revision of a dispute inside the swap's
// transaction. The partial unique index on open disputes turns a racing
// second dispute into ErrActiveDispute.
func (r *Repository) SaveTx(ctx context.Context, tx pgx.Tx, rec Record) error {
	evidence, err := json.Marshal(rec.Evidence)
	if err != nil {
		return fmt.Errorf("dispute: marshal evidence: %w", err)
	}
	var resolution []byte
	if rec.Resolution != nil {
		if resolution, err = json.Marshal(rec.Resolution); err != nil {
			return fmt.Errorf("dispute: marshal resolution: %w", err)
		}
	}
	var resolverID *string
	if rec.ResolverID != "" {
		resolverID = &rec.ResolverID
	}

	const upsertSQL = `
INSERT INTO disputes (id, swap_id, initiator_id, recipient_id, opened_by, reason, description, evidence, status, resolver_id, resolution, opened_at, updated_at, closed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE
SET evidence = EXCLUDED.evidence,
    status = EXCLUDED.status,
    resolver_id = EXCLUDED.resolver_id,
    resolution = EXCLUDED.resolution,
    updated_at = EXCLUDED.updated_at,
    closed_at = EXCLUDED.closed_at
`
	_, err = tx.Exec(ctx, upsertSQL,
		rec.ID, rec.SwapID, rec.Parties.InitiatorID, rec.Parties.RecipientID, rec.OpenedBy,
		rec.Reason.String(), rec.Description, evidence, rec.Status.String(), resolverID, resolution,
		rec.OpenedAt, rec.UpdatedAt, rec.ClosedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrActiveDispute
		}
		return fmt.Errorf("dispute: save: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM disputes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: get: %w", err)
	}
	return rec, nil
}

func (r *Repository) List(ctx context.Context, f ListFilter) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM disputes WHERE true`
	args := []any{}
	if f.SwapID != "" {
		args = append(args, f.SwapID)
		query += fmt.Sprintf(" AND swap_id = $%d", len(args))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		query += fmt.Sprintf(" AND (initiator_id = $%d OR recipient_id = $%d)", len(args), len(args))
	}
	if f.Status != 0 {
		args = append(args, f.Status.String())
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY opened_at DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec        Record
		reason     string
		status     string
		evidence   []byte
		resolution []byte
		resolverID *string
	)
	if err := row.Scan(
		&rec.ID, &rec.SwapID, &rec.Parties.InitiatorID, &rec.Parties.RecipientID, &rec.OpenedBy,
		&reason, &rec.Description, &evidence, &status, &resolverID, &resolution,
		&rec.OpenedAt, &rec.UpdatedAt, &rec.ClosedAt,
	); err != nil {
		return Record{}, err
	}
	var err error
	if rec.Reason, err = ParseReason(reason); err != nil {
		return Record{}, err
	}
	if rec.Status, err = ParseStatus(status); err != nil {
		return Record{}, err
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &rec.Evidence); err != nil {
			return Record{}, fmt.Errorf("dispute: decode evidence: %w", err)
		}
	}
	if len(resolution) > 0 {
		rec.Resolution = &Resolution{}
		if err := json.Unmarshal(resolution, rec.Resolution); err != nil {
			return Record{}, fmt.Errorf("dispute: decode resolution: %w", err)
		}
	}
	if resolverID != nil {
		rec.ResolverID = *resolverID
	}
	return rec, nil
}
