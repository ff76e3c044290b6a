package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campusswap/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals one or more requested items do not exist.
	ErrNotFound = apperr.New(apperr.KindNotFound, "catalog: item not found")
	// ErrUnavailable signals an item is not in the status a swap step expects.
	ErrUnavailable = apperr.New(apperr.KindValidation, "catalog: item not available")
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository reads and writes items in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const itemColumns = `id::text, owner_id::text, title, category, condition, age_months, points, status, lat, lng, listed_at, swapped_at, updated_at`

// GetByIDs loads the given items outside of a transaction.
func (r *PGRepository) GetByIDs(ctx context.Context, ids []string) ([]Item, error) {
	return getByIDs(ctx, r.pool, ids, false)
}

// GetByIDsTx loads and row-locks the given items inside tx.
func (r *PGRepository) GetByIDsTx(ctx context.Context, tx pgx.Tx, ids []string) ([]Item, error) {
	return getByIDs(ctx, tx, ids, true)
}

func getByIDs(ctx context.Context, q Querier, ids []string, lock bool) ([]Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = ANY($1::uuid[]) ORDER BY id`
	if lock {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("catalog: get items: %w", err)
	}
	defer rows.Close()

	items := make([]Item, 0, len(ids))
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate items: %w", err)
	}
	if len(items) != len(uniq(ids)) {
		return nil, ErrNotFound
	}
	return items, nil
}

// TransitionTx moves every listed item from one of the allowed statuses to
// next. It fails with ErrUnavailable unless all rows match, so the caller's
// transaction never commits a partial item update.
func (r *PGRepository) TransitionTx(ctx context.Context, tx pgx.Tx, ids []string, from []Status, next Status) error {
	if len(ids) == 0 {
		return nil
	}
	fromText := make([]string, 0, len(from))
	for _, s := range from {
		fromText = append(fromText, s.String())
	}
	const updateSQL = `
UPDATE items
SET status = $2,
    swapped_at = CASE WHEN $2 = 'SWAPPED' THEN now() ELSE swapped_at END,
    updated_at = now()
WHERE id = ANY($1::uuid[])
  AND status = ANY($3::text[])
`
	tag, err := tx.Exec(ctx, updateSQL, ids, next.String(), fromText)
	if err != nil {
		return fmt.Errorf("catalog: transition items: %w", err)
	}
	if tag.RowsAffected() != int64(len(uniq(ids))) {
		return ErrUnavailable
	}
	return nil
}

// ListActive returns a snapshot of active listings, newest first.
func (r *PGRepository) ListActive(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 || limit > 5000 {
		limit = 5000
	}
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM items WHERE status = 'ACTIVE' ORDER BY listed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: list active: %w", err)
	}
	defer rows.Close()

	out := make([]Item, 0, 64)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan active item: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate active items: %w", err)
	}
	return out, nil
}

// ComparableSales returns swapped items of the category since the given time.
func (r *PGRepository) ComparableSales(ctx context.Context, category string, since time.Time) ([]Sale, error) {
	const query = `
SELECT id::text, category, points, swapped_at
FROM items
WHERE status = 'SWAPPED' AND category = $1 AND swapped_at >= $2
ORDER BY swapped_at DESC
LIMIT 200
`
	rows, err := r.pool.Query(ctx, query, normalizeCategory(category), since)
	if err != nil {
		return nil, fmt.Errorf("catalog: comparable sales: %w", err)
	}
	defer rows.Close()

	sales := []Sale{}
	for rows.Next() {
		var s Sale
		if err := rows.Scan(&s.ItemID, &s.Category, &s.Points, &s.SoldAt); err != nil {
			return nil, fmt.Errorf("catalog: scan sale: %w", err)
		}
		sales = append(sales, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate sales: %w", err)
	}
	return sales, nil
}

// CountActive counts the active listings of a category (the supply side of
// the demand/supply signal).
func (r *PGRepository) CountActive(ctx context.Context, category string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM items WHERE status = 'ACTIVE' AND category = $1`, normalizeCategory(category)).Scan(&n); err != nil {
		return 0, fmt.Errorf("catalog: count active: %w", err)
	}
	return n, nil
}

// ExpireStale marks active listings older than cutoff as EXPIRED.
func (r *PGRepository) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE items SET status = 'EXPIRED', updated_at = now() WHERE status = 'ACTIVE' AND listed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("catalog: expire stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetByID fetches one item.
func (r *PGRepository) GetByID(ctx context.Context, id string) (Item, error) {
	it, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, fmt.Errorf("catalog: get item: %w", err)
	}
	return it, nil
}

// Revalue stores a new points value produced by the valuation engine.
func (r *PGRepository) Revalue(ctx context.Context, id string, points int64) error {
	if points < 0 {
		return apperr.Validationf("catalog: points must not be negative")
	}
	tag, err := r.pool.Exec(ctx, `UPDATE items SET points = $2, updated_at = now() WHERE id = $1`, id, points)
	if err != nil {
		return fmt.Errorf("catalog: revalue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanItem(row pgx.Row) (Item, error) {
	var (
		it        Item
		condition string
		status    string
		lat, lng  *float64
	)
	if err := row.Scan(
		&it.ID,
		&it.OwnerID,
		&it.Title,
		&it.Category,
		&condition,
		&it.AgeMonths,
		&it.Points,
		&status,
		&lat,
		&lng,
		&it.ListedAt,
		&it.SwappedAt,
		&it.UpdatedAt,
	); err != nil {
		return Item{}, err
	}
	var err error
	if it.Condition, err = ParseCondition(condition); err != nil {
		return Item{}, err
	}
	if it.Status, err = ParseStatus(status); err != nil {
		return Item{}, err
	}
	if lat != nil && lng != nil {
		it.Location = &Location{Lat: *lat, Lng: *lng}
	}
	return it, nil
}

func uniq(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
