package rating

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists ratings in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const ratingColumns = `id::text, swap_id::text, rater_id::text, rated_id::text, score, categories, comment, created_at`

// Create inserts r. The (swap_id, rater_id) unique key turns a second
// rating into ErrAlreadyRated.
func (r *Repository) Create(ctx context.Context, in Rating) (Rating, error) {
	categories, err := json.Marshal(in.Categories)
	if err != nil {
		return Rating{}, fmt.Errorf("rating: marshal categories: %w", err)
	}
	if in.Categories == nil {
		categories = []byte(`{}`)
	}

	const query = `
		INSERT INTO ratings (swap_id, rater_id, rated_id, score, categories, comment)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + ratingColumns

	out, err := scanRating(r.pool.QueryRow(ctx, query, in.SwapID, in.RaterID, in.RatedID, in.Score, categories, in.Comment))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Rating{}, ErrAlreadyRated
		}
		return Rating{}, fmt.Errorf("rating: insert: %w", err)
	}
	return out, nil
}

// ListForSwap returns the ratings left on a swap, oldest first.
func (r *Repository) ListForSwap(ctx context.Context, swapID string) ([]Rating, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ratingColumns+` FROM ratings WHERE swap_id = $1 ORDER BY created_at, id`, swapID)
	if err != nil {
		return nil, fmt.Errorf("rating: list for swap: %w", err)
	}
	return collect(rows)
}

// ListReceived returns up to limit ratings received by userID, newest first.
func (r *Repository) ListReceived(ctx context.Context, userID string, limit int) ([]Rating, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+ratingColumns+` FROM ratings WHERE rated_id = $1 ORDER BY created_at DESC, id LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("rating: list received: %w", err)
	}
	return collect(rows)
}

func (r *Repository) Summary(ctx context.Context, userID string) (Summary, error) {
	s := Summary{UserID: userID}
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(AVG(score), 0)::float8 FROM ratings WHERE rated_id = $1`, userID).Scan(&s.Count, &s.Average)
	if err != nil {
		return Summary{}, fmt.Errorf("rating: summary: %w", err)
	}
	return s, nil
}

func collect(rows pgx.Rows) ([]Rating, error) {
	defer rows.Close()
	out := make([]Rating, 0, 8)
	for rows.Next() {
		r, err := scanRating(rows)
		if err != nil {
			return nil, fmt.Errorf("rating: scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rating: iterate: %w", err)
	}
	return out, nil
}

func scanRating(row pgx.Row) (Rating, error) {
	var (
		r          Rating
		categories []byte
	)
	if err := row.Scan(&r.ID, &r.SwapID, &r.RaterID, &r.RatedID, &r.Score, &categories, &r.Comment, &r.CreatedAt); err != nil {
		return Rating{}, err
	}
	if len(categories) > 0 {
		if err := json.Unmarshal(categories, &r.Categories); err != nil {
			return Rating{}, fmt.Errorf("rating: decode categories: %w", err)
		}
		if len(r.Categories) == 0 {
			r.Categories = nil
		}
	}
	return r, nil
}
