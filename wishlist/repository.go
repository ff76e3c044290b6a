package wishlist

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"campusswap/apperr"
	"campusswap/catalog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = apperr.New(apperr.KindNotFound, "wishlist: not found")
)

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, w Wishlist) (Wishlist, error)
	Get(ctx context.Context, id string) (Wishlist, error)
	List(ctx context.Context, filters Filters) ([]Wishlist, int, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Wishlist, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status, cancelReason *string) (Wishlist, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const wishlistColumns = `id::text, owner_id::text, title, categories, min_points, max_points, conditions,
            lat, lng, radius_km, min_score, status, cancel_reason, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, w Wishlist) (Wishlist, error) {
	query := `
        INSERT INTO wishlists (id, owner_id, title, categories, min_points, max_points, conditions,
            lat, lng, radius_km, min_score, status)
        VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        RETURNING ` + wishlistColumns

	var lat, lng *float64
	if w.Location != nil {
		lat, lng = &w.Location.Lat, &w.Location.Lng
	}
	row := tx.QueryRow(ctx, query,
		w.ID,
		w.OwnerID,
		w.Title,
		nonNil(w.Categories),
		w.MinPoints,
		w.MaxPoints,
		conditionNames(w.Conditions),
		lat,
		lng,
		w.RadiusKm,
		w.MinScore,
		string(w.Status),
	)
	out, err := scanWishlist(row)
	if err != nil {
		return Wishlist{}, fmt.Errorf("wishlist: insert: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Wishlist, error) {
	w, err := scanWishlist(r.pool.QueryRow(ctx, `SELECT `+wishlistColumns+` FROM wishlists WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wishlist{}, ErrNotFound
		}
		return Wishlist{}, fmt.Errorf("wishlist: get: %w", err)
	}
	return w, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Wishlist, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}

	if filters.OwnerID != "" {
		where = append(where, fmt.Sprintf("owner_id=$%d", len(args)+1))
		args = append(args, filters.OwnerID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, string(filters.Status))
	}
	if filters.Category != "" {
		where = append(where, fmt.Sprintf("$%d = ANY(categories)", len(args)+1))
		args = append(args, filters.Category)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	sortOrder := strings.ToUpper(filters.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`SELECT %s FROM wishlists%s ORDER BY %s %s, id LIMIT %d OFFSET %d`,
		wishlistColumns, whereClause, mapSortKey(filters.SortKey), sortOrder, filters.PageSize, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("wishlist: query list: %w", err)
	}
	defer rows.Close()

	list := []Wishlist{}
	for rows.Next() {
		w, err := scanWishlist(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("wishlist: scan: %w", err)
		}
		list = append(list, w)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("wishlist: iterate: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM wishlists"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("wishlist: count list: %w", err)
	}
	return list, total, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Wishlist, error) {
	w, err := scanWishlist(tx.QueryRow(ctx, `SELECT `+wishlistColumns+` FROM wishlists WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wishlist{}, ErrNotFound
		}
		return Wishlist{}, fmt.Errorf("wishlist: get for update: %w", err)
	}
	return w, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status, cancelReason *string) (Wishlist, error) {
	query := `
		UPDATE wishlists
		SET status = $2,
		    cancel_reason = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + wishlistColumns

	w, err := scanWishlist(tx.QueryRow(ctx, query, id, string(status), cancelReason))
	if err != nil {
		return Wishlist{}, fmt.Errorf("wishlist: update status: %w", err)
	}
	return w, nil
}

func scanWishlist(row pgx.Row) (Wishlist, error) {
	var (
		w          Wishlist
		conditions []string
		status     string
		lat, lng   *float64
	)
	err := row.Scan(
		&w.ID,
		&w.OwnerID,
		&w.Title,
		&w.Categories,
		&w.MinPoints,
		&w.MaxPoints,
		&conditions,
		&lat,
		&lng,
		&w.RadiusKm,
		&w.MinScore,
		&status,
		&w.CancelReason,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return Wishlist{}, err
	}
	w.Status = Status(status)
	if lat != nil && lng != nil {
		w.Location = &catalog.Location{Lat: *lat, Lng: *lng}
	}
	for _, name := range conditions {
		c, err := catalog.ParseCondition(name)
		if err != nil {
			return Wishlist{}, err
		}
		w.Conditions = append(w.Conditions, c)
	}
	return w, nil
}

func conditionNames(cs []catalog.Condition) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.String())
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func mapSortKey(key string) string {
	switch key {
	case "minPoints":
		return "min_points"
	case "maxPoints":
		return "max_points"
	case "status":
		return "status"
	case "updatedAt":
		return "updated_at"
	case "createdAt":
		fallthrough
	default:
		return "created_at"
	}
}
