// Package wishlist stores matching preferences so a student can re-run them
// against the catalog as new items are listed.
package wishlist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"campusswap/apperr"
	"campusswap/auth"
	"campusswap/catalog"
	"campusswap/matching"
	"campusswap/notify"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrForbidden    = apperr.New(apperr.KindAuthorization, "wishlist: not the owner")
	ErrInvalidState = apperr.New(apperr.KindConflict, "wishlist: not active")
)

// maxActive caps how many active wishlists one student may keep.
const maxActive = 10

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Outbox interface {
	EnqueueTx(ctx context.Context, tx pgx.Tx, msg notify.Message) error
}

// Matcher runs preferences against the current catalog.
type Matcher interface {
	Match(ctx context.Context, prefs matching.Preferences) ([]matching.Result, error)
}

type Service struct {
	pool        TxBeginner
	repo        Repository
	outbox      Outbox
	matcher     Matcher
	idGenerator func() string
	now         func() time.Time
}

type CreateParams struct {
	Title      string              `json:"title"`
	Categories []string            `json:"categories"`
	MinPoints  int64               `json:"min_points"`
	MaxPoints  int64               `json:"max_points"`
	Conditions []catalog.Condition `json:"conditions"`
	Location   *catalog.Location   `json:"location,omitempty"`
	RadiusKm   float64             `json:"radius_km"`
	MinScore   float64             `json:"min_score"`
}

type ListResult struct {
	Items []Wishlist `json:"items"`
	Total int        `json:"total"`
}

func NewService(pool TxBeginner, repo Repository, outbox Outbox, matcher Matcher) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		outbox:      outbox,
		matcher:     matcher,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Create(ctx context.Context, actor auth.Actor, params CreateParams) (Wishlist, error) {
	if actor.ID == "" || actor.IsSystem() || actor.IsAgent() {
		return Wishlist{}, ErrForbidden
	}
	categories := make([]string, 0, len(params.Categories))
	for _, c := range params.Categories {
		if c = strings.TrimSpace(c); c != "" {
			categories = append(categories, c)
		}
	}
	if len(categories) == 0 {
		return Wishlist{}, apperr.Validationf("wishlist: at least one category required")
	}
	w := Wishlist{
		ID:         s.idGenerator(),
		OwnerID:    actor.ID,
		Title:      strings.TrimSpace(params.Title),
		Categories: categories,
		MinPoints:  params.MinPoints,
		MaxPoints:  params.MaxPoints,
		Conditions: params.Conditions,
		Location:   params.Location,
		RadiusKm:   params.RadiusKm,
		MinScore:   params.MinScore,
		Status:     StatusActive,
	}
	if err := w.Preferences(0).Validate(); err != nil {
		return Wishlist{}, err
	}

	_, active, err := s.repo.List(ctx, Filters{OwnerID: actor.ID, Status: StatusActive, PageSize: 1})
	if err != nil {
		return Wishlist{}, err
	}
	if active >= maxActive {
		return Wishlist{}, apperr.New(apperr.KindConflict, fmt.Sprintf("wishlist: at most %d active wishlists", maxActive))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Wishlist{}, fmt.Errorf("wishlist: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Create(ctx, tx, w)
	if err != nil {
		return Wishlist{}, err
	}
	if err := s.enqueue(ctx, tx, created, ""); err != nil {
		return Wishlist{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Wishlist{}, fmt.Errorf("wishlist: commit tx: %w", err)
	}
	return created, nil
}

// Get returns a wishlist to its owner or a moderator.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (Wishlist, error) {
	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return Wishlist{}, err
	}
	if w.OwnerID != actor.ID && !actor.IsResolver() {
		return Wishlist{}, ErrForbidden
	}
	return w, nil
}

// List pages through wishlists. Students only see their own.
func (s *Service) List(ctx context.Context, actor auth.Actor, filters Filters) (ListResult, error) {
	if !actor.IsResolver() {
		filters.OwnerID = actor.ID
	}
	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id string, reason *string) (Wishlist, error) {
	if id == "" {
		return Wishlist{}, apperr.Validationf("wishlist: cancel missing id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Wishlist{}, fmt.Errorf("wishlist: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	w, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Wishlist{}, err
	}
	if w.OwnerID != actor.ID && !actor.IsResolver() {
		return Wishlist{}, ErrForbidden
	}
	if w.Status != StatusActive {
		return Wishlist{}, ErrInvalidState
	}

	var trimmed *string
	if reason != nil {
		if r := strings.TrimSpace(*reason); r != "" {
			trimmed = &r
		}
	}
	updated, err := s.repo.UpdateStatus(ctx, tx, id, StatusCancelled, trimmed)
	if err != nil {
		return Wishlist{}, err
	}
	var why string
	if trimmed != nil {
		why = *trimmed
	}
	if err := s.enqueue(ctx, tx, updated, why); err != nil {
		return Wishlist{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Wishlist{}, fmt.Errorf("wishlist: cancel commit: %w", err)
	}
	return updated, nil
}

// Match runs an active wishlist against the catalog.
func (s *Service) Match(ctx context.Context, actor auth.Actor, id string, limit int) ([]matching.Result, error) {
	w, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if w.Status != StatusActive {
		return nil, ErrInvalidState
	}
	return s.matcher.Match(ctx, w.Preferences(limit))
}

// Preferences converts the wishlist into matching input.
func (w Wishlist) Preferences(limit int) matching.Preferences {
	return matching.Preferences{
		UserID:     w.OwnerID,
		Categories: w.Categories,
		MinPoints:  w.MinPoints,
		MaxPoints:  w.MaxPoints,
		Conditions: w.Conditions,
		Location:   w.Location,
		RadiusKm:   w.RadiusKm,
		MinScore:   w.MinScore,
		Limit:      limit,
	}
}

func (s *Service) enqueue(ctx context.Context, tx pgx.Tx, w Wishlist, reason string) error {
	if s.outbox == nil {
		return nil
	}
	msg, err := notify.NewMessage(notify.TopicWishlistChanged, w.ID, notify.WishlistChanged{
		WishlistID: w.ID,
		OwnerID:    w.OwnerID,
		Status:     string(w.Status),
		Reason:     reason,
		At:         s.now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := s.outbox.EnqueueTx(ctx, tx, msg); err != nil {
		return fmt.Errorf("wishlist: enqueue outbox: %w", err)
	}
	return nil
}
