// Package rating lets the two participants of a completed swap review each
// other once, and aggregates what a user has received.
package rating

import (
	"context"
	"fmt"
	"strings"
	"time"

	"campusswap/apperr"
	"campusswap/auth"
	"campusswap/swap"

	"go.uber.org/zap"
)

var (
	ErrAlreadyRated = apperr.New(apperr.KindConflict, "rating: swap already rated by this user")
	ErrForbidden    = apperr.New(apperr.KindAuthorization, "rating: only participants may rate")
	ErrNotCompleted = apperr.New(apperr.KindValidation, "rating: swap is not completed")
)

const maxComment = 1000

// Store is the persistence the service needs.
type Store interface {
	Create(ctx context.Context, r Rating) (Rating, error)
	ListReceived(ctx context.Context, userID string, limit int) ([]Rating, error)
	ListForSwap(ctx context.Context, swapID string) ([]Rating, error)
	Summary(ctx context.Context, userID string) (Summary, error)
}

// SwapReader resolves a swap the actor is allowed to see.
type SwapReader interface {
	Get(ctx context.Context, actor auth.Actor, id string) (swap.Swap, error)
}

type RateRequest struct {
	Score      int            `json:"score"`
	Categories map[string]int `json:"categories,omitempty"`
	Comment    string         `json:"comment,omitempty"`
}

// Validate checks the score range, the category names and the comment size.
func (r RateRequest) Validate() error {
	if r.Score < 1 || r.Score > 5 {
		return apperr.Validationf("rating: score %d out of range 1..5", r.Score)
	}
	for name, v := range r.Categories {
		if !knownCategories[name] {
			return apperr.Validationf("rating: unknown category %q", name)
		}
		if v < 1 || v > 5 {
			return apperr.Validationf("rating: %s score %d out of range 1..5", name, v)
		}
	}
	if len(r.Comment) > maxComment {
		return apperr.Validationf("rating: comment longer than %d bytes", maxComment)
	}
	return nil
}

// Service exposes rating operations.
type Service struct {
	repo   Store
	swaps  SwapReader
	logger *zap.Logger
	now    func() time.Time
}

// NewService builds a Service using the provided repository and swap reader.
func NewService(repo Store, swaps SwapReader) *Service {
	return &Service{repo: repo, swaps: swaps, logger: zap.NewNop(), now: time.Now}
}

func (s *Service) WithLogger(l *zap.Logger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}

func (s *Service) WithClock(fn func() time.Time) *Service {
	s.now = fn
	return s
}

// Rate records actor's review of the counterpart on a completed swap.
func (s *Service) Rate(ctx context.Context, actor auth.Actor, swapID string, req RateRequest) (Rating, error) {
	if err := req.Validate(); err != nil {
		return Rating{}, err
	}
	sw, err := s.swaps.Get(ctx, actor, swapID)
	if err != nil {
		return Rating{}, err
	}
	if !sw.IsParticipant(actor.ID) {
		return Rating{}, ErrForbidden
	}
	if sw.State != swap.StateCompleted {
		return Rating{}, ErrNotCompleted
	}

	out, err := s.repo.Create(ctx, Rating{
		SwapID:     sw.ID,
		RaterID:    actor.ID,
		RatedID:    sw.Counterpart(actor.ID),
		Score:      req.Score,
		Categories: req.Categories,
		Comment:    strings.TrimSpace(req.Comment),
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		return Rating{}, err
	}
	s.logger.Info("swap rated",
		zap.String("swap_id", out.SwapID),
		zap.String("rater_id", out.RaterID),
		zap.Int("score", out.Score),
	)
	return out, nil
}

// ListForSwap returns the (at most two) ratings left on a swap.
func (s *Service) ListForSwap(ctx context.Context, actor auth.Actor, swapID string) ([]Rating, error) {
	if _, err := s.swaps.Get(ctx, actor, swapID); err != nil {
		return nil, err
	}
	return s.repo.ListForSwap(ctx, swapID)
}

// ListReceived returns up to limit ratings received by userID.
func (s *Service) ListReceived(ctx context.Context, userID string, limit int) ([]Rating, error) {
	return s.repo.ListReceived(ctx, userID, limit)
}

func (s *Service) Summary(ctx context.Context, userID string) (Summary, error) {
	sum, err := s.repo.Summary(ctx, userID)
	if err != nil {
		return Summary{}, fmt.Errorf("rating: summary for %s: %w", userID, err)
	}
	return sum, nil
}
