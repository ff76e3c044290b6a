package swap

import (
	"context"
	"errors"
	"time"

	"campusswap/apperr"
	"campusswap/auth"

	"go.uber.org/zap"
)

// ListingExpirer expires listings that have been ACTIVE since before cutoff.
type ListingExpirer interface {
	ExpireStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper applies the time-driven rules as the system actor: idle
// negotiations cancel, DELIVERED swaps past the dispute window complete,
// missed delivery windows make a swap dispute-eligible, and stale listings
// expire. Every action is a versioned mutation, so concurrent sweepers
// cannot apply one twice.
type Sweeper struct {
	svc        *Service
	repo       Repository
	listings   ListingExpirer
	listingTTL time.Duration
	batchSize  int
	logger     *zap.Logger
}

func NewSweeper(svc *Service, repo Repository, listings ListingExpirer, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		svc:        svc,
		repo:       repo,
		listings:   listings,
		listingTTL: 60 * 24 * time.Hour,
		batchSize:  200,
		logger:     logger,
	}
}

func (w *Sweeper) WithListingTTL(d time.Duration) *Sweeper {
	if d > 0 {
		w.listingTTL = d
	}
	return w
}

func (w *Sweeper) WithBatchSize(n int) *Sweeper {
	if n > 0 {
		w.batchSize = n
	}
	return w
}

// SweepStats summarises one pass. Conflicts are swaps another writer
// changed first; Failed are swaps whose action was rejected, such as a
// settlement the payer cannot cover.
type SweepStats struct {
	Cancelled int
	Completed int
	Flagged   int
	Expired   int64
	Conflicts int
	Failed    int
}

func (st SweepStats) empty() bool {
	return st == SweepStats{}
}

// RunOnce performs one pass.
func (w *Sweeper) RunOnce(ctx context.Context) (SweepStats, error) {
	now := w.svc.now().UTC()
	policy := w.svc.policy
	due, err := w.repo.ListDue(ctx, DueQuery{
		States: []State{
			StateInitiated,
			StateNegotiating,
			StatePickupScheduled,
			StateInTransit,
			StateDelivered,
		},
		ActivityBefore:  now.Add(-policy.NegotiationInactivity),
		DeliveredBefore: now.Add(-policy.DisputeWindow),
		WindowBefore:    now,
		Limit:           w.batchSize,
	})
	if err != nil {
		return SweepStats{}, err
	}

	var stats SweepStats
	for _, sw := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		var (
			counter *int
			actErr  error
		)
		switch sw.State {
		case StateInitiated, StateNegotiating:
			if now.Sub(sw.LastActivityAt) < policy.NegotiationInactivity {
				continue
			}
			counter = &stats.Cancelled
			_, actErr = w.svc.mutate(ctx, sw.ID, auth.SystemActor, sw.Version, system, func(next *Swap, at time.Time) (effect, error) {
				return nil, next.cancel(auth.SystemActor.ID, "negotiation inactive", at)
			})
		case StateDelivered:
			if sw.DeliveredAt == nil || now.Sub(*sw.DeliveredAt) < policy.DisputeWindow {
				continue
			}
			counter = &stats.Completed
			_, actErr = w.svc.mutate(ctx, sw.ID, auth.SystemActor, sw.Version, system, func(next *Swap, at time.Time) (effect, error) {
				if err := next.autoComplete(auth.SystemActor.ID, policy.DisputeWindow, at); err != nil {
					return nil, err
				}
				return w.svc.complete(*next, at), nil
			})
		case StatePickupScheduled, StateInTransit:
			if sw.DisputeEligible || !missedWindow(sw, now) {
				continue
			}
			counter = &stats.Flagged
			_, actErr = w.svc.mutate(ctx, sw.ID, auth.SystemActor, sw.Version, system, func(next *Swap, at time.Time) (effect, error) {
				return nil, next.flagMissedWindow(auth.SystemActor.ID, at)
			})
		default:
			continue
		}

		switch {
		case actErr == nil:
			*counter++
		case errors.Is(actErr, ErrVersionConflict):
			stats.Conflicts++
		case errors.Is(actErr, context.Canceled), errors.Is(actErr, context.DeadlineExceeded):
			return stats, actErr
		default:
			stats.Failed++
			w.logger.Warn("sweeper action rejected",
				zap.String("swap_id", sw.ID),
				zap.String("state", sw.State.String()),
				zap.String("kind", apperr.KindOf(actErr).String()),
				zap.Error(actErr),
			)
		}
	}

	if w.listings != nil {
		n, err := w.listings.ExpireStale(ctx, now.Add(-w.listingTTL))
		if err != nil {
			return stats, err
		}
		stats.Expired = n
	}
	return stats, nil
}

// Run sweeps until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		stats, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Warn("sweep pass failed", zap.Error(err))
		} else if !stats.empty() {
			w.logger.Info("sweep pass",
				zap.Int("cancelled", stats.Cancelled),
				zap.Int("completed", stats.Completed),
				zap.Int("flagged", stats.Flagged),
				zap.Int64("expired", stats.Expired),
				zap.Int("conflicts", stats.Conflicts),
				zap.Int("failed", stats.Failed),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func missedWindow(sw Swap, now time.Time) bool {
	deadline := sw.WindowDeadline()
	return deadline != nil && now.After(*deadline)
}
