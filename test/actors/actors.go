// Package actors drives the swap service concurrently for the stress test.
// Actors swallow domain rejections (lost races, unavailable items, stale
// versions) and count them; the oracles decide whether the database is
// still consistent.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"campusswap/apperr"
	"campusswap/auth"
	"campusswap/delivery"
	"campusswap/dispute"
	"campusswap/notify"
	"campusswap/swap"
)

// World is the seeded population the actors trade in.
type World struct {
	Swaps     *swap.Service
	Students  []string
	Items     map[string][]string
	Moderator string
	Agent     string
}

// Stats counts outcomes across all actors.
type Stats struct {
	Proposed  atomic.Int64
	Completed atomic.Int64
	Cancelled atomic.Int64
	Disputed  atomic.Int64
	Resolved  atomic.Int64
	Rejected  atomic.Int64
	Errors    atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("proposed=%d completed=%d cancelled=%d disputed=%d resolved=%d rejected=%d errors=%d",
		s.Proposed.Load(), s.Completed.Load(), s.Cancelled.Load(), s.Disputed.Load(),
		s.Resolved.Load(), s.Rejected.Load(), s.Errors.Load())
}

// record classifies err. It returns false when the caller should abandon the
// current swap.
func (s *Stats) record(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	case apperr.KindOf(err) == apperr.KindUnknown:
		s.Errors.Add(1)
	default:
		s.Rejected.Add(1)
	}
	return false
}

// Assigner hands every delivery to the seeded agent.
type Assigner struct{ AgentID string }

func (a Assigner) Assign(_ context.Context, req delivery.Request) (delivery.Assignment, error) {
	return delivery.Assignment{
		AgentID:           a.AgentID,
		TrackingCode:      "STRESS-" + req.SwapID[:8],
		ScheduledPickup:   req.Window.Start,
		ScheduledDelivery: req.Window.End,
	}, nil
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(rng *rand.Rand, base, jitter int) {
	time.Sleep(time.Duration(base+rng.Intn(jitter)) * time.Millisecond)
}

func student(id string) auth.Actor { return auth.Actor{ID: id, Role: auth.RoleStudent} }

// Trader runs swaps end to end between random students over random items.
// Several traders share the item pool, so reservations collide.
func Trader(ctx context.Context, w *World, seed int64, stats *Stats, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	for !stopped(ctx, stop) {
		trade(ctx, w, rng, stats)
		pause(rng, 5, 20)
	}
	return nil
}

func trade(ctx context.Context, w *World, rng *rand.Rand, stats *Stats) {
	i := rng.Intn(len(w.Students))
	j := (i + 1 + rng.Intn(len(w.Students)-1)) % len(w.Students)
	a, b := student(w.Students[i]), student(w.Students[j])
	pick := func(owner string) string {
		items := w.Items[owner]
		return items[rng.Intn(len(items))]
	}

	sw, err := w.Swaps.Propose(ctx, a, swap.ProposeRequest{
		RecipientID:      b.ID,
		InitiatorItems:   []string{pick(a.ID)},
		RecipientItems:   []string{pick(b.ID)},
		PointsDifference: int64(rng.Intn(61) - 30),
	})
	if !stats.record(err) {
		return
	}
	stats.Proposed.Add(1)

	steps := []func() (swap.Swap, error){
		func() (swap.Swap, error) {
			return w.Swaps.Negotiate(ctx, sw.ID, b, sw.Version, swap.NegotiateRequest{Message: "ok"})
		},
		func() (swap.Swap, error) { return w.Swaps.Accept(ctx, sw.ID, b, sw.Version) },
		func() (swap.Swap, error) {
			start := time.Now().Add(time.Hour)
			return w.Swaps.ScheduleDelivery(ctx, sw.ID, a, sw.Version, swap.ScheduleRequest{
				PickupLocation:   "Library",
				DeliveryLocation: "Dorm",
				Window:           delivery.Window{Start: start, End: start.Add(time.Hour)},
			})
		},
		func() (swap.Swap, error) { return w.Swaps.ConfirmPickup(ctx, sw.ID, agent(w), sw.Version) },
		func() (swap.Swap, error) { return w.Swaps.ConfirmDelivery(ctx, sw.ID, agent(w), sw.Version) },
	}
	for _, step := range steps {
		if rng.Intn(12) == 0 {
			cancelled, err := w.Swaps.Cancel(ctx, sw.ID, a, sw.Version, "changed my mind")
			if stats.record(err) && cancelled.State == swap.StateCancelled {
				stats.Cancelled.Add(1)
			}
			return
		}
		next, err := step()
		if !stats.record(err) {
			return
		}
		sw = next
	}

	if rng.Intn(5) == 0 {
		_, err := w.Swaps.OpenDispute(ctx, sw.ID, b, sw.Version, dispute.OpenRequest{
			Reason:      dispute.ReasonNotAsDescribed,
			Description: "stress dispute",
		})
		if stats.record(err) {
			stats.Disputed.Add(1)
		}
		return
	}
	for _, who := range []auth.Actor{a, b} {
		next, err := w.Swaps.ConfirmReceipt(ctx, sw.ID, who, sw.Version)
		if !stats.record(err) {
			return
		}
		sw = next
	}
	if sw.State == swap.StateCompleted {
		stats.Completed.Add(1)
	}
}

func agent(w *World) auth.Actor { return auth.Actor{ID: w.Agent, Role: auth.RoleAgent} }

// Canceller races the traders by cancelling whatever open swap it finds.
func Canceller(ctx context.Context, w *World, seed int64, stats *Stats, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	for !stopped(ctx, stop) {
		who := student(w.Students[rng.Intn(len(w.Students))])
		list, err := w.Swaps.ListForUser(ctx, who, who.ID, swap.ListFilter{State: swap.StateNegotiating, Limit: 10})
		if stats.record(err) && len(list) > 0 {
			sw := list[rng.Intn(len(list))]
			if _, err := w.Swaps.Cancel(ctx, sw.ID, who, sw.Version, "raced"); stats.record(err) {
				stats.Cancelled.Add(1)
			}
		}
		pause(rng, 20, 40)
	}
	return nil
}

// Moderator picks up disputed swaps and resolves them either way, sometimes
// with compensation.
func Moderator(ctx context.Context, w *World, seed int64, stats *Stats, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	mod := auth.Actor{ID: w.Moderator, Role: auth.RoleModerator}
	for !stopped(ctx, stop) {
		owner := w.Students[rng.Intn(len(w.Students))]
		list, err := w.Swaps.ListForUser(ctx, mod, owner, swap.ListFilter{State: swap.StateDisputed, Limit: 10})
		if stats.record(err) {
			for _, sw := range list {
				resolve(ctx, w, rng, mod, sw, stats)
			}
		}
		pause(rng, 50, 50)
	}
	return nil
}

func resolve(ctx context.Context, w *World, rng *rand.Rand, mod auth.Actor, sw swap.Swap, stats *Stats) {
	sw, err := w.Swaps.InvestigateDispute(ctx, sw.ID, mod, sw.Version)
	if !stats.record(err) {
		return
	}
	req := dispute.ResolveRequest{Decision: dispute.DecisionCompleteSwap, Note: "stress"}
	if rng.Intn(2) == 0 {
		req.Decision = dispute.DecisionCancelSwap
	}
	if rng.Intn(3) == 0 {
		req.Compensation = int64(1 + rng.Intn(20))
		req.BeneficiaryID = sw.RecipientID
	}
	if _, err := w.Swaps.ResolveDispute(ctx, sw.ID, mod, sw.Version, req); stats.record(err) {
		stats.Resolved.Add(1)
	}
}

// Sweeper runs timeout passes alongside the traders.
func Sweeper(ctx context.Context, sweeper *swap.Sweeper, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		_, _ = sweeper.RunOnce(ctx)
		time.Sleep(300 * time.Millisecond)
	}
	return nil
}

// FlakyPublisher fails one publish in ten.
type FlakyPublisher struct {
	rng       *rand.Rand
	published atomic.Int64
}

func NewFlakyPublisher(seed int64) *FlakyPublisher {
	return &FlakyPublisher{rng: rand.New(rand.NewSource(seed))}
}

// Publish is called from a single relay goroutine.
func (p *FlakyPublisher) Publish(_ context.Context, msg notify.Message) error {
	if p.rng.Intn(10) == 0 {
		return fmt.Errorf("flaky publisher: dropped %s", msg.Topic)
	}
	p.published.Add(1)
	return nil
}

func (p *FlakyPublisher) Published() int64 { return p.published.Load() }

// Relay drains the outbox through relay until stopped.
func Relay(ctx context.Context, relay *notify.Relay, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		_, _ = relay.RunOnce(ctx)
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}
