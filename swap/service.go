package swap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campusswap/apperr"
	"campusswap/auth"
	"campusswap/catalog"
	"campusswap/delivery"
	"campusswap/dispute"
	"campusswap/ledger"
	"campusswap/notify"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository stores swap documents. UpdateTx is the compare-and-swap: it
// writes s only if the stored version is still expectedVersion and returns
// ErrVersionConflict otherwise.
type Repository interface {
	Get(ctx context.Context, id string) (Swap, error)
	GetTx(ctx context.Context, tx pgx.Tx, id string) (Swap, error)
	ListForUser(ctx context.Context, userID string, f ListFilter) ([]Swap, error)
	ListDue(ctx context.Context, q DueQuery) ([]Swap, error)
	InsertTx(ctx context.Context, tx pgx.Tx, s Swap) error
	UpdateTx(ctx context.Context, tx pgx.Tx, s Swap, expectedVersion int64) error
}

// ItemStore is the catalog as the swap core sees it.
type ItemStore interface {
	GetByIDsTx(ctx context.Context, tx pgx.Tx, ids []string) ([]catalog.Item, error)
	TransitionTx(ctx context.Context, tx pgx.Tx, ids []string, from []catalog.Status, next catalog.Status) error
}

type Settler interface {
	SettleTx(ctx context.Context, tx pgx.Tx, s ledger.Settlement) ([2]ledger.Entry, error)
}

type DisputeLog interface {
	SaveTx(ctx context.Context, tx pgx.Tx, rec dispute.Record) error
}

type Outbox interface {
	EnqueueTx(ctx context.Context, tx pgx.Tx, msg notify.Message) error
}

// ListFilter narrows ListForUser. Zero State means any.
type ListFilter struct {
	State State
	Limit int
}

// DueQuery selects swaps the sweeper may have to act on.
type DueQuery struct {
	States          []State
	ActivityBefore  time.Time
	DeliveredBefore time.Time
	// WindowBefore selects scheduled or in-transit swaps whose window
	// deadline has passed.
	WindowBefore time.Time
	Limit        int
}

// Policy holds the time limits and the offer-matching tolerance.
type Policy struct {
	PointsTolerance       int64
	DisputeWindow         time.Duration
	NegotiationInactivity time.Duration
	AssignTimeout         time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		PointsTolerance:       0,
		DisputeWindow:         72 * time.Hour,
		NegotiationInactivity: 7 * 24 * time.Hour,
		AssignTimeout:         10 * time.Second,
	}
}

// Deps are the collaborators of a Service.
type Deps struct {
	Pool     TxBeginner
	Repo     Repository
	Items    ItemStore
	Ledger   Settler
	Disputes DisputeLog
	Outbox   Outbox
	Assigner delivery.Assigner
	Logger   *zap.Logger
}

type Service struct {
	pool     TxBeginner
	repo     Repository
	items    ItemStore
	ledger   Settler
	disputes DisputeLog
	outbox   Outbox
	assigner delivery.Assigner
	resolver *dispute.Resolver
	policy   Policy
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pool:     d.Pool,
		repo:     d.Repo,
		items:    d.Items,
		ledger:   d.Ledger,
		disputes: d.Disputes,
		outbox:   d.Outbox,
		assigner: d.Assigner,
		resolver: dispute.NewResolver(),
		policy:   DefaultPolicy(),
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

func (s *Service) WithClock(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
		s.resolver.WithClock(fn)
	}
	return s
}

func (s *Service) WithIDGenerator(fn func() string) *Service {
	if fn != nil {
		s.newID = fn
		s.resolver.WithIDGenerator(fn)
	}
	return s
}

func (s *Service) WithPolicy(p Policy) *Service {
	s.policy = p
	return s
}

func (s *Service) WithLogger(l *zap.Logger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}

// Policy returns the limits the service enforces.
func (s *Service) Policy() Policy { return s.policy }

type ProposeRequest struct {
	RecipientID      string   `json:"recipient_id"`
	InitiatorItems   []string `json:"initiator_items"`
	RecipientItems   []string `json:"recipient_items"`
	PointsDifference int64    `json:"points_difference"`
	Message          string   `json:"message"`
}

type OfferInput struct {
	InitiatorItems   []string `json:"initiator_items"`
	RecipientItems   []string `json:"recipient_items"`
	PointsDifference int64    `json:"points_difference"`
}

// NegotiateRequest carries a message, a counter-offer, or both.
type NegotiateRequest struct {
	Message string      `json:"message"`
	Offer   *OfferInput `json:"offer,omitempty"`
}

type ScheduleRequest struct {
	PickupLocation   string          `json:"pickup_location"`
	DeliveryLocation string          `json:"delivery_location"`
	Window           delivery.Window `json:"window"`
}

// effect runs inside the transaction after the compare-and-swap and
// returns extra outbox messages.
type effect func(ctx context.Context, tx pgx.Tx) ([]notify.Message, error)

type authorizer func(sw Swap, actor auth.Actor) error

type build func(next *Swap, now time.Time) (effect, error)

// Propose opens a swap in INITIATED at version 1.
func (s *Service) Propose(ctx context.Context, actor auth.Actor, req ProposeRequest) (Swap, error) {
	if actor.ID == "" || actor.IsSystem() || actor.IsAgent() {
		return Swap{}, ErrForbidden
	}
	sw, err := newSwap(s.newID(), actor.ID, req, s.now().UTC())
	if err != nil {
		return Swap{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Swap{}, fmt.Errorf("swap: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.checkItems(ctx, tx, sw, sw.InitiatorItems, sw.RecipientItems); err != nil {
		return Swap{}, err
	}
	if err := s.repo.InsertTx(ctx, tx, sw); err != nil {
		return Swap{}, err
	}
	msg, err := stateChanged(sw, 0, actor.ID)
	if err != nil {
		return Swap{}, err
	}
	if err := s.emit(ctx, tx, msg); err != nil {
		return Swap{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Swap{}, fmt.Errorf("swap: commit tx: %w", err)
	}
	s.logger.Info("swap proposed",
		zap.String("swap_id", sw.ID),
		zap.String("initiator_id", sw.InitiatorID),
		zap.String("recipient_id", sw.RecipientID),
	)
	return sw, nil
}

// Get returns a swap to a participant, its delivery agent or a resolver.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (Swap, error) {
	sw, err := s.repo.Get(ctx, id)
	if err != nil {
		return Swap{}, err
	}
	if err := canRead(sw, actor); err != nil {
		return Swap{}, err
	}
	return sw, nil
}

// ListForUser lists a user's swaps, newest activity first. Only the user
// themselves and resolvers may list.
func (s *Service) ListForUser(ctx context.Context, actor auth.Actor, userID string, f ListFilter) ([]Swap, error) {
	if userID == "" {
		userID = actor.ID
	}
	if userID != actor.ID && !actor.IsResolver() && !actor.IsSystem() {
		return nil, ErrForbidden
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	return s.repo.ListForUser(ctx, userID, f)
}

// Negotiate posts a message or counter-offer.
func (s *Service) Negotiate(ctx context.Context, id string, actor auth.Actor, version int64, req NegotiateRequest) (Swap, error) {
	return s.mutate(ctx, id, actor, version, participant, func(next *Swap, now time.Time) (effect, error) {
		agreed, err := next.negotiate(actor.ID, req, s.policy.PointsTolerance, now)
		if err != nil {
			return nil, err
		}
		if agreed {
			return s.reserveItems(*next), nil
		}
		if req.Offer != nil {
			o := next.Offers[actor.ID]
			return func(ctx context.Context, tx pgx.Tx) ([]notify.Message, error) {
				return nil, s.checkItems(ctx, tx, *next, o.InitiatorItems, o.RecipientItems)
			}, nil
		}
		return nil, nil
	})
}

// Accept adopts the counterpart's latest offer and reserves the items.
func (s *Service) Accept(ctx context.Context, id string, actor auth.Actor, version int64) (Swap, error) {
	return s.mutate(ctx, id, actor, version, participant, func(next *Swap, now time.Time) (effect, error) {
		if err := next.accept(actor.ID, now); err != nil {
			return nil, err
		}
		return s.reserveItems(*next), nil
	})
}

// ScheduleDelivery asks the assignment service for an agent and moves
// AGREED to PICKUP_SCHEDULED. The call happens outside the transaction; if
// it fails the swap stays AGREED.
func (s *Service) ScheduleDelivery(ctx context.Context, id string, actor auth.Actor, version int64, req ScheduleRequest) (Swap, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Swap{}, err
	}
	if err := participant(current, actor); err != nil {
		return Swap{}, err
	}
	if current.Version != version {
		return Swap{}, conflict(current, version)
	}
	if err := requireState(current, StateAgreed); err != nil {
		return Swap{}, err
	}
	dreq := delivery.Request{
		SwapID:           id,
		PickupLocation:   req.PickupLocation,
		DeliveryLocation: req.DeliveryLocation,
		Window:           req.Window,
	}
	if err := dreq.Validate(); err != nil {
		return Swap{}, err
	}
	if s.assigner == nil {
		return Swap{}, apperr.New(apperr.KindExternalDependency, "swap: no delivery assigner configured")
	}

	actx, cancel := context.WithTimeout(ctx, s.policy.AssignTimeout)
	assignment, err := s.assigner.Assign(actx, dreq)
	cancel()
	if err != nil {
		s.logger.Warn("delivery assignment failed", zap.String("swap_id", id), zap.Error(err))
		if apperr.KindOf(err) != apperr.KindExternalDependency {
			err = apperr.Wrap(apperr.KindExternalDependency, "swap: delivery assignment", err)
		}
		return Swap{}, err
	}

	info := DeliveryInfo{
		PickupLocation:    dreq.PickupLocation,
		DeliveryLocation:  dreq.DeliveryLocation,
		Window:            dreq.Window,
		AgentID:           assignment.AgentID,
		TrackingCode:      assignment.TrackingCode,
		ScheduledPickup:   assignment.ScheduledPickup,
		ScheduledDelivery: assignment.ScheduledDelivery,
	}
	if info.ScheduledPickup.IsZero() {
		info.ScheduledPickup = dreq.Window.Start
	}
	sw, err := s.mutate(ctx, id, actor, version, participant, func(next *Swap, now time.Time) (effect, error) {
		return nil, next.schedule(actor.ID, info, now)
	})
	if err != nil {
		// The assignment service has no release call; operators reconcile
		// orphaned tracking codes from this log line.
		s.logger.Warn("delivery assignment orphaned",
			zap.String("swap_id", id),
			zap.String("agent_id", info.AgentID),
			zap.String("tracking_code", info.TrackingCode),
			zap.Error(err),
		)
		return Swap{}, err
	}
	return sw, nil
}

func (s *Service) ConfirmPickup(ctx context.Context, id string, actor auth.Actor, version int64) (Swap, error) {
	return s.mutate(ctx, id, actor, version, participantOrAgent, func(next *Swap, now time.Time) (effect, error) {
		return nil, next.confirmPickup(actor.ID, now)
	})
}

func (s *Service) ConfirmDelivery(ctx context.Context, id string, actor auth.Actor, version int64) (Swap, error) {
	return s.mutate(ctx, id, actor, version, participantOrAgent, func(next *Swap, now time.Time) (effect, error) {
		return nil, next.confirmDelivery(actor.ID, now)
	})
}

// ConfirmReceipt records a participant's receipt. The second confirmation
// completes the swap and settles the points difference; if the payer cannot
// cover it nothing is recorded and the swap stays DELIVERED.
func (s *Service) ConfirmReceipt(ctx context.Context, id string, actor auth.Actor, version int64) (Swap, error) {
	return s.mutate(ctx, id, actor, version, participant, func(next *Swap, now time.Time) (effect, error) {
		completed, err := next.confirmReceipt(actor.ID, now)
		if err != nil || !completed {
			return nil, err
		}
		return s.complete(*next, now), nil
	})
}

// Cancel ends a swap that has not been scheduled for pickup. Reserved items
// become ACTIVE again.
func (s *Service) Cancel(ctx context.Context, id string, actor auth.Actor, version int64, reason string) (Swap, error) {
	return s.mutate(ctx, id, actor, version, participant, func(next *Swap, now time.Time) (effect, error) {
		wasAgreed := next.State == StateAgreed
		if err := next.cancel(actor.ID, reason, now); err != nil {
			return nil, err
		}
		if wasAgreed {
			return s.releaseItems(*next), nil
		}
		return nil, nil
	})
}

// mutate runs one versioned mutation: load, authorize, check the version,
// build and validate the next aggregate, compare-and-swap it, apply the
// side effects and enqueue the events, all in one transaction.
func (s *Service) mutate(ctx context.Context, id string, actor auth.Actor, version int64, allow authorizer, fn build) (Swap, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Swap{}, fmt.Errorf("swap: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetTx(ctx, tx, id)
	if err != nil {
		return Swap{}, err
	}
	if err := allow(current, actor); err != nil {
		return Swap{}, err
	}
	if current.Version != version {
		return Swap{}, conflict(current, version)
	}

	next := current.Clone()
	eff, err := fn(&next, s.now().UTC())
	if err != nil {
		return Swap{}, err
	}
	if err := s.repo.UpdateTx(ctx, tx, next, version); err != nil {
		return Swap{}, err
	}

	var msgs []notify.Message
	if next.State != current.State {
		msg, err := stateChanged(next, current.State, actor.ID)
		if err != nil {
			return Swap{}, err
		}
		msgs = append(msgs, msg)
	}
	if eff != nil {
		extra, err := eff(ctx, tx)
		if err != nil {
			return Swap{}, err
		}
		msgs = append(msgs, extra...)
	}
	if err := s.emit(ctx, tx, msgs...); err != nil {
		return Swap{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Swap{}, fmt.Errorf("swap: commit tx: %w", err)
	}

	last := next.Timeline[len(next.Timeline)-1]
	s.logger.Info("swap updated",
		zap.String("swap_id", next.ID),
		zap.String("event", last.Kind.String()),
		zap.String("from", current.State.String()),
		zap.String("to", next.State.String()),
		zap.Int64("version", next.Version),
		zap.String("actor_id", actor.ID),
	)
	return next, nil
}

func (s *Service) emit(ctx context.Context, tx pgx.Tx, msgs ...notify.Message) error {
	for _, m := range msgs {
		if err := s.outbox.EnqueueTx(ctx, tx, m); err != nil {
			return fmt.Errorf("swap: enqueue %s: %w", m.Topic, err)
		}
	}
	return nil
}

// checkItems verifies ownership and availability of the offered items.
func (s *Service) checkItems(ctx context.Context, tx pgx.Tx, sw Swap, initiatorItems, recipientItems []string) error {
	ids := append(append([]string(nil), initiatorItems...), recipientItems...)
	items, err := s.items.GetByIDsTx(ctx, tx, ids)
	if err != nil {
		return err
	}
	byID := make(map[string]catalog.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	check := func(ids []string, owner string) error {
		for _, id := range ids {
			it, ok := byID[id]
			if !ok {
				return fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
			}
			if it.OwnerID != owner {
				return apperr.Validationf("swap: item %s is not owned by %s", id, owner)
			}
			if it.Status != catalog.StatusActive {
				return fmt.Errorf("%w: %s is %s", catalog.ErrUnavailable, id, it.Status)
			}
		}
		return nil
	}
	if err := check(initiatorItems, sw.InitiatorID); err != nil {
		return err
	}
	return check(recipientItems, sw.RecipientID)
}

func (s *Service) reserveItems(sw Swap) effect {
	return func(ctx context.Context, tx pgx.Tx) ([]notify.Message, error) {
		if err := s.checkItems(ctx, tx, sw, sw.InitiatorItems, sw.RecipientItems); err != nil {
			return nil, err
		}
		return nil, s.items.TransitionTx(ctx, tx, sw.Items(), []catalog.Status{catalog.StatusActive}, catalog.StatusPending)
	}
}

func (s *Service) releaseItems(sw Swap) effect {
	return func(ctx context.Context, tx pgx.Tx) ([]notify.Message, error) {
		return nil, s.items.TransitionTx(ctx, tx, sw.Items(), []catalog.Status{catalog.StatusPending}, catalog.StatusActive)
	}
}

// complete settles the points difference and marks the items SWAPPED.
func (s *Service) complete(sw Swap, now time.Time) effect {
	return func(ctx context.Context, tx pgx.Tx) ([]notify.Message, error) {
		settlement := ledger.ForDifference(sw.ID, sw.InitiatorID, sw.RecipientID, sw.PointsDifference)
		entries, err := s.ledger.SettleTx(ctx, tx, settlement)
		if err != nil {
			return nil, err
		}
		if err := s.items.TransitionTx(ctx, tx, sw.Items(), []catalog.Status{catalog.StatusPending}, catalog.StatusSwapped); err != nil {
			return nil, err
		}
		msg, err := settlementCompleted(sw.ID, now, entries[:])
		if err != nil {
			return nil, err
		}
		return []notify.Message{msg}, nil
	}
}

func chain(effects ...effect) effect {
	return func(ctx context.Context, tx pgx.Tx) ([]notify.Message, error) {
		var out []notify.Message
		for _, e := range effects {
			if e == nil {
				continue
			}
			msgs, err := e(ctx, tx)
			if err != nil {
				return nil, err
			}
			out = append(out, msgs...)
		}
		return out, nil
	}
}

func conflict(current Swap, presented int64) error {
	return fmt.Errorf("%w: presented %d, stored %d", ErrVersionConflict, presented, current.Version)
}

func participant(sw Swap, actor auth.Actor) error {
	if !sw.IsParticipant(actor.ID) {
		return ErrForbidden
	}
	return nil
}

func participantOrAgent(sw Swap, actor auth.Actor) error {
	if sw.IsParticipant(actor.ID) {
		return nil
	}
	if actor.IsAgent() && actor.ID != "" && actor.ID == sw.AssignedAgent() {
		return nil
	}
	return ErrForbidden
}

func participantOrResolver(sw Swap, actor auth.Actor) error {
	if sw.IsParticipant(actor.ID) || actor.IsResolver() {
		return nil
	}
	return ErrForbidden
}

// resolver admits moderators, and once a dispute has an assigned resolver
// only that one.
func resolver(sw Swap, actor auth.Actor) error {
	if !actor.IsResolver() {
		return ErrForbidden
	}
	if sw.Dispute != nil && sw.Dispute.ResolverID != "" && sw.Dispute.ResolverID != actor.ID {
		return ErrForbidden
	}
	return nil
}

func resolverOrSystem(sw Swap, actor auth.Actor) error {
	if actor.IsSystem() {
		return nil
	}
	return resolver(sw, actor)
}

func system(_ Swap, actor auth.Actor) error {
	if !actor.IsSystem() {
		return ErrForbidden
	}
	return nil
}

func canRead(sw Swap, actor auth.Actor) error {
	if sw.IsParticipant(actor.ID) || actor.IsResolver() || actor.IsSystem() {
		return nil
	}
	if actor.IsAgent() && actor.ID != "" && actor.ID == sw.AssignedAgent() {
		return nil
	}
	return ErrForbidden
}

func stateChanged(sw Swap, from State, actorID string) (notify.Message, error) {
	ev := notify.SwapStateChanged{
		SwapID:  sw.ID,
		To:      sw.State.String(),
		Version: sw.Version,
		ActorID: actorID,
		At:      sw.UpdatedAt,
	}
	if from.Valid() {
		ev.From = from.String()
	}
	return notify.NewMessage(notify.TopicSwapStateChanged, sw.ID, ev)
}

func settlementCompleted(swapID string, at time.Time, entries []ledger.Entry) (notify.Message, error) {
	ev := notify.SettlementCompleted{SwapID: swapID, At: at}
	for _, e := range entries {
		ev.Entries = append(ev.Entries, notify.SettlementEntry{
			UserID:       e.UserID,
			Delta:        e.Delta,
			BalanceAfter: e.BalanceAfter,
			Kind:         e.Kind.String(),
		})
	}
	return notify.NewMessage(notify.TopicSettlementCompleted, swapID, ev)
}

// IsConflict reports whether err is a lost compare-and-swap.
func IsConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
