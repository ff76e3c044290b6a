package swap

import (
	"fmt"
	"strings"
	"time"

	"campusswap/apperr"
	"campusswap/dispute"
)

var (
	ErrNotFound = apperr.New(apperr.KindNotFound, "swap: not found")
	// ErrForbidden is returned to any actor the operation does not admit,
	// before the version is looked at.
	ErrForbidden = apperr.New(apperr.KindAuthorization, "swap: actor not permitted")
	// ErrVersionConflict means the presented version is not the stored one.
	ErrVersionConflict   = apperr.New(apperr.KindConflict, "swap: version conflict")
	ErrInvalidTransition = apperr.New(apperr.KindValidation, "swap: invalid state transition")
	ErrNoOffer           = apperr.New(apperr.KindValidation, "swap: counterpart has no offer")
	ErrDisputeWindow     = apperr.New(apperr.KindValidation, "swap: dispute window closed")
)

const maxMessage = 1000

// MaxPointsDifference bounds the points either side may owe on one swap.
const MaxPointsDifference int64 = 1_000_000

func checkDifference(d int64) error {
	if d > MaxPointsDifference || d < -MaxPointsDifference {
		return apperr.Validationf("swap: points difference must be between -%d and %d", MaxPointsDifference, MaxPointsDifference)
	}
	return nil
}

// record appends one timeline event and moves the swap to `to`, bumping the
// version. to == s.State records an event without a transition.
func (s *Swap) record(kind EventKind, actorID string, to State, note string, at time.Time) error {
	from := s.State
	if to != from && !from.CanTransition(to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	s.Version++
	s.Timeline = append(s.Timeline, TimelineEvent{
		Seq:     len(s.Timeline) + 1,
		Kind:    kind,
		ActorID: actorID,
		From:    from,
		To:      to,
		Version: s.Version,
		Note:    note,
		At:      at,
	})
	s.State = to
	s.UpdatedAt = at
	s.LastActivityAt = at
	if to != from && to.Terminal() {
		closed := at
		s.ClosedAt = &closed
	}
	return nil
}

func requireState(s Swap, allowed ...State) error {
	for _, a := range allowed {
		if s.State == a {
			return nil
		}
	}
	return fmt.Errorf("%w: not allowed in %s", ErrInvalidTransition, s.State)
}

// newSwap builds the INITIATED aggregate at version 1. The initiator's
// proposal is recorded as their first offer.
func newSwap(id, initiatorID string, req ProposeRequest, at time.Time) (Swap, error) {
	initiatorItems := normalizeIDs(req.InitiatorItems)
	recipientItems := normalizeIDs(req.RecipientItems)
	recipientID := strings.TrimSpace(req.RecipientID)
	switch {
	case recipientID == "":
		return Swap{}, apperr.Validationf("swap: recipient required")
	case recipientID == initiatorID:
		return Swap{}, apperr.Validationf("swap: initiator and recipient must differ")
	case len(initiatorItems) == 0 || len(recipientItems) == 0:
		return Swap{}, apperr.Validationf("swap: both sides must offer at least one item")
	case overlaps(initiatorItems, recipientItems):
		return Swap{}, apperr.Validationf("swap: an item cannot be on both sides")
	case len(req.Message) > maxMessage:
		return Swap{}, apperr.Validationf("swap: message longer than %d characters", maxMessage)
	}
	if err := checkDifference(req.PointsDifference); err != nil {
		return Swap{}, err
	}

	offer := Offer{
		InitiatorItems:   initiatorItems,
		RecipientItems:   recipientItems,
		PointsDifference: req.PointsDifference,
		ProposedBy:       initiatorID,
		ProposedAt:       at,
	}
	s := Swap{
		ID:               id,
		InitiatorID:      initiatorID,
		RecipientID:      recipientID,
		InitiatorItems:   initiatorItems,
		RecipientItems:   recipientItems,
		PointsDifference: req.PointsDifference,
		State:            StateInitiated,
		Version:          1,
		Offers:           map[string]Offer{initiatorID: offer},
		CreatedAt:        at,
		UpdatedAt:        at,
		LastActivityAt:   at,
	}
	s.Timeline = []TimelineEvent{{
		Seq:     1,
		Kind:    EventProposed,
		ActorID: initiatorID,
		From:    StateInitiated,
		To:      StateInitiated,
		Version: 1,
		Note:    strings.TrimSpace(req.Message),
		At:      at,
	}}
	return s, nil
}

// negotiate records a message or counter-offer. From INITIATED it opens
// negotiation; inside NEGOTIATING a counter-offer that matches the
// counterpart's latest offer closes it as AGREED. It reports whether the
// swap reached agreement.
func (s *Swap) negotiate(actorID string, in NegotiateRequest, tolerance int64, at time.Time) (bool, error) {
	if err := requireState(*s, StateInitiated, StateNegotiating); err != nil {
		return false, err
	}
	msg := strings.TrimSpace(in.Message)
	if len(msg) > maxMessage {
		return false, apperr.Validationf("swap: message longer than %d characters", maxMessage)
	}
	if in.Offer == nil && msg == "" {
		return false, apperr.Validationf("swap: a message or a counter-offer is required")
	}
	was := s.State

	kind := EventMessage
	if in.Offer != nil {
		offer := Offer{
			InitiatorItems:   normalizeIDs(in.Offer.InitiatorItems),
			RecipientItems:   normalizeIDs(in.Offer.RecipientItems),
			PointsDifference: in.Offer.PointsDifference,
			ProposedBy:       actorID,
			ProposedAt:       at,
		}
		if len(offer.InitiatorItems) == 0 || len(offer.RecipientItems) == 0 {
			return false, apperr.Validationf("swap: both sides must offer at least one item")
		}
		if overlaps(offer.InitiatorItems, offer.RecipientItems) {
			return false, apperr.Validationf("swap: an item cannot be on both sides")
		}
		if err := checkDifference(offer.PointsDifference); err != nil {
			return false, err
		}
		if s.Offers == nil {
			s.Offers = map[string]Offer{}
		}
		s.Offers[actorID] = offer
		kind = EventCounterOffer
	}

	if was == StateNegotiating && in.Offer != nil {
		other, ok := s.Offers[s.Counterpart(actorID)]
		if ok && other.Matches(s.Offers[actorID], tolerance) {
			s.adopt(s.Offers[actorID])
			return true, s.record(EventAccepted, actorID, StateAgreed, msg, at)
		}
	}
	return false, s.record(kind, actorID, StateNegotiating, msg, at)
}

// accept adopts the counterpart's latest offer, which makes both latest
// offers match and moves NEGOTIATING to AGREED.
func (s *Swap) accept(actorID string, at time.Time) error {
	if err := requireState(*s, StateNegotiating); err != nil {
		return err
	}
	other, ok := s.Offers[s.Counterpart(actorID)]
	if !ok {
		return ErrNoOffer
	}
	mine := other.clone()
	mine.ProposedBy = actorID
	mine.ProposedAt = at
	s.Offers[actorID] = mine
	s.adopt(other)
	return s.record(EventAccepted, actorID, StateAgreed, "", at)
}

func (s *Swap) adopt(o Offer) {
	s.InitiatorItems = append([]string(nil), o.InitiatorItems...)
	s.RecipientItems = append([]string(nil), o.RecipientItems...)
	s.PointsDifference = o.PointsDifference
}

func (s *Swap) schedule(actorID string, info DeliveryInfo, at time.Time) error {
	if err := requireState(*s, StateAgreed); err != nil {
		return err
	}
	s.Delivery = &info
	return s.record(EventDeliveryScheduled, actorID, StatePickupScheduled, info.TrackingCode, at)
}

func (s *Swap) confirmPickup(actorID string, at time.Time) error {
	if err := requireState(*s, StatePickupScheduled); err != nil {
		return err
	}
	if s.Delivery == nil {
		return apperr.Validationf("swap: delivery info missing")
	}
	picked := at
	s.Delivery.PickedUpAt = &picked
	return s.record(EventPickupConfirmed, actorID, StateInTransit, "", at)
}

func (s *Swap) confirmDelivery(actorID string, at time.Time) error {
	if err := requireState(*s, StateInTransit); err != nil {
		return err
	}
	if s.Delivery == nil {
		return apperr.Validationf("swap: delivery info missing")
	}
	delivered := at
	s.Delivery.DeliveredAt = &delivered
	s.DeliveredAt = &delivered
	return s.record(EventDeliveryConfirmed, actorID, StateDelivered, "", at)
}

// confirmReceipt records one participant's receipt and completes the swap
// once both have confirmed. It reports whether the swap completed.
func (s *Swap) confirmReceipt(actorID string, at time.Time) (bool, error) {
	if err := requireState(*s, StateDelivered); err != nil {
		return false, err
	}
	if s.receiptFrom(actorID) {
		return false, apperr.Validationf("swap: receipt already confirmed")
	}
	s.ReceiptsBy = append(s.ReceiptsBy, actorID)
	if s.receiptFrom(s.InitiatorID) && s.receiptFrom(s.RecipientID) {
		return true, s.record(EventCompleted, actorID, StateCompleted, "both parties confirmed receipt", at)
	}
	return false, s.record(EventReceiptConfirmed, actorID, StateDelivered, "", at)
}

func (s *Swap) cancel(actorID, reason string, at time.Time) error {
	if err := requireState(*s, StateInitiated, StateNegotiating, StateAgreed); err != nil {
		return err
	}
	return s.record(EventCancelled, actorID, StateCancelled, strings.TrimSpace(reason), at)
}

// autoComplete closes a DELIVERED swap whose dispute window has elapsed.
func (s *Swap) autoComplete(actorID string, window time.Duration, at time.Time) error {
	if err := requireState(*s, StateDelivered); err != nil {
		return err
	}
	if s.DeliveredAt == nil || at.Sub(*s.DeliveredAt) < window {
		return apperr.Validationf("swap: dispute window still open")
	}
	return s.record(EventCompleted, actorID, StateCompleted, "dispute window elapsed", at)
}

// flagMissedWindow makes a scheduled or in-transit swap dispute-eligible
// without changing its state.
func (s *Swap) flagMissedWindow(actorID string, at time.Time) error {
	if err := requireState(*s, StatePickupScheduled, StateInTransit); err != nil {
		return err
	}
	if s.DisputeEligible {
		return apperr.Validationf("swap: already dispute-eligible")
	}
	deadline := s.WindowDeadline()
	if deadline == nil {
		return apperr.Validationf("swap: delivery info missing")
	}
	if !at.After(*deadline) {
		return apperr.Validationf("swap: window not missed yet")
	}
	s.DisputeEligible = true
	return s.record(EventWindowMissed, actorID, s.State, "missed "+deadline.Format(time.RFC3339), at)
}

// openDispute attaches a freshly opened dispute. DELIVERED swaps accept it
// inside the dispute window; scheduled or in-transit swaps only after a
// missed window.
func (s *Swap) openDispute(rec dispute.Record, window time.Duration, at time.Time) error {
	switch s.State {
	case StateDelivered:
		if s.DeliveredAt == nil || at.Sub(*s.DeliveredAt) > window {
			return ErrDisputeWindow
		}
	case StatePickupScheduled, StateInTransit:
		if !s.DisputeEligible {
			return fmt.Errorf("%w: %s is not dispute-eligible", ErrInvalidTransition, s.State)
		}
	default:
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, s.State, StateDisputed)
	}
	s.Dispute = &rec
	return s.record(EventDisputeOpened, rec.OpenedBy, StateDisputed, rec.Reason.String(), at)
}

// updateDispute stores a dispute revision that leaves the swap state alone.
func (s *Swap) updateDispute(kind EventKind, actorID string, rec dispute.Record, at time.Time) error {
	s.Dispute = &rec
	return s.record(kind, actorID, s.State, "", at)
}

// settleDispute stores the deciding revision and moves DISPUTED to `to`.
func (s *Swap) settleDispute(kind EventKind, actorID string, rec dispute.Record, to State, at time.Time) error {
	if err := requireState(*s, StateDisputed); err != nil {
		return err
	}
	s.Dispute = &rec
	note := ""
	if rec.Resolution != nil {
		note = rec.Resolution.Decision.String()
	}
	return s.record(kind, actorID, to, note, at)
}

// withdrawDispute completes a DISPUTED swap whose items were delivered.
func (s *Swap) withdrawDispute(actorID string, rec dispute.Record, at time.Time) error {
	if s.DeliveredAt == nil {
		return fmt.Errorf("%w: items were never delivered, a resolver must decide", ErrInvalidTransition)
	}
	return s.settleDispute(EventDisputeWithdrawn, actorID, rec, StateCompleted, at)
}

func (s Swap) activeDispute() (dispute.Record, error) {
	if s.Dispute == nil {
		return dispute.Record{}, dispute.ErrNotFound
	}
	return *s.Dispute, nil
}

func overlaps(a, b []string) bool {
	seen := make(map[string]struct{}, len(a))
	for _, id := range a {
		seen[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := seen[id]; ok {
			return true
		}
	}
	return false
}
