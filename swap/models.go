// Package swap is the swap state machine: negotiation, delivery, receipt,
// dispute and the settlement that closes a swap, with every mutation
// versioned and recorded on the swap's timeline.
package swap

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"campusswap/delivery"
	"campusswap/dispute"
)

// EventKind names a timeline entry.
type EventKind uint8

const (
	EventProposed EventKind = iota + 1
	EventMessage
	EventCounterOffer
	EventAccepted
	EventDeliveryScheduled
	EventPickupConfirmed
	EventDeliveryConfirmed
	EventReceiptConfirmed
	EventCompleted
	EventCancelled
	EventWindowMissed
	EventDisputeOpened
	EventDisputeInvestigating
	EventDisputeEvidence
	EventDisputeResolved
	EventDisputeWithdrawn
	EventDisputeClosed
)

var eventNames = map[EventKind]string{
	EventProposed:             "PROPOSED",
	EventMessage:              "MESSAGE",
	EventCounterOffer:         "COUNTER_OFFER",
	EventAccepted:             "ACCEPTED",
	EventDeliveryScheduled:    "DELIVERY_SCHEDULED",
	EventPickupConfirmed:      "PICKUP_CONFIRMED",
	EventDeliveryConfirmed:    "DELIVERY_CONFIRMED",
	EventReceiptConfirmed:     "RECEIPT_CONFIRMED",
	EventCompleted:            "COMPLETED",
	EventCancelled:            "CANCELLED",
	EventWindowMissed:         "WINDOW_MISSED",
	EventDisputeOpened:        "DISPUTE_OPENED",
	EventDisputeInvestigating: "DISPUTE_INVESTIGATING",
	EventDisputeEvidence:      "DISPUTE_EVIDENCE",
	EventDisputeResolved:      "DISPUTE_RESOLVED",
	EventDisputeWithdrawn:     "DISPUTE_WITHDRAWN",
	EventDisputeClosed:        "DISPUTE_CLOSED",
}

func (k EventKind) String() string {
	if n, ok := eventNames[k]; ok {
		return n
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

func (k EventKind) MarshalText() ([]byte, error) {
	if _, ok := eventNames[k]; !ok {
		return nil, fmt.Errorf("swap: invalid event kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(b []byte) error {
	for v, n := range eventNames {
		if n == string(b) {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("swap: unknown event kind %q", string(b))
}

// TimelineEvent is one append-only entry of a swap's history. Version is
// the swap version the event produced.
type TimelineEvent struct {
	Seq     int       `json:"seq"`
	Kind    EventKind `json:"kind"`
	ActorID string    `json:"actor_id"`
	From    State     `json:"from"`
	To      State     `json:"to"`
	Version int64     `json:"version"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}

// Offer is one participant's latest proposed terms. A positive
// PointsDifference means the recipient owes the initiator.
type Offer struct {
	InitiatorItems   []string  `json:"initiator_items"`
	RecipientItems   []string  `json:"recipient_items"`
	PointsDifference int64     `json:"points_difference"`
	ProposedBy       string    `json:"proposed_by"`
	ProposedAt       time.Time `json:"proposed_at"`
}

// Matches reports whether two offers name the same items and differ in
// points by at most tolerance.
func (o Offer) Matches(other Offer, tolerance int64) bool {
	if !sameSet(o.InitiatorItems, other.InitiatorItems) || !sameSet(o.RecipientItems, other.RecipientItems) {
		return false
	}
	d := o.PointsDifference - other.PointsDifference
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}

func (o Offer) clone() Offer {
	out := o
	out.InitiatorItems = append([]string(nil), o.InitiatorItems...)
	out.RecipientItems = append([]string(nil), o.RecipientItems...)
	return out
}

// DeliveryInfo is the schedule the assignment service committed to plus the
// confirmations collected since.
type DeliveryInfo struct {
	PickupLocation    string          `json:"pickup_location"`
	DeliveryLocation  string          `json:"delivery_location"`
	Window            delivery.Window `json:"window"`
	AgentID           string          `json:"agent_id"`
	TrackingCode      string          `json:"tracking_code,omitempty"`
	ScheduledPickup   time.Time       `json:"scheduled_pickup"`
	ScheduledDelivery time.Time       `json:"scheduled_delivery"`
	PickedUpAt        *time.Time      `json:"picked_up_at,omitempty"`
	DeliveredAt       *time.Time      `json:"delivered_at,omitempty"`
}

// PickupDeadline is the end of the agreed pickup window.
func (d DeliveryInfo) PickupDeadline() time.Time {
	if d.Window.End.After(d.ScheduledPickup) {
		return d.Window.End
	}
	return d.ScheduledPickup
}

// DeliveryDeadline is when the items should have arrived.
func (d DeliveryInfo) DeliveryDeadline() time.Time {
	if !d.ScheduledDelivery.IsZero() {
		return d.ScheduledDelivery
	}
	return d.PickupDeadline()
}

// WindowDeadline is the deadline the sweeper checks for a scheduled or
// in-transit swap: the pickup window before pickup, the delivery time after.
// It is nil in every other state.
func (s Swap) WindowDeadline() *time.Time {
	if s.Delivery == nil {
		return nil
	}
	var d time.Time
	switch s.State {
	case StatePickupScheduled:
		d = s.Delivery.PickupDeadline()
	case StateInTransit:
		d = s.Delivery.DeliveryDeadline()
	default:
		return nil
	}
	return &d
}

// Swap is the aggregate. The current terms are the last agreed (or, before
// agreement, the proposed) items and points difference.
type Swap struct {
	ID               string           `json:"id"`
	InitiatorID      string           `json:"initiator_id"`
	RecipientID      string           `json:"recipient_id"`
	InitiatorItems   []string         `json:"initiator_items"`
	RecipientItems   []string         `json:"recipient_items"`
	PointsDifference int64            `json:"points_difference"`
	State            State            `json:"state"`
	Version          int64            `json:"version"`
	Offers           map[string]Offer `json:"offers"`
	Delivery         *DeliveryInfo    `json:"delivery,omitempty"`
	ReceiptsBy       []string         `json:"receipts_by,omitempty"`
	DisputeEligible  bool             `json:"dispute_eligible"`
	Dispute          *dispute.Record  `json:"dispute,omitempty"`
	Timeline         []TimelineEvent  `json:"timeline"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	LastActivityAt   time.Time        `json:"last_activity_at"`
	DeliveredAt      *time.Time       `json:"delivered_at,omitempty"`
	ClosedAt         *time.Time       `json:"closed_at,omitempty"`
}

// IsParticipant reports whether userID is the initiator or the recipient.
func (s Swap) IsParticipant(userID string) bool {
	return userID != "" && (userID == s.InitiatorID || userID == s.RecipientID)
}

// Counterpart returns the other participant.
func (s Swap) Counterpart(userID string) string {
	if userID == s.InitiatorID {
		return s.RecipientID
	}
	return s.InitiatorID
}

// Parties returns the participants in the shape disputes use.
func (s Swap) Parties() dispute.Parties {
	return dispute.Parties{InitiatorID: s.InitiatorID, RecipientID: s.RecipientID}
}

// Items returns the ids of every item currently on the table.
func (s Swap) Items() []string {
	out := make([]string, 0, len(s.InitiatorItems)+len(s.RecipientItems))
	out = append(out, s.InitiatorItems...)
	return append(out, s.RecipientItems...)
}

// AssignedAgent returns the delivery agent, if one is assigned.
func (s Swap) AssignedAgent() string {
	if s.Delivery == nil {
		return ""
	}
	return s.Delivery.AgentID
}

func (s Swap) receiptFrom(userID string) bool {
	for _, id := range s.ReceiptsBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so a mutation can be built without touching the
// loaded aggregate.
func (s Swap) Clone() Swap {
	out := s
	out.InitiatorItems = append([]string(nil), s.InitiatorItems...)
	out.RecipientItems = append([]string(nil), s.RecipientItems...)
	out.ReceiptsBy = append([]string(nil), s.ReceiptsBy...)
	out.Timeline = append([]TimelineEvent(nil), s.Timeline...)
	if s.Offers != nil {
		out.Offers = make(map[string]Offer, len(s.Offers))
		for k, v := range s.Offers {
			out.Offers[k] = v.clone()
		}
	}
	if s.Delivery != nil {
		d := *s.Delivery
		out.Delivery = &d
	}
	if s.Dispute != nil {
		d := *s.Dispute
		d.Evidence = append([]dispute.Evidence(nil), s.Dispute.Evidence...)
		out.Dispute = &d
	}
	if s.DeliveredAt != nil {
		t := *s.DeliveredAt
		out.DeliveredAt = &t
	}
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		out.ClosedAt = &t
	}
	return out
}

func normalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sameSet(a, b []string) bool {
	a, b = normalizeIDs(a), normalizeIDs(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
