package dispute

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle of a dispute record.
type Status uint8

const (
	StatusOpen Status = iota + 1
	StatusInvestigating
	StatusResolved
	StatusClosed
)

var statusNames = map[Status]string{
	StatusOpen:          "OPEN",
	StatusInvestigating: "INVESTIGATING",
	StatusResolved:      "RESOLVED",
	StatusClosed:        "CLOSED",
}

// transitions is the only source of legal status moves.
var transitions = map[Status][]Status{
	StatusOpen:          {StatusInvestigating, StatusResolved, StatusClosed},
	StatusInvestigating: {StatusResolved, StatusClosed},
	StatusResolved:      {StatusClosed},
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// CanTransition reports whether next is reachable from s in one step.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func ParseStatus(v string) (Status, error) {
	for s, n := range statusNames {
		if strings.EqualFold(v, n) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("dispute: unknown status %q", v)
}

func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("dispute: invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Reason is the enumerated cause a participant gives when opening.
type Reason uint8

const (
	ReasonNotAsDescribed Reason = iota + 1
	ReasonDamaged
	ReasonNotReceived
	ReasonWrongItem
	ReasonNoShow
	ReasonOther
)

var reasonNames = map[Reason]string{
	ReasonNotAsDescribed: "ITEM_NOT_AS_DESCRIBED",
	ReasonDamaged:        "ITEM_DAMAGED",
	ReasonNotReceived:    "ITEM_NOT_RECEIVED",
	ReasonWrongItem:      "WRONG_ITEM",
	ReasonNoShow:         "NO_SHOW",
	ReasonOther:          "OTHER",
}

func (r Reason) String() string {
	if n, ok := reasonNames[r]; ok {
		return n
	}
	return fmt.Sprintf("Reason(%d)", uint8(r))
}

func (r Reason) Valid() bool {
	_, ok := reasonNames[r]
	return ok
}

func ParseReason(v string) (Reason, error) {
	for r, n := range reasonNames {
		if strings.EqualFold(v, n) {
			return r, nil
		}
	}
	return 0, fmt.Errorf("dispute: unknown reason %q", v)
}

func (r Reason) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("dispute: invalid reason %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Reason) UnmarshalText(b []byte) error {
	v, err := ParseReason(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Decision is the outcome a resolver imposes on the swap.
type Decision uint8

const (
	DecisionCompleteSwap Decision = iota + 1
	DecisionCancelSwap
	// DecisionWithdrawn records an opener withdrawing; the swap completes.
	DecisionWithdrawn
)

var decisionNames = map[Decision]string{
	DecisionCompleteSwap: "COMPLETE_SWAP",
	DecisionCancelSwap:   "CANCEL_SWAP",
	DecisionWithdrawn:    "WITHDRAWN",
}

func (d Decision) String() string {
	if n, ok := decisionNames[d]; ok {
		return n
	}
	return fmt.Sprintf("Decision(%d)", uint8(d))
}

func ParseDecision(v string) (Decision, error) {
	for d, n := range decisionNames {
		if strings.EqualFold(v, n) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("dispute: unknown decision %q", v)
}

func (d Decision) MarshalText() ([]byte, error) {
	if _, ok := decisionNames[d]; !ok {
		return nil, fmt.Errorf("dispute: invalid decision %d", uint8(d))
	}
	return []byte(d.String()), nil
}

func (d *Decision) UnmarshalText(b []byte) error {
	v, err := ParseDecision(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Parties are the two swap participants a dispute is about.
type Parties struct {
	InitiatorID string `json:"initiator_id"`
	RecipientID string `json:"recipient_id"`
}

func (p Parties) Has(userID string) bool {
	return userID != "" && (userID == p.InitiatorID || userID == p.RecipientID)
}

// Other returns the counterpart of userID.
func (p Parties) Other(userID string) string {
	if userID == p.InitiatorID {
		return p.RecipientID
	}
	return p.InitiatorID
}

type Evidence struct {
	ID          string    `json:"id"`
	SubmittedBy string    `json:"submitted_by"`
	Note        string    `json:"note"`
	URL         string    `json:"url,omitempty"`
	AddedAt     time.Time `json:"added_at"`
}

type Resolution struct {
	Decision      Decision  `json:"decision"`
	Compensation  int64     `json:"compensation"`
	BeneficiaryID string    `json:"beneficiary_id,omitempty"`
	ResolverID    string    `json:"resolver_id"`
	Note          string    `json:"note,omitempty"`
	DecidedAt     time.Time `json:"decided_at"`
}

// Record mirrors the disputes table and is embedded in the swap document.
type Record struct {
	ID          string      `json:"id"`
	SwapID      string      `json:"swap_id"`
	Parties     Parties     `json:"parties"`
	OpenedBy    string      `json:"opened_by"`
	Reason      Reason      `json:"reason"`
	Description string      `json:"description"`
	Evidence    []Evidence  `json:"evidence"`
	Status      Status      `json:"status"`
	ResolverID  string      `json:"resolver_id,omitempty"`
	Resolution  *Resolution `json:"resolution,omitempty"`
	OpenedAt    time.Time   `json:"opened_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	ClosedAt    *time.Time  `json:"closed_at,omitempty"`
}

// Active reports whether the dispute still blocks a new one.
func (r Record) Active() bool { return r.Status != StatusClosed }

func (r Record) clone() Record {
	out := r
	out.Evidence = append([]Evidence(nil), r.Evidence...)
	if r.Resolution != nil {
		res := *r.Resolution
		out.Resolution = &res
	}
	if r.ClosedAt != nil {
		t := *r.ClosedAt
		out.ClosedAt = &t
	}
	return out
}
