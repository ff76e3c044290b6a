package dispute

import (
	"strings"
	"time"

	"campusswap/apperr"
	"campusswap/auth"

	"github.com/google/uuid"
)

var (
	// ErrActiveDispute rejects a second dispute while one is not closed.
	ErrActiveDispute = apperr.New(apperr.KindConflict, "dispute: swap already has an active dispute")
	ErrNotFound      = apperr.New(apperr.KindNotFound, "dispute: not found")
	ErrForbidden     = apperr.New(apperr.KindAuthorization, "dispute: forbidden")
	ErrBadStatus     = apperr.New(apperr.KindValidation, "dispute: invalid status transition")
)

const maxDescription = 2000

// Resolver holds the dispute rules. It performs no I/O; the swap service
// persists its output together with the swap and ledger changes.
type Resolver struct {
	now   func() time.Time
	newID func() string
}

func NewResolver() *Resolver {
	return &Resolver{
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

func (r *Resolver) WithClock(fn func() time.Time) *Resolver {
	if fn != nil {
		r.now = fn
	}
	return r
}

func (r *Resolver) WithIDGenerator(fn func() string) *Resolver {
	if fn != nil {
		r.newID = fn
	}
	return r
}

type EvidenceInput struct {
	Note string `json:"note"`
	URL  string `json:"url"`
}

type OpenRequest struct {
	Reason      Reason          `json:"reason"`
	Description string          `json:"description"`
	Evidence    []EvidenceInput `json:"evidence,omitempty"`
}

type ResolveRequest struct {
	Decision      Decision `json:"decision"`
	Compensation  int64    `json:"compensation"`
	BeneficiaryID string   `json:"beneficiary_id"`
	Note          string   `json:"note"`
}

// Open starts a dispute for a swap. current is the swap's existing dispute,
// if any.
func (r *Resolver) Open(current *Record, swapID string, parties Parties, actor auth.Actor, req OpenRequest) (Record, error) {
	if !parties.Has(actor.ID) {
		return Record{}, ErrForbidden
	}
	if current != nil && current.Active() {
		return Record{}, ErrActiveDispute
	}
	if !req.Reason.Valid() {
		return Record{}, apperr.Validationf("dispute: reason is required")
	}
	desc := strings.TrimSpace(req.Description)
	if len(desc) > maxDescription {
		return Record{}, apperr.Validationf("dispute: description longer than %d characters", maxDescription)
	}
	if req.Reason == ReasonOther && desc == "" {
		return Record{}, apperr.Validationf("dispute: description required for reason OTHER")
	}

	now := r.now().UTC()
	rec := Record{
		ID:          r.newID(),
		SwapID:      swapID,
		Parties:     parties,
		OpenedBy:    actor.ID,
		Reason:      req.Reason,
		Description: desc,
		Status:      StatusOpen,
		OpenedAt:    now,
		UpdatedAt:   now,
	}
	for _, ev := range req.Evidence {
		e, err := r.evidence(actor.ID, ev, now)
		if err != nil {
			return Record{}, err
		}
		rec.Evidence = append(rec.Evidence, e)
	}
	return rec, nil
}

// Investigate assigns the acting resolver and moves OPEN to INVESTIGATING.
func (r *Resolver) Investigate(rec Record, actor auth.Actor) (Record, error) {
	if !actor.IsResolver() {
		return Record{}, ErrForbidden
	}
	if err := checkMove(rec.Status, StatusInvestigating); err != nil {
		return Record{}, err
	}
	out := rec.clone()
	out.Status = StatusInvestigating
	out.ResolverID = actor.ID
	out.UpdatedAt = r.now().UTC()
	return out, nil
}

// AddEvidence appends to the evidence list while the dispute is undecided.
func (r *Resolver) AddEvidence(rec Record, actor auth.Actor, in EvidenceInput) (Record, error) {
	if !rec.Parties.Has(actor.ID) && !actor.IsResolver() {
		return Record{}, ErrForbidden
	}
	if rec.Status != StatusOpen && rec.Status != StatusInvestigating {
		return Record{}, ErrBadStatus
	}
	now := r.now().UTC()
	e, err := r.evidence(actor.ID, in, now)
	if err != nil {
		return Record{}, err
	}
	out := rec.clone()
	out.Evidence = append(out.Evidence, e)
	out.UpdatedAt = now
	return out, nil
}

// Resolve records the resolver's decision. Only a resolver may decide, and
// once one is assigned only that resolver.
func (r *Resolver) Resolve(rec Record, actor auth.Actor, req ResolveRequest) (Record, error) {
	if !actor.IsResolver() {
		return Record{}, ErrForbidden
	}
	if rec.ResolverID != "" && rec.ResolverID != actor.ID {
		return Record{}, ErrForbidden
	}
	if err := checkMove(rec.Status, StatusResolved); err != nil {
		return Record{}, err
	}
	if req.Decision != DecisionCompleteSwap && req.Decision != DecisionCancelSwap {
		return Record{}, apperr.Validationf("dispute: decision must be COMPLETE_SWAP or CANCEL_SWAP")
	}
	if req.Compensation < 0 {
		return Record{}, apperr.Validationf("dispute: compensation must not be negative")
	}
	if req.Compensation > 0 && !rec.Parties.Has(req.BeneficiaryID) {
		return Record{}, apperr.Validationf("dispute: compensation beneficiary must be a participant")
	}

	now := r.now().UTC()
	out := rec.clone()
	out.Status = StatusResolved
	out.ResolverID = actor.ID
	out.Resolution = &Resolution{
		Decision:      req.Decision,
		Compensation:  req.Compensation,
		BeneficiaryID: req.BeneficiaryID,
		ResolverID:    actor.ID,
		Note:          strings.TrimSpace(req.Note),
		DecidedAt:     now,
	}
	if req.Compensation == 0 {
		out.Resolution.BeneficiaryID = ""
	}
	out.UpdatedAt = now
	return out, nil
}

// Withdraw lets the opener drop an undecided dispute.
func (r *Resolver) Withdraw(rec Record, actor auth.Actor) (Record, error) {
	if actor.ID != rec.OpenedBy {
		return Record{}, ErrForbidden
	}
	if rec.Status == StatusResolved {
		return Record{}, ErrBadStatus
	}
	if err := checkMove(rec.Status, StatusClosed); err != nil {
		return Record{}, err
	}
	now := r.now().UTC()
	out := rec.clone()
	out.Status = StatusClosed
	out.Resolution = &Resolution{Decision: DecisionWithdrawn, ResolverID: actor.ID, DecidedAt: now}
	out.UpdatedAt = now
	out.ClosedAt = &now
	return out, nil
}

// Close archives a resolved dispute.
func (r *Resolver) Close(rec Record, actor auth.Actor) (Record, error) {
	if !actor.IsResolver() && !actor.IsSystem() {
		return Record{}, ErrForbidden
	}
	if rec.Status != StatusResolved {
		return Record{}, ErrBadStatus
	}
	now := r.now().UTC()
	out := rec.clone()
	out.Status = StatusClosed
	out.UpdatedAt = now
	out.ClosedAt = &now
	return out, nil
}

func (r *Resolver) evidence(by string, in EvidenceInput, at time.Time) (Evidence, error) {
	note := strings.TrimSpace(in.Note)
	if note == "" && strings.TrimSpace(in.URL) == "" {
		return Evidence{}, apperr.Validationf("dispute: evidence needs a note or url")
	}
	return Evidence{ID: r.newID(), SubmittedBy: by, Note: note, URL: strings.TrimSpace(in.URL), AddedAt: at}, nil
}

func checkMove(from, to Status) error {
	if !from.CanTransition(to) {
		return ErrBadStatus
	}
	return nil
}
