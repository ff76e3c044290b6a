package dispute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"campusswap/apperr"
	"campusswap/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	parties   = Parties{InitiatorID: "alice", RecipientID: "bob"}
	alice     = auth.Actor{ID: "alice", Role: auth.RoleStudent}
	bob       = auth.Actor{ID: "bob", Role: auth.RoleStudent}
	mallory   = auth.Actor{ID: "mallory", Role: auth.RoleStudent}
	moderator = auth.Actor{ID: "mod-1", Role: auth.RoleModerator}
	otherMod  = auth.Actor{ID: "mod-2", Role: auth.RoleModerator}
)

func newResolver() *Resolver {
	n := 0
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return NewResolver().
		WithClock(func() time.Time { return at }).
		WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) })
}

func openDispute(t *testing.T, r *Resolver) Record {
	t.Helper()
	rec, err := r.Open(nil, "swap-1", parties, alice, OpenRequest{
		Reason:      ReasonDamaged,
		Description: "screen cracked",
		Evidence:    []EvidenceInput{{Note: "photo", URL: "https://img.example/1.jpg"}},
	})
	require.NoError(t, err)
	return rec
}

func TestOpenRules(t *testing.T) {
	r := newResolver()
	rec := openDispute(t, r)
	assert.Equal(t, StatusOpen, rec.Status)
	assert.Equal(t, "alice", rec.OpenedBy)
	assert.Len(t, rec.Evidence, 1)

	_, err := r.Open(&rec, "swap-1", parties, bob, OpenRequest{Reason: ReasonWrongItem})
	assert.ErrorIs(t, err, ErrActiveDispute)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	_, err = r.Open(nil, "swap-1", parties, mallory, OpenRequest{Reason: ReasonWrongItem})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = r.Open(nil, "swap-1", parties, bob, OpenRequest{Reason: ReasonOther})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	closed := rec
	closed.Status = StatusClosed
	_, err = r.Open(&closed, "swap-1", parties, bob, OpenRequest{Reason: ReasonNoShow})
	assert.NoError(t, err)
}

func TestInvestigateAndResolve(t *testing.T) {
	r := newResolver()
	rec := openDispute(t, r)

	_, err := r.Investigate(rec, bob)
	assert.ErrorIs(t, err, ErrForbidden)

	inv, err := r.Investigate(rec, moderator)
	require.NoError(t, err)
	assert.Equal(t, StatusInvestigating, inv.Status)
	assert.Equal(t, "mod-1", inv.ResolverID)
	assert.Equal(t, StatusOpen, rec.Status, "input record must not be mutated")

	_, err = r.Resolve(inv, otherMod, ResolveRequest{Decision: DecisionCompleteSwap})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = r.Resolve(inv, moderator, ResolveRequest{Decision: DecisionCompleteSwap, Compensation: 15, BeneficiaryID: "mallory"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = r.Resolve(inv, moderator, ResolveRequest{Decision: DecisionCompleteSwap, Compensation: -1})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = r.Resolve(inv, moderator, ResolveRequest{Decision: DecisionWithdrawn})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	res, err := r.Resolve(inv, moderator, ResolveRequest{Decision: DecisionCompleteSwap, Compensation: 15, BeneficiaryID: "alice", Note: "partial refund"})
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, res.Status)
	require.NotNil(t, res.Resolution)
	assert.Equal(t, int64(15), res.Resolution.Compensation)
	assert.Equal(t, "alice", res.Resolution.BeneficiaryID)

	_, err = r.Resolve(res, moderator, ResolveRequest{Decision: DecisionCancelSwap})
	assert.ErrorIs(t, err, ErrBadStatus)

	closed, err := r.Close(res, moderator)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)
	assert.False(t, closed.Active())
	require.NotNil(t, closed.ClosedAt)
}

func TestResolveDirectlyFromOpen(t *testing.T) {
	r := newResolver()
	rec := openDispute(t, r)
	res, err := r.Resolve(rec, moderator, ResolveRequest{Decision: DecisionCancelSwap})
	require.NoError(t, err)
	assert.Equal(t, DecisionCancelSwap, res.Resolution.Decision)
	assert.Empty(t, res.Resolution.BeneficiaryID)
}

func TestWithdraw(t *testing.T) {
	r := newResolver()
	rec := openDispute(t, r)

	_, err := r.Withdraw(rec, bob)
	assert.ErrorIs(t, err, ErrForbidden)

	out, err := r.Withdraw(rec, alice)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, out.Status)
	assert.Equal(t, DecisionWithdrawn, out.Resolution.Decision)

	res, err := r.Resolve(rec, moderator, ResolveRequest{Decision: DecisionCompleteSwap})
	require.NoError(t, err)
	_, err = r.Withdraw(res, alice)
	assert.ErrorIs(t, err, ErrBadStatus)
}

func TestAddEvidence(t *testing.T) {
	r := newResolver()
	rec := openDispute(t, r)

	out, err := r.AddEvidence(rec, bob, EvidenceInput{Note: "it was fine when I handed it over"})
	require.NoError(t, err)
	assert.Len(t, out.Evidence, 2)
	assert.Len(t, rec.Evidence, 1)

	_, err = r.AddEvidence(rec, mallory, EvidenceInput{Note: "x"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = r.AddEvidence(rec, bob, EvidenceInput{})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestStatusTable(t *testing.T) {
	assert.True(t, StatusOpen.CanTransition(StatusInvestigating))
	assert.True(t, StatusInvestigating.CanTransition(StatusClosed))
	assert.False(t, StatusResolved.CanTransition(StatusOpen))
	assert.False(t, StatusClosed.CanTransition(StatusOpen))
	assert.False(t, StatusInvestigating.CanTransition(StatusOpen))
}

func TestRecordJSONRoundTrip(t *testing.T) {
	r := newResolver()
	rec, err := r.Resolve(openDispute(t, r), moderator, ResolveRequest{Decision: DecisionCancelSwap, Compensation: 5, BeneficiaryID: "bob"})
	require.NoError(t, err)

	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"status":"RESOLVED"`)
	assert.Contains(t, string(raw), `"reason":"ITEM_DAMAGED"`)

	var back Record
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, rec, back)
}

func TestServiceListScopesToParticipant(t *testing.T) {
	reader := &fakeReader{}
	svc := NewService(reader)

	_, err := svc.List(context.Background(), bob, ListFilter{SwapID: "swap-1"})
	require.NoError(t, err)
	assert.Equal(t, "bob", reader.last.UserID)

	_, err = svc.List(context.Background(), moderator, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, reader.last.UserID)

	reader.rec = Record{ID: "d1", Parties: parties}
	_, err = svc.Get(context.Background(), mallory, "d1")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Get(context.Background(), alice, "d1")
	assert.NoError(t, err)
}

type fakeReader struct {
	last ListFilter
	rec  Record
}

func (f *fakeReader) Get(context.Context, string) (Record, error) { return f.rec, nil }

func (f *fakeReader) List(_ context.Context, filter ListFilter) ([]Record, error) {
	f.last = filter
	return nil, nil
}
