package swap

import (
	"errors"
	"testing"
	"time"

	"campusswap/apperr"
	"campusswap/delivery"
	"campusswap/dispute"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	legal := map[State][]State{
		StateInitiated:       {StateNegotiating, StateCancelled},
		StateNegotiating:     {StateAgreed, StateCancelled},
		StateAgreed:          {StatePickupScheduled, StateCancelled},
		StatePickupScheduled: {StateInTransit, StateDisputed},
		StateInTransit:       {StateDelivered, StateDisputed},
		StateDelivered:       {StateCompleted, StateDisputed},
		StateDisputed:        {StateCompleted, StateCancelled},
	}
	for _, from := range States {
		for _, to := range States {
			want := false
			for _, l := range legal[from] {
				if l == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
	assert.Empty(t, StateCompleted.Next())
	assert.Empty(t, StateCancelled.Next())
	assert.True(t, StateCompleted.Terminal())
	assert.False(t, StateDisputed.Terminal())
}

func TestStateText(t *testing.T) {
	for _, s := range States {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var back State
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, s, back)
	}
	_, err := State(0).MarshalText()
	assert.Error(t, err)
	_, err = ParseState("shipped")
	assert.Error(t, err)
}

func TestRecordRejectsIllegalMoveWithoutVersionChange(t *testing.T) {
	at := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	s := Swap{ID: "s", State: StateInitiated, Version: 1}

	err := s.record(EventCompleted, "u", StateCompleted, "", at)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Equal(t, int64(1), s.Version)
	assert.Empty(t, s.Timeline)

	require.NoError(t, s.record(EventMessage, "u", StateNegotiating, "hi", at))
	assert.Equal(t, int64(2), s.Version)
	assert.Equal(t, StateNegotiating, s.State)
	require.Len(t, s.Timeline, 1)
	assert.Equal(t, TimelineEvent{Seq: 1, Kind: EventMessage, ActorID: "u", From: StateInitiated, To: StateNegotiating, Version: 2, Note: "hi", At: at}, s.Timeline[0])
}

func TestOfferMatches(t *testing.T) {
	a := Offer{InitiatorItems: []string{"i2", "i1"}, RecipientItems: []string{"r1"}, PointsDifference: 20}
	b := Offer{InitiatorItems: []string{"i1", "i2"}, RecipientItems: []string{"r1"}, PointsDifference: 25}

	assert.False(t, a.Matches(b, 0))
	assert.True(t, a.Matches(b, 5))

	b.RecipientItems = []string{"r2"}
	assert.False(t, a.Matches(b, 100))
}

func TestNegotiateAgreesOnlyOnMatchingOffers(t *testing.T) {
	at := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	s, err := newSwap("s1", "alice", ProposeRequest{
		RecipientID:      "bob",
		InitiatorItems:   []string{"a1"},
		RecipientItems:   []string{"b1"},
		PointsDifference: 20,
	}, at)
	require.NoError(t, err)

	offer := &OfferInput{InitiatorItems: []string{"a1"}, RecipientItems: []string{"b1"}, PointsDifference: 20}

	// From INITIATED even a matching counter-offer only opens negotiation.
	agreed, err := s.negotiate("bob", NegotiateRequest{Offer: offer}, 0, at)
	require.NoError(t, err)
	assert.False(t, agreed)
	assert.Equal(t, StateNegotiating, s.State)

	counter := &OfferInput{InitiatorItems: []string{"a1"}, RecipientItems: []string{"b1"}, PointsDifference: 10}
	agreed, err = s.negotiate("alice", NegotiateRequest{Offer: counter}, 0, at)
	require.NoError(t, err)
	assert.False(t, agreed)

	agreed, err = s.negotiate("bob", NegotiateRequest{Offer: counter}, 0, at)
	require.NoError(t, err)
	assert.True(t, agreed)
	assert.Equal(t, StateAgreed, s.State)
	assert.Equal(t, int64(10), s.PointsDifference)
	assert.Equal(t, int64(4), s.Version)
}

func TestNewSwapValidation(t *testing.T) {
	at := time.Now().UTC()
	cases := []ProposeRequest{
		{RecipientID: "", InitiatorItems: []string{"a"}, RecipientItems: []string{"b"}},
		{RecipientID: "alice", InitiatorItems: []string{"a"}, RecipientItems: []string{"b"}},
		{RecipientID: "bob", InitiatorItems: nil, RecipientItems: []string{"b"}},
		{RecipientID: "bob", InitiatorItems: []string{"a"}, RecipientItems: []string{" "}},
		{RecipientID: "bob", InitiatorItems: []string{"a"}, RecipientItems: []string{"a"}},
	}
	for i, req := range cases {
		_, err := newSwap("s", "alice", req, at)
		assert.True(t, errors.Is(err, apperr.ErrValidation), "case %d: %v", i, err)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	at := time.Date(2025, 5, 1, 10, 0, 0, 123456789, time.UTC)
	delivered := at.Add(48 * time.Hour)
	closed := at.Add(80 * time.Hour)
	s := Swap{
		ID:               "3f7b7c1e-4f55-4b2c-9a49-0a4d7d0c2a11",
		InitiatorID:      "alice",
		RecipientID:      "bob",
		InitiatorItems:   []string{"a1", "a2"},
		RecipientItems:   []string{"b1"},
		PointsDifference: -35,
		State:            StateDisputed,
		Version:          9,
		Offers: map[string]Offer{
			"alice": {InitiatorItems: []string{"a1", "a2"}, RecipientItems: []string{"b1"}, PointsDifference: -35, ProposedBy: "alice", ProposedAt: at},
			"bob":   {InitiatorItems: []string{"a1", "a2"}, RecipientItems: []string{"b1"}, PointsDifference: -35, ProposedBy: "bob", ProposedAt: at.Add(time.Hour)},
		},
		Delivery: &DeliveryInfo{
			PickupLocation:   "Library",
			DeliveryLocation: "Dorm B",
			Window:           delivery.Window{Start: at.Add(24 * time.Hour), End: at.Add(26 * time.Hour)},
			AgentID:          "agent-7",
			TrackingCode:     "TRK-9",
			ScheduledPickup:  at.Add(24 * time.Hour),
			DeliveredAt:      &delivered,
		},
		ReceiptsBy:      []string{"alice"},
		DisputeEligible: true,
		Dispute: &dispute.Record{
			ID:       "d1",
			SwapID:   "3f7b7c1e-4f55-4b2c-9a49-0a4d7d0c2a11",
			Parties:  dispute.Parties{InitiatorID: "alice", RecipientID: "bob"},
			OpenedBy: "bob",
			Reason:   dispute.ReasonDamaged,
			Evidence: []dispute.Evidence{{ID: "e1", SubmittedBy: "bob", Note: "cracked", AddedAt: at}},
			Status:   dispute.StatusResolved,
			Resolution: &dispute.Resolution{
				Decision:      dispute.DecisionCompleteSwap,
				Compensation:  15,
				BeneficiaryID: "bob",
				ResolverID:    "mod-1",
				DecidedAt:     closed,
			},
			OpenedAt:  at,
			UpdatedAt: closed,
		},
		Timeline: []TimelineEvent{
			{Seq: 1, Kind: EventProposed, ActorID: "alice", From: StateInitiated, To: StateInitiated, Version: 1, At: at},
			{Seq: 2, Kind: EventDisputeOpened, ActorID: "bob", From: StateDelivered, To: StateDisputed, Version: 9, Note: "ITEM_DAMAGED", At: delivered},
		},
		CreatedAt:      at,
		UpdatedAt:      delivered,
		LastActivityAt: delivered,
		DeliveredAt:    &delivered,
		ClosedAt:       &closed,
	}

	b, err := Marshal(s)
	require.NoError(t, err)
	back, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, s, back)

	again, err := Marshal(back)
	require.NoError(t, err)
	assert.JSONEq(t, string(b), string(again))
}

func TestUnmarshalRejectsBrokenDocuments(t *testing.T) {
	for _, doc := range []string{
		`not json`,
		`{"schema":2,"swap":{"id":"x","state":"AGREED","version":1}}`,
		`{"schema":1,"swap":{"state":"AGREED","version":1}}`,
		`{"schema":1,"swap":{"id":"x","state":"AGREED","version":0}}`,
		`{"schema":1,"swap":{"id":"x","state":"LOST","version":1}}`,
	} {
		_, err := Unmarshal([]byte(doc))
		assert.Error(t, err, doc)
	}
}
