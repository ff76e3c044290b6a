package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"campusswap/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForDifferenceDirection(t *testing.T) {
	s := ForDifference("swap-1", "init", "recip", 20)
	assert.Equal(t, "recip", s.PayerID)
	assert.Equal(t, "init", s.PayeeID)
	assert.Equal(t, int64(20), s.Amount)

	s = ForDifference("swap-1", "init", "recip", -35)
	assert.Equal(t, "init", s.PayerID)
	assert.Equal(t, "recip", s.PayeeID)
	assert.Equal(t, int64(35), s.Amount)

	s = ForDifference("swap-1", "init", "recip", 0)
	assert.Equal(t, int64(0), s.Amount)
	assert.Equal(t, KindSettlement, s.Kind)
}

func TestPlanFiveHundredVersusFiveTwenty(t *testing.T) {
	// initiator offers the 500 item, recipient the 520 one: recipient owes 20
	s := ForDifference("swap-1", "init", "recip", 20)
	at := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	entries, err := Plan(s, 100, 40, at, [2]string{"e1", "e2"})
	require.NoError(t, err)

	assert.Equal(t, "recip", entries[0].UserID)
	assert.Equal(t, int64(-20), entries[0].Delta)
	assert.Equal(t, int64(80), entries[0].BalanceAfter)
	assert.Equal(t, "init", entries[1].UserID)
	assert.Equal(t, int64(20), entries[1].Delta)
	assert.Equal(t, int64(60), entries[1].BalanceAfter)
	assert.Zero(t, Net(entries[:]))
}

func TestPlanRejectsOverdraft(t *testing.T) {
	_, err := Plan(Settlement{SwapID: "s", PayerID: "a", PayeeID: "b", Amount: 11, Kind: KindSettlement}, 10, 0, time.Now(), [2]string{"1", "2"})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.True(t, errors.Is(err, apperr.ErrInsufficientBalance))

	entries, err := Plan(Settlement{SwapID: "s", PayerID: "a", PayeeID: "b", Amount: 10, Kind: KindSettlement}, 10, 0, time.Now(), [2]string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), entries[0].BalanceAfter)
}

func TestPlanValidation(t *testing.T) {
	cases := []Settlement{
		{PayerID: "a", PayeeID: "b", Kind: KindSettlement},
		{SwapID: "s", PayerID: "a", PayeeID: "a", Kind: KindSettlement},
		{SwapID: "s", PayerID: "a", PayeeID: "b", Amount: -1, Kind: KindSettlement},
		{SwapID: "s", PayerID: "a", PayeeID: "b"},
	}
	for i, s := range cases {
		_, err := Plan(s, 100, 100, time.Now(), [2]string{"1", "2"})
		assert.True(t, errors.Is(err, apperr.ErrValidation), "case %d: %v", i, err)
	}
}

func TestSettleTxAppendsPair(t *testing.T) {
	store := &fakeStore{balances: map[string]int64{"a": 50, "b": 5}}
	n := 0
	l := New(store).WithIDGenerator(func() string { n++; return fmt.Sprintf("entry-%d", n) })

	entries, err := l.SettleTx(context.Background(), nil, Settlement{SwapID: "s", PayerID: "a", PayeeID: "b", Amount: 15, Kind: KindCompensation})
	require.NoError(t, err)
	require.Len(t, store.appended, 2)
	assert.Equal(t, "entry-1", entries[0].ID)
	assert.Equal(t, int64(35), store.balances["a"])
	assert.Equal(t, int64(20), store.balances["b"])
	assert.Zero(t, Net(store.appended))
	assert.Equal(t, []string{"a", "b"}, store.locked)
}

func TestSettleTxInsufficientBalanceWritesNothing(t *testing.T) {
	store := &fakeStore{balances: map[string]int64{"a": 5, "b": 5}}
	_, err := New(store).SettleTx(context.Background(), nil, Settlement{SwapID: "s", PayerID: "a", PayeeID: "b", Amount: 15, Kind: KindSettlement})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Empty(t, store.appended)
	assert.Equal(t, int64(5), store.balances["a"])
}

func TestSettleTxMissingUser(t *testing.T) {
	store := &fakeStore{balances: map[string]int64{"a": 5}}
	_, err := New(store).SettleTx(context.Background(), nil, Settlement{SwapID: "s", PayerID: "a", PayeeID: "ghost", Amount: 1, Kind: KindSettlement})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestKindText(t *testing.T) {
	b, err := KindCompensation.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "COMPENSATION", string(b))

	var k Kind
	require.NoError(t, k.UnmarshalText([]byte("SETTLEMENT")))
	assert.Equal(t, KindSettlement, k)
	assert.Error(t, k.UnmarshalText([]byte("REFUND")))
}

type fakeStore struct {
	balances map[string]int64
	appended []Entry
	locked   []string
}

func (f *fakeStore) LockBalancesTx(_ context.Context, _ pgx.Tx, ids []string) (map[string]int64, error) {
	out := map[string]int64{}
	for _, id := range ids {
		f.locked = append(f.locked, id)
		if b, ok := f.balances[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

func (f *fakeStore) AppendTx(_ context.Context, _ pgx.Tx, entries [2]Entry) error {
	for _, e := range entries {
		f.balances[e.UserID] += e.Delta
		f.appended = append(f.appended, e)
	}
	return nil
}
