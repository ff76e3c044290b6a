// Package ledger applies two-party points settlements. Both entries of a
// pair are written in the caller's transaction or not at all.
package ledger

import (
	"context"
	"time"

	"campusswap/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrInsufficientBalance rejects a settlement that would overdraw the payer.
	ErrInsufficientBalance = apperr.New(apperr.KindInsufficientBalance, "ledger: insufficient balance")
	// ErrUserNotFound is returned when a party has no balance row.
	ErrUserNotFound = apperr.New(apperr.KindNotFound, "ledger: user not found")
)

// Store persists balances and entries inside a transaction.
type Store interface {
	// LockBalancesTx row-locks the users in ascending id order and returns
	// their balances.
	LockBalancesTx(ctx context.Context, tx pgx.Tx, userIDs []string) (map[string]int64, error)
	// AppendTx applies both deltas and inserts both entries.
	AppendTx(ctx context.Context, tx pgx.Tx, entries [2]Entry) error
}

type Ledger struct {
	store Store
	now   func() time.Time
	newID func() string
}

func New(store Store) *Ledger {
	return &Ledger{
		store: store,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

func (l *Ledger) WithClock(fn func() time.Time) *Ledger {
	if fn != nil {
		l.now = fn
	}
	return l
}

func (l *Ledger) WithIDGenerator(fn func() string) *Ledger {
	if fn != nil {
		l.newID = fn
	}
	return l
}

// Plan computes the entry pair for a settlement given the current balances.
// The payer entry comes first. It is pure and performs no I/O.
func Plan(s Settlement, payerBalance, payeeBalance int64, at time.Time, ids [2]string) ([2]Entry, error) {
	if err := validate(s); err != nil {
		return [2]Entry{}, err
	}
	if payerBalance-s.Amount < 0 {
		return [2]Entry{}, ErrInsufficientBalance
	}
	return [2]Entry{
		{
			ID:           ids[0],
			SwapID:       s.SwapID,
			UserID:       s.PayerID,
			Delta:        -s.Amount,
			BalanceAfter: payerBalance - s.Amount,
			Kind:         s.Kind,
			CreatedAt:    at,
		},
		{
			ID:           ids[1],
			SwapID:       s.SwapID,
			UserID:       s.PayeeID,
			Delta:        s.Amount,
			BalanceAfter: payeeBalance + s.Amount,
			Kind:         s.Kind,
			CreatedAt:    at,
		},
	}, nil
}

// SettleTx locks both balances, checks the payer can cover the amount and
// appends the entry pair, all inside tx. A failure leaves tx for the caller
// to roll back.
func (l *Ledger) SettleTx(ctx context.Context, tx pgx.Tx, s Settlement) ([2]Entry, error) {
	if err := validate(s); err != nil {
		return [2]Entry{}, err
	}
	balances, err := l.store.LockBalancesTx(ctx, tx, []string{s.PayerID, s.PayeeID})
	if err != nil {
		return [2]Entry{}, err
	}
	payer, ok := balances[s.PayerID]
	if !ok {
		return [2]Entry{}, ErrUserNotFound
	}
	payee, ok := balances[s.PayeeID]
	if !ok {
		return [2]Entry{}, ErrUserNotFound
	}

	entries, err := Plan(s, payer, payee, l.now().UTC(), [2]string{l.newID(), l.newID()})
	if err != nil {
		return [2]Entry{}, err
	}
	if err := l.store.AppendTx(ctx, tx, entries); err != nil {
		return [2]Entry{}, err
	}
	return entries, nil
}

func validate(s Settlement) error {
	switch {
	case s.SwapID == "":
		return apperr.Validationf("ledger: settlement needs a swap id")
	case s.PayerID == "" || s.PayeeID == "":
		return apperr.Validationf("ledger: settlement needs both parties")
	case s.PayerID == s.PayeeID:
		return apperr.Validationf("ledger: payer and payee must differ")
	case s.Amount < 0:
		return apperr.Validationf("ledger: amount must not be negative")
	case !s.Kind.Valid():
		return apperr.Validationf("ledger: invalid entry kind")
	}
	return nil
}

// Net sums the deltas of entries; for any swap it must be zero.
func Net(entries []Entry) int64 {
	var sum int64
	for _, e := range entries {
		sum += e.Delta
	}
	return sum
}
