// Package memdb is an in-memory stand-in for the PostgreSQL stores used by
// the swap core. Transactions are real pgx.Tx values whose writes apply
// immediately and are undone on rollback, which is enough to exercise
// all-or-nothing transitions and version conflicts without a database.
package memdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"campusswap/catalog"
	"campusswap/dispute"
	"campusswap/ledger"
	"campusswap/notify"
	"campusswap/swap"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var errUnsupported = errors.New("memdb: not supported")

type DB struct {
	mu       sync.Mutex
	swaps    map[string][]byte
	items    map[string]catalog.Item
	balances map[string]int64
	entries  []ledger.Entry
	disputes map[string]dispute.Record
	outbox   []notify.Message
	now      func() time.Time
}

func New() *DB {
	return &DB{
		swaps:    map[string][]byte{},
		items:    map[string]catalog.Item{},
		balances: map[string]int64{},
		disputes: map[string]dispute.Record{},
		now:      time.Now,
	}
}

// WithClock sets the time used for listing expiry bookkeeping.
func (db *DB) WithClock(fn func() time.Time) *DB {
	if fn != nil {
		db.now = fn
	}
	return db
}

func (db *DB) Begin(context.Context) (pgx.Tx, error) {
	return &Tx{db: db}, nil
}

// AddUser creates a balance row.
func (db *DB) AddUser(id string, balance int64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.balances[id] = balance
}

func (db *DB) AddItem(it catalog.Item) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.items[it.ID] = it
}

func (db *DB) Balance(id string) int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.balances[id]
}

func (db *DB) Item(id string) catalog.Item {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.items[id]
}

// Entries returns the ledger entries of a swap in insertion order.
func (db *DB) Entries(swapID string) []ledger.Entry {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []ledger.Entry
	for _, e := range db.entries {
		if e.SwapID == swapID {
			out = append(out, e)
		}
	}
	return out
}

// Messages returns the outbox rows, optionally filtered by topic.
func (db *DB) Messages(topic string) []notify.Message {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []notify.Message
	for _, m := range db.outbox {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Tx records an undo step for every write.
type Tx struct {
	db   *DB
	undo []func()
	done bool
}

func (db *DB) tx(tx pgx.Tx) (*Tx, error) {
	t, ok := tx.(*Tx)
	if !ok || t.db != db {
		return nil, fmt.Errorf("memdb: foreign transaction %T", tx)
	}
	if t.done {
		return nil, pgx.ErrTxClosed
	}
	return t, nil
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errUnsupported
}

func (t *Tx) Commit(context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.undo = nil
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.done = true
	t.undo = nil
	return nil
}

func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errUnsupported
}

func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	return nil
}

func (t *Tx) LargeObjects() pgx.LargeObjects {
	return pgx.LargeObjects{}
}

func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errUnsupported
}

func (t *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errUnsupported
}

func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errUnsupported
}

func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{}
}

func (t *Tx) Conn() *pgx.Conn { return nil }

type errRow struct{}

func (errRow) Scan(...any) error { return errUnsupported }

// Swaps is the swap.Repository view.
func (db *DB) Swaps() *SwapStore { return &SwapStore{db: db} }

type SwapStore struct{ db *DB }

func (s *SwapStore) Get(_ context.Context, id string) (swap.Swap, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.load(id)
}

func (s *SwapStore) GetTx(_ context.Context, tx pgx.Tx, id string) (swap.Swap, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, err := s.db.tx(tx); err != nil {
		return swap.Swap{}, err
	}
	return s.load(id)
}

func (s *SwapStore) load(id string) (swap.Swap, error) {
	doc, ok := s.db.swaps[id]
	if !ok {
		return swap.Swap{}, swap.ErrNotFound
	}
	return swap.Unmarshal(doc)
}

func (s *SwapStore) InsertTx(_ context.Context, tx pgx.Tx, sw swap.Swap) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, err := s.db.tx(tx)
	if err != nil {
		return err
	}
	if _, ok := s.db.swaps[sw.ID]; ok {
		return fmt.Errorf("%w: swap %s already exists", swap.ErrVersionConflict, sw.ID)
	}
	doc, err := swap.Marshal(sw)
	if err != nil {
		return err
	}
	s.db.swaps[sw.ID] = doc
	t.undo = append(t.undo, func() { delete(s.db.swaps, sw.ID) })
	return nil
}

func (s *SwapStore) UpdateTx(_ context.Context, tx pgx.Tx, sw swap.Swap, expectedVersion int64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, err := s.db.tx(tx)
	if err != nil {
		return err
	}
	prev, ok := s.db.swaps[sw.ID]
	if !ok {
		return swap.ErrNotFound
	}
	stored, err := swap.Unmarshal(prev)
	if err != nil {
		return err
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("%w: swap %s moved past version %d", swap.ErrVersionConflict, sw.ID, expectedVersion)
	}
	doc, err := swap.Marshal(sw)
	if err != nil {
		return err
	}
	s.db.swaps[sw.ID] = doc
	t.undo = append(t.undo, func() { s.db.swaps[sw.ID] = prev })
	return nil
}

func (s *SwapStore) ListForUser(_ context.Context, userID string, f swap.ListFilter) ([]swap.Swap, error) {
	all, err := s.all()
	if err != nil {
		return nil, err
	}
	var out []swap.Swap
	for _, sw := range all {
		if !sw.IsParticipant(userID) || (f.State.Valid() && sw.State != f.State) {
			continue
		}
		out = append(out, sw)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *SwapStore) ListDue(_ context.Context, q swap.DueQuery) ([]swap.Swap, error) {
	all, err := s.all()
	if err != nil {
		return nil, err
	}
	wanted := map[swap.State]bool{}
	for _, st := range q.States {
		wanted[st] = true
	}
	var out []swap.Swap
	for _, sw := range all {
		if !wanted[sw.State] {
			continue
		}
		switch sw.State {
		case swap.StateInitiated, swap.StateNegotiating:
			if !sw.LastActivityAt.Before(q.ActivityBefore) {
				continue
			}
		case swap.StateDelivered:
			if sw.DeliveredAt == nil || sw.DeliveredAt.After(q.DeliveredBefore) {
				continue
			}
		case swap.StatePickupScheduled, swap.StateInTransit:
			deadline := sw.WindowDeadline()
			if sw.DisputeEligible || deadline == nil || !deadline.Before(q.WindowBefore) {
				continue
			}
		default:
			continue
		}
		out = append(out, sw)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *SwapStore) all() ([]swap.Swap, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]swap.Swap, 0, len(s.db.swaps))
	for _, doc := range s.db.swaps {
		sw, err := swap.Unmarshal(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, sw)
	}
	return out, nil
}

// Items is the catalog view.
func (db *DB) Items() *ItemStore { return &ItemStore{db: db} }

type ItemStore struct{ db *DB }

func (s *ItemStore) GetByIDsTx(_ context.Context, tx pgx.Tx, ids []string) ([]catalog.Item, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, err := s.db.tx(tx); err != nil {
		return nil, err
	}
	out := make([]catalog.Item, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		it, ok := s.db.items[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *ItemStore) TransitionTx(_ context.Context, tx pgx.Tx, ids []string, from []catalog.Status, next catalog.Status) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, err := s.db.tx(tx)
	if err != nil {
		return err
	}
	allowed := map[catalog.Status]bool{}
	for _, st := range from {
		allowed[st] = true
	}
	for _, id := range ids {
		it, ok := s.db.items[id]
		if !ok || !allowed[it.Status] {
			return catalog.ErrUnavailable
		}
	}
	now := s.db.now().UTC()
	for _, id := range ids {
		prev := s.db.items[id]
		it := prev
		it.Status = next
		it.UpdatedAt = now
		if next == catalog.StatusSwapped {
			at := now
			it.SwappedAt = &at
		}
		s.db.items[id] = it
		t.undo = append(t.undo, func() { s.db.items[prev.ID] = prev })
	}
	return nil
}

func (s *ItemStore) ListActive(_ context.Context, limit int) ([]catalog.Item, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []catalog.Item
	for _, it := range s.db.items {
		if it.Status == catalog.StatusActive {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ListedAt.Equal(out[j].ListedAt) {
			return out[i].ListedAt.After(out[j].ListedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ItemStore) ExpireStale(_ context.Context, cutoff time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int64
	for id, it := range s.db.items {
		if it.Status == catalog.StatusActive && it.ListedAt.Before(cutoff) {
			it.Status = catalog.StatusExpired
			s.db.items[id] = it
			n++
		}
	}
	return n, nil
}

// Ledger is the ledger.Store view. The non-negative balance check mirrors
// the users table constraint.
func (db *DB) Ledger() *LedgerStore { return &LedgerStore{db: db} }

type LedgerStore struct{ db *DB }

func (s *LedgerStore) LockBalancesTx(_ context.Context, tx pgx.Tx, userIDs []string) (map[string]int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, err := s.db.tx(tx); err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(userIDs))
	for _, id := range userIDs {
		if b, ok := s.db.balances[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

func (s *LedgerStore) AppendTx(_ context.Context, tx pgx.Tx, entries [2]ledger.Entry) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, err := s.db.tx(tx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		b, ok := s.db.balances[e.UserID]
		if !ok {
			return ledger.ErrUserNotFound
		}
		if b+e.Delta < 0 {
			return ledger.ErrInsufficientBalance
		}
	}
	for _, e := range entries {
		userID, delta := e.UserID, e.Delta
		s.db.balances[userID] += delta
		t.undo = append(t.undo, func() { s.db.balances[userID] -= delta })
	}
	s.db.entries = append(s.db.entries, entries[0], entries[1])
	ids := map[string]bool{entries[0].ID: true, entries[1].ID: true}
	t.undo = append(t.undo, func() {
		kept := s.db.entries[:0]
		for _, e := range s.db.entries {
			if !ids[e.ID] {
				kept = append(kept, e)
			}
		}
		s.db.entries = kept
	})
	return nil
}

// Disputes is the dispute log view; it enforces one non-closed dispute per
// swap like the partial unique index does.
func (db *DB) Disputes() *DisputeStore { return &DisputeStore{db: db} }

type DisputeStore struct{ db *DB }

func (s *DisputeStore) SaveTx(_ context.Context, tx pgx.Tx, rec dispute.Record) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, err := s.db.tx(tx)
	if err != nil {
		return err
	}
	if rec.Active() {
		for id, other := range s.db.disputes {
			if id != rec.ID && other.SwapID == rec.SwapID && other.Active() {
				return dispute.ErrActiveDispute
			}
		}
	}
	prev, existed := s.db.disputes[rec.ID]
	s.db.disputes[rec.ID] = rec
	t.undo = append(t.undo, func() {
		if existed {
			s.db.disputes[rec.ID] = prev
		} else {
			delete(s.db.disputes, rec.ID)
		}
	})
	return nil
}

func (s *DisputeStore) Get(_ context.Context, id string) (dispute.Record, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rec, ok := s.db.disputes[id]
	if !ok {
		return dispute.Record{}, dispute.ErrNotFound
	}
	return rec, nil
}

func (s *DisputeStore) List(_ context.Context, f dispute.ListFilter) ([]dispute.Record, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []dispute.Record
	for _, rec := range s.db.disputes {
		switch {
		case f.SwapID != "" && rec.SwapID != f.SwapID:
			continue
		case f.UserID != "" && !rec.Parties.Has(f.UserID):
			continue
		case f.Status != 0 && rec.Status != f.Status:
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.After(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Outbox is the transactional outbox view.
func (db *DB) Outbox() *OutboxStore { return &OutboxStore{db: db} }

type OutboxStore struct{ db *DB }

func (s *OutboxStore) EnqueueTx(_ context.Context, tx pgx.Tx, msg notify.Message) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, err := s.db.tx(tx)
	if err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = s.db.now().UTC()
	s.db.outbox = append(s.db.outbox, msg)
	t.undo = append(t.undo, func() {
		for i, m := range s.db.outbox {
			if m.ID == msg.ID {
				s.db.outbox = append(s.db.outbox[:i], s.db.outbox[i+1:]...)
				return
			}
		}
	})
	return nil
}
