package swap_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"campusswap/auth"
	"campusswap/catalog"
	"campusswap/db"
	"campusswap/delivery"
	"campusswap/dispute"
	"campusswap/ledger"
	"campusswap/notify"
	"campusswap/swap"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pgEnv struct {
	pool     *pgxpool.Pool
	svc      *swap.Service
	repo     *swap.PGRepository
	items    *catalog.PGRepository
	entries  *ledger.PGRepository
	assigner *fakeAssigner
}

func newPGEnv(t *testing.T) *pgEnv {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping PostgreSQL integration test")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = db.Migrate(ctx, pool)
	require.NoError(t, err)

	fa := &fakeAssigner{}
	e := &pgEnv{
		pool:     pool,
		repo:     swap.NewRepository(pool),
		items:    catalog.NewRepository(pool),
		entries:  ledger.NewRepository(pool),
		assigner: fa,
	}
	e.svc = swap.NewService(swap.Deps{
		Pool:     pool,
		Repo:     e.repo,
		Items:    e.items,
		Ledger:   ledger.New(ledger.NewRepository(pool)),
		Disputes: dispute.NewRepository(pool),
		Outbox:   notify.NewOutbox(),
		Assigner: fa,
	})
	return e
}

func deliveryWindow(start time.Time) delivery.Window {
	return delivery.Window{Start: start, End: start.Add(2 * time.Hour)}
}

func (e *pgEnv) user(t *testing.T, role auth.Role, balance int64) auth.Actor {
	t.Helper()
	var id string
	err := e.pool.QueryRow(context.Background(), `
INSERT INTO users (email, display_name, password_hash, role, points_balance)
VALUES ($1, 'it', 'x', $2, $3)
RETURNING id::text`, uuid.NewString()+"@campus.test", string(role), balance).Scan(&id)
	require.NoError(t, err)
	return auth.Actor{ID: id, Role: role}
}

func (e *pgEnv) item(t *testing.T, owner string, points int64) string {
	t.Helper()
	var id string
	err := e.pool.QueryRow(context.Background(), `
INSERT INTO items (owner_id, title, category, condition, points)
VALUES ($1, 'it item', 'electronics', 'GOOD', $2)
RETURNING id::text`, owner, points).Scan(&id)
	require.NoError(t, err)
	return id
}

func (e *pgEnv) balance(t *testing.T, userID string) int64 {
	t.Helper()
	var b int64
	require.NoError(t, e.pool.QueryRow(context.Background(), `SELECT points_balance FROM users WHERE id = $1`, userID).Scan(&b))
	return b
}

func (e *pgEnv) agreed(t *testing.T, diff int64) (swap.Swap, auth.Actor, auth.Actor) {
	t.Helper()
	ctx := context.Background()
	a := e.user(t, auth.RoleStudent, 100)
	b := e.user(t, auth.RoleStudent, 100)
	sw, err := e.svc.Propose(ctx, a, swap.ProposeRequest{
		RecipientID:      b.ID,
		InitiatorItems:   []string{e.item(t, a.ID, 500)},
		RecipientItems:   []string{e.item(t, b.ID, 520)},
		PointsDifference: diff,
	})
	require.NoError(t, err)
	sw, err = e.svc.Negotiate(ctx, sw.ID, b, sw.Version, swap.NegotiateRequest{Message: "ok"})
	require.NoError(t, err)
	sw, err = e.svc.Accept(ctx, sw.ID, b, sw.Version)
	require.NoError(t, err)
	return sw, a, b
}

func TestPostgresSwapLifecycle(t *testing.T) {
	e := newPGEnv(t)
	ctx := context.Background()
	sw, a, b := e.agreed(t, 20)

	window := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	sw, err := e.svc.ScheduleDelivery(ctx, sw.ID, a, sw.Version, swap.ScheduleRequest{
		PickupLocation:   "Library",
		DeliveryLocation: "Dorm B",
		Window:           deliveryWindow(window),
	})
	require.NoError(t, err)
	sw, err = e.svc.ConfirmPickup(ctx, sw.ID, a, sw.Version)
	require.NoError(t, err)
	sw, err = e.svc.ConfirmDelivery(ctx, sw.ID, b, sw.Version)
	require.NoError(t, err)
	sw, err = e.svc.ConfirmReceipt(ctx, sw.ID, a, sw.Version)
	require.NoError(t, err)
	sw, err = e.svc.ConfirmReceipt(ctx, sw.ID, b, sw.Version)
	require.NoError(t, err)
	assert.Equal(t, swap.StateCompleted, sw.State)

	stored, err := e.repo.Get(ctx, sw.ID)
	require.NoError(t, err)
	assert.Equal(t, sw.Version, stored.Version)

	entries, err := e.entries.ListBySwap(ctx, sw.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Zero(t, ledger.Net(entries))
	assert.Equal(t, int64(120), e.balance(t, a.ID))
	assert.Equal(t, int64(80), e.balance(t, b.ID))

	items, err := e.items.GetByIDs(ctx, sw.Items())
	require.NoError(t, err)
	for _, it := range items {
		assert.Equal(t, catalog.StatusSwapped, it.Status)
	}

	listed, err := e.repo.ListForUser(ctx, a.ID, swap.ListFilter{State: swap.StateCompleted, Limit: 10})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, sw.ID, listed[0].ID)
}

func TestPostgresConcurrentWritersOneWins(t *testing.T) {
	e := newPGEnv(t)
	ctx := context.Background()
	sw, a, b := e.agreed(t, 0)

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, 2)
	)
	for i, actor := range []auth.Actor{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = e.svc.Cancel(ctx, sw.ID, actor, sw.Version, "race")
		}()
	}
	close(start)
	wg.Wait()

	require.True(t, (errs[0] == nil) != (errs[1] == nil), "%v / %v", errs[0], errs[1])
	for _, err := range errs {
		if err != nil {
			assert.True(t, swap.IsConflict(err), "%v", err)
		}
	}
	stored, err := e.repo.Get(ctx, sw.ID)
	require.NoError(t, err)
	assert.Equal(t, sw.Version+1, stored.Version)
	assert.Equal(t, swap.StateCancelled, stored.State)
}

func TestPostgresInsufficientBalanceRollsBack(t *testing.T) {
	e := newPGEnv(t)
	ctx := context.Background()
	sw, a, b := e.agreed(t, 150)

	sw, err := e.svc.ScheduleDelivery(ctx, sw.ID, a, sw.Version, swap.ScheduleRequest{
		PickupLocation:   "Library",
		DeliveryLocation: "Dorm B",
		Window:           deliveryWindow(time.Now().Add(time.Hour).UTC()),
	})
	require.NoError(t, err)
	sw, err = e.svc.ConfirmPickup(ctx, sw.ID, a, sw.Version)
	require.NoError(t, err)
	sw, err = e.svc.ConfirmDelivery(ctx, sw.ID, a, sw.Version)
	require.NoError(t, err)
	sw, err = e.svc.ConfirmReceipt(ctx, sw.ID, a, sw.Version)
	require.NoError(t, err)

	_, err = e.svc.ConfirmReceipt(ctx, sw.ID, b, sw.Version)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	stored, err := e.repo.Get(ctx, sw.ID)
	require.NoError(t, err)
	assert.Equal(t, sw.Version, stored.Version)
	assert.Equal(t, swap.StateDelivered, stored.State)
	entries, err := e.entries.ListBySwap(ctx, sw.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, int64(100), e.balance(t, b.ID))
}

func TestPostgresListDueSkipsOpenDeliveryWindows(t *testing.T) {
	e := newPGEnv(t)
	ctx := context.Background()
	open, a, _ := e.agreed(t, 0)
	open, err := e.svc.ScheduleDelivery(ctx, open.ID, a, open.Version, swap.ScheduleRequest{
		PickupLocation:   "Library",
		DeliveryLocation: "Dorm B",
		Window:           deliveryWindow(time.Now().Add(30 * 24 * time.Hour)),
	})
	require.NoError(t, err)

	ids := func(now time.Time) map[string]bool {
		due, err := e.repo.ListDue(ctx, swap.DueQuery{
			States:       []swap.State{swap.StatePickupScheduled, swap.StateInTransit},
			WindowBefore: now,
			Limit:        1000,
		})
		require.NoError(t, err)
		out := map[string]bool{}
		for _, sw := range due {
			out[sw.ID] = true
		}
		return out
	}
	assert.False(t, ids(time.Now())[open.ID])
	assert.True(t, ids(open.WindowDeadline().Add(time.Minute))[open.ID])
}
