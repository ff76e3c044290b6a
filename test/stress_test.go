package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"campusswap/catalog"
	"campusswap/dispute"
	"campusswap/ledger"
	"campusswap/notify"
	"campusswap/swap"
	"campusswap/test/actors"
	"campusswap/test/chaos"
	"campusswap/test/infra"
	"campusswap/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent traders")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", true, "terminate random backends while running")
)

const (
	students       = 12
	itemsPerUser   = 6
	openingBalance = 1000
)

func TestSwapConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test skipped in -short mode")
	}
	seed := *flSeed

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	h, err := infra.NewHarness(ctx, *flDSN)
	if err != nil {
		t.Skipf("no database for stress test: %v", err)
	}
	defer func() {
		if err := h.Close(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()
	pool := h.Pool()

	world := mustSeed(t, ctx, pool)
	policy := swap.DefaultPolicy()
	policy.DisputeWindow = 2 * time.Second
	policy.NegotiationInactivity = 3 * time.Second
	outbox := notify.NewOutbox()
	items := catalog.NewRepository(pool)
	repo := swap.NewRepository(pool)
	world.Swaps = swap.NewService(swap.Deps{
		Pool:     pool,
		Repo:     repo,
		Items:    items,
		Ledger:   ledger.New(ledger.NewRepository(pool)),
		Disputes: dispute.NewRepository(pool),
		Outbox:   outbox,
		Assigner: actors.Assigner{AgentID: world.Agent},
	}).WithPolicy(policy)
	sweeper := swap.NewSweeper(world.Swaps, repo, items, nil).WithListingTTL(time.Hour)
	publisher := actors.NewFlakyPublisher(seed)
	relay := notify.NewRelay(pool, outbox, publisher, nil).WithMaxAttempts(50)

	var stats actors.Stats
	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error { return actors.Trader(ctx2, world, seed+int64(i), &stats, stop) })
	}
	g.Go(func() error { return actors.Canceller(ctx2, world, seed+101, &stats, stop) })
	g.Go(func() error { return actors.Moderator(ctx2, world, seed+202, &stats, stop) })
	g.Go(func() error { return actors.Sweeper(ctx2, sweeper, stop) })
	g.Go(func() error { return actors.Relay(ctx2, relay, stop) })
	if *flChaos {
		go chaos.TerminateRandomBackend(ctx2, pool, infra.ApplicationName, stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	check := func() {
		name, row, err := oracles.Run(ctx, pool)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			t.Fatalf("oracle error: %v", err)
		}
		if name != "" {
			dumpRecent(t, ctx, pool)
			t.Fatalf("Oracle %s failed. First row: %s (seed=%d, %s)", name, row, seed, stats.String())
		}
	}

loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			check()
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("actors errored: %v", err)
	}
	check()
	t.Logf("seed=%d %s published=%d", seed, stats.String(), publisher.Published())
	if stats.Proposed.Load() == 0 {
		t.Fatalf("no swap was ever proposed (seed=%d)", seed)
	}
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool) *actors.World {
	t.Helper()
	run := time.Now().UnixNano()
	user := func(name, role string, balance int64) string {
		var id string
		err := pool.QueryRow(ctx, `
INSERT INTO users (email, display_name, password_hash, role, points_balance)
VALUES ($1, $2, 'x', $3, $4) RETURNING id::text`,
			fmt.Sprintf("%s-%d@campus.test", name, run), name, role, balance).Scan(&id)
		if err != nil {
			t.Fatalf("seed user %s: %v", name, err)
		}
		return id
	}

	w := &actors.World{
		Items:     make(map[string][]string),
		Moderator: user("moderator", "moderator", 0),
		Agent:     user("agent", "agent", 0),
	}
	categories := []string{"books", "electronics", "furniture", "sports"}
	for i := 0; i < students; i++ {
		id := user(fmt.Sprintf("student%d", i), "student", openingBalance)
		w.Students = append(w.Students, id)
		for j := 0; j < itemsPerUser; j++ {
			var itemID string
			err := pool.QueryRow(ctx, `
INSERT INTO items (owner_id, title, category, condition, points)
VALUES ($1, $2, $3, 'GOOD', $4) RETURNING id::text`,
				id, fmt.Sprintf("item %d/%d", i, j), categories[j%len(categories)], 100+10*j).Scan(&itemID)
			if err != nil {
				t.Fatalf("seed item: %v", err)
			}
			w.Items[id] = append(w.Items[id], itemID)
		}
	}
	return w
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"swaps", `SELECT id, state, version, updated_at FROM swaps ORDER BY updated_at DESC LIMIT 50`},
		{"ledger_entries", `SELECT seq, swap_id, user_id, delta, balance_after, kind FROM ledger_entries ORDER BY seq DESC LIMIT 50`},
		{"disputes", `SELECT id, swap_id, status, updated_at FROM disputes ORDER BY updated_at DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
