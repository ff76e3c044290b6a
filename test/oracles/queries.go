package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// reservedStates hold their items PENDING.
const reservedStates = `('AGREED','PICKUP_SCHEDULED','IN_TRANSIT','DELIVERED','DISPUTED')`

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_ledger_net_zero",
			SQL: `SELECT swap_id, SUM(delta) FROM ledger_entries
                  GROUP BY swap_id HAVING SUM(delta) <> 0`,
		},
		{
			Name: "O2_balance_matches_ledger",
			SQL: `SELECT u.id, u.points_balance, l.balance_after FROM users u
                  JOIN LATERAL (
                      SELECT balance_after FROM ledger_entries
                      WHERE user_id = u.id ORDER BY seq DESC LIMIT 1) l ON true
                  WHERE l.balance_after <> u.points_balance`,
		},
		{
			Name: "O3_settlement_only_when_completed",
			SQL: `SELECT l.swap_id, s.state FROM ledger_entries l
                  JOIN swaps s ON s.id = l.swap_id
                  WHERE l.kind = 'SETTLEMENT' AND s.state <> 'COMPLETED'`,
		},
		{
			Name: "O4_settled_once",
			SQL: `SELECT swap_id, COUNT(*) FROM ledger_entries
                  WHERE kind = 'SETTLEMENT'
                  GROUP BY swap_id HAVING COUNT(*) > 2`,
		},
		{
			Name: "O5_item_reserved_once",
			SQL: `WITH reserved AS (
                      SELECT s.id, jsonb_array_elements_text(s.document->'swap'->'initiator_items') AS item_id
                      FROM swaps s WHERE s.state IN ` + reservedStates + `
                      UNION ALL
                      SELECT s.id, jsonb_array_elements_text(s.document->'swap'->'recipient_items')
                      FROM swaps s WHERE s.state IN ` + reservedStates + `)
                  SELECT item_id, COUNT(*) FROM reserved GROUP BY item_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_swapped_items_belong_to_completed_swap",
			SQL: `SELECT i.id FROM items i
                  WHERE i.status = 'SWAPPED' AND NOT EXISTS (
                      SELECT 1 FROM swaps s
                      WHERE s.state = 'COMPLETED'
                        AND (s.document->'swap'->'initiator_items' ? i.id::text
                          OR s.document->'swap'->'recipient_items' ? i.id::text))`,
		},
		{
			Name: "O7_disputed_swap_has_active_dispute",
			SQL: `SELECT s.id FROM swaps s
                  WHERE s.state = 'DISPUTED' AND NOT EXISTS (
                      SELECT 1 FROM disputes d
                      WHERE d.swap_id = s.id AND d.status IN ('OPEN','INVESTIGATING'))`,
		},
		{
			Name: "O8_document_matches_columns",
			SQL: `SELECT id FROM swaps
                  WHERE version <> (document->'swap'->>'version')::bigint
                     OR state <> document->'swap'->>'state'`,
		},
		{
			Name: "O9_outbox_not_stuck",
			SQL: `SELECT id FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O10_ledger_append_only_guard",
			SQL: `SELECT 'missing_ledger_entries_no_rewrite' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'ledger_entries_no_rewrite')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
