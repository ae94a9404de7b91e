package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"parking/internal/models"
)

func TestAuditStoreLogWritesOutbox(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO audit_outbox") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 7 || args[0] != "ticket" || args[2] != "pay" || args[5] != "op-1" {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 1}, nil
		},
	}
	store := NewAuditStore(stubDB{})
	err := store.Log(ctx, execer, models.AuditEntry{
		EntityType: "ticket", EntityID: "t-1", Action: "pay", PerformedBy: "op-1", Timestamp: nowUTC(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuditStoreQueryFilters(t *testing.T) {
	ctx := context.Background()
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store := NewAuditStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			for _, part := range []string{"entity_type = $1", "entity_id = $2", "occurred_at >= $3", "ORDER BY occurred_at, seq", "LIMIT $4 OFFSET $5"} {
				if !strings.Contains(query, part) {
					t.Fatalf("query missing %q: %s", part, query)
				}
			}
			if len(args) != 5 || args[0] != "ticket" || args[1] != "t-1" || args[3] != 50 {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*[]models.AuditRecord) = []models.AuditRecord{{Seq: 1}, {Seq: 2}}
			return nil
		},
	})
	rows, err := store.Query(ctx, AuditFilter{EntityType: "ticket", EntityID: "t-1", From: &from, Limit: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 || rows[1].Seq != 2 {
		t.Fatalf("unexpected rows: %#v", rows)
	}
}

func TestAuditStoreQueryWithoutFilters(t *testing.T) {
	ctx := context.Background()
	store := NewAuditStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if strings.Contains(query, "LIMIT") || len(args) != 0 {
				t.Fatalf("unexpected query: %s %#v", query, args)
			}
			return nil
		},
	})
	if _, err := store.Query(ctx, AuditFilter{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuditStoreClaimOutboxInSeqOrder(t *testing.T) {
	ctx := context.Background()
	tx := stubTx{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FROM audit_outbox") || !strings.Contains(query, "ORDER BY seq") {
				t.Fatalf("unexpected query: %s", query)
			}
			if args[0] != 200 {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*[]OutboxRow) = []OutboxRow{{Seq: 7}}
			return nil
		},
	}
	rows, err := NewAuditStore(stubDB{}).ClaimOutbox(ctx, tx, 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].Seq != 7 {
		t.Fatalf("unexpected rows: %#v", rows)
	}
}

func TestAuditStoreDeleteOutboxSkipsEmpty(t *testing.T) {
	execer := stubExecer{
		execFn: func(context.Context, string, ...any) (sql.Result, error) {
			t.Fatalf("unexpected exec")
			return nil, nil
		},
	}
	if err := NewAuditStore(stubDB{}).DeleteOutbox(context.Background(), execer, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuditStoreAppend(t *testing.T) {
	ctx := context.Background()
	calls := 0
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO audit_logs") {
				t.Fatalf("unexpected query: %s", query)
			}
			calls++
			return stubResult{rows: 1}, nil
		},
	}
	records := []models.AuditRecord{{Seq: 1, Hash: "a"}, {Seq: 2, PrevHash: "a", Hash: "b"}}
	if err := NewAuditStore(stubDB{}).Append(ctx, execer, records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 inserts, got %d", calls)
	}
}
