package store

import (
	"context"
	"strconv"
	"strings"
	"time"

	"parking/internal/models"

	"github.com/lib/pq"
)

// flushLockKey serializes audit flushers across processes.
const flushLockKey = 724_001

// AuditStore owns both halves of the trail: audit_outbox, written inside each
// business transaction, and audit_logs, the flushed hash-chained history.
type AuditStore struct {
	db DB
}

// OutboxRow is a pending entry waiting for the flusher.
type OutboxRow struct {
	Seq int64 `db:"seq"`
	models.AuditEntry
}

type AuditFilter struct {
	EntityType  string
	EntityID    string
	PerformedBy string
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

func NewAuditStore(db DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Log(ctx context.Context, tx Execer, entry models.AuditEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_outbox (entity_type, entity_id, action, old_value, new_value, performed_by, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.EntityType, entry.EntityID, entry.Action, entry.OldValue, entry.NewValue, entry.PerformedBy, entry.Timestamp)
	return err
}

// LockFlush takes a transaction-scoped advisory lock; it is released on commit or rollback.
func (s *AuditStore) LockFlush(ctx context.Context, tx Execer) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, flushLockKey)
	return err
}

func (s *AuditStore) ClaimOutbox(ctx context.Context, tx Selecter, limit int) ([]OutboxRow, error) {
	var rows []OutboxRow
	err := tx.SelectContext(ctx, &rows, `
		SELECT seq, entity_type, entity_id, action, old_value, new_value, performed_by, occurred_at
		FROM audit_outbox
		ORDER BY seq
		LIMIT $1
		FOR UPDATE
	`, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Head returns the last flushed seq and hash; an empty log yields 0 and "".
func (s *AuditStore) Head(ctx context.Context, tx Getter) (int64, string, error) {
	var head struct {
		Seq  int64  `db:"seq"`
		Hash string `db:"hash"`
	}
	err := tx.GetContext(ctx, &head, `
		SELECT COALESCE(MAX(seq), 0) AS seq,
		       COALESCE((SELECT hash FROM audit_logs ORDER BY seq DESC LIMIT 1), '') AS hash
		FROM audit_logs
	`)
	return head.Seq, head.Hash, err
}

func (s *AuditStore) Append(ctx context.Context, tx Execer, records []models.AuditRecord) error {
	query := `
		INSERT INTO audit_logs (seq, entity_type, entity_id, action, old_value, new_value, performed_by, occurred_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for _, r := range records {
		if _, err := tx.ExecContext(ctx, query, r.Seq, r.EntityType, r.EntityID, r.Action, r.OldValue, r.NewValue,
			r.PerformedBy, r.Timestamp, r.PrevHash, r.Hash); err != nil {
			return err
		}
	}
	return nil
}

func (s *AuditStore) DeleteOutbox(ctx context.Context, tx Execer, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM audit_outbox WHERE seq = ANY($1::bigint[])`, pq.Array(seqs))
	return err
}

func (s *AuditStore) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(1) FROM audit_outbox`)
	return count, err
}

// Query reads flushed records, oldest first so the most recent entry is last.
func (s *AuditStore) Query(ctx context.Context, filter AuditFilter) ([]models.AuditRecord, error) {
	query := `
		SELECT seq, entity_type, entity_id, action, old_value, new_value, performed_by, occurred_at, prev_hash, hash
		FROM audit_logs
		WHERE 1 = 1
	`
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		query += " AND " + strings.Replace(clause, "?", "$"+strconv.Itoa(len(args)), 1)
	}
	if filter.EntityType != "" {
		add("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != "" {
		add("entity_id = ?", filter.EntityID)
	}
	if filter.PerformedBy != "" {
		add("performed_by = ?", filter.PerformedBy)
	}
	if filter.From != nil {
		add("occurred_at >= ?", *filter.From)
	}
	if filter.To != nil {
		add("occurred_at < ?", *filter.To)
	}
	query += " ORDER BY occurred_at, seq"
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += " LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))
	}
	var rows []models.AuditRecord
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// Chain reads records in chain order, for verification and archiving.
func (s *AuditStore) Chain(ctx context.Context, fromSeq int64, limit int) ([]models.AuditRecord, error) {
	var rows []models.AuditRecord
	err := s.db.SelectContext(ctx, &rows, `
		SELECT seq, entity_type, entity_id, action, old_value, new_value, performed_by, occurred_at, prev_hash, hash
		FROM audit_logs
		WHERE seq >= $1
		ORDER BY seq
		LIMIT $2
	`, fromSeq, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
