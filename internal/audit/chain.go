// Package audit turns the transactional outbox into the append-only,
// hash-chained audit log.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"parking/internal/models"
	"parking/internal/store"
)

var ErrChainBroken = errors.New("audit chain broken")

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// Hash covers every field of the record except Hash itself.
func Hash(record models.AuditRecord) string {
	payload := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s",
		record.Seq,
		record.EntityType,
		record.EntityID,
		record.Action,
		deref(record.OldValue),
		deref(record.NewValue),
		record.PerformedBy,
		record.Timestamp.UTC().Format(time.RFC3339Nano),
		record.PrevHash,
	)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// HashChain extends the chain whose last record has headSeq and headHash.
// Rows keep their outbox order and get consecutive sequence numbers.
func HashChain(headSeq int64, headHash string, rows []store.OutboxRow) []models.AuditRecord {
	records := make([]models.AuditRecord, 0, len(rows))
	prev := headHash
	for i, row := range rows {
		record := models.AuditRecord{
			Seq:        headSeq + int64(i) + 1,
			AuditEntry: row.AuditEntry,
			PrevHash:   prev,
		}
		record.Timestamp = record.Timestamp.UTC()
		record.Hash = Hash(record)
		records = append(records, record)
		prev = record.Hash
	}
	return records
}

// VerifyChain recomputes each hash and checks the links, starting from
// prevHash ("" for the genesis record). It returns the seq of the first
// record that does not verify.
func VerifyChain(records []models.AuditRecord, prevHash string) (int64, error) {
	prev := prevHash
	var prevSeq int64
	for i, record := range records {
		if i > 0 && record.Seq != prevSeq+1 {
			return record.Seq, fmt.Errorf("%w: gap after seq %d", ErrChainBroken, prevSeq)
		}
		if record.PrevHash != prev {
			return record.Seq, fmt.Errorf("%w: seq %d does not link to its predecessor", ErrChainBroken, record.Seq)
		}
		if Hash(record) != record.Hash {
			return record.Seq, fmt.Errorf("%w: seq %d content does not match its hash", ErrChainBroken, record.Seq)
		}
		prev = record.Hash
		prevSeq = record.Seq
	}
	return 0, nil
}
