package audit

import (
	"context"
	"time"

	"parking/internal/db"
	"parking/internal/models"
	"parking/internal/store"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

type Store interface {
	LockFlush(ctx context.Context, tx store.Execer) error
	ClaimOutbox(ctx context.Context, tx store.Selecter, limit int) ([]store.OutboxRow, error)
	Head(ctx context.Context, tx store.Getter) (int64, string, error)
	Append(ctx context.Context, tx store.Execer, records []models.AuditRecord) error
	DeleteOutbox(ctx context.Context, tx store.Execer, seqs []int64) error
}

// Flusher moves committed outbox rows into audit_logs. It is the only
// background loop in the service; business calls never wait on it.
type Flusher struct {
	txRunner  db.TxRunner
	store     Store
	alerter   Alerter
	interval  time.Duration
	batchSize int
}

func NewFlusher(txRunner db.TxRunner, auditStore Store, alerter Alerter, interval time.Duration, batchSize int) *Flusher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Flusher{
		txRunner:  txRunner,
		store:     auditStore,
		alerter:   alerter,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run flushes on every tick until ctx is cancelled, then drains once more.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			f.drain(final)
			cancel()
			return
		case <-ticker.C:
			f.drain(ctx)
		}
	}
}

// drain keeps flushing while full batches come back.
func (f *Flusher) drain(ctx context.Context) {
	for {
		n, err := f.FlushOnce(ctx)
		if err != nil || n < f.batchSize {
			return
		}
	}
}

// FlushOnce writes at most one batch and returns how many entries it moved.
// On failure the rows stay in the outbox for the next attempt.
func (f *Flusher) FlushOnce(ctx context.Context) (int, error) {
	var claimed []store.OutboxRow
	var flushed int
	err := f.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		claimed = nil
		flushed = 0
		if err := f.store.LockFlush(ctx, tx); err != nil {
			return err
		}
		rows, err := f.store.ClaimOutbox(ctx, tx, f.batchSize)
		if err != nil {
			return err
		}
		claimed = rows
		if len(rows) == 0 {
			return nil
		}
		headSeq, headHash, err := f.store.Head(ctx, tx)
		if err != nil {
			return err
		}
		records := HashChain(headSeq, headHash, rows)
		if err := f.store.Append(ctx, tx, records); err != nil {
			return err
		}
		seqs := make([]int64, 0, len(rows))
		for _, row := range rows {
			seqs = append(seqs, row.Seq)
		}
		if err := f.store.DeleteOutbox(ctx, tx, seqs); err != nil {
			return err
		}
		flushed = len(records)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Int("claimed", len(claimed)).Msg("audit flush failed")
		f.alert(ctx, claimed, err)
		return 0, err
	}
	if flushed > 0 {
		log.Debug().Int("flushed", flushed).Msg("audit outbox flushed")
	}
	return flushed, nil
}

func (f *Flusher) alert(ctx context.Context, rows []store.OutboxRow, cause error) {
	if f.alerter == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, row := range rows {
		if err := f.alerter.Alert(ctx, row, cause.Error()); err != nil {
			log.Error().Err(err).Int64("outbox_seq", row.Seq).Msg("audit alert delivery failed")
			return
		}
	}
}
