// Command audit-archive copies the flushed audit chain into a bbolt file and
// verifies such files offline.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"parking/internal/archive"
	"parking/internal/audit"
	"parking/internal/db"
	"parking/internal/models"
	"parking/internal/store"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type chainReader interface {
	Chain(ctx context.Context, fromSeq int64, limit int) ([]models.AuditRecord, error)
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	fs := ff.NewFlagSet("audit-archive")
	var (
		mode        = fs.StringLong("mode", "verify", "export or verify")
		file        = fs.StringLong("file", "audit-archive.db", "archive file path")
		databaseURL = fs.StringLong("database-url", "", "postgres URL, required for export")
		from        = fs.IntLong("from", 1, "first seq to export")
		to          = fs.IntLong("to", 0, "last seq to export, 0 for the current head")
		batch       = fs.IntLong("batch", 1000, "records read per query")
	)
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("PARKING_ARCHIVE")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	arch, err := archive.Open(*file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("failed to open archive")
	}
	defer arch.Close()

	switch *mode {
	case "export":
		if *databaseURL == "" {
			log.Fatal().Msg("--database-url is required for export")
		}
		database, err := db.Connect(ctx, *databaseURL, db.Pool{MaxOpen: 2, MaxIdle: 1})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect database")
		}
		defer database.Close()
		n, err := export(ctx, store.NewAuditStore(database), arch, int64(*from), int64(*to), *batch)
		if err != nil {
			log.Fatal().Err(err).Int("exported", n).Msg("export failed")
		}
		log.Info().Int("exported", n).Str("file", *file).Msg("export complete")
	case "verify":
		n, err := arch.Verify()
		if err != nil {
			if errors.Is(err, audit.ErrChainBroken) {
				log.Error().Err(err).Str("file", *file).Msg("archive failed verification")
				os.Exit(2)
			}
			log.Fatal().Err(err).Msg("verify failed")
		}
		types, _ := arch.EntityTypes()
		log.Info().Int("records", n).Strs("entity_types", types).Msg("archive verified")
	default:
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		log.Fatal().Str("mode", *mode).Msg("unknown mode")
	}
}

// export copies seq range [from, to] into dst, checking each batch links to
// the previous one before it is written. to <= 0 means up to the head.
func export(ctx context.Context, src chainReader, dst *archive.Archive, from, to int64, batch int) (int, error) {
	if batch <= 0 {
		batch = 1000
	}
	if from < 1 {
		from = 1
	}
	var (
		exported int
		prevHash string
		anchored bool
	)
	next := from
	for to <= 0 || next <= to {
		rows, err := src.Chain(ctx, next, batch)
		if err != nil {
			return exported, err
		}
		if to > 0 {
			for i, row := range rows {
				if row.Seq > to {
					rows = rows[:i]
					break
				}
			}
		}
		if len(rows) == 0 {
			break
		}
		if rows[0].Seq != next {
			return exported, fmt.Errorf("%w: expected seq %d, got %d", audit.ErrChainBroken, next, rows[0].Seq)
		}
		if !anchored {
			prevHash = rows[0].PrevHash
			anchored = true
		}
		if _, err := audit.VerifyChain(rows, prevHash); err != nil {
			return exported, err
		}
		if err := dst.Write(rows); err != nil {
			return exported, err
		}
		exported += len(rows)
		last := rows[len(rows)-1]
		prevHash = last.Hash
		next = last.Seq + 1
		log.Debug().Int64("through", last.Seq).Int("exported", exported).Msg("batch archived")
		if len(rows) < batch {
			break
		}
	}
	return exported, nil
}
