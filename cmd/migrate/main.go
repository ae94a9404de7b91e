// Command migrate applies migrations/*.sql in filename order. With --down it
// rolls back the most recently applied file instead.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"parking/internal/config"
	"parking/internal/db"

	"github.com/jmoiron/sqlx"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const downMarker = "-- +migrate Down"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	fs := ff.NewFlagSet("migrate")
	var (
		dir  = fs.StringLong("dir", "migrations", "directory holding NNNN_name.sql files")
		down = fs.BoolLong("down", "roll back the latest applied migration")
	)
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("PARKING_MIGRATE")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	database, err := db.Connect(ctx, cfg.DatabaseURL, db.Pool{MaxOpen: 1, MaxIdle: 1})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	defer database.Close()

	if *down {
		name, err := rollback(ctx, database, *dir)
		if err != nil {
			log.Fatal().Err(err).Msg("rollback failed")
		}
		log.Info().Str("file", name).Msg("rolled back migration")
		return
	}
	applied, err := migrate(ctx, database, *dir)
	if err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Int("applied", applied).Msg("migrations up to date")
}

func ensureTable(ctx context.Context, database *sqlx.DB) error {
	_, err := database.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	return err
}

func migrate(ctx context.Context, database *sqlx.DB, dir string) (int, error) {
	if err := ensureTable(ctx, database); err != nil {
		return 0, err
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return 0, err
	}
	sort.Strings(files)

	applied := 0
	for _, file := range files {
		name := filepath.Base(file)
		var done bool
		if err := database.GetContext(ctx, &done, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename = $1)`, name); err != nil {
			return applied, err
		}
		if done {
			continue
		}
		up, _, err := readSections(file)
		if err != nil {
			return applied, err
		}
		err = inTx(ctx, database, func(tx *sqlx.Tx) error {
			if err := execScript(ctx, tx, up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("%s: %w", name, err)
		}
		applied++
		log.Info().Str("file", name).Msg("applied migration")
	}
	return applied, nil
}

func rollback(ctx context.Context, database *sqlx.DB, dir string) (string, error) {
	if err := ensureTable(ctx, database); err != nil {
		return "", err
	}
	var name string
	err := database.GetContext(ctx, &name, `SELECT filename FROM schema_migrations ORDER BY filename DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.New("nothing to roll back")
	}
	if err != nil {
		return "", err
	}
	_, down, err := readSections(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(down) == "" {
		return "", fmt.Errorf("%s has no down section", name)
	}
	return name, inTx(ctx, database, func(tx *sqlx.Tx) error {
		if err := execScript(ctx, tx, down); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE filename = $1`, name)
		return err
	})
}

// inTx uses a plain transaction; DDL does not need the serializable retry
// loop of db.WithTx.
func inTx(ctx context.Context, database *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := database.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// readSections returns the text above and below the down marker.
func readSections(path string) (string, string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	up, down, _ := strings.Cut(string(content), downMarker)
	return up, down, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execScript(ctx context.Context, db execer, script string) error {
	for i, stmt := range splitSQL(script) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	return nil
}

// splitSQL cuts after every line ending in ';' and drops comment lines and
// empty statements. Statements must not put ';' mid-line.
func splitSQL(script string) []string {
	var statements []string
	var current strings.Builder
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}
	scanner := bufio.NewScanner(strings.NewReader(script))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()
	return statements
}
