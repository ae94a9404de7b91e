package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// scriptedDriver fails the first failCommits commits with failCode and counts
// every commit and rollback.
type scriptedDriver struct {
	failCommits int64
	failCode    pq.ErrorCode
	commits     atomic.Int64
	rollbacks   atomic.Int64
}

func (d *scriptedDriver) Open(string) (driver.Conn, error) { return scriptedConn{d}, nil }

type scriptedConn struct{ d *scriptedDriver }

func (c scriptedConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c scriptedConn) Close() error                        { return nil }
func (c scriptedConn) Begin() (driver.Tx, error)           { return scriptedTx{c.d}, nil }

// BeginTx lets database/sql accept the serializable isolation level.
func (c scriptedConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return scriptedTx{c.d}, nil
}

type scriptedTx struct{ d *scriptedDriver }

func (t scriptedTx) Commit() error {
	if t.d.commits.Add(1) <= t.d.failCommits {
		return &pq.Error{Code: t.d.failCode}
	}
	return nil
}

func (t scriptedTx) Rollback() error {
	t.d.rollbacks.Add(1)
	return nil
}

var driverSeq atomic.Uint64

func openScripted(t *testing.T, d *scriptedDriver) *sqlx.DB {
	t.Helper()
	name := fmt.Sprintf("scripted-%d", driverSeq.Add(1))
	sql.Register(name, d)
	sqlDB, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlx.NewDb(sqlDB, name)
}

func TestWithTxCommitAndRollback(t *testing.T) {
	d := &scriptedDriver{}
	xdb := openScripted(t, d)

	if err := WithTx(context.Background(), xdb, func(*sqlx.Tx) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	boom := errors.New("boom")
	if err := WithTx(context.Background(), xdb, func(*sqlx.Tx) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected closure error, got %v", err)
	}
	if d.commits.Load() != 1 || d.rollbacks.Load() != 1 {
		t.Fatalf("expected commit=1 rollback=1, got %d/%d", d.commits.Load(), d.rollbacks.Load())
	}
}

func TestWithTxRetriesCommitConflicts(t *testing.T) {
	cases := []struct {
		name        string
		failCommits int64
		failCode    pq.ErrorCode
		wantErr     error
		wantCommits int64
	}{
		{name: "one serialization failure", failCommits: 1, failCode: codeSerializationFailure, wantCommits: 2},
		{name: "deadlock then success", failCommits: 3, failCode: codeDeadlockDetected, wantCommits: 4},
		{name: "never succeeds", failCommits: 10, failCode: codeDeadlockDetected, wantErr: ErrRetryLimit, wantCommits: maxAttempts},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := &scriptedDriver{failCommits: tc.failCommits, failCode: tc.failCode}
			err := WithTx(context.Background(), openScripted(t, d), func(*sqlx.Tx) error { return nil })
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if d.commits.Load() != tc.wantCommits {
				t.Fatalf("expected %d commits, got %d", tc.wantCommits, d.commits.Load())
			}
		})
	}
}

func TestWithTxCommitFailureIsNotRetried(t *testing.T) {
	d := &scriptedDriver{failCommits: 1, failCode: codeUniqueViolation}
	err := WithTx(context.Background(), openScripted(t, d), func(*sqlx.Tx) error { return nil })
	if !IsUniqueViolation(err, "") {
		t.Fatalf("expected unique violation, got %v", err)
	}
	if d.commits.Load() != 1 {
		t.Fatalf("expected a single commit, got %d", d.commits.Load())
	}
}

func TestWithTxReRunsClosureOnConflict(t *testing.T) {
	d := &scriptedDriver{}
	calls := 0
	err := WithTx(context.Background(), openScripted(t, d), func(*sqlx.Tx) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("lock ticket: %w", &pq.Error{Code: codeDeadlockDetected})
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 || d.rollbacks.Load() != 1 || d.commits.Load() != 1 {
		t.Fatalf("calls=%d commits=%d rollbacks=%d", calls, d.commits.Load(), d.rollbacks.Load())
	}
}

func TestWithTxStopsRetryingWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := WithTx(ctx, openScripted(t, &scriptedDriver{}), func(*sqlx.Tx) error {
		calls++
		cancel()
		return &pq.Error{Code: codeSerializationFailure}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert ticket: %w", &pq.Error{Code: codeUniqueViolation, Constraint: "tickets_one_active_per_plate"})
	checks := []struct {
		constraint string
		want       bool
	}{
		{"", true},
		{"tickets_one_active_per_plate", true},
		{"registers_one_open_per_operator", false},
	}
	for _, c := range checks {
		if got := IsUniqueViolation(err, c.constraint); got != c.want {
			t.Fatalf("constraint %q: expected %v", c.constraint, c.want)
		}
	}
	if IsUniqueViolation(errors.New("boom"), "") {
		t.Fatalf("plain error is not a unique violation")
	}
	if IsRetryable(err) {
		t.Fatalf("unique violation is not retryable")
	}
}
