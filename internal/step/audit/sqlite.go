// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package audit persists the invocation log to SQLite for post-run
// analysis. The sink is write-mostly: one insert batch at the end of a run,
// ad-hoc reads from tooling afterwards.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/conveyor-ci/conveyor/internal/step"
)

// Store is a SQLite-backed sink for invocation records.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the audit database at path and runs migrations.
// The special value ":memory:" creates an in-memory database.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("audit database path is required")
	}

	connStr := path
	if path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to audit database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run audit migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS invocations (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    execution_id TEXT NOT NULL,
    seq          INTEGER NOT NULL,
    step         TEXT NOT NULL,
    args         TEXT,
    exit_code    INTEGER,
    stdout       TEXT,
    stderr       TEXT,
    duration_ms  INTEGER,
    error        TEXT,
    called_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invocations_execution
    ON invocations(execution_id, seq);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// WriteLog appends a run's full invocation log under its execution id.
func (s *Store) WriteLog(ctx context.Context, executionID string, invocations []step.Invocation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO invocations (execution_id, seq, step, args, exit_code, stdout, stderr, duration_ms, error, called_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for seq, inv := range invocations {
		args, err := encodeArgs(inv)
		if err != nil {
			return err
		}

		var exitCode, durationMS any
		var stdout, stderr string
		if inv.Result != nil {
			exitCode = inv.Result.ExitCode
			durationMS = inv.Result.Duration.Milliseconds()
			stdout = inv.Result.Stdout
			stderr = inv.Result.Stderr
		}
		var errText any
		if inv.Err != nil {
			errText = inv.Err.Error()
		}

		if _, err := stmt.ExecContext(ctx, executionID, seq, inv.StepName, args,
			exitCode, stdout, stderr, durationMS, errText, inv.Timestamp.UTC()); err != nil {
			return fmt.Errorf("insert invocation %d: %w", seq, err)
		}
	}

	return tx.Commit()
}

// CountByStep returns the per-step dispatch counts for one execution.
func (s *Store) CountByStep(ctx context.Context, executionID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step, COUNT(*) FROM invocations WHERE execution_id = ? GROUP BY step`, executionID)
	if err != nil {
		return nil, fmt.Errorf("query audit counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			return nil, err
		}
		out[name] = count
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeArgs(inv step.Invocation) (string, error) {
	var payload any
	if inv.Args.Named != nil {
		payload = inv.Args.Named
	} else {
		payload = inv.Args.Positional
	}
	if payload == nil {
		return "", nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode args for %s: %w", inv.StepName, err)
	}
	return string(encoded), nil
}
