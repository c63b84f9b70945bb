// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package checkpoint

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/cor"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 1

// ErrSchemaMismatch indicates the journal was created by an incompatible version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// SQLiteJournal persists checkpoints in a local SQLite database.
type SQLiteJournal struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the journal database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteJournal, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	j := &SQLiteJournal{db: db, path: path}
	if err := j.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *SQLiteJournal) initSchema(ctx context.Context) error {
	var tableExists int
	err := j.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		tx, err := j.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := j.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: %s has version %d, expected %d", ErrSchemaMismatch, j.path, version, schemaVersion)
	}
	return nil
}

func (j *SQLiteJournal) LoadStep(ctx context.Context, runID string, step string, out interface{}) error {
	var payload string
	err := j.db.QueryRowContext(ctx,
		"SELECT payload FROM run_steps WHERE run_id = ? AND step = ?", runID, step,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return cor.ErrStepNotFound
	}
	if err != nil {
		return fmt.Errorf("load step %s/%s: %w", runID, step, err)
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return fmt.Errorf("decode step %s/%s: %w", runID, step, err)
	}
	return nil
}

func (j *SQLiteJournal) SaveStep(ctx context.Context, runID string, step string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode step %s/%s: %w", runID, step, err)
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO run_steps (run_id, step, payload, created_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(run_id, step) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
		runID, step, string(payload), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save step %s/%s: %w", runID, step, err)
	}
	return nil
}

func (j *SQLiteJournal) SaveRun(ctx context.Context, run *model.RunRecord) error {
	updated := run.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, source_url, brand, state, error, clips_written, clips_failed, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(run_id) DO UPDATE SET
             state = excluded.state,
             error = excluded.error,
             clips_written = excluded.clips_written,
             clips_failed = excluded.clips_failed,
             updated_at = excluded.updated_at`,
		run.RunID, run.SourceURL, run.Brand, string(run.State), run.Error,
		run.Written, run.Failed, updated.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.RunID, err)
	}
	return nil
}

func (j *SQLiteJournal) GetRun(ctx context.Context, runID string) (*model.RunRecord, error) {
	var (
		rec     model.RunRecord
		state   string
		updated string
	)
	err := j.db.QueryRowContext(ctx,
		`SELECT run_id, source_url, brand, state, error, clips_written, clips_failed, updated_at
         FROM runs WHERE run_id = ?`, runID,
	).Scan(&rec.RunID, &rec.SourceURL, &rec.Brand, &state, &rec.Error, &rec.Written, &rec.Failed, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	rec.State = model.RunState(state)
	if t, parseErr := time.Parse(time.RFC3339Nano, updated); parseErr == nil {
		rec.UpdatedAt = t
	}
	return &rec, nil
}

// Close closes the underlying database connection.
func (j *SQLiteJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
