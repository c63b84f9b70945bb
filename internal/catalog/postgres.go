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

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
)

// ConnectPostgres opens a pooled connection through the pgx driver.
func ConnectPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return db, nil
}

type postgresRow struct {
	Document   string    `db:"document"`
	CreateDate time.Time `db:"create_date"`
}

// Postgres stores clips as JSONB documents with a unique video_url.
type Postgres struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the clip table and its indexes.
func (p *Postgres) Migrate(ctx context.Context) error {
	const q = `
		CREATE TABLE IF NOT EXISTS modular_clips (
			video_url   TEXT PRIMARY KEY,
			brand       TEXT NOT NULL,
			document    JSONB NOT NULL,
			create_date TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS modular_clips_brand_idx ON modular_clips (brand);
	`
	if _, err := p.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("clips migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Write(ctx context.Context, clip *model.EnrichedClip) error {
	if err := prepare(clip); err != nil {
		return err
	}
	doc, err := encodeDocument(clip)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO modular_clips (video_url, brand, document, create_date)
		VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (video_url) DO NOTHING
	`
	res, err := p.db.ExecContext(ctx, q, clip.VideoURL, clip.Brand, doc, clip.CreateDate)
	if err != nil {
		return fmt.Errorf("clip create: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("clip create: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("clip create %s: %w", clip.VideoURL, model.ErrDuplicateKey)
	}
	return nil
}

func (p *Postgres) GetByURL(ctx context.Context, videoURL string) (*model.EnrichedClip, error) {
	const q = `
		SELECT document::text AS document, create_date
		FROM modular_clips
		WHERE video_url = $1
	`
	var row postgresRow
	if err := p.db.GetContext(ctx, &row, q, videoURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("clip %s: %w", videoURL, model.ErrNotFound)
		}
		return nil, fmt.Errorf("clip get by url: %w", err)
	}
	return decodeDocument(row.Document, row.CreateDate)
}

// Search ranks the brand's clips in process; the embedding lives inside the
// document so no vector extension is required.
func (p *Postgres) Search(ctx context.Context, brand string, vector []float64, k int) ([]*model.ClipMatch, error) {
	const q = `
		SELECT document::text AS document, create_date
		FROM modular_clips
		WHERE brand = $1
	`
	var rows []postgresRow
	if err := p.db.SelectContext(ctx, &rows, q, brand); err != nil {
		return nil, fmt.Errorf("clip search: %w", err)
	}
	candidates := make([]*model.EnrichedClip, 0, len(rows))
	for _, row := range rows {
		clip, err := decodeDocument(row.Document, row.CreateDate)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, clip)
	}
	return rank(candidates, vector, k), nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
