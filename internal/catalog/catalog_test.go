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

package catalog_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/catalog"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clip(url, brand string, embedding ...float64) *model.EnrichedClip {
	c := &model.EnrichedClip{
		VideoURL:      url,
		Description:   "a dog running on a beach",
		Embedding:     embedding,
		PosterURL:     url + ".webp",
		BlurDataURL:   "data:image/webp;base64,AAAA",
		Duration:      "0:12",
		Brand:         brand,
		MuxAssetID:    "asset",
		MuxPlaybackID: "playback",
		ABRoll:        "B-roll",
		ShotTypes:     []string{"wide"},
	}
	c.SetTalentAge(model.TalentAgeNotApplicable)
	return c
}

// backends returns every catalog that can run in this environment. The
// Postgres backend needs CATALOG_TEST_POSTGRES_DSN.
func backends(t *testing.T) map[string]catalog.Catalog {
	t.Helper()
	out := map[string]catalog.Catalog{"memory": catalog.NewMemory()}
	if dsn := os.Getenv("CATALOG_TEST_POSTGRES_DSN"); dsn != "" {
		ctx := context.Background()
		db, err := catalog.ConnectPostgres(ctx, dsn)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS modular_clips")
		require.NoError(t, err)
		pg := catalog.NewPostgres(db)
		require.NoError(t, pg.Migrate(ctx))
		t.Cleanup(func() { _ = pg.Close() })
		out["postgres"] = pg
	}
	return out
}

func TestWriteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Write(ctx, clip("https://storage.googleapis.com/b/idem.mp4", "acme", 1, 0)))

			err := c.Write(ctx, clip("https://storage.googleapis.com/b/idem.mp4", "acme", 0, 1))
			assert.True(t, errors.Is(err, model.ErrDuplicateKey))

			stored, err := c.GetByURL(ctx, "https://storage.googleapis.com/b/idem.mp4")
			require.NoError(t, err)
			assert.Equal(t, []float64{1, 0}, stored.Embedding, "first write wins")
		})
	}
}

func TestWriteRejectsIncompleteRecords(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			incomplete := clip("https://storage.googleapis.com/b/partial.mp4", "acme")
			err := c.Write(ctx, incomplete)
			assert.True(t, errors.Is(err, model.ErrValidation))
			assert.Contains(t, err.Error(), "embedding")

			_, err = c.GetByURL(ctx, "https://storage.googleapis.com/b/partial.mp4")
			assert.True(t, errors.Is(err, model.ErrNotFound))

			assert.True(t, errors.Is(c.Write(ctx, nil), model.ErrValidation))
		})
	}
}

func TestTalentAgeOmittedFromDocument(t *testing.T) {
	ctx := context.Background()
	mem := catalog.NewMemory()

	require.NoError(t, mem.Write(ctx, clip("https://storage.googleapis.com/b/na.mp4", "acme", 1)))
	withAge := clip("https://storage.googleapis.com/b/kid.mp4", "acme", 1)
	withAge.SetTalentAge("18-24")
	require.NoError(t, mem.Write(ctx, withAge))

	docs := mem.Documents("acme")
	require.Len(t, docs, 2)
	_, present := docs[0]["talent_age"]
	assert.False(t, present)
	assert.Equal(t, "18-24", docs[1]["talent_age"])
}

func TestSearchRanksWithinBrand(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Write(ctx, clip("https://storage.googleapis.com/b/s1.mp4", "acme", 1, 0)))
			require.NoError(t, c.Write(ctx, clip("https://storage.googleapis.com/b/s2.mp4", "acme", 0.7, 0.7)))
			require.NoError(t, c.Write(ctx, clip("https://storage.googleapis.com/b/s3.mp4", "acme", 0, 1)))
			require.NoError(t, c.Write(ctx, clip("https://storage.googleapis.com/b/other.mp4", "globex", 1, 0)))

			matches, err := c.Search(ctx, "acme", []float64{1, 0.1}, 2)
			require.NoError(t, err)
			require.Len(t, matches, 2)
			assert.Equal(t, "https://storage.googleapis.com/b/s1.mp4", matches[0].Clip.VideoURL)
			assert.Equal(t, "https://storage.googleapis.com/b/s2.mp4", matches[1].Clip.VideoURL)
			assert.LessOrEqual(t, matches[0].Distance, matches[1].Distance)
		})
	}
}

func TestConcurrentWritersOfOneClip(t *testing.T) {
	ctx := context.Background()
	mem := catalog.NewMemory()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- mem.Write(ctx, clip("https://storage.googleapis.com/b/race.mp4", "acme", 1))
		}()
	}
	wg.Wait()
	close(errs)

	written, duplicates := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			written++
		case errors.Is(err, model.ErrDuplicateKey):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, written)
	assert.Equal(t, 9, duplicates)
	assert.Equal(t, 1, mem.Len())
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		a, b []float64
		want float64
	}{
		{[]float64{1, 0}, []float64{1, 0}, 0},
		{[]float64{1, 0}, []float64{0, 1}, 1},
		{[]float64{1, 0}, []float64{-1, 0}, 2},
		{[]float64{1, 0}, []float64{1, 0, 0}, 2},
		{[]float64{0, 0}, []float64{1, 0}, 2},
	}
	for i, tt := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			assert.InDelta(t, tt.want, catalog.CosineDistance(tt.a, tt.b), 1e-9)
		})
	}
}
