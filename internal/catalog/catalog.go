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

// Package catalog persists enriched clips and serves the read side used by
// the search routes. Every backend stores the record as a document keyed by
// video_url; a write is a single statement that inserts the record only if
// no record with that video_url exists, so a record is either missing or
// complete, and a second write of the same clip, concurrent or not, is
// reported as model.ErrDuplicateKey.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
)

// DefaultTable is the collection enriched clips are written to.
const DefaultTable = "modular_clips"

// Writer stores enriched clips.
type Writer interface {
	// Write inserts clip. It returns an error wrapping model.ErrValidation when
	// required fields are missing, and model.ErrDuplicateKey when a record with
	// the same video_url already exists.
	Write(ctx context.Context, clip *model.EnrichedClip) error
}

// Reader looks up enriched clips.
type Reader interface {
	// GetByURL returns the clip stored under videoURL or model.ErrNotFound.
	GetByURL(ctx context.Context, videoURL string) (*model.EnrichedClip, error)

	// Search returns up to k clips of brand ordered by similarity to vector.
	Search(ctx context.Context, brand string, vector []float64, k int) ([]*model.ClipMatch, error)
}

// Catalog is a complete backend.
type Catalog interface {
	Writer
	Reader
	Close() error
}

// prepare validates clip and stamps its creation date.
func prepare(clip *model.EnrichedClip) error {
	if clip == nil {
		return fmt.Errorf("%w: nil clip", model.ErrValidation)
	}
	if err := clip.Validate(); err != nil {
		return err
	}
	if clip.CreateDate.IsZero() {
		clip.CreateDate = time.Now().UTC()
	}
	return nil
}

func encodeDocument(clip *model.EnrichedClip) (string, error) {
	raw, err := json.Marshal(clip.Document())
	if err != nil {
		return "", fmt.Errorf("encode clip document %s: %w", clip.VideoURL, err)
	}
	return string(raw), nil
}

func decodeDocument(doc string, created time.Time) (*model.EnrichedClip, error) {
	clip := &model.EnrichedClip{}
	if err := json.Unmarshal([]byte(doc), clip); err != nil {
		return nil, fmt.Errorf("decode clip document: %w", err)
	}
	clip.CreateDate = created
	return clip, nil
}

// rawDocument exposes a stored document as a generic map, keeping key
// presence exactly as stored.
func rawDocument(doc string) map[string]interface{} {
	out := make(map[string]interface{})
	_ = json.Unmarshal([]byte(doc), &out)
	return out
}

// CosineDistance is 1 - cosine similarity. Vectors of different length, or
// zero vectors, are maximally distant.
func CosineDistance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// rank orders candidates by distance to vector and keeps the k closest.
func rank(candidates []*model.EnrichedClip, vector []float64, k int) []*model.ClipMatch {
	matches := make([]*model.ClipMatch, 0, len(candidates))
	for _, c := range candidates {
		matches = append(matches, &model.ClipMatch{Clip: c, Distance: CosineDistance(c.Embedding, vector)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
