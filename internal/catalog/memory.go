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
	"fmt"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
)

type memoryRecord struct {
	document string
	brand    string
	created  time.Time
}

// Memory is a process-local catalog. Records are kept as encoded documents,
// so what is read back is exactly what a document store would hold.
type Memory struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	order   []string
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]memoryRecord)}
}

func (m *Memory) Write(_ context.Context, clip *model.EnrichedClip) error {
	if err := prepare(clip); err != nil {
		return err
	}
	doc, err := encodeDocument(clip)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[clip.VideoURL]; exists {
		return fmt.Errorf("write %s: %w", clip.VideoURL, model.ErrDuplicateKey)
	}
	m.records[clip.VideoURL] = memoryRecord{document: doc, brand: clip.Brand, created: clip.CreateDate}
	m.order = append(m.order, clip.VideoURL)
	return nil
}

func (m *Memory) GetByURL(_ context.Context, videoURL string) (*model.EnrichedClip, error) {
	m.mu.RLock()
	rec, ok := m.records[videoURL]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("clip %s: %w", videoURL, model.ErrNotFound)
	}
	return decodeDocument(rec.document, rec.created)
}

func (m *Memory) Search(_ context.Context, brand string, vector []float64, k int) ([]*model.ClipMatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	candidates := make([]*model.EnrichedClip, 0)
	for _, url := range m.order {
		rec := m.records[url]
		if rec.brand != brand {
			continue
		}
		clip, err := decodeDocument(rec.document, rec.created)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, clip)
	}
	return rank(candidates, vector, k), nil
}

// Documents returns the stored documents of brand in insertion order.
func (m *Memory) Documents(brand string) []map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]map[string]interface{}, 0)
	for _, url := range m.order {
		rec := m.records[url]
		if brand != "" && rec.brand != brand {
			continue
		}
		out = append(out, rawDocument(rec.document))
	}
	return out
}

// Len is the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *Memory) Close() error {
	return nil
}
