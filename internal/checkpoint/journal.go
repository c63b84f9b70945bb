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

// Package checkpoint is the durable event log of ingestion runs. It stores the
// output of every completed workflow step keyed by run and step name, so a
// redelivered UploadEvent resumes instead of repeating remote calls, and it
// keeps the state machine position of every run for the status API.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/cor"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
)

// Journal is a step journal that also tracks run state.
type Journal interface {
	cor.StepJournal

	// SaveRun inserts or replaces the record of a run.
	SaveRun(ctx context.Context, run *model.RunRecord) error

	// GetRun returns the record of a run or model.ErrNotFound.
	GetRun(ctx context.Context, runID string) (*model.RunRecord, error)

	Close() error
}

// MemoryJournal keeps checkpoints in process memory. Checkpoints do not
// survive a restart, which is enough for tests and single-shot local runs.
type MemoryJournal struct {
	mu    sync.RWMutex
	steps map[string][]byte
	runs  map[string]model.RunRecord
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		steps: make(map[string][]byte),
		runs:  make(map[string]model.RunRecord),
	}
}

func stepKey(runID, step string) string {
	return runID + "\x00" + step
}

func (j *MemoryJournal) LoadStep(_ context.Context, runID string, step string, out interface{}) error {
	j.mu.RLock()
	raw, ok := j.steps[stepKey(runID, step)]
	j.mu.RUnlock()
	if !ok {
		return cor.ErrStepNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode checkpoint %s/%s: %w", runID, step, err)
	}
	return nil
}

func (j *MemoryJournal) SaveStep(_ context.Context, runID string, step string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s/%s: %w", runID, step, err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.steps[stepKey(runID, step)] = raw
	return nil
}

func (j *MemoryJournal) SaveRun(_ context.Context, run *model.RunRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec := *run
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	j.runs[run.RunID] = rec
	return nil
}

func (j *MemoryJournal) GetRun(_ context.Context, runID string) (*model.RunRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	rec, ok := j.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, model.ErrNotFound)
	}
	return &rec, nil
}

func (j *MemoryJournal) Close() error {
	return nil
}
