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

package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/cor"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
)

// RunStore records the state machine position of runs.
type RunStore interface {
	SaveRun(ctx context.Context, run *model.RunRecord) error
}

// RecordRunState is a pass-through command placed between workflow steps. It
// saves the state the run is entering and forwards its input unchanged.
// Failing to save is logged and never stops the run.
type RecordRunState struct {
	cor.BaseCommand
	store RunStore
	state model.RunState
}

func NewRecordRunState(name string, store RunStore, state model.RunState) *RecordRunState {
	return &RecordRunState{BaseCommand: *cor.NewBaseCommand(name), store: store, state: state}
}

func (c *RecordRunState) Execute(context cor.Context) {
	in := context.Get(c.GetInputParam())
	SaveRunState(context, c.store, c.state, nil, nil)
	c.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(c.GetOutputParam(), in)
}

// SaveRunState writes the run record of the run held by context. result and
// failure may be nil.
func SaveRunState(context cor.Context, store RunStore, state model.RunState, result *model.IngestionResult, failure error) {
	if store == nil {
		return
	}
	ctx := context.GetContext()
	runID, _ := context.Get(cor.CtxRunID).(string)
	if runID == "" {
		return
	}

	record := &model.RunRecord{RunID: runID, State: state, UpdatedAt: time.Now().UTC()}
	if event, ok := context.Get(CtxUploadEvent).(*model.UploadEvent); ok {
		record.SourceURL = event.SourceURL
		record.Brand = event.Brand
	}
	if result != nil {
		record.Written = result.Written()
		record.Failed = len(result.Outcomes) - record.Written
	}
	if failure != nil {
		record.Error = failure.Error()
	}
	if err := store.SaveRun(ctx, record); err != nil {
		slog.WarnContext(ctx, "unable to record run state", "run_id", runID, "state", string(state), "error", err)
	}
}
