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

package workflow

import (
	"context"
	"sync"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
)

// LocalDispatcher runs accepted events in background goroutines of this
// process instead of publishing them to the ingestion queue. Runs still wait
// for a slot under the workflow's concurrency cap. Events are lost if the
// process stops, so it is only meant for local development and tests.
type LocalDispatcher struct {
	workflow *IngestionWorkflow
	base     context.Context
	wg       sync.WaitGroup
}

// NewLocalDispatcher creates a dispatcher whose runs live as long as base.
func NewLocalDispatcher(base context.Context, workflow *IngestionWorkflow) *LocalDispatcher {
	return &LocalDispatcher{workflow: workflow, base: base}
}

// Dispatch starts the run and returns immediately.
func (d *LocalDispatcher) Dispatch(_ context.Context, event *model.UploadEvent) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// Failures are logged and journaled by the workflow.
		_, _ = d.workflow.Run(d.base, event)
	}()
	return nil
}

// Wait blocks until every dispatched run has finished.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}
