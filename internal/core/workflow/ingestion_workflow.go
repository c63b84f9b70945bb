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

// Package workflow defines the high-level orchestration of the clip ingestion
// pipeline, combining the commands into a chain and running it under the
// system-wide concurrency cap and the per-run deadline.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/checkpoint"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/commands"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/cor"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
)

// Step names. The durable ones double as journal keys.
const (
	StepReadEvent  = "upload-event-reader"
	StepNormalize  = "normalize"
	StepSplit      = "split"
	StepEnrich     = "clip-enricher"
	StepOutcome    = "ingestion-outcome"
	DefaultTimeout = 30 * time.Minute
)

// DefaultMaxConcurrentEvents is the system-wide cap on running workflows.
const DefaultMaxConcurrentEvents = 3

// Options tune an IngestionWorkflow.
type Options struct {
	MaxConcurrentEvents int           // Workflows executing at once; excess runs wait.
	ClipConcurrency     int           // Clips enriched concurrently within one run.
	Timeout             time.Duration // Deadline of one run.
	FailOnZeroClips     bool          // Fail a run in which every clip failed.
}

// IngestionWorkflow turns one UploadEvent into catalog records. It is
// structured as a cor.Chain:
//
//	read event → Received → Normalizing → normalize → Splitting → split →
//	Enriching → enrich clips → outcome
//
// The normalize and split steps are checkpointed in the journal, as is every
// written clip, so a redelivered event resumes where the previous delivery
// stopped.
type IngestionWorkflow struct {
	cor.BaseCommand
	options    Options
	normalizer commands.Normalizer
	splitter   commands.Splitter
	processor  commands.ClipProcessor
	journal    checkpoint.Journal
	sem        *semaphore.Weighted
	chain      cor.Chain
}

// NewIngestionWorkflow is the constructor for the IngestionWorkflow.
//
// Inputs:
//   - normalizer, splitter, processor: The services behind each step.
//   - journal: Step checkpoints and run state; must not be nil.
//   - options: Concurrency, deadline and the zero-clip policy.
func NewIngestionWorkflow(
	normalizer commands.Normalizer,
	splitter commands.Splitter,
	processor commands.ClipProcessor,
	journal checkpoint.Journal,
	options Options) *IngestionWorkflow {

	if options.MaxConcurrentEvents <= 0 {
		options.MaxConcurrentEvents = DefaultMaxConcurrentEvents
	}
	if options.ClipConcurrency <= 0 {
		options.ClipConcurrency = 1
	}
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}

	w := &IngestionWorkflow{
		BaseCommand: *cor.NewBaseCommand("ingestion-workflow"),
		options:     options,
		normalizer:  normalizer,
		splitter:    splitter,
		processor:   processor,
		journal:     journal,
		sem:         semaphore.NewWeighted(int64(options.MaxConcurrentEvents)),
	}
	w.initializeChain()
	return w
}

func (w *IngestionWorkflow) initializeChain() {
	out := cor.NewBaseChain(w.GetName())

	// Step 1: Parse and validate the trigger message.
	out.AddCommand(commands.NewUploadEventReader(StepReadEvent))
	out.AddCommand(commands.NewRecordRunState("record-received", w.journal, model.RunReceived))

	// Step 2: Make the source an MP4 on canonical storage. Workflow-fatal.
	out.AddCommand(commands.NewRecordRunState("record-normalizing", w.journal, model.RunNormalizing))
	out.AddCommand(cor.NewDurableCommand[*model.NormalizedVideo](
		commands.NewVideoNormalizer(StepNormalize, w.normalizer), w.journal))

	// Step 3: Cut the normalized video into clips. Workflow-fatal.
	out.AddCommand(commands.NewRecordRunState("record-splitting", w.journal, model.RunSplitting))
	out.AddCommand(cor.NewDurableCommand[[]*model.ClipReference](
		commands.NewClipSplitter(StepSplit, w.splitter), w.journal))

	// Step 4: Enrich and catalog every clip. Clip failures stay clip-local.
	out.AddCommand(commands.NewRecordRunState("record-enriching", w.journal, model.RunEnriching))
	out.AddCommand(commands.NewClipEnricher(StepEnrich, w.processor, w.journal, w.options.ClipConcurrency))

	// Step 5: Apply the zero-clip policy.
	out.AddCommand(commands.NewIngestionOutcome(StepOutcome, w.options.FailOnZeroClips))

	w.chain = out
}

// Execute runs the chain on an already prepared context.
func (w *IngestionWorkflow) Execute(context cor.Context) {
	w.chain.Execute(context)
}

// Run executes the workflow for one UploadEvent, given as raw JSON (string
// or []byte) or as a parsed *model.UploadEvent. It waits for a
// free slot under the concurrency cap, applies the run deadline and records
// the terminal state of the run. The returned error wraps the taxonomy
// sentinel of the failure: model.ErrMalformedInput, ErrNormalizationFailed,
// ErrSplitFailed, ErrNoClipsWritten or ErrWorkflowTimeout.
func (w *IngestionWorkflow) Run(ctx context.Context, message interface{}) (*model.IngestionResult, error) {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a workflow slot: %w", err)
	}
	defer w.sem.Release(1)

	runCtx, cancel := context.WithTimeoutCause(ctx, w.options.Timeout, model.ErrWorkflowTimeout)
	defer cancel()

	chainCtx := cor.NewBaseContext()
	chainCtx.SetContext(runCtx)
	chainCtx.Add(cor.CtxIn, message)

	w.Execute(chainCtx)

	result, _ := chainCtx.Get(commands.CtxIngestionResult).(*model.IngestionResult)
	err := collectErrors(chainCtx.GetErrors())
	if err == nil && runCtx.Err() != nil {
		err = context.Cause(runCtx)
	}
	if err == nil && result == nil {
		err = fmt.Errorf("ingestion run produced no result")
	}
	if errors.Is(context.Cause(runCtx), model.ErrWorkflowTimeout) && !errors.Is(err, model.ErrWorkflowTimeout) {
		err = fmt.Errorf("%w: %w", model.ErrWorkflowTimeout, err)
	}

	// The run's own context may be expired; the terminal state still has to land.
	chainCtx.SetContext(context.WithoutCancel(ctx))
	event, _ := chainCtx.Get(commands.CtxUploadEvent).(*model.UploadEvent)
	runID, _ := chainCtx.Get(cor.CtxRunID).(string)

	if err != nil {
		if event == nil {
			slog.WarnContext(ctx, "upload event rejected", "error", err)
		} else {
			slog.ErrorContext(ctx, "ingestion run failed", "run_id", runID, "source_url", event.SourceURL,
				"brand", event.Brand, "step", failedStep(chainCtx.GetErrors()), "error", err)
			commands.SaveRunState(chainCtx, w.journal, model.RunFailed, result, err)
		}
		return result, err
	}

	slog.InfoContext(ctx, "ingestion run completed", "run_id", runID, "source_url", event.SourceURL,
		"brand", event.Brand, "clips_written", result.Written(), "clips_total", len(result.Outcomes))
	commands.SaveRunState(chainCtx, w.journal, model.RunCompleted, result, nil)
	return result, nil
}

// collectErrors joins the chain errors ordered by the name of the failing command.
func collectErrors(errs map[string]error) error {
	if len(errs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	joined := make([]error, 0, len(keys))
	for _, k := range keys {
		joined = append(joined, errs[k])
	}
	return errors.Join(joined...)
}

func failedStep(errs map[string]error) string {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}
