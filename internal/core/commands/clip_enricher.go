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

// This file defines the per-clip enrichment step of the ingestion workflow.
//
// Logic Flow:
//
//  1. It receives the clip references produced by the splitter and the upload
//     event (for the brand) from the context.
//  2. **Worker Pool Pattern**: clips are sent to a `jobs` channel consumed by a
//     configurable number of workers. One worker (the default) processes the
//     clips sequentially.
//  3. Each worker first looks up the `clip:<url>` checkpoint of the run. A clip
//     that was written by an earlier delivery of the same event is not
//     enriched again.
//  4. Otherwise the worker hands the clip to the enricher, which runs the
//     analysis calls, embeds, derives the blur and writes the record. The
//     outcome of a written clip is checkpointed.
//  5. Clip failures are clip-local: they are logged, counted in the outcome and
//     never recorded as a chain error, so sibling clips always run.
//  6. The ordered outcomes are stored as a `*model.IngestionResult`.
package commands

import (
	goctx "context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/cor"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/remote"
)

// ClipProcessor enriches and writes one clip.
type ClipProcessor interface {
	Process(ctx goctx.Context, clip *model.ClipReference, brand string) (*model.ClipOutcome, error)
}

const (
	// ClipStepPrefix prefixes the journal step of every clip.
	ClipStepPrefix = "clip:"
	// CtxIngestionResult is the context key of the *model.IngestionResult.
	CtxIngestionResult = "__ingestion_result__"
)

// ClipEnricher is the per-clip fan-out step.
type ClipEnricher struct {
	cor.BaseCommand
	processor       ClipProcessor
	journal         cor.StepJournal
	numberOfWorkers int
}

// clipJob is one unit of work for an enrichment worker.
type clipJob struct {
	index int
	clip  *model.ClipReference
}

// NewClipEnricher is the constructor for the ClipEnricher command.
//
// Inputs:
//   - name: A string name for this command instance.
//   - processor: Enriches and writes a single clip.
//   - journal: Per-clip checkpoints; may be nil.
//   - numberOfWorkers: Clips processed concurrently within one event.
func NewClipEnricher(name string, processor ClipProcessor, journal cor.StepJournal, numberOfWorkers int) *ClipEnricher {
	if numberOfWorkers <= 0 {
		numberOfWorkers = 1
	}
	return &ClipEnricher{
		BaseCommand:     *cor.NewBaseCommand(name),
		processor:       processor,
		journal:         journal,
		numberOfWorkers: numberOfWorkers,
	}
}

func (c *ClipEnricher) IsExecutable(context cor.Context) bool {
	_, hasClips := context.Get(c.GetInputParam()).([]*model.ClipReference)
	_, hasEvent := context.Get(CtxUploadEvent).(*model.UploadEvent)
	return hasClips && hasEvent && context.GetContext() != nil
}

func (c *ClipEnricher) Execute(context cor.Context) {
	ctx := context.GetContext()
	clips := context.Get(c.GetInputParam()).([]*model.ClipReference)
	event := context.Get(CtxUploadEvent).(*model.UploadEvent)
	runID, _ := context.Get(cor.CtxRunID).(string)

	result := &model.IngestionResult{RunID: runID, Brand: event.Brand, Outcomes: make([]*model.ClipOutcome, len(clips))}

	jobs := make(chan clipJob, len(clips))
	var wg sync.WaitGroup
	for w := 0; w < min(c.numberOfWorkers, len(clips)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				result.Outcomes[job.index] = c.enrich(ctx, runID, event.Brand, job.clip)
			}
		}()
	}
	for i, clip := range clips {
		jobs <- clipJob{index: i, clip: clip}
	}
	close(jobs)
	wg.Wait()

	written := result.Written()
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.Int("clips.total", len(clips)), attribute.Int("clips.written", written))
	if written < len(clips) {
		slog.WarnContext(ctx, "some clips failed enrichment", "run_id", runID, "brand", event.Brand,
			"clips_total", len(clips), "clips_written", written)
	}
	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(CtxIngestionResult, result)
	context.Add(c.GetOutputParam(), result)
}

func (c *ClipEnricher) enrich(ctx goctx.Context, runID, brand string, clip *model.ClipReference) *model.ClipOutcome {
	ctx, span := c.GetTracer().Start(ctx, "enrich-clip", trace.WithAttributes(attribute.String("clip_url", clip.URL)))
	defer span.End()

	step := ClipStepPrefix + clip.URL
	if c.journal != nil && runID != "" {
		var prior model.ClipOutcome
		err := c.journal.LoadStep(ctx, runID, step, &prior)
		if err == nil && prior.Written {
			span.SetAttributes(attribute.Bool("step.replayed", true))
			slog.InfoContext(ctx, "clip already processed in an earlier delivery", "run_id", runID, "clip_url", clip.URL)
			return &prior
		}
		if err != nil && !errors.Is(err, cor.ErrStepNotFound) {
			slog.WarnContext(ctx, "unable to read clip checkpoint", "run_id", runID, "clip_url", clip.URL, "error", err)
		}
	}

	outcome, err := c.processor.Process(ctx, clip, brand)
	if outcome == nil {
		outcome = &model.ClipOutcome{URL: clip.URL}
	}
	if err != nil {
		if outcome.Error == "" {
			outcome.Error = err.Error()
		}
		span.SetStatus(codes.Error, "clip enrichment failed")
		c.GetErrorCounter().Add(ctx, 1)
		slog.WarnContext(ctx, "clip enrichment failed", "run_id", runID, "clip_url", clip.URL, "brand", brand,
			"call", failedCall(err), "error", err)
		return outcome
	}

	if c.journal != nil && runID != "" {
		if err := c.journal.SaveStep(ctx, runID, step, outcome); err != nil {
			slog.WarnContext(ctx, "unable to checkpoint clip", "run_id", runID, "clip_url", clip.URL, "error", err)
		}
	}
	span.SetStatus(codes.Ok, "clip written")
	return outcome
}

// failedCall names the remote call behind err, if any.
func failedCall(err error) string {
	var re *remote.Error
	if errors.As(err, &re) {
		return re.Call
	}
	return ""
}
