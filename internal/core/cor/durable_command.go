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

package cor

import (
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DurableCommand decorates a Command so that its output is checkpointed in a
// StepJournal under the current run. When the same run executes again, the
// checkpointed output is replayed into the context and the wrapped command is
// not executed. T is the type the wrapped command writes to its output param.
//
// Only the output parameter is replayed; a wrapped command must not rely on
// other context keys being set for downstream commands.
type DurableCommand[T any] struct {
	Command
	journal StepJournal
	step    string
}

// NewDurableCommand wraps command. The step key defaults to the command name.
func NewDurableCommand[T any](command Command, journal StepJournal) *DurableCommand[T] {
	return &DurableCommand[T]{Command: command, journal: journal, step: command.GetName()}
}

// Execute replays a checkpoint when one exists, otherwise runs the wrapped
// command and checkpoints its output on success.
func (d *DurableCommand[T]) Execute(context Context) {
	runID, _ := context.Get(CtxRunID).(string)
	if d.journal == nil || runID == "" {
		d.Command.Execute(context)
		return
	}
	ctx := context.GetContext()
	span := trace.SpanFromContext(ctx)

	var replay T
	err := d.journal.LoadStep(ctx, runID, d.step, &replay)
	switch {
	case err == nil:
		span.SetAttributes(attribute.Bool("step.replayed", true))
		slog.InfoContext(ctx, "replaying checkpointed step", "run_id", runID, "step", d.step)
		context.Add(d.GetOutputParam(), replay)
		return
	case !errors.Is(err, ErrStepNotFound):
		slog.WarnContext(ctx, "unable to read step checkpoint, executing step", "run_id", runID, "step", d.step, "error", err)
	}

	span.SetAttributes(attribute.Bool("step.replayed", false))
	d.Command.Execute(context)
	if context.HasErrors() {
		return
	}

	out, ok := context.Get(d.GetOutputParam()).(T)
	if !ok {
		return
	}
	if err := d.journal.SaveStep(ctx, runID, d.step, out); err != nil {
		slog.WarnContext(ctx, "unable to checkpoint step", "run_id", runID, "step", d.step, "error", err)
	}
}
