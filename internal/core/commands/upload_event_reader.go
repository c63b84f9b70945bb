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

// Package commands provides the concrete implementations of the Chain of
// Responsibility (COR) pattern's Command interface for the clip ingestion
// workflow. This file defines the entry command of the workflow.
//
// Logic Flow:
// The workflow is triggered by an UploadEvent delivered by the ingestion
// queue. This command turns the raw message into a validated event.
//
//  1. The command receives the raw message data, as a string or byte slice,
//     from the context.
//  2. It parses and validates the payload into a `model.UploadEvent`,
//     accepting the legacy `publicURL` field and promoting `M:SS` durations.
//  3. The event is stored under CtxUploadEvent for the commands that need
//     the brand or the duration, and the run ID derived from it is stored
//     under cor.CtxRunID unless the caller already set one.
//  4. The event is also placed in the output parameter so that it becomes the
//     input of the format normalizer.
package commands

import (
	"fmt"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/cor"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
)

// CtxUploadEvent is the context key of the parsed *model.UploadEvent.
const CtxUploadEvent = "__upload_event__"

// UploadEventReader is a command that parses the raw trigger message of a run.
type UploadEventReader struct {
	cor.BaseCommand // Embeds the BaseCommand for common functionality.
}

// NewUploadEventReader is the constructor for the UploadEventReader command.
//
// Inputs:
//   - name: A string name for this command instance.
//
// Outputs:
//   - *UploadEventReader: A pointer to the newly instantiated command.
func NewUploadEventReader(name string) *UploadEventReader {
	return &UploadEventReader{BaseCommand: *cor.NewBaseCommand(name)}
}

// Execute parses the message. Malformed messages are recorded as errors
// wrapping model.ErrMalformedInput so that the caller can drop them instead of
// asking for redelivery.
func (c *UploadEventReader) Execute(context cor.Context) {
	var raw []byte
	switch in := context.Get(c.GetInputParam()).(type) {
	case string:
		raw = []byte(in)
	case []byte:
		raw = in
	case *model.UploadEvent:
		// Already parsed by the trigger; re-validate the copy we keep.
		event := *in
		event.Normalize()
		if err := event.Validate(); err != nil {
			c.fail(context, err)
			return
		}
		c.publish(context, &event)
		return
	default:
		c.fail(context, fmt.Errorf("%w: unsupported message type %T", model.ErrMalformedInput, in))
		return
	}

	event, err := model.ParseUploadEvent(raw)
	if err != nil {
		c.fail(context, err)
		return
	}
	c.publish(context, event)
}

func (c *UploadEventReader) publish(context cor.Context, event *model.UploadEvent) {
	c.GetSuccessCounter().Add(context.GetContext(), 1)
	if runID, _ := context.Get(cor.CtxRunID).(string); runID == "" {
		context.Add(cor.CtxRunID, event.RunID())
	}
	context.Add(CtxUploadEvent, event)
	context.Add(c.GetOutputParam(), event)
}

func (c *UploadEventReader) fail(context cor.Context, err error) {
	c.GetErrorCounter().Add(context.GetContext(), 1)
	context.AddError(c.GetName(), fmt.Errorf("failed to read upload event: %w", err))
}
