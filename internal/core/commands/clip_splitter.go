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
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/cor"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
)

// Splitter cuts a normalized video into clips.
type Splitter interface {
	Split(ctx context.Context, video *model.NormalizedVideo, durationSeconds int) ([]*model.ClipReference, error)
}

// ClipSplitter is the second workflow-fatal step. It reads the
// *model.NormalizedVideo from its input, the duration from the upload event
// and writes the []*model.ClipReference of the run.
type ClipSplitter struct {
	cor.BaseCommand
	splitter Splitter
}

func NewClipSplitter(name string, splitter Splitter) *ClipSplitter {
	return &ClipSplitter{BaseCommand: *cor.NewBaseCommand(name), splitter: splitter}
}

func (c *ClipSplitter) IsExecutable(context cor.Context) bool {
	_, hasVideo := context.Get(c.GetInputParam()).(*model.NormalizedVideo)
	_, hasEvent := context.Get(CtxUploadEvent).(*model.UploadEvent)
	return hasVideo && hasEvent && context.GetContext() != nil
}

func (c *ClipSplitter) Execute(context cor.Context) {
	ctx := context.GetContext()
	video := context.Get(c.GetInputParam()).(*model.NormalizedVideo)
	event := context.Get(CtxUploadEvent).(*model.UploadEvent)

	clips, err := c.splitter.Split(ctx, video, event.DurationSeconds())
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), fmt.Errorf("failed to split %s: %w", video.URL, err))
		return
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("clip_count", len(clips)))
	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(c.GetOutputParam(), clips)
}
