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
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/cor"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
)

// Normalizer makes a source video an MP4 on canonical storage.
type Normalizer interface {
	Normalize(ctx context.Context, sourceURL string) (*model.NormalizedVideo, error)
}

// VideoNormalizer is the first workflow-fatal step. It reads the
// *model.UploadEvent from its input and writes a *model.NormalizedVideo.
type VideoNormalizer struct {
	cor.BaseCommand
	normalizer Normalizer
}

// NewVideoNormalizer is the constructor for the VideoNormalizer command.
//
// Inputs:
//   - name: A string name for this command instance.
//   - normalizer: The service doing conversion and re-upload.
func NewVideoNormalizer(name string, normalizer Normalizer) *VideoNormalizer {
	return &VideoNormalizer{BaseCommand: *cor.NewBaseCommand(name), normalizer: normalizer}
}

func (c *VideoNormalizer) IsExecutable(context cor.Context) bool {
	_, ok := context.Get(c.GetInputParam()).(*model.UploadEvent)
	return ok && context.GetContext() != nil
}

func (c *VideoNormalizer) Execute(context cor.Context) {
	ctx := context.GetContext()
	event := context.Get(c.GetInputParam()).(*model.UploadEvent)
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("source_url", event.SourceURL), attribute.String("brand", event.Brand))

	video, err := c.normalizer.Normalize(ctx, event.SourceURL)
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), fmt.Errorf("failed to normalize %s: %w", event.SourceURL, err))
		return
	}

	if video.URL != event.SourceURL {
		slog.InfoContext(ctx, "source video normalized", "source_url", event.SourceURL, "normalized_url", video.URL)
	}
	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(c.GetOutputParam(), video)
}
