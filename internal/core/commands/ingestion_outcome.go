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
	"fmt"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/cor"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
)

// IngestionOutcome decides whether the enrichment result completes the run.
// With failOnZeroClips set, a run in which no clip was written fails with
// model.ErrNoClipsWritten. The result is always forwarded.
type IngestionOutcome struct {
	cor.BaseCommand
	failOnZeroClips bool
}

func NewIngestionOutcome(name string, failOnZeroClips bool) *IngestionOutcome {
	return &IngestionOutcome{BaseCommand: *cor.NewBaseCommand(name), failOnZeroClips: failOnZeroClips}
}

func (c *IngestionOutcome) Execute(context cor.Context) {
	result, ok := context.Get(c.GetInputParam()).(*model.IngestionResult)
	if !ok {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), fmt.Errorf("missing ingestion result"))
		return
	}
	context.Add(c.GetOutputParam(), result)

	if c.failOnZeroClips && result.Written() == 0 {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), fmt.Errorf("%w: all %d clips failed enrichment", model.ErrNoClipsWritten, len(result.Outcomes)))
		return
	}
	c.GetSuccessCounter().Add(context.GetContext(), 1)
}
