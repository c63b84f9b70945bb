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

package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"google.golang.org/genai"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
)

// DefaultDescriptionPrompt asks for the visual description of a clip. The
// example answer is appended as JSON.
const DefaultDescriptionPrompt = `Describe what is visible in this video clip in two to four sentences:
the people and their approximate age, the setting, the action and the camera framing.
Do not mention timestamps, audio or text overlays.
Answer with a JSON object shaped exactly like this example:
`

// GeminiDescriber produces visual descriptions with a Gemini model instead of
// the remote description service.
type GeminiDescriber struct {
	agent   *QuotaAwareGenerativeAIModel
	prompt  string
	metrics GenerationMetrics
}

func NewGeminiDescriber(agent *QuotaAwareGenerativeAIModel) *GeminiDescriber {
	example, _ := json.Marshal(model.GetExampleVisualDescription())
	d := &GeminiDescriber{agent: agent, prompt: DefaultDescriptionPrompt + string(example)}

	meter := otel.Meter("github.com/jaycherian/gcp-go-clip-catalog")
	d.metrics.InputTokens, _ = meter.Int64Counter("clip-describer.gemini.token.input")
	d.metrics.OutputTokens, _ = meter.Int64Counter("clip-describer.gemini.token.output")
	d.metrics.Retries, _ = meter.Int64Counter("clip-describer.gemini.retry")
	return d
}

// Describe sends the clip to the model by its gs:// URI and returns the
// description.
func (d *GeminiDescriber) Describe(ctx context.Context, url string) (string, error) {
	content := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			NewFileData(GSURI(url), "video/mp4"),
			{Text: d.prompt},
		},
	}}

	out, err := d.agent.GenerateText(ctx, content, d.metrics)
	if err != nil {
		return "", fmt.Errorf("describe %s: %w", url, err)
	}

	var answer model.VisualDescription
	if err := json.Unmarshal([]byte(out), &answer); err != nil {
		slog.DebugContext(ctx, "description is not json, using raw text", "clip_url", url)
		answer.Description = out
	}
	answer.Description = strings.TrimSpace(answer.Description)
	if answer.Description == "" {
		return "", fmt.Errorf("describe %s: model returned no description", url)
	}
	return answer.Description, nil
}
