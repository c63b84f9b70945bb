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
	"fmt"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// MaxRetries bounds the retries of one generation request.
const MaxRetries = 3

// QuotaAwareGenerativeAIModel couples a Gemini model and its generation config
// with a rate limiter, so that concurrent clips stay within the Vertex AI
// quota.
type QuotaAwareGenerativeAIModel struct {
	GenerativeContentConfig *genai.GenerateContentConfig
	ModelName               string
	ModelHandle             *genai.Models
	RateLimit               *rate.Limiter
}

// NewQuotaAwareModel admits requestsPerSecond requests with an equal burst.
func NewQuotaAwareModel(config *genai.GenerateContentConfig, name string, models *genai.Models, requestsPerSecond int) *QuotaAwareGenerativeAIModel {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	return &QuotaAwareGenerativeAIModel{
		GenerativeContentConfig: config,
		ModelName:               name,
		ModelHandle:             models,
		RateLimit:               rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
	}
}

// GenerateContent waits for the limiter, then calls the model once.
func (q *QuotaAwareGenerativeAIModel) GenerateContent(ctx context.Context, content []*genai.Content) (*genai.GenerateContentResponse, error) {
	if err := q.RateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for %s quota: %w", q.ModelName, err)
	}
	return q.ModelHandle.GenerateContent(ctx, q.ModelName, content, q.GenerativeContentConfig)
}

// GenerationMetrics are the counters updated by GenerateText. Nil counters
// are skipped.
type GenerationMetrics struct {
	InputTokens  metric.Int64Counter
	OutputTokens metric.Int64Counter
	Retries      metric.Int64Counter
}

// GenerateText calls the model, retrying failed requests up to MaxRetries
// times with exponential backoff, and returns the text of all candidates. A
// surrounding ```json fence is removed.
func (q *QuotaAwareGenerativeAIModel) GenerateText(ctx context.Context, content []*genai.Content, metrics GenerationMetrics) (string, error) {
	backoff := gax.Backoff{Initial: time.Second, Max: 8 * time.Second, Multiplier: 2}

	var resp *genai.GenerateContentResponse
	var err error
	for attempt := 0; ; attempt++ {
		resp, err = q.GenerateContent(ctx, content)
		if err == nil {
			break
		}
		if attempt == MaxRetries || ctx.Err() != nil {
			return "", fmt.Errorf("%s after %d attempts: %w", q.ModelName, attempt+1, err)
		}
		if metrics.Retries != nil {
			metrics.Retries.Add(ctx, 1)
		}
		if sleepErr := gax.Sleep(ctx, backoff.Pause()); sleepErr != nil {
			return "", sleepErr
		}
	}

	if usage := resp.UsageMetadata; usage != nil {
		if metrics.InputTokens != nil {
			metrics.InputTokens.Add(ctx, int64(usage.PromptTokenCount))
		}
		if metrics.OutputTokens != nil {
			metrics.OutputTokens.Add(ctx, int64(usage.CandidatesTokenCount))
		}
	}

	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text), nil
}
