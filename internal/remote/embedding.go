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

package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"google.golang.org/genai"
)

// DefaultEmbeddingModel is the OpenAI model used for clip descriptions.
const DefaultEmbeddingModel = "text-embedding-3-small"

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// OpenAIEmbedder embeds text with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder builds an embedder. baseURL may be empty for the public
// API. Requests go through client so they share its tracing transport and the
// SDK's own retries are disabled.
func NewOpenAIEmbedder(client *Client, apiKey, baseURL, model string, dimensions int) *OpenAIEmbedder {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(client.HTTPClient()),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &OpenAIEmbedder{
		client:     openai.NewClient(opts...),
		model:      model,
		dimensions: dimensions,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &Error{Call: CallEmbedding, Kind: KindEmpty, Message: "nothing to embed"}
	}
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(e.model),
	}
	if e.dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &Error{Call: CallEmbedding, Kind: KindStatus, StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
		}
		return nil, &Error{Call: CallEmbedding, Kind: KindNetwork, Message: err.Error(), Err: err}
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, empty(CallEmbedding, "data[0].embedding")
	}
	return resp.Data[0].Embedding, nil
}

// VertexEmbedder embeds text with a Vertex AI embedding model.
type VertexEmbedder struct {
	models     *genai.Models
	model      string
	dimensions int
}

// NewVertexEmbedder uses the models handle of an existing genai client.
func NewVertexEmbedder(models *genai.Models, model string, dimensions int) *VertexEmbedder {
	return &VertexEmbedder{models: models, model: model, dimensions: dimensions}
}

func (e *VertexEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &Error{Call: CallEmbedding, Kind: KindEmpty, Message: "nothing to embed"}
	}
	var config *genai.EmbedContentConfig
	if e.dimensions > 0 {
		config = &genai.EmbedContentConfig{OutputDimensionality: genai.Ptr[int32](int32(e.dimensions))}
	}
	resp, err := e.models.EmbedContent(ctx, e.model, []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, config)
	if err != nil {
		return nil, &Error{Call: CallEmbedding, Kind: KindNetwork, Message: fmt.Sprintf("vertex embed %s: %v", e.model, err), Err: err}
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, empty(CallEmbedding, "embeddings[0].values")
	}
	values := resp.Embeddings[0].Values
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out, nil
}
