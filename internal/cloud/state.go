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

// This file holds the Google Cloud clients of the application. A single
// ServiceClients value is created at startup and handed to the components
// that need an external connection.
//
// Logic Flow:
//  1. `NewCloudServiceClients` is called with the loaded `Config`.
//  2. The Storage client is always created; canonical storage lives in GCS.
//  3. Pub/Sub, GenAI, BigQuery and IAM clients are created only when the
//     configuration selects a component that uses them.
//  4. Pub/Sub listeners and Gemini agent models are built from the
//     configuration maps and keyed by their logical names.
package cloud

import (
	"context"
	"errors"
	"log/slog"

	"cloud.google.com/go/bigquery"
	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"google.golang.org/genai"
)

// ServiceClients is the container of every Google Cloud client. Clients that
// the configuration does not need are nil.
type ServiceClients struct {
	StorageClient   *storage.Client                         // Client for Google Cloud Storage (GCS).
	PubsubClient    *pubsub.Client                          // Client for Google Cloud Pub/Sub, in pubsub ingestion mode.
	GenAIClient     *genai.Client                           // Client for Vertex AI, when a Gemini or Vertex component is configured.
	BiqQueryClient  *bigquery.Client                        // Client for BigQuery, when it backs the catalog.
	IAMClient       *credentials.IamCredentialsClient       // Client for IAM to sign clip URLs.
	PubSubListeners map[string]*PubSubListener              // Active listeners, keyed by a logical name from the config.
	AgentModels     map[string]*QuotaAwareGenerativeAIModel // Gemini models, keyed by a logical name.
}

// Close releases every client that was created.
func (c *ServiceClients) Close() {
	if c.StorageClient != nil {
		_ = c.StorageClient.Close()
	}
	if c.PubsubClient != nil {
		_ = c.PubsubClient.Close()
	}
	if c.BiqQueryClient != nil {
		_ = c.BiqQueryClient.Close()
	}
	if c.IAMClient != nil {
		_ = c.IAMClient.Close()
	}
}

// usesGenAI reports whether any configured component talks to Vertex AI.
func usesGenAI(config *Config) bool {
	return config.Embedding.Provider == "vertex" || config.Description.Provider == "gemini"
}

// NewCloudServiceClients initializes the Google Cloud clients the
// configuration needs. On error every client created so far is closed.
func NewCloudServiceClients(ctx context.Context, config *Config) (_ *ServiceClients, err error) {
	cloud := &ServiceClients{
		PubSubListeners: make(map[string]*PubSubListener),
		AgentModels:     make(map[string]*QuotaAwareGenerativeAIModel),
	}
	defer func() {
		if err != nil {
			cloud.Close()
		}
	}()

	if cloud.StorageClient, err = storage.NewClient(ctx); err != nil {
		return nil, err
	}

	if config.Ingestion.Mode == "pubsub" {
		if cloud.PubsubClient, err = pubsub.NewClient(ctx, config.Application.GoogleProjectId); err != nil {
			return nil, err
		}
		for subKey, values := range config.TopicSubscriptions {
			listener, err := NewPubSubListener(cloud.PubsubClient, values.Name, config.Application.MaxConcurrentEvents, nil)
			if err != nil {
				return nil, err
			}
			cloud.PubSubListeners[subKey] = listener
		}
		if _, ok := cloud.PubSubListeners[config.Ingestion.Subscription]; !ok {
			return nil, errors.New("ingestion subscription " + config.Ingestion.Subscription + " is not configured")
		}
	}

	if usesGenAI(config) {
		slog.DebugContext(ctx, "creating genai client",
			"project", config.Application.GoogleProjectId, "location", config.Application.GoogleLocation)
		cloud.GenAIClient, err = genai.NewClient(ctx, &genai.ClientConfig{
			Project:  config.Application.GoogleProjectId,
			Location: config.Application.GoogleLocation,
			Backend:  genai.BackendVertexAI,
		})
		if err != nil {
			return nil, err
		}

		// Each agent model gets its generation settings and is wrapped in the
		// rate limiting QuotaAware model.
		for amKey, values := range config.AgentModels {
			generation := &genai.GenerateContentConfig{
				Temperature:       genai.Ptr[float32](values.Temperature),
				TopP:              genai.Ptr[float32](values.TopP),
				TopK:              genai.Ptr[float32](values.TopK),
				MaxOutputTokens:   values.MaxTokens,
				SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: values.SystemInstructions}}},
				SafetySettings:    DefaultSafetySettings,
				ResponseMIMEType:  values.OutputFormat,
			}
			cloud.AgentModels[amKey] = NewQuotaAwareModel(generation, values.Model, cloud.GenAIClient.Models, values.RateLimit)
		}
	}

	if config.Catalog.Backend == "bigquery" {
		if cloud.BiqQueryClient, err = bigquery.NewClient(ctx, config.Application.GoogleProjectId); err != nil {
			return nil, err
		}
	}

	if config.Application.SignerServiceAccountEmail != "" {
		if cloud.IAMClient, err = credentials.NewIamCredentialsClient(ctx); err != nil {
			return nil, err
		}
	}

	return cloud, nil
}
