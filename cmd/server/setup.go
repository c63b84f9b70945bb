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

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/googleapis/gax-go/v2"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/api"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/catalog"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/checkpoint"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/cloud"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/services"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/workflow"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/remote"
)

// StateManager holds the shared components of the server.
type StateManager struct {
	config     *cloud.Config
	cloud      *cloud.ServiceClients
	catalog    catalog.Catalog
	journal    checkpoint.Journal
	embedder   remote.Embedder
	signer     *cloud.URLSigner
	workflow   *workflow.IngestionWorkflow
	dispatcher api.Dispatcher
	publisher  *cloud.PubSubPublisher
	local      *workflow.LocalDispatcher
	listening  <-chan struct{} // Closed once the ingestion listener has drained.
}

var state = &StateManager{}

// SetupOS defaults the configuration directory and runtime for a server
// started from the repository root.
func SetupOS() (err error) {
	if os.Getenv(cloud.EnvConfigFilePrefix) == "" {
		if err = os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
			return err
		}
	}
	if os.Getenv(cloud.EnvConfigRuntime) == "" {
		err = os.Setenv(cloud.EnvConfigRuntime, "local")
	}
	return err
}

func GetConfig() *cloud.Config {
	if state.config == nil {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup os: %v\n", err)
		}
		config := cloud.NewConfig()
		if err := cloud.LoadConfig(config); err != nil {
			log.Fatalf("failed to load configuration: %v\n", err)
		}
		state.config = config
	}
	return state.config
}

// InitState builds every component of the ingestion pipeline. ctx is the
// lifetime of the process: listeners and runs dispatched in local mode stop
// when it is canceled.
func InitState(ctx context.Context) error {
	config := GetConfig()

	cloudClients, err := cloud.NewCloudServiceClients(ctx, config)
	if err != nil {
		return fmt.Errorf("create cloud clients: %w", err)
	}
	state.cloud = cloudClients

	if state.journal, err = openJournal(ctx, config); err != nil {
		return err
	}
	if state.catalog, err = openCatalog(ctx, config, cloudClients); err != nil {
		return err
	}

	// Analysis calls share one rate limited client. Conversion and downloads
	// are long running and bounded by their own timeouts.
	servicesClient := remote.NewClient(
		remote.WithTimeout(time.Duration(config.Services.RequestTimeoutSeconds)*time.Second),
		remote.WithRateLimit(config.Services.RequestsPerSecond),
	)
	streamClient := remote.NewClient(remote.WithTimeout(0))

	remoteServices := remote.NewServices(servicesClient, remote.Endpoints{
		TalentAge:    config.Services.TalentAge,
		Poster:       config.Services.Poster,
		Description:  config.Services.Description,
		Duration:     config.Services.Duration,
		ABRoll:       config.Services.ABRoll,
		ShotType:     config.Services.ShotType,
		Blur:         config.Services.Blur,
		Segmentation: config.Services.Segmentation,
		Trim:         config.Services.Trim,
	})

	converter := remote.NewConverter(streamClient, remote.ConverterConfig{
		Endpoint:       config.Conversion.Endpoint,
		MaxAttempts:    config.Conversion.MaxAttempts,
		MessageTimeout: time.Duration(config.Conversion.MessageTimeoutSeconds) * time.Second,
		OverallTimeout: time.Duration(config.Conversion.OverallTimeoutSeconds) * time.Second,
		Backoff: gax.Backoff{
			Initial:    time.Duration(config.Conversion.InitialBackoffSeconds) * time.Second,
			Max:        30 * time.Second,
			Multiplier: 2,
		},
	})
	store := cloud.NewGCSBlobStore(cloudClients.StorageClient, config.Storage.CanonicalBucket, config.Storage.CanonicalHost)
	normalizer := services.NewFormatNormalizer(converter, streamClient, store, services.NormalizerConfig{
		ConvertibleExtensions: config.Conversion.SupportedExtensions,
		PassThroughUnknown:    config.Application.PassThroughUnknownFormats,
	})
	splitter := services.NewClipSplitter(remoteServices, config.Application.ShortVideoThresholdSeconds)

	if state.embedder, err = newEmbedder(config, cloudClients, servicesClient); err != nil {
		return err
	}

	var opts []services.EnricherOption
	if config.Description.Provider == "gemini" {
		agent, ok := cloudClients.AgentModels[config.Description.AgentModel]
		if !ok {
			return fmt.Errorf("agent model %q is not configured", config.Description.AgentModel)
		}
		opts = append(opts, services.WithDescriber(cloud.NewGeminiDescriber(agent)))
	}
	if cloudClients.IAMClient != nil {
		state.signer = cloud.NewURLSigner(cloudClients.StorageClient, cloudClients.IAMClient,
			config.Application.SignerServiceAccountEmail, cloud.DefaultSignedURLTTL)
		opts = append(opts, services.WithURLSigner(state.signer))
	}
	streaming := remote.NewStreamingHost(servicesClient, config.Mux.BaseURL, config.Mux.TokenID, config.Mux.TokenSecret, config.Mux.VideoQuality)
	enricher := services.NewClipEnricher(remoteServices, streaming, state.embedder, state.catalog, services.EnricherConfig{
		PosterBucket: config.Storage.PosterBucket,
		Products:     config.Products(),
	}, opts...)

	state.workflow = workflow.NewIngestionWorkflow(normalizer, splitter, enricher, state.journal, workflow.Options{
		MaxConcurrentEvents: config.Application.MaxConcurrentEvents,
		ClipConcurrency:     config.Application.ClipConcurrency,
		Timeout:             config.WorkflowTimeout(),
		FailOnZeroClips:     config.Application.FailOnZeroClips,
	})

	switch config.Ingestion.Mode {
	case "pubsub":
		state.publisher = cloud.NewPubSubPublisher(cloudClients.PubsubClient, config.Ingestion.Topic)
		state.dispatcher = state.publisher
		state.listening = SetupListeners(ctx, config, cloudClients, state.workflow)
	case "local":
		slog.Warn("ingestion runs in process; accepted events are lost on restart")
		state.local = workflow.NewLocalDispatcher(ctx, state.workflow)
		state.dispatcher = state.local
	default:
		return fmt.Errorf("unknown ingestion mode %q", config.Ingestion.Mode)
	}
	return nil
}

func openJournal(ctx context.Context, config *cloud.Config) (checkpoint.Journal, error) {
	switch config.Checkpoint.Backend {
	case "sqlite":
		return checkpoint.OpenSQLite(ctx, config.Checkpoint.Path)
	case "memory":
		return checkpoint.NewMemoryJournal(), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", config.Checkpoint.Backend)
	}
}

func openCatalog(ctx context.Context, config *cloud.Config, cloudClients *cloud.ServiceClients) (catalog.Catalog, error) {
	switch config.Catalog.Backend {
	case "bigquery":
		bq := catalog.NewBigQuery(cloudClients.BiqQueryClient, config.Catalog.Dataset, config.Catalog.Table)
		if err := bq.EnsureTable(ctx); err != nil {
			return nil, err
		}
		return bq, nil
	case "postgres":
		db, err := catalog.ConnectPostgres(ctx, config.Catalog.PostgresDSN)
		if err != nil {
			return nil, err
		}
		pg := catalog.NewPostgres(db)
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil
	case "memory":
		return catalog.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown catalog backend %q", config.Catalog.Backend)
	}
}

func newEmbedder(config *cloud.Config, cloudClients *cloud.ServiceClients, client *remote.Client) (remote.Embedder, error) {
	switch config.Embedding.Provider {
	case "openai":
		if config.Embedding.APIKey == "" {
			return nil, errors.New("embedding api key is not set, export " + cloud.EnvOpenAIKey)
		}
		return remote.NewOpenAIEmbedder(client, config.Embedding.APIKey, config.Embedding.BaseURL,
			config.Embedding.Model, config.Embedding.Dimensions), nil
	case "vertex":
		return remote.NewVertexEmbedder(cloudClients.GenAIClient.Models, config.Embedding.Model, config.Embedding.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", config.Embedding.Provider)
	}
}

// CloseState waits for in-flight runs, then releases every client. The
// context passed to InitState must be canceled first.
func CloseState() {
	if state.listening != nil {
		<-state.listening
	}
	if state.local != nil {
		state.local.Wait()
	}
	if state.publisher != nil {
		state.publisher.Stop()
	}
	if state.catalog != nil {
		if err := state.catalog.Close(); err != nil {
			slog.Warn("failed to close catalog", "error", err)
		}
	}
	if state.journal != nil {
		if err := state.journal.Close(); err != nil {
			slog.Warn("failed to close checkpoint journal", "error", err)
		}
	}
	if state.cloud != nil {
		state.cloud.Close()
	}
}
