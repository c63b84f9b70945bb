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

// Package cloud provides components for interacting with Google Cloud services
// and the deployment configuration that ties them together. This file defines
// the Go structs that map to the TOML configuration files.
//
// The configuration is loaded hierarchically (see LoadConfig): a base
// `.env.toml` followed by a runtime specific `.env.<runtime>.toml`. Secrets may
// be supplied through environment variables instead of files.
package cloud

import (
	"os"
	"time"

	"google.golang.org/genai"
)

// Environment variables that override secrets of the configuration files.
const (
	EnvMuxTokenID      = "MUX_TOKEN_ID"
	EnvMuxTokenSecret  = "MUX_TOKEN_SECRET"
	EnvOpenAIKey       = "OPENAI_API_KEY"
	EnvCatalogPostgres = "CATALOG_POSTGRES_DSN"
)

// DefaultSafetySettings relaxes the Gemini safety filters. Clip descriptions
// cover ordinary advertising footage, and a blocked response would fail the
// clip.
var DefaultSafetySettings = []*genai.SafetySetting{
	{
		Category:  genai.HarmCategoryDangerousContent,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHarassment,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHateSpeech,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategorySexuallyExplicit,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
}

// VertexAiLLMModel holds the configuration of one Gemini model.
type VertexAiLLMModel struct {
	Model              string  `toml:"model"`               // The name of the Vertex AI LLM.
	SystemInstructions string  `toml:"system_instructions"` // The system instructions for the LLM.
	Temperature        float32 `toml:"temperature"`         // The temperature parameter for the LLM.
	TopP               float32 `toml:"top_p"`               // The top_p parameter for the LLM.
	TopK               float32 `toml:"top_k"`               // The top_k parameter for the LLM.
	MaxTokens          int32   `toml:"max_tokens"`          // The maximum number of tokens for the LLM output.
	OutputFormat       string  `toml:"output_format"`       // The desired output format for the LLM.
	RateLimit          int     `toml:"rate_limit"`          // The rate limit for the LLM in requests per second.
}

// TopicSubscription holds the configuration for a Pub/Sub subscription.
type TopicSubscription struct {
	Name             string `toml:"name"`               // The name of the Pub/Sub subscription.
	DeadLetterTopic  string `toml:"dead_letter_topic"`  // The name of the dead-letter topic for the subscription.
	TimeoutInSeconds int    `toml:"timeout_in_seconds"` // The timeout for the subscription in seconds.
}

// Storage names the canonical bucket that every catalog URL points into.
type Storage struct {
	CanonicalBucket string `toml:"canonical_bucket"` // Bucket receiving converted and re-uploaded videos.
	CanonicalHost   string `toml:"canonical_host"`   // Public host of the bucket, e.g. https://storage.googleapis.com.
	PosterBucket    string `toml:"poster_bucket"`    // Bucket the poster generator renders into.
}

// Ingestion configures the durable queue between the trigger and the workflow.
type Ingestion struct {
	Mode         string `toml:"mode"`         // "pubsub" or "local" (in-process, not durable).
	Topic        string `toml:"topic"`        // Topic the trigger publishes UploadEvents to.
	Subscription string `toml:"subscription"` // Key into TopicSubscriptions consumed by the workflow.
}

// Services holds the base URLs of the remote enrichment services.
type Services struct {
	Segmentation          string  `toml:"segmentation"`
	Trim                  string  `toml:"trim"`
	TalentAge             string  `toml:"talent_age"`
	Poster                string  `toml:"poster"`
	Description           string  `toml:"description"`
	Duration              string  `toml:"duration"`
	ABRoll                string  `toml:"ab_roll"`
	ShotType              string  `toml:"shot_type"`
	Blur                  string  `toml:"blur"`
	RequestTimeoutSeconds int     `toml:"request_timeout_seconds"`
	RequestsPerSecond     float64 `toml:"requests_per_second"` // 0 disables rate limiting.
}

// Conversion configures the streamed format conversion.
type Conversion struct {
	Endpoint              string   `toml:"endpoint"`
	MaxAttempts           int      `toml:"max_attempts"`
	MessageTimeoutSeconds int      `toml:"message_timeout_seconds"`
	OverallTimeoutSeconds int      `toml:"overall_timeout_seconds"`
	InitialBackoffSeconds int      `toml:"initial_backoff_seconds"`
	SupportedExtensions   []string `toml:"supported_extensions"`
}

// Mux holds the streaming host credentials.
type Mux struct {
	BaseURL      string `toml:"base_url"`
	TokenID      string `toml:"token_id"`
	TokenSecret  string `toml:"token_secret"`
	VideoQuality string `toml:"video_quality"`
}

// Embedding selects the embedding provider.
type Embedding struct {
	Provider   string `toml:"provider"` // "openai" or "vertex".
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
	APIKey     string `toml:"api_key"`
	BaseURL    string `toml:"base_url"`
}

// Description selects how visual descriptions are produced.
type Description struct {
	Provider   string `toml:"provider"`    // "http" or "gemini".
	AgentModel string `toml:"agent_model"` // Key into AgentModels when the provider is gemini.
}

// Catalog selects the catalog backend.
type Catalog struct {
	Backend     string `toml:"backend"` // "bigquery", "postgres" or "memory".
	Dataset     string `toml:"dataset"`
	Table       string `toml:"table"`
	PostgresDSN string `toml:"postgres_dsn"`
}

// Checkpoint selects the step journal backend.
type Checkpoint struct {
	Backend string `toml:"backend"` // "sqlite" or "memory".
	Path    string `toml:"path"`
}

// Telemetry tunes trace sampling and metric export. Export itself is switched
// by application.enable_telemetry.
type Telemetry struct {
	TraceSampleRatio      float64 `toml:"trace_sample_ratio"`      // Fraction of root spans recorded, 0 to 1.
	MetricIntervalSeconds int     `toml:"metric_interval_seconds"` // Period of the metric reader.
}

// Brand holds per-brand settings.
type Brand struct {
	Product string `toml:"product"` // Sent to shot-type classification.
}

// Config is the root configuration object for the entire application.
type Config struct {
	Application struct {
		Name                       string `toml:"name"`                          // The name of the application.
		GoogleProjectId            string `toml:"google_project_id"`             // The Google Cloud project ID.
		GoogleLocation             string `toml:"location"`                      // The Google Cloud location.
		LogLevel                   string `toml:"log_level"`                     // debug, info, warn or error.
		EnableTelemetry            bool   `toml:"enable_telemetry"`              // Export traces and metrics to Google Cloud.
		HTTPPort                   string `toml:"http_port"`                     // Port of the trigger and search API.
		MaxConcurrentEvents        int    `toml:"max_concurrent_events"`         // Workflows executing at once.
		ClipConcurrency            int    `toml:"clip_concurrency"`              // Clips enriched concurrently within one run.
		WorkflowTimeoutMinutes     int    `toml:"workflow_timeout_minutes"`      // Deadline of one run.
		FailOnZeroClips            bool   `toml:"fail_on_zero_clips"`            // Fail runs in which every clip failed.
		PassThroughUnknownFormats  bool   `toml:"pass_through_unknown_formats"`  // Leave unknown containers unnormalized.
		ShortVideoThresholdSeconds int    `toml:"short_video_threshold_seconds"` // Videos at most this long are one clip.
		SignerServiceAccountEmail  string `toml:"signer_service_account_email"`  // Service account signing clip URLs; empty disables signing.
	} `toml:"application"`
	Storage            Storage                      `toml:"storage"`
	Ingestion          Ingestion                    `toml:"ingestion"`
	TopicSubscriptions map[string]TopicSubscription `toml:"topic_subscriptions"` // Keyed by a logical name (e.g., "uploads").
	Services           Services                     `toml:"services"`
	Conversion         Conversion                   `toml:"conversion"`
	Mux                Mux                          `toml:"mux"`
	Embedding          Embedding                    `toml:"embedding"`
	Description        Description                  `toml:"description"`
	AgentModels        map[string]VertexAiLLMModel  `toml:"agent_models"` // Keyed by a logical name (e.g., "creative-flash").
	Catalog            Catalog                      `toml:"catalog"`
	Checkpoint         Checkpoint                   `toml:"checkpoint"`
	Telemetry          Telemetry                    `toml:"telemetry"`
	Brands             map[string]Brand             `toml:"brands"`
}

// NewConfig is a constructor that returns a new, empty Config whose maps are
// initialized and whose workflow defaults are set, so that a partial file
// only has to name what it changes.
func NewConfig() *Config {
	c := &Config{
		TopicSubscriptions: make(map[string]TopicSubscription),
		AgentModels:        make(map[string]VertexAiLLMModel),
		Brands:             make(map[string]Brand),
	}
	c.Application.LogLevel = "info"
	c.Application.HTTPPort = "8080"
	c.Application.MaxConcurrentEvents = 3
	c.Application.ClipConcurrency = 1
	c.Application.WorkflowTimeoutMinutes = 30
	c.Application.FailOnZeroClips = true
	c.Application.PassThroughUnknownFormats = true
	c.Application.ShortVideoThresholdSeconds = 5
	c.Storage.CanonicalHost = "https://storage.googleapis.com"
	c.Storage.PosterBucket = "poster_urls"
	c.Ingestion.Mode = "pubsub"
	c.Services.RequestTimeoutSeconds = 120
	c.Conversion.MaxAttempts = 3
	c.Conversion.MessageTimeoutSeconds = 60
	c.Conversion.OverallTimeoutSeconds = 900
	c.Conversion.InitialBackoffSeconds = 2
	c.Mux.VideoQuality = "basic"
	c.Embedding.Provider = "openai"
	c.Embedding.Model = "text-embedding-3-small"
	c.Embedding.Dimensions = 1536
	c.Description.Provider = "http"
	c.Catalog.Backend = "bigquery"
	c.Catalog.Table = "modular_clips"
	c.Checkpoint.Backend = "sqlite"
	c.Checkpoint.Path = "checkpoints.db"
	c.Telemetry.TraceSampleRatio = 1
	c.Telemetry.MetricIntervalSeconds = 60
	return c
}

// ApplyEnvironment replaces secrets with the values of their environment
// variables, when set.
func (c *Config) ApplyEnvironment() {
	override := func(target *string, name string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*target = v
		}
	}
	override(&c.Mux.TokenID, EnvMuxTokenID)
	override(&c.Mux.TokenSecret, EnvMuxTokenSecret)
	override(&c.Embedding.APIKey, EnvOpenAIKey)
	override(&c.Catalog.PostgresDSN, EnvCatalogPostgres)
}

// WorkflowTimeout is the deadline of one ingestion run.
func (c *Config) WorkflowTimeout() time.Duration {
	return time.Duration(c.Application.WorkflowTimeoutMinutes) * time.Minute
}

// CanonicalPrefix is the URL prefix of objects in the canonical bucket.
func (c *Config) CanonicalPrefix() string {
	return c.Storage.CanonicalHost + "/" + c.Storage.CanonicalBucket + "/"
}

// Products maps every configured brand to its product.
func (c *Config) Products() map[string]string {
	out := make(map[string]string, len(c.Brands))
	for name, brand := range c.Brands {
		out[name] = brand.Product
	}
	return out
}
