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

package cloud_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/cloud"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
	test "github.com/jaycherian/gcp-go-clip-catalog/internal/testutil"
)

func TestLoadConfig(t *testing.T) {
	config := test.GetConfig(t)

	// From the base file.
	assert.Equal(t, "clip-catalog", config.Application.Name)
	assert.Equal(t, "clips-canonical", config.Storage.CanonicalBucket)
	assert.Equal(t, "clip-uploads-sub", config.TopicSubscriptions["uploads"].Name)
	assert.Equal(t, "gemini-2.5-flash", config.AgentModels["creative-flash"].Model)
	assert.Contains(t, config.Conversion.SupportedExtensions, ".mov")

	// Overridden by the test file.
	assert.Equal(t, "clip-catalog-test", config.Application.GoogleProjectId)
	assert.Equal(t, "local", config.Ingestion.Mode)
	assert.Equal(t, "memory", config.Catalog.Backend)
	assert.Equal(t, "memory", config.Checkpoint.Backend)
	assert.Equal(t, time.Minute, config.WorkflowTimeout())

	// Maps from both files are merged.
	assert.Equal(t, map[string]string{"acme": "sparkling water", "globex": "running shoes"}, config.Products())
	assert.Equal(t, "https://storage.googleapis.com/clips-canonical/", config.CanonicalPrefix())
}

func TestNewConfigDefaults(t *testing.T) {
	config := cloud.NewConfig()
	assert.Equal(t, 3, config.Application.MaxConcurrentEvents)
	assert.Equal(t, 5, config.Application.ShortVideoThresholdSeconds)
	assert.True(t, config.Application.FailOnZeroClips)
	assert.Equal(t, 30*time.Minute, config.WorkflowTimeout())
	assert.Equal(t, "poster_urls", config.Storage.PosterBucket)
	assert.NotNil(t, config.Brands)
	assert.Equal(t, 1.0, config.Telemetry.TraceSampleRatio)
	assert.Equal(t, 60, config.Telemetry.MetricIntervalSeconds)
}

func TestConfigFiles(t *testing.T) {
	t.Setenv(cloud.EnvConfigFilePrefix, filepath.Join("deploy", "configs"))
	t.Setenv(cloud.EnvConfigRuntime, "prod")
	assert.Equal(t, []string{
		filepath.Join("deploy", "configs", ".env.toml"),
		filepath.Join("deploy", "configs", ".env.prod.toml"),
	}, cloud.ConfigFiles())

	t.Setenv(cloud.EnvConfigRuntime, "")
	assert.Equal(t, filepath.Join("deploy", "configs", ".env.test.toml"), cloud.ConfigFiles()[1])
}

func TestLoadConfigSkipsMissingLayers(t *testing.T) {
	t.Setenv(cloud.EnvConfigFilePrefix, t.TempDir())
	t.Setenv(cloud.EnvConfigRuntime, "absent")

	config := cloud.NewConfig()
	require.NoError(t, cloud.LoadConfig(config))
	assert.Equal(t, "8080", config.Application.HTTPPort)
}

func TestApplyEnvironment(t *testing.T) {
	t.Setenv(cloud.EnvMuxTokenID, "env-id")
	t.Setenv(cloud.EnvMuxTokenSecret, "")
	t.Setenv(cloud.EnvOpenAIKey, "sk-env")

	config := cloud.NewConfig()
	config.Mux.TokenID = "file-id"
	config.Mux.TokenSecret = "file-secret"
	config.ApplyEnvironment()

	assert.Equal(t, "env-id", config.Mux.TokenID)
	assert.Equal(t, "file-secret", config.Mux.TokenSecret, "empty variables do not override")
	assert.Equal(t, "sk-env", config.Embedding.APIKey)
}

func TestSettle(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want cloud.Settlement
	}{
		{"success", nil, cloud.Ack},
		{"malformed", fmt.Errorf("reader: %w", model.ErrMalformedInput), cloud.Ack},
		{"normalization", fmt.Errorf("normalize: %w", model.ErrNormalizationFailed), cloud.Nack},
		{"timeout", model.ErrWorkflowTimeout, cloud.Nack},
		{"other", errors.New("boom"), cloud.Nack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cloud.Settle(tt.err))
		})
	}
	assert.Equal(t, "ack", cloud.Ack.String())
	assert.Equal(t, "nack", cloud.Nack.String())
}

func TestParseObjectURL(t *testing.T) {
	tests := []struct {
		in     string
		bucket string
		object string
	}{
		{"gs://clips/a/b.mp4", "clips", "a/b.mp4"},
		{"https://storage.googleapis.com/clips/a/b.mp4", "clips", "a/b.mp4"},
		{"https://storage.cloud.google.com/clips/c.mp4", "clips", "c.mp4"},
	}
	for _, tt := range tests {
		bucket, object, err := cloud.ParseObjectURL(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.bucket, bucket)
		assert.Equal(t, tt.object, object)
	}

	for _, bad := range []string{"https://cdn.example.com/a.mp4", "gs://clips", "https://storage.googleapis.com/clips/"} {
		_, _, err := cloud.ParseObjectURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestGSURI(t *testing.T) {
	assert.Equal(t, "gs://clips/a.mp4", cloud.GSURI("https://storage.googleapis.com/clips/a.mp4"))
	assert.Equal(t, "gs://clips/a.mp4", cloud.GSURI("gs://clips/a.mp4"))
	assert.Equal(t, "https://cdn/a.mp4", cloud.GSURI("https://cdn/a.mp4"))
}

func TestNewFileData(t *testing.T) {
	part := cloud.NewFileData("gs://clips/a.mp4", "video/mp4")
	require.NotNil(t, part.FileData)
	assert.Equal(t, "gs://clips/a.mp4", part.FileData.FileURI)
	assert.Equal(t, "video/mp4", part.FileData.MIMEType)
}

func TestGCSBlobStoreURLs(t *testing.T) {
	store := cloud.NewGCSBlobStore(nil, "clips-canonical", "https://storage.googleapis.com/")
	assert.Equal(t, "https://storage.googleapis.com/clips-canonical/x.mp4", store.PublicURL("x.mp4"))
	assert.True(t, store.IsCanonical("https://storage.googleapis.com/clips-canonical/x.mp4"))
	assert.False(t, store.IsCanonical("https://storage.googleapis.com/other/x.mp4"))
}

func TestURLSignerSigns(t *testing.T) {
	signer := cloud.NewURLSigner(nil, nil, "signer@project.iam.gserviceaccount.com", 0)
	assert.True(t, signer.Signs("gs://clips/a.mp4"))
	assert.True(t, signer.Signs("https://storage.googleapis.com/clips/a.mp4"))
	assert.False(t, signer.Signs("https://cdn.example.com/a.mp4"))
	assert.False(t, signer.Signs("not a url"))
}
