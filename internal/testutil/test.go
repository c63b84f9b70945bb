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

// Package test provides fixtures and in-memory fakes for the test suite: the
// test configuration, sample upload events and scripted stand-ins for every
// remote collaborator of an ingestion run.
package test

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/cloud"
)

var (
	configOnce sync.Once
	config     *cloud.Config
	configErr  error
)

// HandleErr fails the test when err is not nil.
func HandleErr(err error, t *testing.T) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ConfigDir is the absolute path of the repository's configs directory.
func ConfigDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "configs")
}

// SetupOS points the configuration loader at the test configuration.
func SetupOS() error {
	if err := os.Setenv(cloud.EnvConfigFilePrefix, ConfigDir()); err != nil {
		return err
	}
	return os.Setenv(cloud.EnvConfigRuntime, "test")
}

// LoadConfig loads the test configuration once and caches it. It is meant
// for TestMain, where no *testing.T exists yet.
func LoadConfig() (*cloud.Config, error) {
	configOnce.Do(func() {
		if configErr = SetupOS(); configErr != nil {
			return
		}
		config = cloud.NewConfig()
		configErr = cloud.LoadConfig(config)
	})
	return config, configErr
}

// GetConfig is LoadConfig failing the test on error.
func GetConfig(t *testing.T) *cloud.Config {
	t.Helper()
	c, err := LoadConfig()
	HandleErr(err, t)
	return c
}

// UploadEventJSON is the end-to-end upload: a 90 second .mov for brand acme.
const UploadEventJSON = `{"sourceUrl":"https://cdn/a.mov","duration":"0:01:30","brand":"acme"}`

// ShortUploadEventJSON is a canonical MP4 short enough to be a single clip.
const ShortUploadEventJSON = `{"sourceUrl":"https://storage.googleapis.com/clips-canonical/short.mp4","duration":"0:00:04","brand":"acme"}`

// LegacyUploadEventJSON uses the uploader's original field name and an M:SS duration.
const LegacyUploadEventJSON = `{"publicURL":"https://cdn/legacy.mp4","duration":"1:05","brand":"acme"}`
