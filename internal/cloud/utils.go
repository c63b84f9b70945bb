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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"google.golang.org/genai"
)

// Environment variables locating the configuration files.
const (
	EnvConfigFilePrefix = "GCP_CONFIG_PREFIX" // Directory holding the .env*.toml files.
	EnvConfigRuntime    = "GCP_RUNTIME"       // Runtime layer, e.g. "local", "test" or "prod".

	defaultRuntime = "test"
)

// ConfigFiles lists the configuration layers for the current environment, in
// the order they are applied.
func ConfigFiles() []string {
	dir := os.Getenv(EnvConfigFilePrefix)
	runtime := os.Getenv(EnvConfigRuntime)
	if runtime == "" {
		runtime = defaultRuntime
	}
	return []string{
		filepath.Join(dir, ".env.toml"),
		filepath.Join(dir, ".env."+runtime+".toml"),
	}
}

// LoadConfig decodes every existing layer of ConfigFiles into target. Later
// layers overwrite scalars and add to maps. Missing files are skipped. When
// target is a *Config, secrets are finally taken from the environment.
func LoadConfig(target interface{}) error {
	for _, name := range ConfigFiles() {
		if _, err := os.Stat(name); errors.Is(err, os.ErrNotExist) {
			slog.Debug("configuration layer not found", "file", name)
			continue
		}
		meta, err := toml.DecodeFile(name, target)
		if err != nil {
			return fmt.Errorf("decode configuration %s: %w", name, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			slog.Warn("unknown configuration keys", "file", name, "keys", fmt.Sprint(undecoded))
		}
		slog.Debug("configuration layer loaded", "file", name)
	}

	if config, ok := target.(*Config); ok {
		config.ApplyEnvironment()
	}
	return nil
}

// NewFileData creates the file part of a prompt from a gs:// URI.
func NewFileData(uri string, mimeType string) *genai.Part {
	return &genai.Part{FileData: &genai.FileData{FileURI: uri, MIMEType: mimeType}}
}
