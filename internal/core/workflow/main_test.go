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

// Package workflow_test contains the tests of the ingestion workflow. This
// file loads the test configuration and sets up telemetry once for the whole
// package in TestMain; the workflows themselves run against in-memory fakes.
package workflow_test

import (
	"context"
	"os"
	"testing"

	"go.opentelemetry.io/contrib/bridges/otelslog"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/cloud"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/telemetry"
	test "github.com/jaycherian/gcp-go-clip-catalog/internal/testutil"
)

const tName = "github.com/jaycherian/gcp-go-clip-catalog/tests/workflow"

var (
	config *cloud.Config // The configuration loaded from the test files.
	logger = otelslog.NewLogger(tName)
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var err error
	if config, err = test.LoadConfig(); err != nil {
		panic(err)
	}

	telemetry.SetupLogging(config.Application.LogLevel)

	shutdown, err := telemetry.SetupOpenTelemetry(ctx, config)
	if err != nil {
		panic(err)
	}
	logger.Info("completed test setup")

	exitCode := m.Run()

	if err := shutdown(ctx); err != nil {
		logger.Error("failed to shutdown telemetry", "error", err)
	}
	os.Exit(exitCode)
}
