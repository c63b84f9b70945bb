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

// Command server runs the clip catalog: the ingestion trigger and catalog API
// over HTTP, and the ingestion workflow behind the durable queue.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/api"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/telemetry"
)

func main() {
	config := GetConfig()
	telemetry.SetupLogging(config.Application.LogLevel)
	slog.Info("Logging initialized", "level", config.Application.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.SetupOpenTelemetry(ctx, config)
	if err != nil {
		slog.Error("Failed to setup OpenTelemetry", "error", err)
		log.Fatal(err)
	}
	slog.Info("Tracing initialized", "enabled", config.Application.EnableTelemetry)

	if err := InitState(ctx); err != nil {
		slog.Error("Failed to initialize state", "error", err)
		cancel()
		CloseState()
		log.Fatal(err)
	}
	slog.Info("Initialized State", "ingestion_mode", config.Ingestion.Mode)

	var signer api.Signer
	if state.signer != nil {
		signer = state.signer
	}
	r := api.NewEngine(config.Application.Name,
		api.IngestRouter(state.dispatcher),
		api.ClipRouter(state.catalog, state.embedder, signer),
		api.Dashboard(state.journal),
	)
	r.GET("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	srv := &http.Server{
		Addr:    ":" + config.Application.HTTPPort,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to listen", "error", err)
			cancel()
		}
	}()
	slog.Info("Server Ready", "port", config.Application.HTTPPort)

	// Wait for an interrupt signal to gracefully shut down the server.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	slog.Info("Shutdown Server ...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server Shutdown Failed", "error", err)
	}
	// Stops receiving; CloseState waits for the listener to drain so no run
	// outlives the clients it uses.
	cancel()
	CloseState()

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Error("failed to shutdown telemetry", "error", err)
	}
	slog.Info("Server exiting")
}
