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

package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
)

// maxEventBytes bounds the size of a trigger request body.
const maxEventBytes = 64 << 10

// Dispatcher hands an accepted event to the durable queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *model.UploadEvent) error
}

// IngestRouter registers the ingestion trigger:
//
//	POST /ingest  {"sourceUrl": "...", "duration": "H:MM:SS", "brand": "..."}
//
// A valid event is dispatched and answered with 202 {"success": true} without
// waiting for the run. Malformed bodies get 400, a failed hand-off 500.
func IngestRouter(dispatcher Dispatcher) func(r *gin.RouterGroup) {
	return func(r *gin.RouterGroup) {
		r.POST("/ingest", func(c *gin.Context) {
			data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBytes))
			if err != nil {
				c.JSON(http.StatusBadRequest, errorBody(err))
				return
			}
			event, err := model.ParseUploadEvent(data)
			if err != nil {
				slog.WarnContext(c.Request.Context(), "rejected upload event", "error", err)
				c.JSON(http.StatusBadRequest, errorBody(err))
				return
			}

			if err := dispatcher.Dispatch(c.Request.Context(), event); err != nil {
				slog.ErrorContext(c.Request.Context(), "failed to dispatch upload event",
					"run_id", event.RunID(), "source_url", event.SourceURL, "brand", event.Brand, "error", err)
				status := http.StatusInternalServerError
				if errors.Is(err, model.ErrMalformedInput) {
					status = http.StatusBadRequest
				}
				c.JSON(status, errorBody(err))
				return
			}

			slog.InfoContext(c.Request.Context(), "accepted upload event",
				"run_id", event.RunID(), "source_url", event.SourceURL, "brand", event.Brand)
			c.JSON(http.StatusAccepted, gin.H{"success": true, "run_id": event.RunID()})
		})
	}
}
