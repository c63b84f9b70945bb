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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
)

// RunReader reads journaled run state.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*model.RunRecord, error)
}

// Dashboard registers the run status routes:
//
//	GET /runs/:id   state of one ingestion run
func Dashboard(runs RunReader) func(r *gin.RouterGroup) {
	return func(r *gin.RouterGroup) {
		status := r.Group("/runs")
		{
			status.GET("/:id", func(c *gin.Context) {
				run, err := runs.GetRun(c.Request.Context(), c.Param("id"))
				switch {
				case errors.Is(err, model.ErrNotFound):
					c.JSON(http.StatusNotFound, errorBody(err))
				case err != nil:
					c.JSON(http.StatusInternalServerError, errorBody(err))
				default:
					c.JSON(http.StatusOK, run)
				}
			})
		}
	}
}
