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
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/catalog"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/remote"
)

// DefaultSearchCount and MaxSearchCount bound the number of search results.
const (
	DefaultSearchCount = 5
	MaxSearchCount     = 50
)

// Signer creates short-lived URLs for private objects.
type Signer interface {
	Sign(ctx context.Context, rawURL string) (string, error)
}

// ClipRouter registers the catalog read routes:
//
//	GET /clips?brand=&q=&count=   similarity search over a brand's clips
//	GET /clips/by-url?url=        one record
//	GET /clips/stream?url=        signed URL of the clip, when a signer is set
func ClipRouter(reader catalog.Reader, embedder remote.Embedder, signer Signer) func(r *gin.RouterGroup) {
	return func(r *gin.RouterGroup) {
		clips := r.Group("/clips")
		{
			clips.GET("", func(c *gin.Context) {
				brand := c.Query("brand")
				query := c.Query("q")
				if brand == "" || query == "" {
					c.JSON(http.StatusBadRequest, errorBody(errors.New("brand and q are required")))
					return
				}
				count, err := strconv.Atoi(c.DefaultQuery("count", strconv.Itoa(DefaultSearchCount)))
				if err != nil || count <= 0 {
					count = DefaultSearchCount
				}
				count = min(count, MaxSearchCount)

				vector, err := embedder.Embed(c.Request.Context(), query)
				if err != nil {
					slog.ErrorContext(c.Request.Context(), "failed to embed search query", "brand", brand, "error", err)
					c.JSON(http.StatusBadGateway, errorBody(err))
					return
				}
				matches, err := reader.Search(c.Request.Context(), brand, vector, count)
				if err != nil {
					slog.ErrorContext(c.Request.Context(), "catalog search failed", "brand", brand, "error", err)
					c.JSON(http.StatusInternalServerError, errorBody(err))
					return
				}
				if matches == nil {
					matches = []*model.ClipMatch{}
				}
				c.JSON(http.StatusOK, matches)
			})

			clips.GET("/by-url", func(c *gin.Context) {
				clip, ok := lookup(c, reader)
				if !ok {
					return
				}
				c.JSON(http.StatusOK, clip)
			})

			clips.GET("/stream", func(c *gin.Context) {
				if signer == nil {
					c.JSON(http.StatusNotImplemented, errorBody(errors.New("url signing is not configured")))
					return
				}
				clip, ok := lookup(c, reader)
				if !ok {
					return
				}
				signed, err := signer.Sign(c.Request.Context(), clip.VideoURL)
				if err != nil {
					slog.ErrorContext(c.Request.Context(), "failed to sign clip url", "clip_url", clip.VideoURL, "error", err)
					c.JSON(http.StatusInternalServerError, errorBody(errors.New("could not generate streaming url")))
					return
				}
				c.JSON(http.StatusOK, gin.H{"url": signed})
			})
		}
	}
}

// lookup fetches the clip named by the url query parameter and writes the
// error response when there is none.
func lookup(c *gin.Context, reader catalog.Reader) (*model.EnrichedClip, bool) {
	videoURL := c.Query("url")
	if videoURL == "" {
		c.JSON(http.StatusBadRequest, errorBody(errors.New("url is required")))
		return nil, false
	}
	clip, err := reader.GetByURL(c.Request.Context(), videoURL)
	switch {
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody(err))
		return nil, false
	case err != nil:
		c.JSON(http.StatusInternalServerError, errorBody(err))
		return nil, false
	}
	return clip, true
}
