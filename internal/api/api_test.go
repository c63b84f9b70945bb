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

package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/api"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/catalog"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/checkpoint"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/remote"
	test "github.com/jaycherian/gcp-go-clip-catalog/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []*model.UploadEvent
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event *model.UploadEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.events = append(d.events, event)
	return nil
}

type prefixSigner struct{ err error }

func (s prefixSigner) Sign(_ context.Context, rawURL string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return rawURL + "?X-Goog-Signature=abc", nil
}

type response struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	RunID   string `json:"run_id"`
}

func serve(t *testing.T, engine *gin.Engine, method, target, body string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	var out response
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestIngestAcceptsValidEvent(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	engine := api.NewEngine("test", api.IngestRouter(dispatcher))

	rec, out := serve(t, engine, http.MethodPost, "/api/v1/ingest", test.UploadEventJSON)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, out.Success)

	require.Len(t, dispatcher.events, 1)
	event := dispatcher.events[0]
	assert.Equal(t, "https://cdn/a.mov", event.SourceURL)
	assert.Equal(t, "acme", event.Brand)
	assert.Equal(t, event.RunID(), out.RunID)
}

func TestIngestAcceptsLegacyFields(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	engine := api.NewEngine("test", api.IngestRouter(dispatcher))

	rec, out := serve(t, engine, http.MethodPost, "/api/v1/ingest", test.LegacyUploadEventJSON)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, out.Success)
	require.Len(t, dispatcher.events, 1)
	assert.Equal(t, "https://cdn/legacy.mp4", dispatcher.events[0].SourceURL)
	assert.Equal(t, "0:1:05", dispatcher.events[0].Duration)
}

func TestIngestRejectsMalformedEvents(t *testing.T) {
	bodies := map[string]string{
		"not json":         "{",
		"missing brand":    `{"sourceUrl":"https://cdn/a.mov","duration":"0:01:30"}`,
		"missing url":      `{"duration":"0:01:30","brand":"acme"}`,
		"missing duration": `{"sourceUrl":"https://cdn/a.mov","brand":"acme"}`,
		"bad duration":     `{"sourceUrl":"https://cdn/a.mov","duration":"ninety","brand":"acme"}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			dispatcher := &recordingDispatcher{}
			engine := api.NewEngine("test", api.IngestRouter(dispatcher))

			rec, out := serve(t, engine, http.MethodPost, "/api/v1/ingest", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, out.Success)
			assert.NotEmpty(t, out.Error)
			assert.Empty(t, dispatcher.events)
		})
	}
}

func TestIngestDispatchFailure(t *testing.T) {
	dispatcher := &recordingDispatcher{err: errors.New("topic unavailable")}
	engine := api.NewEngine("test", api.IngestRouter(dispatcher))

	rec, out := serve(t, engine, http.MethodPost, "/api/v1/ingest", test.UploadEventJSON)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "topic unavailable")
}

func storedClip(url, brand, description string) *model.EnrichedClip {
	return &model.EnrichedClip{
		VideoURL:    url,
		Description: description,
		Embedding:   []float64{float64(len(description)), 1, 0.5},
		Brand:       brand,
		Duration:    "0:12",
		ABRoll:      "B-roll",
	}
}

func clipEngine(t *testing.T, signer api.Signer) (*gin.Engine, *test.FakeEmbedder) {
	t.Helper()
	ctx := context.Background()
	store := catalog.NewMemory()
	require.NoError(t, store.Write(ctx, storedClip("https://storage.googleapis.com/c/1.mp4", "acme", "a dog")))
	require.NoError(t, store.Write(ctx, storedClip("https://storage.googleapis.com/c/2.mp4", "acme", "a sunset over the sea")))
	require.NoError(t, store.Write(ctx, storedClip("https://storage.googleapis.com/c/3.mp4", "globex", "a dog")))

	embedder := &test.FakeEmbedder{}
	return api.NewEngine("test", api.ClipRouter(store, embedder, signer)), embedder
}

func TestSearchClips(t *testing.T) {
	engine, embedder := clipEngine(t, nil)

	rec, _ := serve(t, engine, http.MethodGet, "/api/v1/clips?brand=acme&q=a+cat&count=1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var matches []*model.ClipMatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, "https://storage.googleapis.com/c/1.mp4", matches[0].Clip.VideoURL)
	assert.Equal(t, 1, embedder.Count(remote.CallEmbedding))
}

func TestSearchClipsValidation(t *testing.T) {
	engine, embedder := clipEngine(t, nil)

	rec, out := serve(t, engine, http.MethodGet, "/api/v1/clips?brand=acme", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, out.Success)

	embedder.FailOn(remote.CallEmbedding, "", test.StatusError(remote.CallEmbedding, http.StatusServiceUnavailable))
	rec, _ = serve(t, engine, http.MethodGet, "/api/v1/clips?brand=acme&q=dog", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSearchUnknownBrandIsEmpty(t *testing.T) {
	engine, _ := clipEngine(t, nil)

	rec, _ := serve(t, engine, http.MethodGet, "/api/v1/clips?brand=initech&q=dog", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestGetClipByURL(t *testing.T) {
	engine, _ := clipEngine(t, nil)

	target := "/api/v1/clips/by-url?url=" + url.QueryEscape("https://storage.googleapis.com/c/2.mp4")
	rec, _ := serve(t, engine, http.MethodGet, target, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var clip model.EnrichedClip
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &clip))
	assert.Equal(t, "a sunset over the sea", clip.Description)

	rec, _ = serve(t, engine, http.MethodGet, "/api/v1/clips/by-url?url=missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = serve(t, engine, http.MethodGet, "/api/v1/clips/by-url", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamClip(t *testing.T) {
	target := "/api/v1/clips/stream?url=" + url.QueryEscape("https://storage.googleapis.com/c/1.mp4")

	engine, _ := clipEngine(t, nil)
	rec, _ := serve(t, engine, http.MethodGet, target, "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	engine, _ = clipEngine(t, prefixSigner{})
	rec, _ = serve(t, engine, http.MethodGet, target, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "https://storage.googleapis.com/c/1.mp4?X-Goog-Signature=abc", out.URL)

	engine, _ = clipEngine(t, prefixSigner{err: errors.New("denied")})
	rec, _ = serve(t, engine, http.MethodGet, target, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRunStatus(t *testing.T) {
	journal := checkpoint.NewMemoryJournal()
	require.NoError(t, journal.SaveRun(context.Background(), &model.RunRecord{
		RunID:     "run-1",
		SourceURL: "https://cdn/a.mov",
		Brand:     "acme",
		State:     model.RunCompleted,
		Written:   2,
		UpdatedAt: time.Now(),
	}))
	engine := api.NewEngine("test", api.Dashboard(journal))

	rec, _ := serve(t, engine, http.MethodGet, "/api/v1/runs/run-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var run model.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, model.RunCompleted, run.State)
	assert.Equal(t, 2, run.Written)

	rec, _ = serve(t, engine, http.MethodGet, "/api/v1/runs/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
