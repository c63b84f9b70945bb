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

package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/catalog"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/checkpoint"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/services"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/workflow"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/remote"
	test "github.com/jaycherian/gcp-go-clip-catalog/internal/testutil"
)

const canonical = "https://storage.googleapis.com/clips-canonical"

type harness struct {
	converter  services.Converter
	fakeConv   *test.FakeConverter
	downloader *test.FakeDownloader
	services   *test.FakeServices
	streaming  *test.FakeStreamingHost
	embedder   *test.FakeEmbedder
	store      *test.FakeBlobStore
	catalog    *catalog.Memory
	journal    *checkpoint.MemoryJournal
	options    workflow.Options
}

func newHarness() *harness {
	h := &harness{
		fakeConv:   &test.FakeConverter{CanonicalPrefix: canonical},
		downloader: &test.FakeDownloader{Bodies: map[string][]byte{}},
		services:   &test.FakeServices{},
		streaming:  &test.FakeStreamingHost{},
		embedder:   &test.FakeEmbedder{},
		store:      &test.FakeBlobStore{Prefix: canonical},
		catalog:    catalog.NewMemory(),
		journal:    checkpoint.NewMemoryJournal(),
		options:    workflow.Options{FailOnZeroClips: config.Application.FailOnZeroClips},
	}
	h.converter = h.fakeConv
	return h
}

func (h *harness) build() *workflow.IngestionWorkflow {
	normalizer := services.NewFormatNormalizer(h.converter, h.downloader, h.store,
		services.NormalizerConfig{PassThroughUnknown: true})
	splitter := services.NewClipSplitter(h.services, config.Application.ShortVideoThresholdSeconds)
	enricher := services.NewClipEnricher(h.services, h.streaming, h.embedder, h.catalog, services.EnricherConfig{
		PosterBucket: config.Storage.PosterBucket,
		Products:     config.Products(),
	})
	return workflow.NewIngestionWorkflow(normalizer, splitter, enricher, h.journal, h.options)
}

func runID(t *testing.T, payload string) string {
	event, err := model.ParseUploadEvent([]byte(payload))
	require.NoError(t, err)
	return event.RunID()
}

func TestEndToEndIngestion(t *testing.T) {
	h := newHarness()
	result, err := h.build().Run(context.Background(), test.UploadEventJSON)
	require.NoError(t, err)

	assert.Equal(t, 1, h.fakeConv.Count(remote.CallConversion))
	assert.Equal(t, 1, h.services.Count(remote.CallSegmentation))
	assert.Equal(t, 2, result.Written())

	docs := h.catalog.Documents("acme")
	require.Len(t, docs, 2)
	assert.NotEqual(t, docs[0]["video_url"], docs[1]["video_url"])
	for _, doc := range docs {
		assert.Equal(t, "acme", doc["brand"])
		assert.Contains(t, doc["video_url"], canonical+"/a_clip")
	}

	run, err := h.journal.GetRun(context.Background(), runID(t, test.UploadEventJSON))
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, run.State)
	assert.Equal(t, 2, run.Written)
	assert.Equal(t, 0, run.Failed)
	assert.Equal(t, "https://cdn/a.mov", run.SourceURL)
}

func TestShortVideoIsSingleClip(t *testing.T) {
	h := newHarness()
	result, err := h.build().Run(context.Background(), []byte(test.ShortUploadEventJSON))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Written())
	assert.Equal(t, 0, h.services.Count(remote.CallSegmentation))
	assert.Equal(t, 0, h.services.Count(remote.CallTrim))
	assert.Equal(t, 0, h.fakeConv.Count(remote.CallConversion))

	_, err = h.catalog.GetByURL(context.Background(), canonical+"/short.mp4")
	assert.NoError(t, err)
}

func TestClipFailureDoesNotAbortSiblings(t *testing.T) {
	h := newHarness()
	h.services.ClipCount = 3
	h.services.FailOn(remote.CallTalentAge, canonical+"/a_clip2.mp4", test.StatusError(remote.CallTalentAge, 500))

	result, err := h.build().Run(context.Background(), test.UploadEventJSON)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 3)
	assert.True(t, result.Outcomes[0].Written)
	assert.False(t, result.Outcomes[1].Written)
	assert.NotEmpty(t, result.Outcomes[1].Error)
	assert.True(t, result.Outcomes[2].Written)

	assert.Equal(t, 2, h.catalog.Len())
	_, err = h.catalog.GetByURL(context.Background(), canonical+"/a_clip2.mp4")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	run, err := h.journal.GetRun(context.Background(), runID(t, test.UploadEventJSON))
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, run.State)
	assert.Equal(t, 1, run.Failed)
}

func TestZeroClipsWrittenPolicy(t *testing.T) {
	h := newHarness()
	h.services.FailOn(remote.CallDescription, "", test.StatusError(remote.CallDescription, 503))

	_, err := h.build().Run(context.Background(), test.UploadEventJSON)
	assert.True(t, errors.Is(err, model.ErrNoClipsWritten))
	run, err := h.journal.GetRun(context.Background(), runID(t, test.UploadEventJSON))
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, run.State)
	assert.NotEmpty(t, run.Error)

	h = newHarness()
	h.options.FailOnZeroClips = false
	h.services.FailOn(remote.CallDescription, "", test.StatusError(remote.CallDescription, 503))
	result, err := h.build().Run(context.Background(), test.UploadEventJSON)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Written())
}

func TestNormalizationFailureIsWorkflowFatal(t *testing.T) {
	h := newHarness()
	h.fakeConv.FailOn(remote.CallConversion, "", test.StatusError(remote.CallConversion, 504))

	_, err := h.build().Run(context.Background(), test.UploadEventJSON)
	assert.True(t, errors.Is(err, model.ErrNormalizationFailed))
	assert.Equal(t, 0, h.services.Count(remote.CallSegmentation))
	assert.Equal(t, 0, h.catalog.Len())

	run, err := h.journal.GetRun(context.Background(), runID(t, test.UploadEventJSON))
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, run.State)
}

func TestSplitFailureIsWorkflowFatal(t *testing.T) {
	h := newHarness()
	h.services.FailOn(remote.CallTrim, "", test.StatusError(remote.CallTrim, 500))

	_, err := h.build().Run(context.Background(), test.UploadEventJSON)
	assert.True(t, errors.Is(err, model.ErrSplitFailed))
	assert.Equal(t, 0, h.streaming.Count(remote.CallMux))
	assert.Equal(t, 0, h.catalog.Len())
}

func TestMalformedEventIsRejected(t *testing.T) {
	h := newHarness()
	for _, payload := range []string{`{"sourceUrl":"https://cdn/a.mov"}`, `not json`, `{"sourceUrl":"x","duration":"1:2:3:4","brand":"acme"}`} {
		_, err := h.build().Run(context.Background(), payload)
		assert.True(t, errors.Is(err, model.ErrMalformedInput), payload)
	}
	assert.Equal(t, 0, h.fakeConv.Count(remote.CallConversion))
}

func TestLegacyEventFields(t *testing.T) {
	h := newHarness()
	h.downloader.Bodies["https://cdn/legacy.mp4"] = test.MP4Header

	result, err := h.build().Run(context.Background(), test.LegacyUploadEventJSON)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Written(), "1:05 is long enough to be split")
	assert.Equal(t, 1, h.store.Count("upload"), "foreign mp4 re-uploaded")
	assert.Equal(t, 0, h.fakeConv.Count(remote.CallConversion))

	run, err := h.journal.GetRun(context.Background(), runID(t, test.LegacyUploadEventJSON))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/legacy.mp4", run.SourceURL)
}

func TestForeignMP4DownloadFailureFailsRun(t *testing.T) {
	h := newHarness()
	_, err := h.build().Run(context.Background(), `{"sourceUrl":"https://cdn/missing.mp4","duration":"0:00:30","brand":"acme"}`)
	assert.True(t, errors.Is(err, model.ErrNormalizationFailed))
	assert.Equal(t, 1, h.downloader.Count(remote.CallDownload))
}

func TestRedeliveryResumesFromCheckpoints(t *testing.T) {
	h := newHarness()
	h.services.FailOn(remote.CallABRoll, canonical+"/a_clip2.mp4", test.StatusError(remote.CallABRoll, 502))
	wf := h.build()

	first, err := wf.Run(context.Background(), test.UploadEventJSON)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Written())

	// The transient failure is gone on redelivery.
	h.services.FailOn(remote.CallABRoll, canonical+"/a_clip2.mp4", nil)
	second, err := wf.Run(context.Background(), test.UploadEventJSON)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Written())

	assert.Equal(t, 1, h.fakeConv.Count(remote.CallConversion), "normalize replayed")
	assert.Equal(t, 1, h.services.Count(remote.CallSegmentation), "split replayed")
	assert.Equal(t, 3, h.streaming.Count(remote.CallMux), "written clip not re-enriched")
	assert.Equal(t, 2, h.catalog.Len())
}

func TestRedeliveryAfterCompletionWritesNothingNew(t *testing.T) {
	h := newHarness()
	wf := h.build()
	for i := 0; i < 2; i++ {
		_, err := wf.Run(context.Background(), test.UploadEventJSON)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, h.catalog.Len())
	assert.Equal(t, 2, h.streaming.Count(remote.CallMux))
}

// blockingConverter waits for its context and tracks how many conversions
// are in flight.
type blockingConverter struct {
	hold    time.Duration
	next    atomic.Int64
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (c *blockingConverter) Convert(ctx context.Context, videoURL string) (string, error) {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		seen := c.maxSeen.Load()
		if n <= seen || c.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(c.hold):
		return fmt.Sprintf("%s/converted-%d.mp4", canonical, c.next.Add(1)), nil
	}
}

func TestWorkflowTimeout(t *testing.T) {
	h := newHarness()
	h.converter = &blockingConverter{hold: time.Hour}
	h.options.Timeout = 50 * time.Millisecond

	_, err := h.build().Run(context.Background(), test.UploadEventJSON)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrWorkflowTimeout))

	run, err := h.journal.GetRun(context.Background(), runID(t, test.UploadEventJSON))
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, run.State)
}

func TestConcurrentEventsAreCapped(t *testing.T) {
	h := newHarness()
	conv := &blockingConverter{hold: 30 * time.Millisecond}
	h.converter = conv
	h.options.MaxConcurrentEvents = 3
	dispatcher := workflow.NewLocalDispatcher(context.Background(), h.build())

	for i := 0; i < 8; i++ {
		event := &model.UploadEvent{SourceURL: fmt.Sprintf("https://cdn/v%d.mov", i), Duration: "0:00:03", Brand: "acme"}
		require.NoError(t, dispatcher.Dispatch(context.Background(), event))
	}
	dispatcher.Wait()

	assert.LessOrEqual(t, conv.maxSeen.Load(), int32(3))
	assert.GreaterOrEqual(t, conv.maxSeen.Load(), int32(1))
	assert.Equal(t, 8, h.catalog.Len())
}
