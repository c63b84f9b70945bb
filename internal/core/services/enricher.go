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

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/catalog"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/cor"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/remote"
)

// DefaultPosterBucket is where poster frames are rendered.
const DefaultPosterBucket = "poster_urls"

// Analyzer is the set of per-clip analysis calls.
type Analyzer interface {
	TalentAge(ctx context.Context, url string) (string, error)
	Poster(ctx context.Context, videoURL, bucket string) (string, error)
	Describe(ctx context.Context, url string) (string, error)
	Duration(ctx context.Context, videoURL string) (string, error)
	ABRoll(ctx context.Context, url string) (string, error)
	ShotTypes(ctx context.Context, url, brand, product string) ([]string, error)
	Blur(ctx context.Context, imageURL string) (string, error)
}

// Describer produces the visual description of a clip.
type Describer interface {
	Describe(ctx context.Context, url string) (string, error)
}

// StreamingUploader registers a clip with the streaming host.
type StreamingUploader interface {
	Upload(ctx context.Context, url string) (*remote.StreamingAsset, error)
}

// URLSigner grants the analysis services temporary read access to a clip.
// Signs reports whether url is an object the signer can sign; other URLs,
// such as pass-through sources hosted elsewhere, are handed out unsigned.
type URLSigner interface {
	Signs(url string) bool
	Sign(ctx context.Context, url string) (string, error)
}

// EnricherConfig holds per-deployment settings of the ClipEnricher.
type EnricherConfig struct {
	PosterBucket string
	Products     map[string]string // Product shown by each brand, sent to shot-type classification.
}

// ClipEnricher derives the metadata of one clip and writes its record.
type ClipEnricher struct {
	analyzer  Analyzer
	describer Describer
	streaming StreamingUploader
	embedder  remote.Embedder
	writer    catalog.Writer
	signer    URLSigner
	config    EnricherConfig

	writtenCounter   metric.Int64Counter
	failedCounter    metric.Int64Counter
	duplicateCounter metric.Int64Counter
}

// EnricherOption customizes a ClipEnricher.
type EnricherOption func(*ClipEnricher)

// WithDescriber replaces the description call of the analyzer.
func WithDescriber(describer Describer) EnricherOption {
	return func(e *ClipEnricher) {
		e.describer = describer
	}
}

// WithURLSigner makes the enricher hand signed URLs to the remote services.
// Records still carry the unsigned URL.
func WithURLSigner(signer URLSigner) EnricherOption {
	return func(e *ClipEnricher) {
		e.signer = signer
	}
}

func NewClipEnricher(analyzer Analyzer, streaming StreamingUploader, embedder remote.Embedder, writer catalog.Writer, config EnricherConfig, opts ...EnricherOption) *ClipEnricher {
	if config.PosterBucket == "" {
		config.PosterBucket = DefaultPosterBucket
	}
	e := &ClipEnricher{
		analyzer:  analyzer,
		describer: analyzer,
		streaming: streaming,
		embedder:  embedder,
		writer:    writer,
		config:    config,
	}
	for _, opt := range opts {
		opt(e)
	}

	meter := otel.Meter(cor.MeterName)
	var err error
	if e.writtenCounter, err = meter.Int64Counter("clip-enricher.clips.written"); err != nil {
		slog.Warn("error creating counter", "counter", "clip-enricher.clips.written", "error", err)
	}
	if e.failedCounter, err = meter.Int64Counter("clip-enricher.clips.failed"); err != nil {
		slog.Warn("error creating counter", "counter", "clip-enricher.clips.failed", "error", err)
	}
	if e.duplicateCounter, err = meter.Int64Counter("clip-enricher.clips.duplicate"); err != nil {
		slog.Warn("error creating counter", "counter", "clip-enricher.clips.duplicate", "error", err)
	}
	return e
}

// Enrich runs the seven independent analysis calls concurrently, then embeds
// the description and derives the blur placeholder. The clip is all or
// nothing: the first failure cancels the remaining calls and no record is
// returned. Failures wrap model.ErrEnrichmentFailed.
func (e *ClipEnricher) Enrich(ctx context.Context, clip *model.ClipReference, brand string) (*model.EnrichedClip, error) {
	fail := func(step string, err error) error {
		return fmt.Errorf("%w: %s: %s: %w", model.ErrEnrichmentFailed, clip.URL, step, err)
	}

	target := clip.URL
	if e.signer != nil && e.signer.Signs(clip.URL) {
		signed, err := e.signer.Sign(ctx, clip.URL)
		if err != nil {
			return nil, fail("sign url", err)
		}
		target = signed
	}

	var (
		asset       *remote.StreamingAsset
		ageGroup    string
		posterURL   string
		description string
		duration    string
		abRoll      string
		shotTypes   []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		asset, err = e.streaming.Upload(gctx, target)
		return err
	})
	g.Go(func() (err error) {
		ageGroup, err = e.analyzer.TalentAge(gctx, target)
		return err
	})
	g.Go(func() (err error) {
		posterURL, err = e.analyzer.Poster(gctx, target, e.config.PosterBucket)
		return err
	})
	g.Go(func() (err error) {
		description, err = e.describer.Describe(gctx, target)
		return err
	})
	g.Go(func() (err error) {
		duration, err = e.analyzer.Duration(gctx, target)
		return err
	})
	g.Go(func() (err error) {
		abRoll, err = e.analyzer.ABRoll(gctx, target)
		return err
	})
	g.Go(func() (err error) {
		shotTypes, err = e.analyzer.ShotTypes(gctx, target, brand, e.config.Products[brand])
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fail("analysis", err)
	}

	embedding, err := e.embedder.Embed(ctx, description)
	if err != nil {
		return nil, fail("embedding", err)
	}
	blur, err := e.analyzer.Blur(ctx, posterURL)
	if err != nil {
		return nil, fail("blur", err)
	}

	record := &model.EnrichedClip{
		VideoURL:      clip.URL,
		Description:   description,
		Embedding:     embedding,
		PosterURL:     posterURL,
		BlurDataURL:   blur,
		Duration:      duration,
		Brand:         brand,
		MuxAssetID:    asset.AssetID,
		MuxPlaybackID: asset.PlaybackID,
		ABRoll:        abRoll,
		ShotTypes:     shotTypes,
		Tags:          []string{},
	}
	record.SetTalentAge(ageGroup)
	return record, nil
}

// Process enriches clip and writes its record. A record that already exists
// counts as written. The returned error is clip-local.
func (e *ClipEnricher) Process(ctx context.Context, clip *model.ClipReference, brand string) (*model.ClipOutcome, error) {
	outcome := &model.ClipOutcome{URL: clip.URL}
	attrs := metric.WithAttributes(attribute.String("brand", brand))

	record, err := e.Enrich(ctx, clip, brand)
	if err == nil {
		err = e.writer.Write(ctx, record)
		if errors.Is(err, model.ErrDuplicateKey) {
			slog.InfoContext(ctx, "clip already cataloged", "clip_url", clip.URL, "brand", brand)
			e.add(ctx, e.duplicateCounter, attrs)
			outcome.Written = true
			outcome.Duplicate = true
			return outcome, nil
		}
		if err != nil {
			err = fmt.Errorf("%w: %s: catalog write: %w", model.ErrEnrichmentFailed, clip.URL, err)
		}
	}
	if err != nil {
		e.add(ctx, e.failedCounter, attrs)
		outcome.Error = err.Error()
		return outcome, err
	}

	e.add(ctx, e.writtenCounter, attrs)
	outcome.Written = true
	return outcome, nil
}

func (e *ClipEnricher) add(ctx context.Context, counter metric.Int64Counter, attrs metric.AddOption) {
	if counter != nil {
		counter.Add(ctx, 1, attrs)
	}
}
