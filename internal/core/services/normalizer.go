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

// Package services contains the business logic of an ingestion run: making a
// source video an MP4 on canonical storage (FormatNormalizer), cutting it into
// clips (ClipSplitter) and turning every clip into a catalog record
// (ClipEnricher). The services are plain structs built from injected clients;
// the workflow commands wrap them.
package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/h2non/filetype"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/remote"
)

// MP4MimeType is the content type of normalized uploads.
const MP4MimeType = "video/mp4"

// DefaultConvertibleExtensions are the containers the conversion service accepts.
var DefaultConvertibleExtensions = []string{".mov", ".avi", ".wmv", ".mkv", ".webm", ".m4v"}

// Converter turns a non-MP4 video into an MP4 and returns its URL.
type Converter interface {
	Convert(ctx context.Context, videoURL string) (string, error)
}

// Downloader streams the bytes behind a URL.
type Downloader interface {
	Download(ctx context.Context, call, url string) (io.ReadCloser, string, error)
}

// BlobStore is the canonical storage.
type BlobStore interface {
	// Upload writes r under key and returns the public URL of the object.
	Upload(ctx context.Context, key, contentType string, r io.Reader) (string, error)

	// IsCanonical reports whether url already points into the store.
	IsCanonical(url string) bool
}

// NormalizerConfig tunes the decision table of the FormatNormalizer.
type NormalizerConfig struct {
	ConvertibleExtensions []string // Lower-case, dot-prefixed.
	PassThroughUnknown    bool     // Return unknown formats unchanged instead of failing.
}

// FormatNormalizer ensures a source video is an MP4 hosted on canonical
// storage.
type FormatNormalizer struct {
	converter  Converter
	downloader Downloader
	store      BlobStore
	config     NormalizerConfig
}

func NewFormatNormalizer(converter Converter, downloader Downloader, store BlobStore, config NormalizerConfig) *FormatNormalizer {
	if len(config.ConvertibleExtensions) == 0 {
		config.ConvertibleExtensions = DefaultConvertibleExtensions
	}
	return &FormatNormalizer{converter: converter, downloader: downloader, store: store, config: config}
}

// Extension returns the lower-case extension of the path of rawURL.
func Extension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	return strings.ToLower(path.Ext(p))
}

func (n *FormatNormalizer) convertible(ext string) bool {
	for _, e := range n.config.ConvertibleExtensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// Normalize returns canonical MP4s unchanged, re-uploads foreign MP4s,
// converts supported containers and, when configured, passes unknown formats
// through. Failures wrap model.ErrNormalizationFailed.
// The original object is never deleted.
func (n *FormatNormalizer) Normalize(ctx context.Context, sourceURL string) (*model.NormalizedVideo, error) {
	ext := Extension(sourceURL)
	switch {
	case ext == ".mp4" && n.store.IsCanonical(sourceURL):
		return &model.NormalizedVideo{URL: sourceURL}, nil

	case ext == ".mp4":
		canonical, err := n.rehost(ctx, sourceURL)
		if errors.Is(err, errNotMP4) {
			slog.WarnContext(ctx, "mp4 url holds another container, converting", "source_url", sourceURL, "error", err)
			return n.convert(ctx, sourceURL)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: re-upload %s: %w", model.ErrNormalizationFailed, sourceURL, err)
		}
		return &model.NormalizedVideo{URL: canonical}, nil

	case n.convertible(ext):
		return n.convert(ctx, sourceURL)

	case n.config.PassThroughUnknown:
		slog.WarnContext(ctx, "unrecognized video format passed through unnormalized", "source_url", sourceURL, "extension", ext)
		return &model.NormalizedVideo{URL: sourceURL}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported format %q for %s", model.ErrNormalizationFailed, ext, sourceURL)
	}
}

func (n *FormatNormalizer) convert(ctx context.Context, sourceURL string) (*model.NormalizedVideo, error) {
	converted, err := n.converter.Convert(ctx, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: convert %s: %w", model.ErrNormalizationFailed, sourceURL, err)
	}
	return &model.NormalizedVideo{URL: converted}, nil
}

// errNotMP4 marks a download whose bytes are a video in another container.
var errNotMP4 = errors.New("not an mp4 container")

// sniffLength is enough of the header for filetype to recognize MP4/ISO-BMFF.
const sniffLength = 262

func (n *FormatNormalizer) rehost(ctx context.Context, sourceURL string) (string, error) {
	body, _, err := n.downloader.Download(ctx, remote.CallDownload, sourceURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	reader := bufio.NewReaderSize(body, 64*1024)
	head, err := reader.Peek(sniffLength)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return "", fmt.Errorf("read %s: %w", sourceURL, err)
	}
	if len(head) == 0 {
		return "", fmt.Errorf("download of %s is empty", sourceURL)
	}

	kind, _ := filetype.Match(head)
	switch {
	case kind == filetype.Unknown, kind.MIME.Value == MP4MimeType:
	case filetype.IsVideo(head):
		return "", fmt.Errorf("%w: download of %s is %s", errNotMP4, sourceURL, kind.MIME.Value)
	default:
		return "", fmt.Errorf("download of %s is %s, not a video", sourceURL, kind.MIME.Value)
	}

	key := uuid.New().String() + ".mp4"
	return n.store.Upload(ctx, key, MP4MimeType, reader)
}
