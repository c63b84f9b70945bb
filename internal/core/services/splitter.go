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
	"fmt"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
)

// DefaultShortVideoThreshold is the longest video, in seconds, that is kept
// as a single clip.
const DefaultShortVideoThreshold = 5

// Segmenter finds cut points and produces the trimmed clips.
type Segmenter interface {
	Segment(ctx context.Context, publicURL string) (model.ClipTimestampSet, error)
	Trim(ctx context.Context, videoURL string, timestamps model.ClipTimestampSet) ([]string, error)
}

// ClipSplitter cuts a normalized video into clips.
type ClipSplitter struct {
	segmenter      Segmenter
	shortThreshold int
}

func NewClipSplitter(segmenter Segmenter, shortThreshold int) *ClipSplitter {
	if shortThreshold <= 0 {
		shortThreshold = DefaultShortVideoThreshold
	}
	return &ClipSplitter{segmenter: segmenter, shortThreshold: shortThreshold}
}

// Split returns the clips of video. Short videos become a single clip
// without any remote call. Failures wrap model.ErrSplitFailed.
func (s *ClipSplitter) Split(ctx context.Context, video *model.NormalizedVideo, durationSeconds int) ([]*model.ClipReference, error) {
	if video == nil || video.URL == "" {
		return nil, fmt.Errorf("%w: no video to split", model.ErrSplitFailed)
	}
	if durationSeconds <= s.shortThreshold {
		return []*model.ClipReference{{URL: video.URL}}, nil
	}

	timestamps, err := s.segmenter.Segment(ctx, video.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: segment %s: %w", model.ErrSplitFailed, video.URL, err)
	}
	urls, err := s.segmenter.Trim(ctx, video.URL, timestamps)
	if err != nil {
		return nil, fmt.Errorf("%w: trim %s: %w", model.ErrSplitFailed, video.URL, err)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: trim of %s produced no clips", model.ErrSplitFailed, video.URL)
	}

	clips := make([]*model.ClipReference, 0, len(urls))
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		clips = append(clips, &model.ClipReference{URL: u})
	}
	return clips, nil
}
