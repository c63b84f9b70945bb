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

package remote

import (
	"context"
	"net/http"
	"strings"
)

// DefaultMuxBaseURL is the public Mux video API.
const DefaultMuxBaseURL = "https://api.mux.com"

// StreamingAsset is the handle pair returned by the streaming host.
type StreamingAsset struct {
	AssetID    string
	PlaybackID string
}

// StreamingHost creates assets on Mux from a public URL.
type StreamingHost struct {
	client       *Client
	baseURL      string
	tokenID      string
	tokenSecret  string
	videoQuality string
}

// NewStreamingHost configures the Mux client. An empty baseURL selects the
// public API and an empty videoQuality selects "basic".
func NewStreamingHost(client *Client, baseURL, tokenID, tokenSecret, videoQuality string) *StreamingHost {
	if baseURL == "" {
		baseURL = DefaultMuxBaseURL
	}
	if videoQuality == "" {
		videoQuality = "basic"
	}
	return &StreamingHost{
		client:       client,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		tokenID:      tokenID,
		tokenSecret:  tokenSecret,
		videoQuality: videoQuality,
	}
}

type muxInput struct {
	URL string `json:"url"`
}

type muxCreateAsset struct {
	Input          []muxInput `json:"input"`
	PlaybackPolicy []string   `json:"playback_policy"`
	VideoQuality   string     `json:"video_quality,omitempty"`
}

type muxAssetResponse struct {
	Data struct {
		ID          string `json:"id"`
		PlaybackIDs []struct {
			ID     string `json:"id"`
			Policy string `json:"policy"`
		} `json:"playback_ids"`
	} `json:"data"`
}

// Upload creates a public asset from url. Both the asset id and the first
// playback id must be present in the answer.
func (m *StreamingHost) Upload(ctx context.Context, url string) (*StreamingAsset, error) {
	in := muxCreateAsset{
		Input:          []muxInput{{URL: url}},
		PlaybackPolicy: []string{"public"},
		VideoQuality:   m.videoQuality,
	}
	var out muxAssetResponse
	auth := func(req *http.Request) {
		req.SetBasicAuth(m.tokenID, m.tokenSecret)
	}
	if err := m.client.PostJSON(ctx, CallMux, m.baseURL+"/video/v1/assets", in, &out, auth); err != nil {
		return nil, err
	}
	if out.Data.ID == "" {
		return nil, empty(CallMux, "data.id")
	}
	if len(out.Data.PlaybackIDs) == 0 || out.Data.PlaybackIDs[0].ID == "" {
		return nil, empty(CallMux, "data.playback_ids[0].id")
	}
	return &StreamingAsset{AssetID: out.Data.ID, PlaybackID: out.Data.PlaybackIDs[0].ID}, nil
}
