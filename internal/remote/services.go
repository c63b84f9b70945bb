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
	"strings"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
)

// Call names, used in errors, logs and span attributes.
const (
	CallTalentAge    = "talent-age"
	CallPoster       = "poster"
	CallDescription  = "description"
	CallDuration     = "duration"
	CallABRoll       = "ab-roll"
	CallShotTypes    = "shot-types"
	CallBlur         = "blur"
	CallSegmentation = "segmentation"
	CallTrim         = "trim"
	CallMux          = "mux-upload"
	CallConversion   = "conversion"
	CallEmbedding    = "embedding"
	CallDownload     = "download"
)

// Endpoints holds the URL of every JSON analysis service.
type Endpoints struct {
	TalentAge    string
	Poster       string
	Description  string
	Duration     string
	ABRoll       string
	ShotType     string
	Blur         string
	Segmentation string
	Trim         string
}

// Services calls the per-clip analysis endpoints and the segmentation and
// trim services.
type Services struct {
	client    *Client
	endpoints Endpoints
}

// NewServices binds the endpoints to a client.
func NewServices(client *Client, endpoints Endpoints) *Services {
	return &Services{client: client, endpoints: endpoints}
}

// TalentAge returns the age group of the talent in a clip. The result may be
// the model.TalentAgeNotApplicable sentinel.
func (s *Services) TalentAge(ctx context.Context, url string) (string, error) {
	var out struct {
		AgeGroup string `json:"ageGroup"`
	}
	if err := s.client.PostJSON(ctx, CallTalentAge, s.endpoints.TalentAge, map[string]string{"url": url}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.AgeGroup) == "" {
		return "", empty(CallTalentAge, "ageGroup")
	}
	return out.AgeGroup, nil
}

// Poster renders a still frame of the clip into bucket and returns its URL.
func (s *Services) Poster(ctx context.Context, videoURL, bucket string) (string, error) {
	var out struct {
		PosterURL string `json:"posterUrl"`
	}
	in := map[string]string{"videoUrl": videoURL, "bucketName": bucket}
	if err := s.client.PostJSON(ctx, CallPoster, s.endpoints.Poster, in, &out); err != nil {
		return "", err
	}
	if out.PosterURL == "" {
		return "", empty(CallPoster, "posterUrl")
	}
	return out.PosterURL, nil
}

// Describe returns a natural-language visual description of the clip.
func (s *Services) Describe(ctx context.Context, url string) (string, error) {
	var out struct {
		Description string `json:"description"`
	}
	if err := s.client.PostJSON(ctx, CallDescription, s.endpoints.Description, map[string]string{"url": url}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Description) == "" {
		return "", empty(CallDescription, "description")
	}
	return out.Description, nil
}

// Duration measures the clip and returns its length as "M:SS" or "H:MM:SS".
func (s *Services) Duration(ctx context.Context, videoURL string) (string, error) {
	var out struct {
		Duration string `json:"duration"`
	}
	if err := s.client.PostJSON(ctx, CallDuration, s.endpoints.Duration, map[string]string{"videoUrl": videoURL}, &out); err != nil {
		return "", err
	}
	if out.Duration == "" {
		return "", empty(CallDuration, "duration")
	}
	return out.Duration, nil
}

// ABRoll classifies the clip as A-roll or B-roll footage.
func (s *Services) ABRoll(ctx context.Context, url string) (string, error) {
	var out struct {
		Type string `json:"type"`
	}
	if err := s.client.PostJSON(ctx, CallABRoll, s.endpoints.ABRoll, map[string]string{"url": url}, &out); err != nil {
		return "", err
	}
	if out.Type == "" {
		return "", empty(CallABRoll, "type")
	}
	return out.Type, nil
}

// ShotTypes returns the shot-type tags of the clip. An empty list is a valid
// answer; a missing list is not.
func (s *Services) ShotTypes(ctx context.Context, url, brand, product string) ([]string, error) {
	var out struct {
		ShotTypes *[]string `json:"shot_types"`
	}
	in := map[string]string{"url": url, "brand": brand, "product": product}
	if err := s.client.PostJSON(ctx, CallShotTypes, s.endpoints.ShotType, in, &out); err != nil {
		return nil, err
	}
	if out.ShotTypes == nil {
		return nil, empty(CallShotTypes, "shot_types")
	}
	return *out.ShotTypes, nil
}

// Blur derives the low resolution placeholder of an image as a data URL.
func (s *Services) Blur(ctx context.Context, imageURL string) (string, error) {
	var out struct {
		Base64Image string `json:"base64Image"`
	}
	if err := s.client.PostJSON(ctx, CallBlur, s.endpoints.Blur, map[string]string{"imageUrl": imageURL}, &out); err != nil {
		return "", err
	}
	if out.Base64Image == "" {
		return "", empty(CallBlur, "base64Image")
	}
	if !strings.HasPrefix(out.Base64Image, "data:image/") {
		return "", &Error{Call: CallBlur, Kind: KindDecode, Message: "base64Image is not an image data URL"}
	}
	return out.Base64Image, nil
}

// Segment asks the segmentation service where to cut the video.
func (s *Services) Segment(ctx context.Context, publicURL string) (model.ClipTimestampSet, error) {
	var out model.ClipTimestampSet
	if err := s.client.PostJSON(ctx, CallSegmentation, s.endpoints.Segmentation, map[string]string{"publicURL": publicURL}, &out); err != nil {
		return model.ClipTimestampSet{}, err
	}
	if out.Len() == 0 {
		return model.ClipTimestampSet{}, empty(CallSegmentation, "timestamps")
	}
	return out, nil
}

// Trim cuts the video at every range and returns one URL per range. The
// timestamps are sent exactly as segmentation returned them.
func (s *Services) Trim(ctx context.Context, videoURL string, timestamps model.ClipTimestampSet) ([]string, error) {
	var out struct {
		VideoURLs []string `json:"videoUrls"`
	}
	in := struct {
		VideoURL   string                 `json:"videoUrl"`
		Timestamps model.ClipTimestampSet `json:"timestamps"`
	}{VideoURL: videoURL, Timestamps: timestamps}
	if err := s.client.PostJSON(ctx, CallTrim, s.endpoints.Trim, in, &out); err != nil {
		return nil, err
	}
	if len(out.VideoURLs) == 0 {
		return nil, empty(CallTrim, "videoUrls")
	}
	urls := make([]string, 0, len(out.VideoURLs))
	for _, u := range out.VideoURLs {
		if strings.TrimSpace(u) == "" {
			return nil, &Error{Call: CallTrim, Kind: KindDecode, Message: "videoUrls contains an empty entry"}
		}
		urls = append(urls, u)
	}
	return urls, nil
}
