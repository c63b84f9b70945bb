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

package test

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/remote"
)

// Recorder counts calls by name and lets tests script failures. A failure
// registered under "call|url" applies to one URL, under "call" to all.
type Recorder struct {
	mu    sync.Mutex
	calls map[string]int
	fails map[string]error
}

// FailOn scripts err for call, optionally limited to one url.
func (r *Recorder) FailOn(call, url string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fails == nil {
		r.fails = make(map[string]error)
	}
	key := call
	if url != "" {
		key = call + "|" + url
	}
	r.fails[key] = err
}

// Count returns how many times call was made.
func (r *Recorder) Count(call string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[call]
}

// CountURL returns how many times call was made for url.
func (r *Recorder) CountURL(call, url string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[call+"|"+url]
}

func (r *Recorder) record(call, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[call]++
	r.calls[call+"|"+url]++
	if err, ok := r.fails[call+"|"+url]; ok {
		return err
	}
	return r.fails[call]
}

// StatusError is a non-2xx remote failure.
func StatusError(call string, status int) error {
	return &remote.Error{Call: call, Kind: remote.KindStatus, StatusCode: status, Message: "scripted failure"}
}

// FakeServices answers every analysis, segmentation and trim call.
type FakeServices struct {
	Recorder
	AgeGroup  string   // Defaults to the "N/A" sentinel.
	Shots     []string // Defaults to ["wide"].
	ClipCount int      // Number of clips trim produces, defaults to 2.
}

func (f *FakeServices) TalentAge(_ context.Context, url string) (string, error) {
	if err := f.record(remote.CallTalentAge, url); err != nil {
		return "", err
	}
	if f.AgeGroup == "" {
		return model.TalentAgeNotApplicable, nil
	}
	return f.AgeGroup, nil
}

func (f *FakeServices) Poster(_ context.Context, videoURL, bucket string) (string, error) {
	if err := f.record(remote.CallPoster, videoURL); err != nil {
		return "", err
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s.webp", bucket, baseName(videoURL)), nil
}

func (f *FakeServices) Describe(_ context.Context, url string) (string, error) {
	if err := f.record(remote.CallDescription, url); err != nil {
		return "", err
	}
	return "footage of " + baseName(url), nil
}

func (f *FakeServices) Duration(_ context.Context, videoURL string) (string, error) {
	if err := f.record(remote.CallDuration, videoURL); err != nil {
		return "", err
	}
	return "0:45", nil
}

func (f *FakeServices) ABRoll(_ context.Context, url string) (string, error) {
	if err := f.record(remote.CallABRoll, url); err != nil {
		return "", err
	}
	return "B-roll", nil
}

func (f *FakeServices) ShotTypes(_ context.Context, url, _, _ string) ([]string, error) {
	if err := f.record(remote.CallShotTypes, url); err != nil {
		return nil, err
	}
	if f.Shots == nil {
		return []string{"wide"}, nil
	}
	return f.Shots, nil
}

func (f *FakeServices) Blur(_ context.Context, imageURL string) (string, error) {
	if err := f.record(remote.CallBlur, imageURL); err != nil {
		return "", err
	}
	return "data:image/webp;base64," + base64.StdEncoding.EncodeToString([]byte(imageURL)), nil
}

func (f *FakeServices) Segment(_ context.Context, publicURL string) (model.ClipTimestampSet, error) {
	if err := f.record(remote.CallSegmentation, publicURL); err != nil {
		return model.ClipTimestampSet{}, err
	}
	n := f.clipCount()
	ranges := make([]model.TimeRange, 0, n)
	for i := 0; i < n; i++ {
		ranges = append(ranges, model.TimeRange{Start: float64(i * 10), End: float64((i + 1) * 10)})
	}
	return model.NewClipTimestampSet(ranges...), nil
}

func (f *FakeServices) Trim(_ context.Context, videoURL string, timestamps model.ClipTimestampSet) ([]string, error) {
	if err := f.record(remote.CallTrim, videoURL); err != nil {
		return nil, err
	}
	stem := strings.TrimSuffix(videoURL, ".mp4")
	urls := make([]string, 0, timestamps.Len())
	for i := 0; i < timestamps.Len(); i++ {
		urls = append(urls, fmt.Sprintf("%s_clip%d.mp4", stem, i+1))
	}
	return urls, nil
}

func (f *FakeServices) clipCount() int {
	if f.ClipCount <= 0 {
		return 2
	}
	return f.ClipCount
}

// FakeStreamingHost hands out sequential asset ids.
type FakeStreamingHost struct {
	Recorder
	mu   sync.Mutex
	next int
}

func (f *FakeStreamingHost) Upload(_ context.Context, url string) (*remote.StreamingAsset, error) {
	if err := f.record(remote.CallMux, url); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return &remote.StreamingAsset{AssetID: fmt.Sprintf("asset-%d", f.next), PlaybackID: fmt.Sprintf("play-%d", f.next)}, nil
}

// FakeEmbedder returns a small deterministic vector per text. Failures are
// keyed by the text being embedded.
type FakeEmbedder struct {
	Recorder
}

func (f *FakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if err := f.record(remote.CallEmbedding, text); err != nil {
		return nil, err
	}
	return []float64{float64(len(text)), 1, 0.5}, nil
}

// FakeConverter converts by swapping the extension and moving the file to
// the canonical bucket.
type FakeConverter struct {
	Recorder
	CanonicalPrefix string
}

func (f *FakeConverter) Convert(_ context.Context, videoURL string) (string, error) {
	if err := f.record(remote.CallConversion, videoURL); err != nil {
		return "", err
	}
	name := baseName(videoURL)
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	return strings.TrimSuffix(f.CanonicalPrefix, "/") + "/" + name + ".mp4", nil
}

// FakeBlobStore keeps uploaded objects in memory under a canonical prefix.
type FakeBlobStore struct {
	Recorder
	Prefix  string
	mu      sync.Mutex
	Objects map[string][]byte
	Types   map[string]string
}

func (f *FakeBlobStore) Upload(_ context.Context, key, contentType string, r io.Reader) (string, error) {
	if err := f.record("upload", key); err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Objects == nil {
		f.Objects = make(map[string][]byte)
		f.Types = make(map[string]string)
	}
	f.Objects[key] = data
	f.Types[key] = contentType
	return strings.TrimSuffix(f.Prefix, "/") + "/" + key, nil
}

func (f *FakeBlobStore) IsCanonical(url string) bool {
	return strings.HasPrefix(url, strings.TrimSuffix(f.Prefix, "/")+"/")
}

// FakeDownloader serves fixed bodies by URL.
type FakeDownloader struct {
	Recorder
	Bodies map[string][]byte
}

func (f *FakeDownloader) Download(_ context.Context, call, url string) (io.ReadCloser, string, error) {
	if err := f.record(call, url); err != nil {
		return nil, "", err
	}
	body, ok := f.Bodies[url]
	if !ok {
		return nil, "", &remote.Error{Call: call, Kind: remote.KindStatus, StatusCode: 404, Message: "not found"}
	}
	return io.NopCloser(bytes.NewReader(body)), "application/octet-stream", nil
}

// MP4Header is the start of an ISO-BMFF file with an mp42 major brand.
var MP4Header = []byte{
	0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'm', 'p', '4', '2',
	0x00, 0x00, 0x00, 0x00, 'm', 'p', '4', '2', 'i', 's', 'o', 'm',
}

func baseName(url string) string {
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}
