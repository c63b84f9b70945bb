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

// Package model defines the core data structures for the application.
// This file, `transient.go`, contains the values that only live while an
// ingestion workflow runs: the triggering UploadEvent, the NormalizedVideo, the
// ClipTimestampSet returned by segmentation and the ClipReferences produced by
// trimming. None of these are written to the catalog; they flow between the
// commands of the ingestion chain (and the step journal) and are discarded once
// the catalog records exist.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/timecode"
)

// UploadEvent is the message that starts an ingestion run: a freshly uploaded
// video, its duration and the brand (tenant) it belongs to.
type UploadEvent struct {
	SourceURL string `json:"sourceUrl"` // Externally reachable URL of the uploaded video.
	Duration  string `json:"duration"`  // Duration of the upload in "H:MM:SS".
	Brand     string `json:"brand"`     // Tenant tag; partitions the catalog.
}

// UnmarshalJSON accepts the legacy `publicURL` field as an alias of `sourceUrl`.
func (e *UploadEvent) UnmarshalJSON(data []byte) error {
	var aux struct {
		SourceURL string `json:"sourceUrl"`
		PublicURL string `json:"publicURL"`
		Duration  string `json:"duration"`
		Brand     string `json:"brand"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.SourceURL = aux.SourceURL
	if e.SourceURL == "" {
		e.SourceURL = aux.PublicURL
	}
	e.Duration = aux.Duration
	e.Brand = aux.Brand
	return nil
}

// Normalize trims whitespace and promotes "M:SS" durations to "0:M:SS".
func (e *UploadEvent) Normalize() {
	e.SourceURL = strings.TrimSpace(e.SourceURL)
	e.Brand = strings.TrimSpace(e.Brand)
	e.Duration = timecode.Promote(e.Duration)
}

// Validate checks that all three fields are present and that the duration
// parses. Any failure wraps ErrMalformedInput.
func (e *UploadEvent) Validate() error {
	var missing []string
	if e.SourceURL == "" {
		missing = append(missing, "sourceUrl")
	}
	if e.Duration == "" {
		missing = append(missing, "duration")
	}
	if e.Brand == "" {
		missing = append(missing, "brand")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMalformedInput, strings.Join(missing, ", "))
	}
	if _, err := timecode.Seconds(e.Duration); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	return nil
}

// DurationSeconds returns the parsed duration. Callers are expected to have
// validated the event first; malformed durations yield zero.
func (e *UploadEvent) DurationSeconds() int {
	secs, err := timecode.Seconds(e.Duration)
	if err != nil {
		return 0
	}
	return secs
}

// RunID derives a stable identifier for the workflow run of this event, so
// that a redelivered event maps onto the same journal entries.
func (e *UploadEvent) RunID() string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(e.SourceURL+"|"+e.Brand)).String()
}

// ParseUploadEvent decodes, normalizes and validates a raw message payload.
func ParseUploadEvent(data []byte) (*UploadEvent, error) {
	event := &UploadEvent{}
	if err := json.Unmarshal(data, event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	event.Normalize()
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}

// NormalizedVideo is a video that is MP4 encoded and hosted on canonical
// storage, except for the configured pass-through of unknown extensions.
type NormalizedVideo struct {
	URL string `json:"url"`
}

// TimeRange is a single cut, in seconds from the start of the video.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// ClipTimestampSet is the list of cuts returned by segmentation. The set is
// kept exactly as received and forwarded to trim unchanged; Ranges is the
// best-effort reading of it, used for logging and tests only.
type ClipTimestampSet struct {
	Ranges []TimeRange     // Parsed cuts, nil when an entry has an unknown shape.
	Raw    json.RawMessage // The set as received from segmentation.
	count  int
}

// NewClipTimestampSet builds a set from parsed ranges.
func NewClipTimestampSet(ranges ...TimeRange) ClipTimestampSet {
	return ClipTimestampSet{Ranges: ranges, count: len(ranges)}
}

// Len is the number of cuts. A set of a shape that cannot be read counts as
// one cut, so that it is still forwarded.
func (s ClipTimestampSet) Len() int {
	if s.Raw == nil {
		return len(s.Ranges)
	}
	return s.count
}

// MarshalJSON writes the received JSON when there is one.
func (s ClipTimestampSet) MarshalJSON() ([]byte, error) {
	if len(s.Raw) > 0 {
		return s.Raw, nil
	}
	if s.Ranges == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Ranges)
}

// UnmarshalJSON keeps data and reads the shapes segmentation services return:
// a list of `{start, end}` objects or `[start, end]` pairs, bare or wrapped in
// an object under `timestamps`. Times are numbers of seconds, numeric strings
// or "H:MM:SS" clock strings. Other shapes are kept but not read.
func (s *ClipTimestampSet) UnmarshalJSON(data []byte) error {
	*s = ClipTimestampSet{Raw: append(json.RawMessage(nil), data...)}

	list := bytes.TrimSpace(data)
	if len(list) > 0 && list[0] == '{' {
		var wrapper struct {
			Timestamps json.RawMessage `json:"timestamps"`
		}
		if err := json.Unmarshal(list, &wrapper); err != nil || len(wrapper.Timestamps) == 0 {
			s.count = 1
			return nil
		}
		list = bytes.TrimSpace(wrapper.Timestamps)
	}
	if bytes.Equal(list, []byte("null")) {
		return nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(list, &entries); err != nil {
		s.count = 1
		return nil
	}
	s.count = len(entries)

	ranges := make([]TimeRange, 0, len(entries))
	for _, entry := range entries {
		r, ok := parseTimeRange(entry)
		if !ok {
			return nil
		}
		ranges = append(ranges, r)
	}
	s.Ranges = ranges
	return nil
}

func parseTimeRange(entry json.RawMessage) (TimeRange, bool) {
	var object struct {
		Start json.RawMessage `json:"start"`
		End   json.RawMessage `json:"end"`
	}
	var pair []json.RawMessage
	switch {
	case json.Unmarshal(entry, &object) == nil && object.Start != nil && object.End != nil:
		pair = []json.RawMessage{object.Start, object.End}
	case json.Unmarshal(entry, &pair) == nil && len(pair) == 2:
	default:
		return TimeRange{}, false
	}
	start, ok := parseTime(pair[0])
	if !ok {
		return TimeRange{}, false
	}
	end, ok := parseTime(pair[1])
	if !ok {
		return TimeRange{}, false
	}
	return TimeRange{Start: start, End: end}, true
}

// parseTime reads seconds from a number, a numeric string or "H:MM:SS".
func parseTime(raw json.RawMessage) (float64, bool) {
	var seconds float64
	if err := json.Unmarshal(raw, &seconds); err == nil {
		return seconds, true
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, false
	}
	text = strings.TrimSpace(text)
	if strings.Contains(text, ":") {
		whole, err := timecode.Seconds(timecode.Promote(text))
		return float64(whole), err == nil
	}
	seconds, err := strconv.ParseFloat(text, 64)
	return seconds, err == nil
}

// ClipReference is one trimmed, independently playable segment.
type ClipReference struct {
	URL string `json:"url"`
}

// RunState is the position of an ingestion run in its state machine.
type RunState string

const (
	RunReceived    RunState = "Received"
	RunNormalizing RunState = "Normalizing"
	RunSplitting   RunState = "Splitting"
	RunEnriching   RunState = "Enriching"
	RunCompleted   RunState = "Completed"
	RunFailed      RunState = "Failed"
)

// Terminal reports whether no further transitions are possible.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// ClipOutcome records what happened to one clip during enrichment.
type ClipOutcome struct {
	URL       string `json:"url"`
	Written   bool   `json:"written"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}

// IngestionResult summarizes a finished enrichment phase.
type IngestionResult struct {
	RunID    string         `json:"run_id"`
	Brand    string         `json:"brand"`
	Outcomes []*ClipOutcome `json:"outcomes"`
}

// Written counts clips that have a catalog record, duplicates included.
func (r *IngestionResult) Written() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Written {
			n++
		}
	}
	return n
}

// VisualDescription is the structured answer requested from a generative
// model when descriptions are produced in-process instead of by the remote
// description service.
type VisualDescription struct {
	Description string `json:"description"`
}
