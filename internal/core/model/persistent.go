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
// This file, `persistent.go`, contains the models that outlive a workflow run:
// the catalog record for an enriched clip and the journaled state of a run.
package model

import (
	"fmt"
	"strings"
	"time"
)

// TalentAgeNotApplicable is the classifier result that means "no talent on screen".
const TalentAgeNotApplicable = "N/A"

// EnrichedClip is the catalog record written once per clip. It is either
// absent or fully populated; readers never see partial records.
type EnrichedClip struct {
	VideoURL      string    `json:"video_url" db:"video_url"`
	Description   string    `json:"description" db:"description"`
	Embedding     []float64 `json:"embedding" db:"-"`
	PosterURL     string    `json:"poster_url" db:"poster_url"`
	BlurDataURL   string    `json:"blur_data_url" db:"blur_data_url"`
	Duration      string    `json:"duration" db:"duration"`
	Brand         string    `json:"brand" db:"brand"`
	MuxAssetID    string    `json:"mux_asset_id" db:"mux_asset_id"`
	MuxPlaybackID string    `json:"mux_playback_id" db:"mux_playback_id"`
	TalentAge     string    `json:"talent_age,omitempty" db:"-"`
	ABRoll        string    `json:"ab_roll" db:"ab_roll"`
	ShotTypes     []string  `json:"shot_types" db:"-"`
	Tags          []string  `json:"tags" db:"-"`
	CreateDate    time.Time `json:"create_date" db:"create_date"`
}

// SetTalentAge stores the classifier result, dropping the "not applicable"
// sentinel so the field is left out of the record entirely.
func (c *EnrichedClip) SetTalentAge(ageGroup string) {
	ageGroup = strings.TrimSpace(ageGroup)
	if ageGroup == "" || strings.EqualFold(ageGroup, TalentAgeNotApplicable) {
		c.TalentAge = ""
		return
	}
	c.TalentAge = ageGroup
}

// HasTalentAge reports whether the talent_age key belongs in the record.
func (c *EnrichedClip) HasTalentAge() bool {
	return c.TalentAge != ""
}

// Validate rejects records missing any of the required fields.
func (c *EnrichedClip) Validate() error {
	var missing []string
	if c.VideoURL == "" {
		missing = append(missing, "video_url")
	}
	if c.Description == "" {
		missing = append(missing, "description")
	}
	if len(c.Embedding) == 0 {
		missing = append(missing, "embedding")
	}
	if c.Brand == "" {
		missing = append(missing, "brand")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// Document renders the record as the key/value document a catalog stores.
// The talent_age key is present only when a real age group was classified.
func (c *EnrichedClip) Document() map[string]interface{} {
	doc := map[string]interface{}{
		"video_url":       c.VideoURL,
		"description":     c.Description,
		"embedding":       c.Embedding,
		"poster_url":      c.PosterURL,
		"blur_data_url":   c.BlurDataURL,
		"duration":        c.Duration,
		"brand":           c.Brand,
		"mux_asset_id":    c.MuxAssetID,
		"mux_playback_id": c.MuxPlaybackID,
		"ab_roll":         c.ABRoll,
		"shot_types":      c.ShotTypes,
		"tags":            c.Tags,
	}
	if c.HasTalentAge() {
		doc["talent_age"] = c.TalentAge
	}
	return doc
}

// ClipMatch is one result of a similarity search over the catalog.
type ClipMatch struct {
	Clip     *EnrichedClip `json:"clip"`
	Distance float64       `json:"distance"`
}

// RunRecord is the journaled state of one ingestion run.
type RunRecord struct {
	RunID     string    `json:"run_id"`
	SourceURL string    `json:"source_url"`
	Brand     string    `json:"brand"`
	State     RunState  `json:"state"`
	Error     string    `json:"error,omitempty"`
	Written   int       `json:"clips_written"`
	Failed    int       `json:"clips_failed"`
	UpdatedAt time.Time `json:"updated_at"`
}
