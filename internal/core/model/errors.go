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

package model

import (
	"errors"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/timecode"
)

// Error taxonomy of the ingestion workflow. Callers wrap these with context
// and match them with errors.Is.
var (
	// ErrMalformedInput marks an UploadEvent that is rejected at the trigger.
	ErrMalformedInput = errors.New("malformed input")
	// ErrMalformedDuration is re-exported from the timecode package.
	ErrMalformedDuration = timecode.ErrMalformedDuration
	// ErrNormalizationFailed is workflow-fatal: conversion or re-upload failed.
	ErrNormalizationFailed = errors.New("normalization failed")
	// ErrSplitFailed is workflow-fatal: segmentation or trim gave no usable clips.
	ErrSplitFailed = errors.New("split failed")
	// ErrEnrichmentFailed is clip-local.
	ErrEnrichmentFailed = errors.New("enrichment failed")
	// ErrDuplicateKey means a record with the same video_url already exists.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrValidation means a catalog record is missing required fields.
	ErrValidation = errors.New("validation error")
	// ErrNoClipsWritten fails a run whose clips all failed enrichment.
	ErrNoClipsWritten = errors.New("no clips written")
	// ErrWorkflowTimeout fails a run that exceeded its deadline.
	ErrWorkflowTimeout = errors.New("workflow timeout")
	// ErrNotFound is returned by catalog and journal lookups.
	ErrNotFound = errors.New("not found")
)
