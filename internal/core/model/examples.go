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

// Package model defines the data structures for the application. This file,
// `examples.go`, provides hardcoded example instances that are embedded in
// generative model prompts as "few-shot" examples, so the model answers with
// JSON in exactly the shape we decode.
package model

// GetExampleVisualDescription returns the example answer shown to the model
// when it is asked to describe the visuals of a clip. The description is
// embedded later, so it should read as plain prose without timestamps.
func GetExampleVisualDescription() *VisualDescription {
	return &VisualDescription{
		Description: "A woman in her late twenties stands at a bright kitchen counter, " +
			"pours sparkling water into a glass and smiles at the camera. The shot is a " +
			"handheld medium close-up with natural window light and a shallow depth of field.",
	}
}
