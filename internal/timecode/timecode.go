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

// Package timecode converts between the human readable durations carried on
// upload events and catalog records ("H:MM:SS" and "M:SS") and whole seconds.
package timecode

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedDuration is returned when a duration string is not exactly three
// colon separated non-negative integers with minutes and seconds below 60.
var ErrMalformedDuration = errors.New("malformed duration")

// Seconds parses an "H:MM:SS" string into whole seconds.
func Seconds(text string) (int, error) {
	fields := strings.Split(strings.TrimSpace(text), ":")
	if len(fields) != 3 {
		return 0, fmt.Errorf("%w: %q must have three fields", ErrMalformedDuration, text)
	}

	values := make([]int, 3)
	for i, field := range fields {
		if field == "" {
			return 0, fmt.Errorf("%w: %q has an empty field", ErrMalformedDuration, text)
		}
		for _, r := range field {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("%w: %q has a non-numeric field", ErrMalformedDuration, text)
			}
		}
		v, err := strconv.Atoi(field)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrMalformedDuration, text, err)
		}
		values[i] = v
	}

	hours, minutes, seconds := values[0], values[1], values[2]
	if minutes >= 60 || seconds >= 60 {
		return 0, fmt.Errorf("%w: %q minutes and seconds must be below 60", ErrMalformedDuration, text)
	}
	return hours*3600 + minutes*60 + seconds, nil
}

// Promote turns a two field "M:SS" duration into "0:M:SS" and leaves any other
// input untouched. Upload clients historically sent both forms.
func Promote(text string) string {
	text = strings.TrimSpace(text)
	if strings.Count(text, ":") == 1 {
		return "0:" + text
	}
	return text
}

// Short formats seconds as "M:SS". Minutes are not wrapped into hours and
// fractional seconds are truncated.
func Short(seconds float64) string {
	total := whole(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// Long formats seconds as "H:MM:SS", truncating fractional seconds.
func Long(seconds float64) string {
	total := whole(seconds)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

func whole(seconds float64) int {
	if seconds <= 0 || math.IsNaN(seconds) {
		return 0
	}
	return int(math.Trunc(seconds))
}
