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

package timecode_test

import (
	"errors"
	"testing"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/timecode"
	"github.com/zeebo/assert"
)

func TestSeconds(t *testing.T) {
	cases := map[string]int{
		"0:00:00":  0,
		"0:00:05":  5,
		"0:01:30":  90,
		"1:00:00":  3600,
		"00:05:09": 309,
		"12:59:59": 46799,
	}
	for in, want := range cases {
		got, err := timecode.Seconds(in)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestSecondsRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "5", "1:30", "1:2:3:4", "0:60:00", "0:00:60", "a:00:00", "-1:00:00", "0::05", "0:1.5:00"} {
		_, err := timecode.Seconds(in)
		assert.Error(t, err)
		assert.True(t, errors.Is(err, timecode.ErrMalformedDuration))
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0:05", timecode.Short(5))
	assert.Equal(t, "1:30", timecode.Short(90.9))
	assert.Equal(t, "61:01", timecode.Short(3661))
	assert.Equal(t, "0:00:05", timecode.Long(5.99))
	assert.Equal(t, "1:01:01", timecode.Long(3661))
	assert.Equal(t, "0:00:00", timecode.Long(-3))
}

func TestRoundTrip(t *testing.T) {
	for _, in := range []string{"0:00:00", "0:00:05", "00:01:30", "2:03:04", "10:00:59"} {
		secs, err := timecode.Seconds(in)
		assert.NoError(t, err)

		again, err := timecode.Seconds(timecode.Long(float64(secs)))
		assert.NoError(t, err)
		assert.Equal(t, secs, again)
	}
}

func TestPromote(t *testing.T) {
	assert.Equal(t, "0:1:30", timecode.Promote("1:30"))
	assert.Equal(t, "0:01:30", timecode.Promote("0:01:30"))
	assert.Equal(t, "45", timecode.Promote("45"))
}
