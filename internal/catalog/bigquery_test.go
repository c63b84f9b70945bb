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

package catalog

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
)

func TestInsertClipStatementSerializesWriters(t *testing.T) {
	q := fmt.Sprintf(QryInsertClip, "proj.clips.modular_clips")
	assert.True(t, strings.HasPrefix(q, "MERGE `proj.clips.modular_clips` T "))
	assert.Contains(t, q, "WHEN MATCHED THEN UPDATE SET video_url = T.video_url")
	assert.Contains(t, q, "WHEN NOT MATCHED THEN INSERT (video_url, brand, embedding, document, create_date)")
	assert.Less(t, strings.Index(q, "WHEN MATCHED"), strings.Index(q, "WHEN NOT MATCHED"))
}

func TestInsertOutcome(t *testing.T) {
	inserted := &bigquery.QueryStatistics{NumDMLAffectedRows: 1, DMLStats: &bigquery.DMLStatistics{InsertedRowCount: 1}}
	assert.NoError(t, insertOutcome(inserted))

	// The no-op update of an existing row still counts as an affected row.
	matched := &bigquery.QueryStatistics{NumDMLAffectedRows: 1, DMLStats: &bigquery.DMLStatistics{UpdatedRowCount: 1}}
	assert.True(t, errors.Is(insertOutcome(matched), model.ErrDuplicateKey))

	assert.True(t, errors.Is(insertOutcome(&bigquery.QueryStatistics{}), model.ErrDuplicateKey))
	assert.NoError(t, insertOutcome(nil))
}

func TestIsConcurrentUpdate(t *testing.T) {
	conflict := &bigquery.Error{
		Reason:  "invalidQuery",
		Message: "Could not serialize access to table proj:clips.modular_clips due to concurrent update",
	}
	assert.True(t, IsConcurrentUpdate(conflict))
	assert.True(t, IsConcurrentUpdate(fmt.Errorf("clip insert: %w", conflict)))
	assert.False(t, IsConcurrentUpdate(errors.New("quota exceeded")))
	assert.False(t, IsConcurrentUpdate(nil))
}
