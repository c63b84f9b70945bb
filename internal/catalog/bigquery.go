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
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
)

// BigQuery query templates. The single %s is the fully qualified table name;
// %d in QryClipKnn is top_k, which VECTOR_SEARCH requires as a literal.
const (
	// QryInsertClip inserts a clip unless its video_url exists. The no-op
	// UPDATE clause makes the MERGE a mutating statement, so BigQuery
	// serializes concurrent writes of the table and aborts the loser with a
	// concurrent update error instead of letting both insert. A duplicate is
	// detected from the inserted row count.
	QryInsertClip = "MERGE `%s` T " +
		"USING (SELECT @video_url AS video_url) S ON T.video_url = S.video_url " +
		"WHEN MATCHED THEN UPDATE SET video_url = T.video_url " +
		"WHEN NOT MATCHED THEN INSERT (video_url, brand, embedding, document, create_date) " +
		"VALUES (@video_url, @brand, @embedding, PARSE_JSON(@document), @create_date)"

	// QryClipKnn finds the closest clips of one brand by cosine distance.
	QryClipKnn = "SELECT TO_JSON_STRING(base.document) AS document, base.create_date AS create_date, distance " +
		"FROM VECTOR_SEARCH((SELECT * FROM `%s` WHERE brand = @brand), 'embedding', " +
		"(SELECT @query AS embedding), top_k => %d, distance_type => 'COSINE') ORDER BY distance ASC"

	// QryClipByURL fetches one clip document.
	QryClipByURL = "SELECT TO_JSON_STRING(document) AS document, create_date FROM `%s` WHERE video_url = @video_url LIMIT 1"
)

// ClipTableSchema is the layout of the clip table.
var ClipTableSchema = bigquery.Schema{
	{Name: "video_url", Type: bigquery.StringFieldType, Required: true},
	{Name: "brand", Type: bigquery.StringFieldType, Required: true},
	{Name: "embedding", Type: bigquery.FloatFieldType, Repeated: true},
	{Name: "document", Type: bigquery.JSONFieldType, Required: true},
	{Name: "create_date", Type: bigquery.TimestampFieldType, Required: true},
}

type bigQueryRow struct {
	Document   string    `bigquery:"document"`
	CreateDate time.Time `bigquery:"create_date"`
	Distance   float64   `bigquery:"distance"`
}

// BigQuery stores clips in a BigQuery table.
type BigQuery struct {
	client  *bigquery.Client
	dataset string
	table   string
}

// NewBigQuery binds the catalog to dataset.table.
func NewBigQuery(client *bigquery.Client, dataset, table string) *BigQuery {
	if table == "" {
		table = DefaultTable
	}
	return &BigQuery{client: client, dataset: dataset, table: table}
}

func (b *BigQuery) fqn() string {
	return strings.Replace(b.client.Dataset(b.dataset).Table(b.table).FullyQualifiedName(), ":", ".", -1)
}

// EnsureTable creates the clip table when it does not exist yet.
func (b *BigQuery) EnsureTable(ctx context.Context) error {
	err := b.client.Dataset(b.dataset).Table(b.table).Create(ctx, &bigquery.TableMetadata{
		Schema:     ClipTableSchema,
		Clustering: &bigquery.Clustering{Fields: []string{"brand"}},
	})
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create clip table %s: %w", b.table, err)
	}
	return nil
}

func (b *BigQuery) Write(ctx context.Context, clip *model.EnrichedClip) error {
	if err := prepare(clip); err != nil {
		return err
	}
	doc, err := encodeDocument(clip)
	if err != nil {
		return err
	}

	q := b.client.Query(fmt.Sprintf(QryInsertClip, b.fqn()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "video_url", Value: clip.VideoURL},
		{Name: "brand", Value: clip.Brand},
		{Name: "embedding", Value: clip.Embedding},
		{Name: "document", Value: doc},
		{Name: "create_date", Value: clip.CreateDate},
	}
	err = b.runInsert(ctx, q)
	if IsConcurrentUpdate(err) {
		// Another writer committed first; it may have written this clip.
		if _, getErr := b.GetByURL(ctx, clip.VideoURL); getErr == nil {
			return fmt.Errorf("clip insert %s: %w", clip.VideoURL, model.ErrDuplicateKey)
		}
	}
	if err != nil {
		return fmt.Errorf("clip insert %s: %w", clip.VideoURL, err)
	}
	return nil
}

func (b *BigQuery) runInsert(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	if err := status.Err(); err != nil {
		return err
	}
	stats, _ := status.Statistics.Details.(*bigquery.QueryStatistics)
	return insertOutcome(stats)
}

// insertOutcome reports model.ErrDuplicateKey when the MERGE matched an
// existing row instead of inserting one. Only the DML stats tell the two
// apart; the affected row count includes the no-op update.
func insertOutcome(stats *bigquery.QueryStatistics) error {
	if stats == nil {
		return nil
	}
	if stats.DMLStats != nil {
		if stats.DMLStats.InsertedRowCount == 0 {
			return model.ErrDuplicateKey
		}
		return nil
	}
	if stats.NumDMLAffectedRows == 0 {
		return model.ErrDuplicateKey
	}
	return nil
}

// IsConcurrentUpdate reports whether err is BigQuery aborting a DML statement
// that conflicted with another one on the same table.
func IsConcurrentUpdate(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "concurrent update")
}

func (b *BigQuery) GetByURL(ctx context.Context, videoURL string) (*model.EnrichedClip, error) {
	q := b.client.Query(fmt.Sprintf(QryClipByURL, b.fqn()))
	q.Parameters = []bigquery.QueryParameter{{Name: "video_url", Value: videoURL}}
	itr, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read from BigQuery: %w", err)
	}
	var row bigQueryRow
	err = itr.Next(&row)
	if err == iterator.Done {
		return nil, fmt.Errorf("clip %s: %w", videoURL, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to iterate results: %w", err)
	}
	return decodeDocument(row.Document, row.CreateDate)
}

func (b *BigQuery) Search(ctx context.Context, brand string, vector []float64, k int) ([]*model.ClipMatch, error) {
	out := make([]*model.ClipMatch, 0)
	if k <= 0 {
		k = 10
	}
	q := b.client.Query(fmt.Sprintf(QryClipKnn, b.fqn(), k))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "brand", Value: brand},
		{Name: "query", Value: vector},
	}
	itr, err := q.Read(ctx)
	if err != nil {
		return out, fmt.Errorf("failed to read from BigQuery: %w", err)
	}
	for {
		var row bigQueryRow
		err := itr.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return out, fmt.Errorf("failed to iterate results: %w", err)
		}
		clip, err := decodeDocument(row.Document, row.CreateDate)
		if err != nil {
			return out, err
		}
		out = append(out, &model.ClipMatch{Clip: clip, Distance: row.Distance})
	}
	return out, nil
}

// Close is a no-op; the BigQuery client is owned by the service clients.
func (b *BigQuery) Close() error {
	return nil
}
