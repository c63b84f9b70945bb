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

// This file implements the canonical storage on Google Cloud Storage (GCS).
// Every catalog URL points into one bucket, addressed through its public host:
//
//	https://storage.googleapis.com/<bucket>/<object>
package cloud

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSBlobStore writes objects into the canonical bucket.
type GCSBlobStore struct {
	client *storage.Client
	bucket string
	host   string
}

// NewGCSBlobStore creates a store for bucket, served from host
// (e.g. https://storage.googleapis.com).
func NewGCSBlobStore(client *storage.Client, bucket, host string) *GCSBlobStore {
	return &GCSBlobStore{client: client, bucket: bucket, host: strings.TrimSuffix(host, "/")}
}

// Upload streams r into the object key and returns its public URL.
func (s *GCSBlobStore) Upload(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write gs://%s/%s: %w", s.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close gs://%s/%s: %w", s.bucket, key, err)
	}
	return s.PublicURL(key), nil
}

// PublicURL is the canonical URL of an object.
func (s *GCSBlobStore) PublicURL(key string) string {
	return s.host + "/" + s.bucket + "/" + key
}

// IsCanonical reports whether rawURL points into the canonical bucket.
func (s *GCSBlobStore) IsCanonical(rawURL string) bool {
	return strings.HasPrefix(rawURL, s.host+"/"+s.bucket+"/")
}

// ParseObjectURL splits a GCS URL into bucket and object name. It accepts
// gs:// URIs and https URLs on storage.googleapis.com or storage.cloud.google.com.
func ParseObjectURL(rawURL string) (bucket, object string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse %q: %w", rawURL, err)
	}
	var path string
	switch {
	case u.Scheme == "gs":
		bucket, path = u.Host, strings.TrimPrefix(u.Path, "/")
	case u.Host == "storage.googleapis.com" || u.Host == "storage.cloud.google.com":
		bucket, path, _ = strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	default:
		return "", "", fmt.Errorf("%q is not a cloud storage url", rawURL)
	}
	if bucket == "" || path == "" {
		return "", "", fmt.Errorf("%q does not name an object", rawURL)
	}
	return bucket, path, nil
}

// GSURI rewrites a GCS https URL as a gs:// URI. Other URLs are returned
// unchanged.
func GSURI(rawURL string) string {
	bucket, object, err := ParseObjectURL(rawURL)
	if err != nil {
		return rawURL
	}
	return "gs://" + bucket + "/" + object
}
