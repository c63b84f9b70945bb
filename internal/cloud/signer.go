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

package cloud

import (
	"context"
	"fmt"
	"time"

	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	"cloud.google.com/go/storage"
)

// DefaultSignedURLTTL bounds how long a signed clip URL stays valid. It
// covers the longest enrichment call with room to spare.
const DefaultSignedURLTTL = time.Hour

// URLSigner creates V4 signed GET URLs for objects in Cloud Storage. The
// signature is produced by the IAM Credentials API on behalf of a service
// account, so no private key has to be present on the host.
type URLSigner struct {
	storageClient *storage.Client
	iamClient     *credentials.IamCredentialsClient
	signerEmail   string
	ttl           time.Duration
}

// NewURLSigner creates a signer acting as signerEmail.
func NewURLSigner(storageClient *storage.Client, iamClient *credentials.IamCredentialsClient, signerEmail string, ttl time.Duration) *URLSigner {
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	return &URLSigner{storageClient: storageClient, iamClient: iamClient, signerEmail: signerEmail, ttl: ttl}
}

// Signs reports whether rawURL names a Cloud Storage object.
func (s *URLSigner) Signs(rawURL string) bool {
	_, _, err := ParseObjectURL(rawURL)
	return err == nil
}

// Sign returns a signed URL for the object behind rawURL, which may be a
// gs:// URI or a public https URL of the object.
func (s *URLSigner) Sign(ctx context.Context, rawURL string) (string, error) {
	return s.SignFor(ctx, rawURL, s.ttl)
}

// SignFor is Sign with an explicit lifetime.
func (s *URLSigner) SignFor(ctx context.Context, rawURL string, expires time.Duration) (string, error) {
	bucketName, objectName, err := ParseObjectURL(rawURL)
	if err != nil {
		return "", err
	}

	opts := &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         "GET",
		Expires:        time.Now().Add(expires),
		GoogleAccessID: s.signerEmail,
		SignBytes: func(b []byte) ([]byte, error) {
			resp, err := s.iamClient.SignBlob(ctx, &credentialspb.SignBlobRequest{
				Name:    fmt.Sprintf("projects/-/serviceAccounts/%s", s.signerEmail),
				Payload: b,
			})
			if err != nil {
				return nil, fmt.Errorf("IAMClient.SignBlob: %w", err)
			}
			return resp.SignedBlob, nil
		},
	}

	u, err := s.storageClient.Bucket(bucketName).SignedURL(objectName, opts)
	if err != nil {
		return "", fmt.Errorf("Bucket(%q).Object(%q).SignedURL: %w", bucketName, objectName, err)
	}
	return u, nil
}
