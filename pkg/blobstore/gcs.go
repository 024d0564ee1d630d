// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package blobstore

import (
	"context"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
)

// GCSStore is a Store backed by Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
	closed bool
}

// NewGCSStore creates a GCS-backed store using application default
// credentials.
func NewGCSStore(ctx context.Context) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GCSStore{client: client}, nil
}

// parseGSURI splits a "gs://bucket/object" URI into bucket and object name.
func parseGSURI(uri string) (string, string, error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", errors.Errorf("not a gs:// URI: %q", uri)
	}
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", errors.Errorf("malformed gs:// URI: %q", uri)
	}
	return bucket, object, nil
}

// Size implements Store.
func (s *GCSStore) Size(ctx context.Context, uri string) (int64, bool, error) {
	bucket, object, err := parseGSURI(uri)
	if err != nil {
		return 0, false, err
	}
	attrs, err := s.client.Bucket(bucket).Object(object).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "reading attributes of %q", uri)
	}
	return attrs.Size, true, nil
}

// Create implements Store. The DoesNotExist precondition makes the write
// exclusive; a concurrent create of the same object surfaces as a
// precondition failure when the writer is closed.
func (s *GCSStore) Create(ctx context.Context, uri string, contentType string) (io.WriteCloser, error) {
	bucket, object, err := parseGSURI(uri)
	if err != nil {
		return nil, err
	}
	w := s.client.Bucket(bucket).Object(object).
		If(storage.Conditions{DoesNotExist: true}).
		NewWriter(ctx)
	w.ContentType = contentType
	return w, nil
}

// Close implements Store.
func (s *GCSStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
