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

// Package blobstore abstracts the object store that staged artifacts are
// uploaded to. Objects are addressed by URI: "gs://bucket/path" is backed by
// Google Cloud Storage, anything else is treated as a local filesystem path.
package blobstore

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"google.golang.org/api/googleapi"
)

// Store is the object-store capability consumed by the stager.
type Store interface {
	// Size reports the byte size of the object at uri and whether it exists.
	// A missing object is not an error.
	Size(ctx context.Context, uri string) (int64, bool, error)

	// Create opens a writer for a new object at uri. The create is
	// exclusive: if the object already exists, Create or the writer's Close
	// fails. The caller owns the writer and must close it on every path.
	Create(ctx context.Context, uri string, contentType string) (io.WriteCloser, error)

	// Close releases the underlying client. Idempotent.
	Close() error
}

// ForPath returns the Store implementation responsible for the given
// staging base path.
func ForPath(ctx context.Context, basePath string) (Store, error) {
	if strings.HasPrefix(basePath, "gs://") {
		store, err := NewGCSStore(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "creating GCS client for %q", basePath)
		}
		return store, nil
	}
	return NewLocalStore(afero.NewOsFs()), nil
}

// JoinURI appends name to a base URI or path, avoiding duplicate separators.
func JoinURI(basePath, name string) string {
	return strings.TrimRight(basePath, "/") + "/" + name
}

// IsPermissionDenied reports whether err represents an access or permission
// failure on the object store. Such failures are not worth retrying.
func IsPermissionDenied(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 401 || apiErr.Code == 403
	}
	return errors.Is(err, os.ErrPermission)
}
