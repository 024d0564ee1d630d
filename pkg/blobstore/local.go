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
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// LocalStore is a Store backed by a filesystem. It serves "file://" URIs and
// plain paths, which makes any mounted filesystem a valid staging target.
type LocalStore struct {
	fs afero.Fs
}

// NewLocalStore creates a filesystem-backed store.
func NewLocalStore(fs afero.Fs) *LocalStore {
	return &LocalStore{fs: fs}
}

func localPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

// Size implements Store.
func (s *LocalStore) Size(ctx context.Context, uri string) (int64, bool, error) {
	info, err := s.fs.Stat(localPath(uri))
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "stat %q", uri)
	}
	if info.IsDir() {
		return 0, false, errors.Errorf("staging target %q is a directory", uri)
	}
	return info.Size(), true, nil
}

// Create implements Store. O_EXCL makes the create fail if the object
// appeared since the existence check.
func (s *LocalStore) Create(ctx context.Context, uri string, contentType string) (io.WriteCloser, error) {
	path := localPath(uri)
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating staging directory for %q", uri)
	}
	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %q", uri)
	}
	return f, nil
}

// Close implements Store.
func (s *LocalStore) Close() error {
	return nil
}
