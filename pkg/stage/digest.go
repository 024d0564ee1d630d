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

package stage

import (
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/spf13/afero"
)

// Attributes holds the facts derived from one pass over an artifact: the
// byte size and content hash of the stream that would be uploaded.
type Attributes struct {
	Size        int64
	ContentHash string
	IsDirectory bool
}

// Digest computes the size and content hash of the artifact at path in a
// single streaming pass. Files are hashed as-is; directories are hashed
// through the same deterministic archive stream that an upload would send.
// The hash is SHA-256, encoded URL-safe without padding so it is usable as
// a file name component.
func Digest(fsys afero.Fs, path string) (Attributes, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return Attributes{}, &ReadError{Path: path, Err: err}
	}

	hasher := sha256.New()
	sink := &countingWriter{w: hasher}

	if info.IsDir() {
		if err := WriteArchive(fsys, path, sink); err != nil {
			return Attributes{}, err
		}
	} else {
		file, err := fsys.Open(path)
		if err != nil {
			return Attributes{}, &ReadError{Path: path, Err: err}
		}
		defer file.Close()
		if _, err := io.Copy(sink, file); err != nil {
			return Attributes{}, &ReadError{Path: path, Err: err}
		}
	}

	return Attributes{
		Size:        sink.count,
		ContentHash: base64.RawURLEncoding.EncodeToString(hasher.Sum(nil)),
		IsDirectory: info.IsDir(),
	}, nil
}

// countingWriter counts the bytes flowing into the wrapped writer.
type countingWriter struct {
	w     io.Writer
	count int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.count += int64(n)
	return n, err
}
