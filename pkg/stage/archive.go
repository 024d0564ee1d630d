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
	"archive/tar"
	"compress/gzip"
	"io"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// ArchiveExtension is the file extension for staged directory archives.
const ArchiveExtension = "tgz"

// WriteArchive serializes the directory tree rooted at dir into w as a
// gzipped tarball. The byte stream depends only on entry paths, modes and
// file contents: entries are visited in sorted order and timestamp/owner
// header fields are zeroed, so two directory trees with identical content
// always serialize identically. The same stream feeds both the digest
// computation and the upload, and w is never closed here.
func WriteArchive(fsys afero.Fs, dir string, w io.Writer) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	walkErr := afero.Walk(fsys, dir, func(path string, info fs.FileInfo, err error) error {
		return writeArchiveEntry(fsys, tw, dir, path, info, err)
	})
	if walkErr != nil {
		tw.Close()
		gz.Close()
		return walkErr
	}

	if err := tw.Close(); err != nil {
		return errors.Wrap(err, "closing tar stream")
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(err, "closing gzip stream")
	}
	return nil
}

func writeArchiveEntry(fsys afero.Fs, tw *tar.Writer, dir, path string, info fs.FileInfo, errFromWalk error) error {
	if errFromWalk != nil {
		return &ReadError{Path: path, Err: errFromWalk}
	}

	relPath, err := filepath.Rel(dir, path)
	if err != nil {
		return errors.Wrapf(err, "relativizing %q", path)
	}
	if relPath == "." {
		return nil
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return errors.Wrapf(err, "building tar header for %q", path)
	}
	header.Name = filepath.ToSlash(relPath)
	if info.IsDir() {
		header.Name += "/"
	}
	// Content-only digest: anything that can differ between two identical
	// copies of the tree must not reach the stream.
	header.ModTime = time.Time{}
	header.AccessTime = time.Time{}
	header.ChangeTime = time.Time{}
	header.Uid = 0
	header.Gid = 0
	header.Uname = ""
	header.Gname = ""

	if err := tw.WriteHeader(header); err != nil {
		return errors.Wrapf(err, "writing tar header for %q", path)
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	file, err := fsys.Open(path)
	if err != nil {
		return &ReadError{Path: path, Err: err}
	}
	defer file.Close()

	if _, err := io.Copy(tw, file); err != nil {
		return &ReadError{Path: path, Err: err}
	}
	return nil
}
