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

// Package stage uploads local files and directories to an object store
// under content-addressed names, so that identical content is uploaded at
// most once per staging location.
package stage

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"k8s.io/apimachinery/pkg/util/wait"

	"stagerun/pkg/blobstore"
	"stagerun/pkg/logging"
)

const (
	binaryContentType = "application/octet-stream"

	// initialBackoff is the delay before the first upload retry.
	initialBackoff = 5 * time.Second
	// maxUploadRetries bounds the retries per upload; with the initial
	// attempt that makes maxUploadRetries+1 attempts in total.
	maxUploadRetries = 4
)

// StagedPackage is the caller-visible result of staging one artifact.
type StagedPackage struct {
	// Name is the unique staged file name, or the caller-supplied override.
	Name string
	// Location is the fully qualified URI of the staged object. It is
	// always derived from the content hash, regardless of any override.
	Location string
}

// Stager stages artifacts into a blobstore.Store. A Stager is safe for
// sequential reuse across many staging calls.
type Stager struct {
	store blobstore.Store
	fs    afero.Fs
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Stager reading artifacts from the host filesystem.
func New(store blobstore.Store) *Stager {
	return &Stager{store: store, fs: afero.NewOsFs(), sleep: sleepContext}
}

// StageAll stages each element under basePath and returns the resulting
// packages in input order. An element is either a local path or an
// "overrideName=path" pair supplying an explicit package name. Elements
// whose local path does not exist are skipped with a warning; any other
// failure aborts the whole call.
func (s *Stager) StageAll(ctx context.Context, elements []string, basePath string) ([]StagedPackage, error) {
	if basePath == "" {
		return nil, errors.New("no staging location provided")
	}

	logging.Info("Staging %d artifacts under %s", len(elements), basePath)

	packages := []StagedPackage{}
	uploaded, cached := 0, 0

	for _, element := range elements {
		override, path := splitElement(element)

		if _, err := s.fs.Stat(path); os.IsNotExist(err) {
			logging.Warn("Skipping non-existent artifact %q", path)
			continue
		}

		pkg, wasUploaded, err := s.stageOne(ctx, path, override, basePath)
		if err != nil {
			return nil, err
		}
		if wasUploaded {
			uploaded++
		} else {
			cached++
		}
		packages = append(packages, pkg)
	}

	logging.Info("Staging complete: %d artifacts uploaded, %d already staged", uploaded, cached)
	return packages, nil
}

// splitElement splits an "overrideName=path" element; a bare path yields an
// empty override.
func splitElement(element string) (override, path string) {
	if name, rest, ok := strings.Cut(element, "="); ok {
		return name, rest
	}
	return "", element
}

// stageOne computes the artifact's attributes and target package, then
// uploads unless an object of the expected size is already staged. The
// content hash determines the staged name, which is what gives distinct
// content distinct locations; the size comparison is only the fast path for
// detecting an already-staged object.
func (s *Stager) stageOne(ctx context.Context, path, override, basePath string) (StagedPackage, bool, error) {
	attrs, err := Digest(s.fs, path)
	if err != nil {
		return StagedPackage{}, false, err
	}

	uniqueName := UniqueName(path, attrs.IsDirectory, attrs.ContentHash)
	pkg := StagedPackage{
		Name:     uniqueName,
		Location: blobstore.JoinURI(basePath, uniqueName),
	}
	if override != "" {
		pkg.Name = override
	}

	remoteSize, exists, err := s.store.Size(ctx, pkg.Location)
	if err != nil {
		return StagedPackage{}, false, errors.Wrapf(err, "checking for staged artifact at %q", pkg.Location)
	}
	if exists && remoteSize == attrs.Size {
		logging.Debug("Artifact %q already staged at %s", path, pkg.Location)
		return pkg, false, nil
	}

	if err := s.uploadWithRetry(ctx, path, attrs.IsDirectory, pkg.Location); err != nil {
		return StagedPackage{}, false, err
	}
	return pkg, true, nil
}

// uploadWithRetry uploads the artifact, retrying transient failures with
// exponential backoff. Permission failures abort immediately: retrying
// cannot fix credentials.
func (s *Stager) uploadWithRetry(ctx context.Context, path string, isDirectory bool, target string) error {
	backoff := wait.Backoff{Duration: initialBackoff, Factor: 2, Steps: maxUploadRetries}

	for attempt := 1; ; attempt++ {
		logging.Debug("Uploading artifact %q to %s (attempt %d)", path, target, attempt)
		err := s.uploadOnce(ctx, path, isDirectory, target)
		if err == nil {
			return nil
		}
		if blobstore.IsPermissionDenied(err) {
			return &PermissionError{Element: path, Target: target, Err: err}
		}
		if attempt > maxUploadRetries {
			return &UploadError{Element: path, Target: target, Attempts: attempt, Err: err}
		}
		delay := backoff.Step()
		logging.Warn("Upload attempt %d for %q failed, retrying in %s: %v", attempt, path, delay, err)
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// uploadOnce copies the artifact into an exclusively created object. The
// writer is closed on every path; for GCS the exclusive-create precondition
// is enforced at close time.
func (s *Stager) uploadOnce(ctx context.Context, path string, isDirectory bool, target string) error {
	writer, err := s.store.Create(ctx, target, binaryContentType)
	if err != nil {
		return err
	}
	copyErr := s.copyContent(path, isDirectory, writer)
	closeErr := writer.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}

// copyContent streams the artifact into w without closing it. Directories
// are serialized with the same deterministic archive used for hashing, so
// the uploaded bytes match the digested bytes.
func (s *Stager) copyContent(path string, isDirectory bool, w io.Writer) error {
	if isDirectory {
		return WriteArchive(s.fs, path, w)
	}
	file, err := s.fs.Open(path)
	if err != nil {
		return &ReadError{Path: path, Err: err}
	}
	defer file.Close()
	_, err = io.Copy(w, file)
	return err
}

// sleepContext blocks for d or until ctx is cancelled, in which case the
// cancellation error is returned.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
