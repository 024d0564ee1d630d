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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"google.golang.org/api/googleapi"
)

// fakeStore is an in-memory Store that can inject transient and permission
// failures and records how often an upload was attempted.
type fakeStore struct {
	objects map[string][]byte

	transientFailures int
	denyAccess        bool
	creates           int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (s *fakeStore) Size(ctx context.Context, uri string) (int64, bool, error) {
	content, ok := s.objects[uri]
	return int64(len(content)), ok, nil
}

func (s *fakeStore) Create(ctx context.Context, uri string, contentType string) (io.WriteCloser, error) {
	s.creates++
	if s.denyAccess {
		return nil, &googleapi.Error{Code: 403, Message: "access denied"}
	}
	if s.transientFailures > 0 {
		s.transientFailures--
		return nil, errors.New("transient upload failure")
	}
	if _, ok := s.objects[uri]; ok {
		return nil, fmt.Errorf("object %q already exists", uri)
	}
	return &fakeWriter{store: s, uri: uri}, nil
}

func (s *fakeStore) Close() error { return nil }

type fakeWriter struct {
	store *fakeStore
	uri   string
	buf   bytes.Buffer
}

func (w *fakeWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *fakeWriter) Close() error {
	w.store.objects[w.uri] = w.buf.Bytes()
	return nil
}

// newTestStager builds a Stager over a mem filesystem whose retry sleeps
// complete instantly and are recorded.
func newTestStager(store *fakeStore, fsys afero.Fs) (*Stager, *[]time.Duration) {
	sleeps := []time.Duration{}
	stager := &Stager{
		store: store,
		fs:    fsys,
		sleep: func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		},
	}
	return stager, &sleeps
}

func TestStageAllStagesInInputOrder(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/work/first.txt", "first")
	writeFile(t, fsys, "/work/second.txt", "second")
	store := newFakeStore()
	stager, _ := newTestStager(store, fsys)

	packages, err := stager.StageAll(context.Background(), []string{"/work/first.txt", "/work/second.txt"}, "gs://bucket/staging")
	if err != nil {
		t.Fatalf("StageAll failed: %v", err)
	}

	if len(packages) != 2 {
		t.Fatalf("Expected 2 packages, got %d", len(packages))
	}
	if !strings.HasPrefix(packages[0].Name, "first-") || !strings.HasPrefix(packages[1].Name, "second-") {
		t.Errorf("Packages out of input order: %q, %q", packages[0].Name, packages[1].Name)
	}
	for _, pkg := range packages {
		if _, ok := store.objects[pkg.Location]; !ok {
			t.Errorf("No object uploaded at %q", pkg.Location)
		}
	}
}

func TestStageAllIsIdempotent(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/work/payload.bin", "serialized payload")
	store := newFakeStore()
	stager, _ := newTestStager(store, fsys)

	first, err := stager.StageAll(context.Background(), []string{"/work/payload.bin"}, "gs://bucket/staging")
	if err != nil {
		t.Fatalf("first StageAll failed: %v", err)
	}
	second, err := stager.StageAll(context.Background(), []string{"/work/payload.bin"}, "gs://bucket/staging")
	if err != nil {
		t.Fatalf("second StageAll failed: %v", err)
	}

	if store.creates != 1 {
		t.Errorf("Expected exactly one upload, got %d", store.creates)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Second staging returned different packages (-first +second):\n%s", diff)
	}
}

func TestStageAllSkipsMissingArtifacts(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/work/present.txt", "content")
	store := newFakeStore()
	stager, _ := newTestStager(store, fsys)

	packages, err := stager.StageAll(context.Background(), []string{"/work/missing.txt", "/work/present.txt"}, "gs://bucket/staging")
	if err != nil {
		t.Fatalf("StageAll failed: %v", err)
	}
	if len(packages) != 1 {
		t.Fatalf("Expected 1 package, got %d", len(packages))
	}
	if !strings.HasPrefix(packages[0].Name, "present-") {
		t.Errorf("Unexpected package %q", packages[0].Name)
	}
}

func TestStageAllOverrideName(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/work/payload.bin", "serialized payload")
	store := newFakeStore()
	stager, _ := newTestStager(store, fsys)

	packages, err := stager.StageAll(context.Background(), []string{"function.bin=/work/payload.bin"}, "gs://bucket/staging")
	if err != nil {
		t.Fatalf("StageAll failed: %v", err)
	}
	if len(packages) != 1 {
		t.Fatalf("Expected 1 package, got %d", len(packages))
	}
	if packages[0].Name != "function.bin" {
		t.Errorf("Expected override name %q, got %q", "function.bin", packages[0].Name)
	}
	// The location stays content-addressed even with an override.
	if packages[0].Location == "gs://bucket/staging/function.bin" {
		t.Errorf("Override unexpectedly changed the staged location %q", packages[0].Location)
	}
	if _, ok := store.objects[packages[0].Location]; !ok {
		t.Errorf("No object uploaded at %q", packages[0].Location)
	}
}

func TestStageAllRequiresBasePath(t *testing.T) {
	stager, _ := newTestStager(newFakeStore(), afero.NewMemMapFs())
	if _, err := stager.StageAll(context.Background(), []string{"/work/payload.bin"}, ""); err == nil {
		t.Fatal("Expected an error for an empty staging location")
	}
}

func TestUploadRetriesTransientFailures(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/work/payload.bin", "serialized payload")
	store := newFakeStore()
	store.transientFailures = 3
	stager, sleeps := newTestStager(store, fsys)

	packages, err := stager.StageAll(context.Background(), []string{"/work/payload.bin"}, "gs://bucket/staging")
	if err != nil {
		t.Fatalf("StageAll failed: %v", err)
	}
	if len(packages) != 1 {
		t.Fatalf("Expected 1 package, got %d", len(packages))
	}
	if store.creates != 4 {
		t.Errorf("Expected 4 attempts (3 failures + 1 success), got %d", store.creates)
	}
	if len(*sleeps) != 3 {
		t.Errorf("Expected 3 backoff sleeps, got %d", len(*sleeps))
	}
	if (*sleeps)[0] != 5*time.Second {
		t.Errorf("Expected initial backoff of 5s, got %s", (*sleeps)[0])
	}
}

func TestUploadRetryBudgetExhausted(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/work/payload.bin", "serialized payload")
	store := newFakeStore()
	store.transientFailures = 10
	stager, sleeps := newTestStager(store, fsys)

	_, err := stager.StageAll(context.Background(), []string{"/work/payload.bin"}, "gs://bucket/staging")
	if err == nil {
		t.Fatal("Expected an error after exhausting retries")
	}
	var uploadErr *UploadError
	if !errors.As(err, &uploadErr) {
		t.Fatalf("Expected a *UploadError, got %T: %v", err, err)
	}
	if uploadErr.Attempts != 5 {
		t.Errorf("Expected 5 attempts, got %d", uploadErr.Attempts)
	}
	if store.creates != 5 {
		t.Errorf("Expected exactly 5 upload attempts, got %d", store.creates)
	}
	if len(*sleeps) != 4 {
		t.Errorf("Expected 4 backoff sleeps, got %d", len(*sleeps))
	}
}

func TestPermissionFailureShortCircuits(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/work/payload.bin", "serialized payload")
	store := newFakeStore()
	store.denyAccess = true
	stager, sleeps := newTestStager(store, fsys)

	_, err := stager.StageAll(context.Background(), []string{"/work/payload.bin"}, "gs://bucket/staging")
	if err == nil {
		t.Fatal("Expected a permission error")
	}
	var permErr *PermissionError
	if !errors.As(err, &permErr) {
		t.Fatalf("Expected a *PermissionError, got %T: %v", err, err)
	}
	if store.creates != 1 {
		t.Errorf("Permission failure must not be retried; got %d attempts", store.creates)
	}
	if len(*sleeps) != 0 {
		t.Errorf("Permission failure must not back off; got %d sleeps", len(*sleeps))
	}
}

func TestStageAllCancelledDuringBackoff(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/work/payload.bin", "serialized payload")
	store := newFakeStore()
	store.transientFailures = 10

	ctx, cancel := context.WithCancel(context.Background())
	stager := &Stager{
		store: store,
		fs:    fsys,
		sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}

	_, err := stager.StageAll(ctx, []string{"/work/payload.bin"}, "gs://bucket/staging")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if store.creates != 1 {
		t.Errorf("Expected staging to stop after cancellation, got %d attempts", store.creates)
	}
}

func TestStagedDirectoryRoundTrips(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/work/tree/a.txt", "alpha")
	writeFile(t, fsys, "/work/tree/sub/b.txt", "beta")
	store := newFakeStore()
	stager, _ := newTestStager(store, fsys)

	packages, err := stager.StageAll(context.Background(), []string{"/work/tree"}, "gs://bucket/staging")
	if err != nil {
		t.Fatalf("StageAll failed: %v", err)
	}
	if len(packages) != 1 {
		t.Fatalf("Expected 1 package, got %d", len(packages))
	}

	// The uploaded archive must be byte-identical to the digested stream:
	// its size is what the cache check compares on the next staging call.
	attrs, err := Digest(fsys, "/work/tree")
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	uploaded := store.objects[packages[0].Location]
	if int64(len(uploaded)) != attrs.Size {
		t.Errorf("Uploaded archive is %d bytes, digest reported %d", len(uploaded), attrs.Size)
	}

	if creates := store.creates; creates != 1 {
		t.Fatalf("Expected 1 upload, got %d", creates)
	}
	if _, err := stager.StageAll(context.Background(), []string{"/work/tree"}, "gs://bucket/staging"); err != nil {
		t.Fatalf("second StageAll failed: %v", err)
	}
	if store.creates != 1 {
		t.Errorf("Expected the directory re-staging to be a cache hit, got %d uploads", store.creates)
	}
}
