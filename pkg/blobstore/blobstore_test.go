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
	"fmt"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"google.golang.org/api/googleapi"
)

func TestJoinURI(t *testing.T) {
	tests := []struct {
		basePath string
		name     string
		want     string
	}{
		{"gs://bucket/staging", "a-f000.txt", "gs://bucket/staging/a-f000.txt"},
		{"gs://bucket/staging/", "a-f000.txt", "gs://bucket/staging/a-f000.txt"},
		{"/tmp/staging", "a-f000", "/tmp/staging/a-f000"},
	}
	for _, tt := range tests {
		if got := JoinURI(tt.basePath, tt.name); got != tt.want {
			t.Errorf("JoinURI(%q, %q) = %q, want %q", tt.basePath, tt.name, got, tt.want)
		}
	}
}

func TestForPathRoutesLocalPaths(t *testing.T) {
	for _, basePath := range []string{"/var/staging", "file:///var/staging", "relative/staging"} {
		store, err := ForPath(context.Background(), basePath)
		if err != nil {
			t.Fatalf("ForPath(%q) failed: %v", basePath, err)
		}
		if _, ok := store.(*LocalStore); !ok {
			t.Errorf("ForPath(%q) = %T, want *LocalStore", basePath, store)
		}
	}
}

func TestParseGSURI(t *testing.T) {
	bucket, object, err := parseGSURI("gs://my-bucket/staging/a-f000.txt")
	if err != nil {
		t.Fatalf("parseGSURI failed: %v", err)
	}
	if bucket != "my-bucket" {
		t.Errorf("Expected bucket %q, got %q", "my-bucket", bucket)
	}
	if object != "staging/a-f000.txt" {
		t.Errorf("Expected object %q, got %q", "staging/a-f000.txt", object)
	}

	for _, malformed := range []string{"s3://bucket/key", "gs://bucket", "gs:///key", "/local/path"} {
		if _, _, err := parseGSURI(malformed); err == nil {
			t.Errorf("Expected parseGSURI(%q) to fail", malformed)
		}
	}
}

func TestLocalStoreSize(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := NewLocalStore(fsys)
	ctx := context.Background()

	if _, exists, err := store.Size(ctx, "/staging/missing"); err != nil || exists {
		t.Errorf("Expected missing object, got exists=%v err=%v", exists, err)
	}

	if err := afero.WriteFile(fsys, "/staging/present", []byte("12345"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	size, exists, err := store.Size(ctx, "/staging/present")
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if !exists || size != 5 {
		t.Errorf("Expected exists=true size=5, got exists=%v size=%d", exists, size)
	}
}

func TestLocalStoreExclusiveCreate(t *testing.T) {
	store := NewLocalStore(afero.NewMemMapFs())
	ctx := context.Background()

	w, err := store.Create(ctx, "file:///staging/object", "application/octet-stream")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("content")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	size, exists, err := store.Size(ctx, "file:///staging/object")
	if err != nil || !exists || size != int64(len("content")) {
		t.Fatalf("Expected staged object of %d bytes, got exists=%v size=%d err=%v", len("content"), exists, size, err)
	}

	if _, err := store.Create(ctx, "file:///staging/object", "application/octet-stream"); err == nil {
		t.Error("Expected exclusive create of an existing object to fail")
	}
}

func TestIsPermissionDenied(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "forbidden API error",
			err:  &googleapi.Error{Code: 403, Message: "forbidden"},
			want: true,
		},
		{
			name: "unauthorized API error",
			err:  &googleapi.Error{Code: 401, Message: "unauthorized"},
			want: true,
		},
		{
			name: "wrapped forbidden API error",
			err:  errors.Wrap(&googleapi.Error{Code: 403}, "uploading"),
			want: true,
		},
		{
			name: "server API error",
			err:  &googleapi.Error{Code: 503, Message: "backend"},
			want: false,
		},
		{
			name: "filesystem permission error",
			err:  &os.PathError{Op: "open", Path: "/staging/object", Err: os.ErrPermission},
			want: true,
		},
		{
			name: "generic error",
			err:  fmt.Errorf("connection reset"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermissionDenied(tt.err); got != tt.want {
				t.Errorf("IsPermissionDenied(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
