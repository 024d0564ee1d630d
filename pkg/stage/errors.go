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

import "fmt"

// ReadError reports that a local artifact could not be read. It is fatal
// for the staging call that encountered it.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("reading artifact %q: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// PermissionError reports that the object store rejected an upload for
// access reasons. It is never retried.
type PermissionError struct {
	Element string
	Target  string
	Err     error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("upload of %q to %q failed due to a permission error; "+
		"verify that your credentials are valid and that you have write access "+
		"to %s (stale gcloud credentials can be refreshed with 'gcloud auth login'): %v",
		e.Element, e.Target, e.Target, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// UploadError reports that an upload kept failing transiently until the
// retry budget was exhausted. It wraps the last failure.
type UploadError struct {
	Element  string
	Target   string
	Attempts int
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %q to %q failed after %d attempts: %v",
		e.Element, e.Target, e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }
