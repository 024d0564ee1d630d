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

// Package runner defines the capability for executing one staged payload on
// a remote cluster. Concrete scheduler implementations live in subpackages;
// callers depend only on the Runner interface.
package runner

import "context"

// Secret names a scheduler-managed secret and the path it is mounted at
// inside the execution container.
type Secret struct {
	Name      string
	MountPath string
}

// RunSpec describes one remote execution. Immutable value.
type RunSpec struct {
	// Image is the container image reference; a reference without a tag
	// defaults to ":latest".
	Image string
	// StagingLocation is the base URI the payload's artifacts were staged
	// under. Passed to the container as its first argument.
	StagingLocation string
	// PayloadFile names the serialized payload within the staging
	// location. Passed to the container as its second argument.
	PayloadFile string
	// Secret, if named, is mounted read-only into the container.
	Secret Secret
}

// Runner submits a run spec to a cluster scheduler and blocks until the
// execution reaches a terminal state.
type Runner interface {
	// Run executes the spec to completion and returns the result URI the
	// workload declared. An empty string means the workload declared no
	// result or failed; a failed workload is a normal outcome, not an
	// error. The wait is cancellable through ctx.
	Run(ctx context.Context, spec RunSpec) (string, error)

	// Close releases the scheduler connection. Idempotent.
	Close() error
}
