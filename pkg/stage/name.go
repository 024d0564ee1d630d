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
	"path/filepath"
	"strings"
)

// UniqueName derives the staged object name for an artifact from its local
// path and content hash. Directory components are stripped:
//
//	dir  "a/b/c/d",     hash "f000" => "d-f000.tgz"
//	file "a/b/c/d.txt", hash "f000" => "d-f000.txt"
//	file "a/b/c/d",     hash "f000" => "d-f000"
func UniqueName(path string, isDirectory bool, contentHash string) string {
	base := filepath.Base(filepath.Clean(path))
	extension := filepath.Ext(base)
	stem := strings.TrimSuffix(base, extension)

	switch {
	case isDirectory:
		return stem + "-" + contentHash + "." + ArchiveExtension
	case extension == "":
		return stem + "-" + contentHash
	default:
		return stem + "-" + contentHash + extension
	}
}
