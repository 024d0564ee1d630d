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

// Package config loads optional CLI defaults from a YAML file. Flags always
// take precedence over file values.
package config

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked for in the working directory when no --config
// flag is given.
const DefaultFileName = "stagerun.yaml"

// Config holds CLI defaults. Zero values mean "not configured".
type Config struct {
	// StagingLocation is the default base URI for staged artifacts.
	StagingLocation string `yaml:"stagingLocation"`
	// Image is the default payload-runner image reference.
	Image string `yaml:"image"`
	// Namespace is the default cluster namespace for execution pods.
	Namespace string `yaml:"namespace"`
	// Secret is the default secret mount, "name:/mount/path" form.
	Secret string `yaml:"secret"`
	// Repository is the default repository for built payload-runner images.
	Repository string `yaml:"repository"`
}

// Load reads the defaults file at path. With an empty path the default file
// name is tried and a missing file yields a zero Config; an explicitly
// named file must exist.
func Load(fsys afero.Fs, path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}

	data, err := afero.ReadFile(fsys, path)
	if os.IsNotExist(err) && !explicit {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config file %q", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parsing config file %q", path)
	}
	return cfg, nil
}
