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

// Package imagebuilder builds the payload-runner image by appending a
// build-context layer onto a base image and pushing the result, without a
// local Docker daemon.
package imagebuilder

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/compression"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/pkg/errors"

	"stagerun/pkg/logging"
)

// defaultIgnorePatterns are always excluded from the build-context layer,
// on top of anything the context's .dockerignore adds.
var defaultIgnorePatterns = []string{
	".git",
	"vendor",
	"node_modules",
	"*.log",
	"tmp/",
	".DS_Store",
	"__pycache__",
}

// Options describes one payload-runner image build.
type Options struct {
	// Repository is the image repository to push to, e.g.
	// "gcr.io/my-project/stagerun". The tag is generated.
	Repository string
	// BaseImage is the image the context layer is appended to.
	BaseImage string
	// ContextDir is the directory packed into the appended layer.
	ContextDir string
	// Platform selects the target platform, "os/arch" form. Empty means
	// "linux/amd64".
	Platform string
}

// Build creates and pushes the payload-runner image, returning the full
// pushed reference.
func Build(opts Options) (string, error) {
	platform, err := parsePlatform(opts.Platform)
	if err != nil {
		return "", err
	}

	reference := fmt.Sprintf("%s:%s-%s", opts.Repository,
		randomTagPrefix(4), time.Now().Format("2006-01-02-15-04-05"))

	logging.Info("Building payload-runner image %s", reference)
	logging.Info("Base image: %s, build context: %s, platform: %s", opts.BaseImage, opts.ContextDir, platform.String())

	matcher, err := contextIgnoreMatcher(opts.ContextDir)
	if err != nil {
		return "", err
	}

	layerPath, err := packContext(opts.ContextDir, matcher)
	if err != nil {
		return "", errors.Wrap(err, "packing build context")
	}
	defer os.Remove(layerPath)

	layer, err := tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return os.Open(layerPath)
	}, tarball.WithCompression(compression.GZip))
	if err != nil {
		return "", errors.Wrap(err, "creating layer from build context")
	}

	baseRef, err := name.ParseReference(opts.BaseImage)
	if err != nil {
		return "", errors.Wrapf(err, "parsing base image reference %q", opts.BaseImage)
	}
	base, err := crane.Pull(baseRef.String(), crane.WithPlatform(&platform))
	if err != nil {
		return "", errors.Wrapf(err, "pulling base image %q", opts.BaseImage)
	}

	image, err := mutate.AppendLayers(base, layer)
	if err != nil {
		return "", errors.Wrap(err, "appending build-context layer")
	}

	imageRef, err := name.ParseReference(reference)
	if err != nil {
		return "", errors.Wrapf(err, "parsing image reference %q", reference)
	}

	logging.Info("Pushing payload-runner image to %s", reference)
	if err := crane.Push(image, imageRef.String(), crane.WithPlatform(&platform)); err != nil {
		return "", errors.Wrapf(err, "pushing image %q", reference)
	}

	logging.Info("Payload-runner image %s pushed", reference)
	return reference, nil
}

// contextIgnoreMatcher combines the default ignore patterns with the build
// context's .dockerignore file, if one exists.
func contextIgnoreMatcher(contextDir string) (*patternmatcher.PatternMatcher, error) {
	patterns := make([]string, len(defaultIgnorePatterns))
	copy(patterns, defaultIgnorePatterns)

	ignorePath := filepath.Join(contextDir, ".dockerignore")
	if file, err := os.Open(ignorePath); err == nil {
		defer file.Close()
		filePatterns, err := ignorefile.ReadAll(file)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %q", ignorePath)
		}
		patterns = append(patterns, filePatterns...)
		logging.Debug("Read %d patterns from %q", len(filePatterns), ignorePath)
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "opening %q", ignorePath)
	}

	matcher, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, errors.Wrap(err, "building ignore matcher")
	}
	return matcher, nil
}

// packContext writes the filtered build context as a gzipped tarball to a
// temporary file and returns its path. The caller removes the file.
func packContext(contextDir string, matcher *patternmatcher.PatternMatcher) (string, error) {
	tmp, err := os.CreateTemp("", "stagerun-build-context-*.tar.gz")
	if err != nil {
		return "", errors.Wrap(err, "creating temporary tarball")
	}
	defer tmp.Close()

	gz := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gz)

	var walkErr error
	defer func() {
		if closeErr := tw.Close(); closeErr != nil && walkErr == nil {
			walkErr = closeErr
		}
		if closeErr := gz.Close(); closeErr != nil && walkErr == nil {
			walkErr = closeErr
		}
	}()

	walkErr = filepath.Walk(contextDir, func(path string, info fs.FileInfo, err error) error {
		return packEntry(tw, contextDir, matcher, path, info, err)
	})
	if walkErr != nil {
		os.Remove(tmp.Name())
		return "", walkErr
	}

	return tmp.Name(), nil
}

func packEntry(tw *tar.Writer, contextDir string, matcher *patternmatcher.PatternMatcher, path string, info fs.FileInfo, errFromWalk error) error {
	if errFromWalk != nil {
		return errFromWalk
	}

	relPath, err := filepath.Rel(contextDir, path)
	if err != nil {
		return errors.Wrapf(err, "relativizing %q", path)
	}
	if relPath == "." {
		return nil
	}

	// patternmatcher expects slash paths, with a trailing slash on
	// directories.
	matchPath := filepath.ToSlash(relPath)
	if info.IsDir() && !strings.HasSuffix(matchPath, "/") {
		matchPath += "/"
	}
	ignored, err := matcher.MatchesOrParentMatches(matchPath)
	if err != nil {
		return errors.Wrapf(err, "matching ignore patterns for %q", relPath)
	}
	if ignored {
		if info.IsDir() {
			return filepath.SkipDir
		}
		return nil
	}

	header, err := tar.FileInfoHeader(info, relPath)
	if err != nil {
		return errors.Wrapf(err, "building tar header for %q", path)
	}
	header.Name = relPath

	if err := tw.WriteHeader(header); err != nil {
		return errors.Wrapf(err, "writing tar header for %q", path)
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening %q", path)
	}
	defer file.Close()

	if _, err := io.Copy(tw, file); err != nil {
		return errors.Wrapf(err, "writing content of %q", path)
	}
	return nil
}

func parsePlatform(platform string) (v1.Platform, error) {
	if platform == "" {
		platform = "linux/amd64"
	}
	parts := strings.Split(platform, "/")
	if len(parts) != 2 {
		return v1.Platform{}, errors.Errorf("invalid platform %q, expected \"os/arch\"", platform)
	}
	return v1.Platform{OS: parts[0], Architecture: parts[1]}, nil
}

func randomTagPrefix(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz"
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rng.Intn(len(charset))]
	}
	return string(b)
}
