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

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"stagerun/pkg/blobstore"
	"stagerun/pkg/logging"
	"stagerun/pkg/stage"
)

var stagingLocation string

func init() {
	rootCmd.AddCommand(stageCmd)

	stageCmd.Flags().StringVarP(&stagingLocation, "staging-location", "s", "", "Base URI to stage artifacts under (e.g. gs://my-bucket/staging).")
}

var stageCmd = &cobra.Command{
	Use:   "stage [overrideName=]path...",
	Short: "Stages local files or directories to the staging location.",
	Long: `The 'stage' command uploads each given file or directory to the staging
location under a content-addressed name. Content that is already staged is
not uploaded again. Directories are archived deterministically before
upload. An element of the form 'overrideName=path' stages path under its
content-addressed location but reports the given name.`,
	Args:         cobra.MinimumNArgs(1),
	Run:          runStageCmd,
	SilenceUsage: true,
}

func runStageCmd(cmd *cobra.Command, args []string) {
	base := firstNonEmpty(stagingLocation, cfg.StagingLocation)
	if base == "" {
		logging.Fatal("A --staging-location must be provided.")
	}

	ctx := cmd.Context()
	store, err := blobstore.ForPath(ctx, base)
	if err != nil {
		logging.Fatal("Failed to open staging target: %v", err)
	}
	defer store.Close()

	packages, err := stage.New(store).StageAll(ctx, args, base)
	if err != nil {
		logging.Fatal("Staging failed: %v", err)
	}

	for _, pkg := range packages {
		fmt.Println(pkg.Location)
	}
}
