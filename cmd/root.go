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
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"stagerun/pkg/config"
	"stagerun/pkg/logging"
)

var (
	verbose    bool
	configFile string

	// cfg holds file-provided defaults; flags override them.
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "stagerun",
	Short: "Stages artifacts to an object store and runs payloads on a cluster.",
	Long: `stagerun packages a unit of work and executes it remotely: local files
and directories are staged to a shared object store under content-addressed
names (each distinct content is uploaded exactly once), and a payload is run
as a single execution pod on a Kubernetes cluster, returning the result
location the workload declares when it finishes.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.SetVerbose(verbose)
		var err error
		cfg, err = config.Load(afero.NewOsFs(), configFile)
		if err != nil {
			logging.Fatal("Failed to load config file: %v", err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging.")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML file with flag defaults (default \"stagerun.yaml\" if present).")
}

// Execute runs the root command. The command context is cancelled on
// SIGINT/SIGTERM so long-running waits can be interrupted cleanly.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// firstNonEmpty returns the first non-empty value, letting flags win over
// config-file defaults.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
