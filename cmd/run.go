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
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"stagerun/pkg/blobstore"
	"stagerun/pkg/imagebuilder"
	"stagerun/pkg/logging"
	"stagerun/pkg/runner"
	"stagerun/pkg/runner/kubernetes"
	"stagerun/pkg/stage"
)

var (
	payloadFile    string
	imageName      string
	baseImage      string
	buildContext   string
	repository     string
	buildPlatform  string
	secretSpec     string
	namespace      string
	outputManifest string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&payloadFile, "payload", "p", "", "Path to the serialized payload file to execute. Required.")
	runCmd.Flags().StringVarP(&imageName, "image", "i", "", "Pre-built payload-runner image reference (e.g. my-project/my-runner:tag).")
	runCmd.Flags().StringVar(&baseImage, "base-image", "", "Base image to build the payload-runner image on. Requires --build-context and --repository.")
	runCmd.Flags().StringVarP(&buildContext, "build-context", "c", "", "Build context directory for the payload-runner image build.")
	runCmd.Flags().StringVarP(&repository, "repository", "r", "", "Image repository to push built payload-runner images to.")
	runCmd.Flags().StringVarP(&buildPlatform, "platform", "f", "linux/amd64", "Target platform for the image build (e.g. 'linux/amd64').")
	runCmd.Flags().StringVarP(&stagingLocation, "staging-location", "s", "", "Base URI to stage artifacts under (e.g. gs://my-bucket/staging).")
	runCmd.Flags().StringVar(&secretSpec, "secret", "", "Secret to mount read-only into the execution pod, 'name:/mount/path' form.")
	runCmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Cluster namespace to run the execution pod in (default \"default\").")
	runCmd.Flags().StringVarP(&outputManifest, "output-manifest", "o", "", "Write the execution pod manifest to this file instead of submitting it.")

	_ = runCmd.MarkFlagRequired("payload")
}

var runCmd = &cobra.Command{
	Use:   "run [overrideName=]path...",
	Short: "Stages a payload and runs it to completion on the cluster.",
	Long: `The 'run' command stages the payload file and any additional artifacts to
the staging location, submits a single execution pod that receives the
staging location and payload file name as arguments, waits for the pod to
reach a terminal phase, and prints the result URI the workload declared.
The pod is deleted once it finishes, whether it succeeded or failed.`,
	Run:          runRunCmd,
	SilenceUsage: true,
}

func runRunCmd(cmd *cobra.Command, args []string) {
	base := firstNonEmpty(stagingLocation, cfg.StagingLocation)
	image := firstNonEmpty(imageName, cfg.Image)
	repo := firstNonEmpty(repository, cfg.Repository)

	if base == "" {
		logging.Fatal("A --staging-location must be provided.")
	}
	if image == "" && baseImage == "" {
		logging.Fatal("Either --image or --base-image must be provided.")
	}
	if image != "" && baseImage != "" {
		logging.Fatal("Cannot provide both --image and --base-image.")
	}
	if baseImage != "" && (buildContext == "" || repo == "") {
		logging.Fatal("--base-image requires --build-context and --repository.")
	}
	if _, err := os.Stat(payloadFile); err != nil {
		logging.Fatal("Cannot read payload file %q: %v", payloadFile, err)
	}

	secret, err := parseSecret(firstNonEmpty(secretSpec, cfg.Secret))
	if err != nil {
		logging.Fatal("Invalid --secret: %v", err)
	}

	if baseImage != "" {
		image, err = imagebuilder.Build(imagebuilder.Options{
			Repository: repo,
			BaseImage:  baseImage,
			ContextDir: buildContext,
			Platform:   buildPlatform,
		})
		if err != nil {
			logging.Fatal("Payload-runner image build failed: %v", err)
		}
	}

	ctx := cmd.Context()
	store, err := blobstore.ForPath(ctx, base)
	if err != nil {
		logging.Fatal("Failed to open staging target: %v", err)
	}
	defer store.Close()

	elements := append([]string{payloadFile}, args...)
	packages, err := stage.New(store).StageAll(ctx, elements, base)
	if err != nil {
		logging.Fatal("Staging failed: %v", err)
	}

	spec := runner.RunSpec{
		Image:           image,
		StagingLocation: base,
		PayloadFile:     packages[0].Name,
		Secret:          secret,
	}

	if outputManifest != "" {
		manifest, err := kubernetes.RenderPodManifest(spec)
		if err != nil {
			logging.Fatal("Failed to render pod manifest: %v", err)
		}
		if err := os.WriteFile(outputManifest, []byte(manifest), 0o644); err != nil {
			logging.Fatal("Failed to write pod manifest to %q: %v", outputManifest, err)
		}
		logging.Info("Pod manifest written to %s", outputManifest)
		return
	}

	r, err := kubernetes.NewRunner(firstNonEmpty(namespace, cfg.Namespace))
	if err != nil {
		logging.Fatal("Failed to connect to the cluster: %v", err)
	}
	defer r.Close()

	result, err := r.Run(ctx, spec)
	if err != nil {
		logging.Fatal("Run failed: %v", err)
	}

	if result == "" {
		fmt.Println(color.YellowString("Run finished without a declared result."))
		return
	}
	fmt.Printf("Result: %s\n", color.GreenString(result))
}

// parseSecret parses a "name:/mount/path" secret specification. An empty
// spec yields a zero Secret, meaning no secret is mounted.
func parseSecret(spec string) (runner.Secret, error) {
	if spec == "" {
		return runner.Secret{}, nil
	}
	name, mountPath, ok := strings.Cut(spec, ":")
	if !ok || name == "" || !strings.HasPrefix(mountPath, "/") {
		return runner.Secret{}, fmt.Errorf("expected 'name:/mount/path', got %q", spec)
	}
	return runner.Secret{Name: name, MountPath: mountPath}, nil
}
