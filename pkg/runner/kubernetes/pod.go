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

package kubernetes

import (
	"math/rand"
	"strings"
	"time"

	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"stagerun/pkg/runner"
)

const (
	// runContainerName is the container whose termination message carries
	// the result URI.
	runContainerName = "stagerun-run"
	podNamePrefix    = "stagerun"
	// executionIDEnvVar exposes the generated pod name to the workload so
	// it can identify its own execution.
	executionIDEnvVar = "STAGERUN_EXECUTION_ID"

	nameSuffixLength = 16
	alphaNumeric     = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// buildPod assembles the execution pod for spec. The pod never restarts:
// all retry semantics belong to the caller, not the scheduler.
func buildPod(spec runner.RunSpec, name string) *corev1.Pod {
	image := spec.Image
	if !strings.Contains(image, ":") {
		image += ":latest"
	}

	pod := &corev1.Pod{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "v1",
			Kind:       "Pod",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{
				{
					Name:  runContainerName,
					Image: image,
					Args:  []string{spec.StagingLocation, spec.PayloadFile},
					Env: []corev1.EnvVar{
						{Name: executionIDEnvVar, Value: name},
					},
				},
			},
		},
	}

	if spec.Secret.Name != "" {
		pod.Spec.Volumes = []corev1.Volume{
			{
				Name: spec.Secret.Name,
				VolumeSource: corev1.VolumeSource{
					Secret: &corev1.SecretVolumeSource{
						SecretName: spec.Secret.Name,
					},
				},
			},
		}
		pod.Spec.Containers[0].VolumeMounts = []corev1.VolumeMount{
			{
				Name:      spec.Secret.Name,
				MountPath: spec.Secret.MountPath,
				ReadOnly:  true,
			},
		}
	}

	return pod
}

// newPodName generates a pod name with a random alphanumeric suffix. Name
// collisions are left to the scheduler's own uniqueness constraint.
func newPodName(rng *rand.Rand) string {
	suffix := make([]byte, nameSuffixLength)
	for i := range suffix {
		suffix[i] = alphaNumeric[rng.Intn(len(alphaNumeric))]
	}
	return podNamePrefix + "-" + string(suffix)
}

// newRNG returns a locally seeded generator; pod naming never relies on
// shared RNG state.
func newRNG() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// RenderPodManifest renders the pod that Run would submit for spec as a
// YAML manifest.
func RenderPodManifest(spec runner.RunSpec) (string, error) {
	data, err := yaml.Marshal(buildPod(spec, newPodName(newRNG())))
	if err != nil {
		return "", errors.Wrap(err, "marshaling pod manifest")
	}
	return string(data), nil
}
