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

// Package kubernetes runs staged payloads as single pods on a Kubernetes
// cluster.
package kubernetes

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	client "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"stagerun/pkg/logging"
	"stagerun/pkg/runner"
)

const (
	defaultNamespace    = "default"
	defaultPollInterval = 60 * time.Second
)

// SubmissionError reports that the scheduler rejected pod creation.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submitting execution pod: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Runner executes run specs as single pods. It implements runner.Runner and
// is safe for sequential reuse across many runs.
type Runner struct {
	client       client.Interface
	namespace    string
	pollInterval time.Duration
	rng          *rand.Rand
}

// NewRunner connects to the cluster selected by the standard kubeconfig
// loading rules and runs pods in the given namespace ("" means "default").
func NewRunner(namespace string) (*Runner, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	config, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		return nil, errors.Wrap(err, "loading kubeconfig")
	}
	clientset, err := client.NewForConfig(config)
	if err != nil {
		return nil, errors.Wrap(err, "creating Kubernetes client")
	}
	return newRunner(clientset, namespace), nil
}

func newRunner(clientset client.Interface, namespace string) *Runner {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &Runner{
		client:       clientset,
		namespace:    namespace,
		pollInterval: defaultPollInterval,
		rng:          newRNG(),
	}
}

// Run implements runner.Runner.
func (r *Runner) Run(ctx context.Context, spec runner.RunSpec) (string, error) {
	name, err := r.Submit(ctx, spec)
	if err != nil {
		return "", err
	}
	return r.AwaitCompletion(ctx, name)
}

// Submit builds and creates the execution pod, returning its generated
// name.
func (r *Runner) Submit(ctx context.Context, spec runner.RunSpec) (string, error) {
	pod := buildPod(spec, newPodName(r.rng))
	created, err := r.client.CoreV1().Pods(r.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return "", &SubmissionError{Err: err}
	}
	logging.Info("Submitted execution pod %s/%s", r.namespace, created.Name)
	return created.Name, nil
}

// AwaitCompletion blocks until the pod reaches a terminal phase and returns
// the result URI from the run container's termination message. Both
// terminal phases delete the pod before returning, so no pod outlives a
// completed run. A failed workload yields an empty result and no error.
// Cancelling ctx interrupts the wait and returns the cancellation error;
// the pod is left for the next call or the cluster's own GC in that case.
func (r *Runner) AwaitCompletion(ctx context.Context, name string) (string, error) {
	pods := r.client.CoreV1().Pods(r.namespace)

	for {
		pod, err := pods.Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return "", errors.Wrapf(err, "reading status of pod %s", name)
		}

		switch pod.Status.Phase {
		case corev1.PodSucceeded:
			logging.Info("Execution pod %s succeeded", name)
			result := terminationMessage(pod)
			if result == "" {
				logging.Info("Pod %s declared no result", name)
			} else {
				logging.Info("Pod %s declared result %s", name, result)
			}
			r.deletePod(ctx, name)
			return result, nil

		case corev1.PodFailed:
			logging.Info("Execution pod %s failed; no result", name)
			r.deletePod(ctx, name)
			return "", nil

		default:
			logging.Debug("Execution pod %s in phase %q, waiting", name, pod.Status.Phase)
		}

		if err := r.sleep(ctx); err != nil {
			return "", err
		}
	}
}

// Close implements runner.Runner. The client holds no connection that
// needs releasing; kept so callers can treat all runners uniformly.
func (r *Runner) Close() error {
	return nil
}

// deletePod removes the finished execution pod. A delete failure does not
// invalidate the run's result, so it is only logged.
func (r *Runner) deletePod(ctx context.Context, name string) {
	err := r.client.CoreV1().Pods(r.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil {
		logging.Warn("Failed to delete execution pod %s: %v", name, err)
	}
}

// terminationMessage extracts the run container's termination message, or
// "" when the container declared none.
func terminationMessage(pod *corev1.Pod) string {
	for _, status := range pod.Status.ContainerStatuses {
		if status.Name != runContainerName {
			continue
		}
		if terminated := status.State.Terminated; terminated != nil {
			return strings.TrimSpace(terminated.Message)
		}
	}
	return ""
}

// sleep blocks for one poll interval or until ctx is cancelled.
func (r *Runner) sleep(ctx context.Context) error {
	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
