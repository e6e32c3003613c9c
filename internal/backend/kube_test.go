package backend

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"matrixctl/internal/matrix"
	"matrixctl/internal/recipe"
)

func terminated(name string, code int32) corev1.ContainerStatus {
	now := metav1.NewTime(time.Now())
	return corev1.ContainerStatus{
		Name: name,
		State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{
			ExitCode: code, StartedAt: now, FinishedAt: now,
		}},
	}
}

// fakeCluster serves created pods back with the given terminal status.
func fakeCluster(t *testing.T, status corev1.PodStatus) (*fake.Clientset, func() *corev1.Pod) {
	t.Helper()
	client := fake.NewSimpleClientset()

	var mu sync.Mutex
	var created *corev1.Pod
	client.PrependReactor("create", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		mu.Lock()
		defer mu.Unlock()
		created = action.(k8stesting.CreateAction).GetObject().(*corev1.Pod).DeepCopy()
		return false, nil, nil
	})
	client.PrependReactor("get", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		mu.Lock()
		defer mu.Unlock()
		if created == nil {
			return false, nil, nil
		}
		pod := created.DeepCopy()
		pod.Status = status
		return true, pod, nil
	})

	return client, func() *corev1.Pod {
		mu.Lock()
		defer mu.Unlock()
		return created
	}
}

func kubeSteps() []recipe.Step {
	return recipe.Build(linuxEntry(), recipe.Options{Source: "https://example.com/project.git"})
}

func TestKubernetes_SucceededPod(t *testing.T) {
	client, createdPod := fakeCluster(t, corev1.PodStatus{
		Phase:                 corev1.PodSucceeded,
		InitContainerStatuses: []corev1.ContainerStatus{terminated(checkoutContainer, 0)},
		ContainerStatuses:     []corev1.ContainerStatus{terminated(recipeContainer, 0)},
	})
	k := NewKubernetes(client, WithNamespace("ci"), WithPollInterval(10*time.Millisecond))

	var got []StepOutcome
	err := k.Execute(context.Background(), linuxEntry(), kubeSteps(), collect(&got))
	require.NoError(t, err)

	require.Len(t, got, 4)
	for _, o := range got {
		assert.True(t, o.Succeeded(), o.Step.Name)
	}

	pod := createdPod()
	require.NotNil(t, pod)
	assert.Equal(t, "ci", pod.Namespace)
	assert.True(t, strings.HasPrefix(pod.Name, "matrixctl-3-10-unsafe-"))
	assert.LessOrEqual(t, len(pod.Name), 63)
	assert.Equal(t, "py310-unsafe", pod.Labels[profileLabel])
	assert.Equal(t, corev1.RestartPolicyNever, pod.Spec.RestartPolicy)
	require.Len(t, pod.Spec.InitContainers, 1)
	assert.Equal(t, DefaultCheckoutImage, pod.Spec.InitContainers[0].Image)
	assert.Equal(t, []string{"git", "clone", "--quiet", "https://example.com/project.git", workspacePath}, pod.Spec.InitContainers[0].Command)
	require.Len(t, pod.Spec.Containers, 1)
	assert.Equal(t, "python:3.10-slim", pod.Spec.Containers[0].Image)
	assert.Contains(t, pod.Spec.Containers[0].Command[2], "python3.10 -m tox -e py310-unsafe")

	pods, err := client.CoreV1().Pods("ci").List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, pods.Items, "pod should be deleted on release")
}

func TestKubernetes_FailedRecipeContainer(t *testing.T) {
	client, _ := fakeCluster(t, corev1.PodStatus{
		Phase:                 corev1.PodFailed,
		InitContainerStatuses: []corev1.ContainerStatus{terminated(checkoutContainer, 0)},
		ContainerStatuses:     []corev1.ContainerStatus{terminated(recipeContainer, 1)},
	})
	k := NewKubernetes(client, WithPollInterval(10*time.Millisecond))

	var got []StepOutcome
	require.NoError(t, k.Execute(context.Background(), linuxEntry(), kubeSteps(), collect(&got)))

	// The fake log stream carries no markers, so the failure lands on the
	// first step of the script.
	require.Len(t, got, 2)
	assert.True(t, got[0].Succeeded())
	assert.Equal(t, recipe.StepSetupPython, got[1].Step.Name)
	assert.Equal(t, 1, got[1].ExitCode)
}

func TestKubernetes_FailedCheckout(t *testing.T) {
	client, _ := fakeCluster(t, corev1.PodStatus{
		Phase:                 corev1.PodFailed,
		InitContainerStatuses: []corev1.ContainerStatus{terminated(checkoutContainer, 128)},
	})
	k := NewKubernetes(client, WithPollInterval(10*time.Millisecond))

	var got []StepOutcome
	require.NoError(t, k.Execute(context.Background(), linuxEntry(), kubeSteps(), collect(&got)))

	require.Len(t, got, 1)
	assert.Equal(t, recipe.StepCheckout, got[0].Step.Name)
	assert.Equal(t, 128, got[0].ExitCode)
}

func TestKubernetes_UnsupportedOS(t *testing.T) {
	client := fake.NewSimpleClientset()
	k := NewKubernetes(client)
	entry := matrix.Entry{Name: "Mac", RunsOn: "macos-latest", OS: matrix.OSMacOS, Python: "3.10", Profile: "py310"}

	err := k.Execute(context.Background(), entry, kubeSteps(), func(StepOutcome) {})
	assert.True(t, errors.Is(err, ErrUnsupportedOS))
	assert.Empty(t, client.Actions())
}

func TestKubernetes_CancelledWhilePending(t *testing.T) {
	client, _ := fakeCluster(t, corev1.PodStatus{Phase: corev1.PodPending})
	k := NewKubernetes(client, WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := k.Execute(ctx, linuxEntry(), kubeSteps(), func(StepOutcome) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pods, listErr := client.CoreV1().Pods(DefaultNamespace).List(context.Background(), metav1.ListOptions{})
	require.NoError(t, listErr)
	assert.Empty(t, pods.Items)
}

func TestKubernetes_ImagePullFailure(t *testing.T) {
	tests := []struct {
		name   string
		status corev1.PodStatus
		want   string
	}{
		{
			name: "recipe image missing",
			status: corev1.PodStatus{
				Phase:                 corev1.PodPending,
				InitContainerStatuses: []corev1.ContainerStatus{terminated(checkoutContainer, 0)},
				ContainerStatuses: []corev1.ContainerStatus{{
					Name:  recipeContainer,
					State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: "ImagePullBackOff", Message: "python:3.99-slim not found"}},
				}},
			},
			want: "container recipe is ImagePullBackOff",
		},
		{
			name: "checkout image missing",
			status: corev1.PodStatus{
				Phase: corev1.PodPending,
				InitContainerStatuses: []corev1.ContainerStatus{{
					Name:  checkoutContainer,
					State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: "ErrImagePull"}},
				}},
			},
			want: "container checkout is ErrImagePull",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := fakeCluster(t, tt.status)
			k := NewKubernetes(client, WithPollInterval(10*time.Millisecond))

			var got []StepOutcome
			err := k.Execute(context.Background(), linuxEntry(), kubeSteps(), collect(&got))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrProvisioning)
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, got)

			pods, listErr := client.CoreV1().Pods(DefaultNamespace).List(context.Background(), metav1.ListOptions{})
			require.NoError(t, listErr)
			assert.Empty(t, pods.Items)
		})
	}
}

func TestKubernetes_ContainerCreatingKeepsWaiting(t *testing.T) {
	client, _ := fakeCluster(t, corev1.PodStatus{
		Phase: corev1.PodPending,
		ContainerStatuses: []corev1.ContainerStatus{{
			Name:  recipeContainer,
			State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: "ContainerCreating"}},
		}},
	})
	k := NewKubernetes(client, WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := k.Execute(ctx, linuxEntry(), kubeSteps(), func(StepOutcome) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestImageFor(t *testing.T) {
	assert.Equal(t, "python:3.11-slim", ImageFor("3.11"))
	assert.Equal(t, "pypy:3.7-slim", ImageFor("pypy-3.7"))
}
