package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"matrixctl/internal/matrix"
	"matrixctl/internal/recipe"
	"matrixctl/pkg/logging"
)

const (
	kubeSubsystem = "backend/kubernetes"

	// DefaultNamespace is used when no namespace is configured.
	DefaultNamespace = "default"
	// DefaultCheckoutImage provides git for the checkout init container.
	DefaultCheckoutImage = "alpine/git:latest"

	defaultPollInterval = 2 * time.Second
	deleteTimeout       = 30 * time.Second

	workspaceVolume   = "workspace"
	workspacePath     = "/workspace"
	checkoutContainer = "checkout"
	recipeContainer   = "recipe"

	managedByLabel   = "app.kubernetes.io/managed-by"
	profileLabel     = "matrixctl.io/profile"
	entryAnnotation  = "matrixctl.io/entry"
	pythonAnnotation = "matrixctl.io/python"
	maxNameLength    = 63
)

// Kubernetes runs every entry in its own Pod. The checkout step runs as an
// init container writing into a shared emptyDir; the remaining steps run as a
// single marked shell script in an interpreter image. Only linux entries can
// be provisioned.
type Kubernetes struct {
	client        kubernetes.Interface
	namespace     string
	checkoutImage string
	pollInterval  time.Duration
}

// KubernetesOption configures a Kubernetes backend.
type KubernetesOption func(*Kubernetes)

// WithNamespace sets the namespace pods are created in.
func WithNamespace(ns string) KubernetesOption {
	return func(k *Kubernetes) {
		if ns != "" {
			k.namespace = ns
		}
	}
}

// WithCheckoutImage overrides the image used to clone the source.
func WithCheckoutImage(image string) KubernetesOption {
	return func(k *Kubernetes) {
		if image != "" {
			k.checkoutImage = image
		}
	}
}

// WithPollInterval sets how often pod status is polled.
func WithPollInterval(d time.Duration) KubernetesOption {
	return func(k *Kubernetes) {
		if d > 0 {
			k.pollInterval = d
		}
	}
}

// NewKubernetes creates a pod backend on top of an existing clientset.
func NewKubernetes(client kubernetes.Interface, opts ...KubernetesOption) *Kubernetes {
	k := &Kubernetes{
		client:        client,
		namespace:     DefaultNamespace,
		checkoutImage: DefaultCheckoutImage,
		pollInterval:  defaultPollInterval,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// NewKubernetesFromKubeconfig builds the clientset from a kubeconfig file and
// context. Empty values fall back to the default loading rules and the
// current context.
func NewKubernetesFromKubeconfig(kubeconfig, kubeContext string, opts ...KubernetesOption) (*Kubernetes, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		loadingRules.ExplicitPath = kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{}
	if kubeContext != "" {
		overrides.CurrentContext = kubeContext
	}

	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get Kubernetes client config for context '%s': %w", kubeContext, err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
	}
	return NewKubernetes(clientset, opts...), nil
}

// Name implements Backend.
func (k *Kubernetes) Name() string {
	return "kubernetes"
}

// Execute implements Backend.
func (k *Kubernetes) Execute(ctx context.Context, entry matrix.Entry, steps []recipe.Step, observe func(StepOutcome)) error {
	if entry.OS != matrix.OSLinux {
		return fmt.Errorf("%w: %s (%s) cannot run as a Kubernetes pod", ErrUnsupportedOS, entry.RunsOn, entry.OS)
	}

	checkout, rest := splitCheckout(steps)
	pod := k.buildPod(entry, checkout, rest)

	pods := k.client.CoreV1().Pods(k.namespace)
	created, err := pods.Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("failed to create pod for %s: %w", entry.DisplayName(), err)
	}
	logging.Info(kubeSubsystem, "Created pod %s/%s for %s", k.namespace, created.Name, entry.DisplayName())
	defer k.deletePod(created.Name)

	final, err := k.waitForCompletion(ctx, created.Name)
	if err != nil {
		return err
	}

	for _, o := range k.collectOutcomes(ctx, final, checkout, rest) {
		observe(o)
	}
	return nil
}

func (k *Kubernetes) waitForCompletion(ctx context.Context, name string) (*corev1.Pod, error) {
	pods := k.client.CoreV1().Pods(k.namespace)

	var final *corev1.Pod
	err := wait.PollUntilContextCancel(ctx, k.pollInterval, true, func(ctx context.Context) (bool, error) {
		pod, err := pods.Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return false, err
		}
		switch pod.Status.Phase {
		case corev1.PodSucceeded, corev1.PodFailed:
			final = pod
			return true, nil
		case corev1.PodPending:
			if container, waiting := stuckContainer(pod); waiting != nil {
				return false, fmt.Errorf("%w: container %s is %s: %s", ErrProvisioning, container, waiting.Reason, waiting.Message)
			}
			logging.Debug(kubeSubsystem, "Pod %s is %s", name, pod.Status.Phase)
			return false, nil
		default:
			logging.Debug(kubeSubsystem, "Pod %s is %s", name, pod.Status.Phase)
			return false, nil
		}
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, ErrProvisioning) {
			return nil, fmt.Errorf("pod %s: %w", name, err)
		}
		return nil, fmt.Errorf("failed waiting for pod %s: %w", name, err)
	}
	return final, nil
}

// unrecoverableWaits are container waiting reasons the kubelet will not get
// past on its own.
var unrecoverableWaits = map[string]bool{
	"ErrImagePull":               true,
	"ImagePullBackOff":           true,
	"InvalidImageName":           true,
	"CreateContainerConfigError": true,
	"CreateContainerError":       true,
}

// stuckContainer returns the first init or recipe container blocked in an
// unrecoverable waiting state.
func stuckContainer(pod *corev1.Pod) (string, *corev1.ContainerStateWaiting) {
	statuses := append(append([]corev1.ContainerStatus{}, pod.Status.InitContainerStatuses...), pod.Status.ContainerStatuses...)
	for _, cs := range statuses {
		if w := cs.State.Waiting; w != nil && unrecoverableWaits[w.Reason] {
			return cs.Name, w
		}
	}
	return "", nil
}

func (k *Kubernetes) collectOutcomes(ctx context.Context, pod *corev1.Pod, checkout *recipe.Step, rest []recipe.Step) []StepOutcome {
	var outcomes []StepOutcome

	if checkout != nil {
		o := StepOutcome{Step: *checkout}
		if st := terminatedState(pod.Status.InitContainerStatuses, checkoutContainer); st != nil {
			o.ExitCode = int(st.ExitCode)
			o.StartTime, o.EndTime = st.StartedAt.Time, st.FinishedAt.Time
		} else {
			o.ExitCode = -1
			o.Err = errors.New("checkout container did not run")
		}
		o.Output = k.logs(ctx, pod.Name, checkoutContainer)
		fillTimes(&o)
		outcomes = append(outcomes, o)
		if !o.Succeeded() {
			return outcomes
		}
	}

	if len(rest) == 0 {
		return outcomes
	}

	st := terminatedState(pod.Status.ContainerStatuses, recipeContainer)
	if st == nil {
		o := StepOutcome{
			Step:     rest[0],
			ExitCode: -1,
			Err:      fmt.Errorf("recipe container did not terminate (pod phase %s)", pod.Status.Phase),
		}
		fillTimes(&o)
		return append(outcomes, o)
	}

	logs := k.logs(ctx, pod.Name, recipeContainer)
	for _, o := range attributeSteps(rest, parseMarkers(logs), int(st.ExitCode), st.StartedAt.Time, st.FinishedAt.Time) {
		fillTimes(&o)
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (k *Kubernetes) logs(ctx context.Context, podName, container string) string {
	raw, err := k.client.CoreV1().Pods(k.namespace).
		GetLogs(podName, &corev1.PodLogOptions{Container: container}).
		Do(ctx).Raw()
	if err != nil {
		logging.Warn(kubeSubsystem, "Failed to read logs of %s/%s: %v", podName, container, err)
		return ""
	}
	return string(raw)
}

func (k *Kubernetes) deletePod(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()

	policy := metav1.DeletePropagationBackground
	if err := k.client.CoreV1().Pods(k.namespace).Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &policy}); err != nil {
		logging.Warn(kubeSubsystem, "Failed to delete pod %s: %v", name, err)
		return
	}
	logging.Debug(kubeSubsystem, "Deleted pod %s", name)
}

func (k *Kubernetes) buildPod(entry matrix.Entry, checkout *recipe.Step, rest []recipe.Step) *corev1.Pod {
	mounts := []corev1.VolumeMount{{Name: workspaceVolume, MountPath: workspacePath}}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName(entry),
			Namespace: k.namespace,
			Labels: map[string]string{
				managedByLabel: "matrixctl",
				profileLabel:   truncate(sanitizeName(entry.Profile), maxNameLength),
			},
			Annotations: map[string]string{
				entryAnnotation:  entry.DisplayName(),
				pythonAnnotation: entry.Python,
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Volumes: []corev1.Volume{{
				Name:         workspaceVolume,
				VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
			}},
			Containers: []corev1.Container{{
				Name:         recipeContainer,
				Image:        ImageFor(entry.Python),
				Command:      []string{"sh", "-c", renderScript(rest)},
				WorkingDir:   workspacePath,
				VolumeMounts: mounts,
			}},
		},
	}

	if checkout != nil {
		pod.Spec.InitContainers = []corev1.Container{{
			Name:         checkoutContainer,
			Image:        k.checkoutImage,
			Command:      checkoutArgv(checkout.Argv),
			WorkingDir:   workspacePath,
			VolumeMounts: mounts,
		}}
	}
	return pod
}

// ImageFor returns the container image providing an interpreter version.
func ImageFor(python string) string {
	if recipe.IsPyPy(python) {
		return "pypy:" + recipe.PyPyVersion(python) + "-slim"
	}
	return "python:" + python + "-slim"
}

// checkoutArgv points the clone destination at the shared workspace volume.
func checkoutArgv(argv []string) []string {
	out := append([]string(nil), argv...)
	if len(out) > 0 {
		out[len(out)-1] = workspacePath
	}
	return out
}

func splitCheckout(steps []recipe.Step) (*recipe.Step, []recipe.Step) {
	if len(steps) > 0 && steps[0].Name == recipe.StepCheckout {
		c := steps[0]
		return &c, steps[1:]
	}
	return nil, steps
}

func terminatedState(statuses []corev1.ContainerStatus, name string) *corev1.ContainerStateTerminated {
	for _, s := range statuses {
		if s.Name == name && s.State.Terminated != nil {
			return s.State.Terminated
		}
	}
	return nil
}

func fillTimes(o *StepOutcome) {
	now := time.Now()
	if o.StartTime.IsZero() {
		o.StartTime = now
	}
	if o.EndTime.IsZero() || o.EndTime.Before(o.StartTime) {
		o.EndTime = o.StartTime
	}
}

func podName(entry matrix.Entry) string {
	suffix := uuid.New().String()[:8]
	base := truncate("matrixctl-"+sanitizeName(entry.DisplayName()), maxNameLength-len(suffix)-1)
	return base + "-" + suffix
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
