// Package kube implements actuator.Actuator on Kubernetes Deployments.
//
// A resource name is "namespace/deployment" or a bare deployment name in
// the configured default namespace. STOP scales to zero and remembers the
// previous replica count in an annotation so START can restore it; RESTART
// bumps the pod template's restartedAt annotation the way
// `kubectl rollout restart` does.
package kube

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/nerrad567/warden/internal/action"
	"github.com/nerrad567/warden/internal/actuator"
)

// Annotation keys written on managed Deployments.
const (
	ReplicasAnnotation  = "warden.io/replicas"
	RestartedAnnotation = "kubectl.kubernetes.io/restartedAt"
)

// Config configures the Kubernetes actuator.
type Config struct {
	// Kubeconfig is a path to a kubeconfig file; empty uses in-cluster config.
	Kubeconfig string

	// Namespace is used for names without a "namespace/" prefix.
	Namespace string
}

// Actuator drives Deployments through a Kubernetes clientset.
type Actuator struct {
	client    kubernetes.Interface
	namespace string
	now       func() time.Time
}

// Connect builds a clientset from cfg and returns an Actuator.
func Connect(cfg Config) (*Actuator, error) {
	var (
		restCfg *rest.Config
		err     error
	)
	if cfg.Kubeconfig != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
	} else {
		restCfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading kubernetes config: %v", actuator.ErrUnavailable, err)
	}

	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: creating kubernetes client: %v", actuator.ErrUnavailable, err)
	}
	return New(client, cfg.Namespace), nil
}

// New wraps an existing clientset.
func New(client kubernetes.Interface, namespace string) *Actuator {
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}
	return &Actuator{client: client, namespace: namespace, now: time.Now}
}

// Describe reports the Deployment's replica status.
func (a *Actuator) Describe(ctx context.Context, name string) (actuator.Info, error) {
	dep, err := a.get(ctx, name)
	if err != nil {
		return actuator.Info{}, err
	}

	info := actuator.Info{
		Name:    name,
		Running: dep.Status.ReadyReplicas > 0,
	}
	if containers := dep.Spec.Template.Spec.Containers; len(containers) > 0 {
		info.Image = containers[0].Image
	}

	desired := replicas(dep)
	switch {
	case desired == 0:
		info.Status = "stopped"
	case dep.Status.ReadyReplicas >= desired:
		info.Status = "running"
	default:
		info.Status = fmt.Sprintf("starting (%d/%d ready)", dep.Status.ReadyReplicas, desired)
	}
	return info, nil
}

// IsRunning reports whether at least one replica is ready.
func (a *Actuator) IsRunning(ctx context.Context, name string) (bool, error) {
	info, err := a.Describe(ctx, name)
	if err != nil {
		return false, err
	}
	return info.Running, nil
}

// Apply scales or restarts the Deployment. NOTIFY is a no-op.
func (a *Actuator) Apply(ctx context.Context, name string, kind action.Kind) error {
	if kind.Effective() == action.KindNotify {
		return nil
	}

	dep, err := a.get(ctx, name)
	if err != nil {
		return err
	}
	if dep.Annotations == nil {
		dep.Annotations = map[string]string{}
	}

	switch kind.Effective() {
	case action.KindStart:
		if replicas(dep) > 0 {
			return nil
		}
		restore := int32(1)
		if v, convErr := strconv.ParseInt(dep.Annotations[ReplicasAnnotation], 10, 32); convErr == nil && v > 0 {
			restore = int32(v)
		}
		dep.Spec.Replicas = &restore

	case action.KindStop:
		if current := replicas(dep); current > 0 {
			dep.Annotations[ReplicasAnnotation] = strconv.Itoa(int(current))
		}
		zero := int32(0)
		dep.Spec.Replicas = &zero

	case action.KindRestart:
		if dep.Spec.Template.Annotations == nil {
			dep.Spec.Template.Annotations = map[string]string{}
		}
		dep.Spec.Template.Annotations[RestartedAnnotation] = a.now().UTC().Format(time.RFC3339)

	default:
		return fmt.Errorf("%w: %s", actuator.ErrUnsupported, kind)
	}

	ns, depName := a.split(name)
	if _, err := a.client.AppsV1().Deployments(ns).Update(ctx, dep, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("updating deployment %s/%s: %w", ns, depName, err)
	}
	return nil
}

func (a *Actuator) get(ctx context.Context, name string) (*appsv1.Deployment, error) {
	ns, depName := a.split(name)
	dep, err := a.client.AppsV1().Deployments(ns).Get(ctx, depName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", actuator.ErrNotFound, ns, depName)
		}
		return nil, fmt.Errorf("%w: getting deployment %s/%s: %v", actuator.ErrUnavailable, ns, depName, err)
	}
	return dep, nil
}

func (a *Actuator) split(name string) (namespace, deployment string) {
	if ns, dep, ok := strings.Cut(name, "/"); ok {
		return ns, dep
	}
	return a.namespace, name
}

func replicas(dep *appsv1.Deployment) int32 {
	if dep.Spec.Replicas == nil {
		return 1
	}
	return *dep.Spec.Replicas
}
