package kube

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	discoveryv1 "k8s.io/api/discovery/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// ErrNotFound reports that a check matched no objects at all.
var ErrNotFound = errors.New("no matching objects")

// ErrRolloutStalled reports a deployment whose progress deadline expired.
// Polling will not fix it.
var ErrRolloutStalled = errors.New("rollout exceeded its progress deadline")

// NodesReady succeeds when the cluster has nodes and every one reports
// Ready=True.
func NodesReady(ctx context.Context, cs kubernetes.Interface) error {
	nodes, err := cs.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("list nodes: %w", err)
	}
	if len(nodes.Items) == 0 {
		return fmt.Errorf("nodes: %w", ErrNotFound)
	}
	var notReady []string
	for _, n := range nodes.Items {
		if !nodeReady(n) {
			notReady = append(notReady, n.Name)
		}
	}
	if len(notReady) > 0 {
		return fmt.Errorf("%d/%d nodes not ready: %s", len(notReady), len(nodes.Items), strings.Join(notReady, ", "))
	}
	return nil
}

func nodeReady(n corev1.Node) bool {
	for _, c := range n.Status.Conditions {
		if c.Type == corev1.NodeReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}

// PodsReady succeeds when selector matches at least one pod in namespace and
// every matched pod reports Ready=True.
func PodsReady(ctx context.Context, cs kubernetes.Interface, namespace, selector string) error {
	pods, err := cs.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return fmt.Errorf("list pods %s -l %s: %w", namespace, selector, err)
	}
	if len(pods.Items) == 0 {
		return fmt.Errorf("pods %s -l %s: %w", namespace, selector, ErrNotFound)
	}
	var notReady []string
	for _, p := range pods.Items {
		if !podReady(p) {
			notReady = append(notReady, p.Name)
		}
	}
	if len(notReady) > 0 {
		return fmt.Errorf("pods not ready in %s: %s", namespace, strings.Join(notReady, ", "))
	}
	return nil
}

func podReady(p corev1.Pod) bool {
	for _, c := range p.Status.Conditions {
		if c.Type == corev1.PodReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}

// JobsComplete succeeds when selector matches at least one job and all of
// them report Complete=True.
func JobsComplete(ctx context.Context, cs kubernetes.Interface, namespace, selector string) error {
	jobs, err := cs.BatchV1().Jobs(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return fmt.Errorf("list jobs %s -l %s: %w", namespace, selector, err)
	}
	if len(jobs.Items) == 0 {
		return fmt.Errorf("jobs %s -l %s: %w", namespace, selector, ErrNotFound)
	}
	var pending []string
	for _, j := range jobs.Items {
		if !jobComplete(j) {
			pending = append(pending, j.Name)
		}
	}
	if len(pending) > 0 {
		return fmt.Errorf("jobs not complete in %s: %s", namespace, strings.Join(pending, ", "))
	}
	return nil
}

func jobComplete(j batchv1.Job) bool {
	for _, c := range j.Status.Conditions {
		if c.Type == batchv1.JobComplete && c.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

// DeploymentRolledOut mirrors `kubectl rollout status`: the latest
// generation has been observed and every desired replica is updated and
// available with no old replicas left.
func DeploymentRolledOut(ctx context.Context, cs kubernetes.Interface, namespace, name string) error {
	d, err := cs.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("get deployment %s/%s: %w", namespace, name, err)
	}
	return rolloutStatus(d)
}

func rolloutStatus(d *appsv1.Deployment) error {
	id := d.Namespace + "/" + d.Name
	if d.Generation > d.Status.ObservedGeneration {
		return fmt.Errorf("deployment %s: waiting for spec update to be observed", id)
	}
	for _, c := range d.Status.Conditions {
		if c.Type == appsv1.DeploymentProgressing && c.Reason == "ProgressDeadlineExceeded" {
			return fmt.Errorf("deployment %s: %w", id, ErrRolloutStalled)
		}
	}

	desired := int32(1)
	if d.Spec.Replicas != nil {
		desired = *d.Spec.Replicas
	}
	st := d.Status
	switch {
	case st.UpdatedReplicas < desired:
		return fmt.Errorf("deployment %s: %d of %d replicas updated", id, st.UpdatedReplicas, desired)
	case st.Replicas > st.UpdatedReplicas:
		return fmt.Errorf("deployment %s: %d old replicas pending termination", id, st.Replicas-st.UpdatedReplicas)
	case st.AvailableReplicas < st.UpdatedReplicas:
		return fmt.Errorf("deployment %s: %d of %d updated replicas available", id, st.AvailableReplicas, st.UpdatedReplicas)
	}
	return nil
}

// EndpointsPopulated returns the number of ready endpoint addresses backing
// service, or an error when there are none.
func EndpointsPopulated(ctx context.Context, cs kubernetes.Interface, namespace, service string) (int, error) {
	slices, err := cs.DiscoveryV1().EndpointSlices(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: discoveryv1.LabelServiceName + "=" + service,
	})
	if err != nil {
		return 0, fmt.Errorf("list endpoint slices for %s/%s: %w", namespace, service, err)
	}
	ready := 0
	for _, s := range slices.Items {
		for _, ep := range s.Endpoints {
			if ep.Conditions.Ready != nil && !*ep.Conditions.Ready {
				continue
			}
			ready += len(ep.Addresses)
		}
	}
	if ready == 0 {
		return 0, fmt.Errorf("service %s/%s has no ready endpoints", namespace, service)
	}
	return ready, nil
}

// IngressBackends returns the sorted, distinct backend service names that
// ingresses in namespace route to, or an error when there are none.
func IngressBackends(ctx context.Context, cs kubernetes.Interface, namespace string) ([]string, error) {
	ingresses, err := cs.NetworkingV1().Ingresses(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list ingresses in %s: %w", namespace, err)
	}
	seen := make(map[string]struct{})
	for _, ing := range ingresses.Items {
		if b := ing.Spec.DefaultBackend; b != nil && b.Service != nil {
			seen[b.Service.Name] = struct{}{}
		}
		for _, rule := range ing.Spec.Rules {
			if rule.HTTP == nil {
				continue
			}
			for _, path := range rule.HTTP.Paths {
				if path.Backend.Service != nil && path.Backend.Service.Name != "" {
					seen[path.Backend.Service.Name] = struct{}{}
				}
			}
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("ingresses in %s have no backend services configured", namespace)
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
