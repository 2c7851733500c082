package kube

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

var (
	ErrNoPods        = errors.New("no live training pods match the selector")
	ErrPodNotInWorld = errors.New("pod is not part of the training world")
)

// WorldOptions selects the pods that make up a training job.
type WorldOptions struct {
	Namespace     string
	LabelSelector string
	PodName       string // this process's pod
}

// World is the set of ranks sharing one packing schedule.
type World struct {
	Rank int      `json:"rank"`
	Size int      `json:"size"`
	Pods []string `json:"pods"` // ordered by rank
}

// DiscoverWorld derives rank and world size from the live pods matching the
// selector. Pods are ordered by StatefulSet ordinal when they all carry one,
// by name otherwise; the rank is this pod's position in that order.
func DiscoverWorld(ctx context.Context, client kubernetes.Interface, opts WorldOptions) (*World, error) {
	if opts.LabelSelector == "" {
		return nil, fmt.Errorf("a label selector is required to discover the training world")
	}
	if opts.PodName == "" {
		return nil, fmt.Errorf("pod name is unknown; set POD_NAME or --pod-name")
	}

	list, err := client.CoreV1().Pods(opts.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: opts.LabelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("listing pods: %w", err)
	}

	var names []string
	for _, pod := range list.Items {
		if !live(pod) {
			continue
		}
		names = append(names, pod.Name)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %q in namespace %q", ErrNoPods, opts.LabelSelector, opts.Namespace)
	}
	sortPods(names)

	rank := -1
	for i, name := range names {
		if name == opts.PodName {
			rank = i
			break
		}
	}
	if rank < 0 {
		return nil, fmt.Errorf("%w: %s", ErrPodNotInWorld, opts.PodName)
	}

	return &World{Rank: rank, Size: len(names), Pods: names}, nil
}

func live(pod corev1.Pod) bool {
	if pod.DeletionTimestamp != nil {
		return false
	}
	return pod.Status.Phase != corev1.PodFailed && pod.Status.Phase != corev1.PodSucceeded
}

func sortPods(names []string) {
	ordinals := make(map[string]int, len(names))
	prefix := ""
	numeric := true
	for i, name := range names {
		p, n, ok := splitOrdinal(name)
		if !ok || (i > 0 && p != prefix) {
			numeric = false
			break
		}
		prefix = p
		ordinals[name] = n
	}

	if numeric {
		sort.Slice(names, func(i, j int) bool { return ordinals[names[i]] < ordinals[names[j]] })
		return
	}
	sort.Strings(names)
}

// splitOrdinal splits "trainer-12" into ("trainer", 12).
func splitOrdinal(name string) (string, int, bool) {
	idx := strings.LastIndexByte(name, '-')
	if idx < 0 || idx == len(name)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(name[idx+1:])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return name[:idx], n, true
}
