package kube

import (
	"context"
	"errors"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

var ErrNoMetricsService = errors.New("no Prometheus-compatible service found in the cluster")

// MetricsService is an in-cluster endpoint holding the efficiency history.
type MetricsService struct {
	URL       string
	Type      string // "prometheus", "thanos", "victoria-metrics"
	Name      string
	Namespace string
}

// metricsCandidates lists well-known label selectors in priority order.
// Query frontends come first since they see every replica's samples.
var metricsCandidates = []struct {
	backend   string
	selectors []string
}{
	{"thanos", []string{
		"app.kubernetes.io/component=query,app.kubernetes.io/name=thanos",
		"app.kubernetes.io/name=thanos-query",
	}},
	{"victoria-metrics", []string{
		"app.kubernetes.io/name=vmsingle",
		"app.kubernetes.io/name=vmselect",
	}},
	{"prometheus", []string{
		"app=kube-prometheus-stack-prometheus",
		"app.kubernetes.io/name=prometheus",
		"app=prometheus,component=server",
	}},
}

// DiscoverMetricsService finds the service to read packing history from.
// An empty namespace searches all namespaces.
func DiscoverMetricsService(ctx context.Context, client kubernetes.Interface, namespace string) (*MetricsService, error) {
	for _, c := range metricsCandidates {
		for _, selector := range c.selectors {
			list, err := client.CoreV1().Services(namespace).List(ctx, metav1.ListOptions{
				LabelSelector: selector,
			})
			if err != nil || len(list.Items) == 0 {
				continue
			}

			svc := list.Items[0]
			port := servicePort(svc)
			if port == 0 {
				continue
			}
			return &MetricsService{
				URL:       fmt.Sprintf("http://%s.%s.svc:%d", svc.Name, svc.Namespace, port),
				Type:      c.backend,
				Name:      svc.Name,
				Namespace: svc.Namespace,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w; set history.prometheus_url", ErrNoMetricsService)
}

// servicePort prefers well-known HTTP port names, then the first TCP port.
func servicePort(svc corev1.Service) int32 {
	for _, p := range svc.Spec.Ports {
		switch p.Name {
		case "http", "web", "http-web":
			return p.Port
		}
	}
	for _, p := range svc.Spec.Ports {
		if p.Protocol == corev1.ProtocolTCP || p.Protocol == "" {
			return p.Port
		}
	}
	return 0
}
