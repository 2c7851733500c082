package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"k8s.io/client-go/kubernetes"

	"github.com/guimove/seqpack/internal/kube"
	"github.com/guimove/seqpack/internal/metrics"
)

var kubeClientset kubernetes.Interface

// kubeClient connects to Kubernetes once per process.
func kubeClient() (kubernetes.Interface, error) {
	if kubeClientset != nil {
		return kubeClientset, nil
	}
	client, kubeContext, err := kube.NewClient(cfg.Kubernetes)
	if err != nil {
		return nil, fmt.Errorf("connecting to Kubernetes: %w", err)
	}
	if kubeContext != "" {
		logrus.WithField("context", kubeContext).Debug("using kubeconfig context")
	}
	kubeClientset = client
	return client, nil
}

// resolveHistory picks where earlier packing efficiencies come from: a
// history file, an explicit --prometheus-url, or a Prometheus-compatible
// service discovered in the cluster. It returns nil when none is
// configured, leaving the configured efficiency estimate in place.
func resolveHistory(ctx context.Context) (metrics.HistoryCollector, error) {
	if cfg.History.File != "" {
		c := metrics.NewStaticCollector(cfg.History.File)
		if err := c.Ping(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}

	promURL := cfg.History.PrometheusURL
	if promURL == "" && cfg.Kubernetes.Enabled {
		client, err := kubeClient()
		if err != nil {
			return nil, err
		}
		svc, err := kube.DiscoverMetricsService(ctx, client, "")
		if errors.Is(err, kube.ErrNoMetricsService) {
			logrus.WithError(err).Warn("no packing history backend found")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"type":    svc.Type,
			"url":     svc.URL,
			"service": svc.Namespace + "/" + svc.Name,
		}).Info("discovered metrics service")
		promURL = svc.URL
	}
	if promURL == "" {
		return nil, nil
	}

	c, err := metrics.NewPrometheusCollector(promURL, metrics.WithTimeout(cfg.History.Timeout))
	if err != nil {
		return nil, err
	}
	if err := c.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connecting to Prometheus: %w", err)
	}
	return c, nil
}

// resolveWorld replaces the configured rank and world size with the ones
// derived from the training pods when discovery is enabled.
func resolveWorld(ctx context.Context) error {
	if !cfg.Kubernetes.Enabled || cfg.Kubernetes.LabelSelector == "" {
		return nil
	}

	world, err := discoverWorld(ctx)
	if err != nil {
		return err
	}

	cfg.Packing.Rank = world.Rank
	cfg.Packing.WorldSize = world.Size

	logrus.WithFields(logrus.Fields{
		"rank":       world.Rank,
		"world_size": world.Size,
	}).Info("discovered training world")
	return cfg.Validate()
}

func discoverWorld(ctx context.Context) (*kube.World, error) {
	client, err := kubeClient()
	if err != nil {
		return nil, err
	}
	return kube.DiscoverWorld(ctx, client, kube.WorldOptions{
		Namespace:     cfg.Kubernetes.Namespace,
		LabelSelector: cfg.Kubernetes.LabelSelector,
		PodName:       cfg.Kubernetes.PodName,
	})
}
