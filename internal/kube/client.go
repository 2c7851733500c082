package kube

import (
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/guimove/seqpack/internal/config"
)

// NewClient creates a Kubernetes clientset using the following resolution order:
// 1. Explicit kubeconfig path (--kubeconfig flag)
// 2. KUBECONFIG environment variable
// 3. In-cluster config (the usual case inside a training pod)
// 4. ~/.kube/config default
//
// It also returns the name of the context in use, empty when in-cluster.
func NewClient(cfg config.KubernetesConfig) (kubernetes.Interface, string, error) {
	restConfig, currentContext, err := buildConfig(cfg.Kubeconfig, cfg.Context)
	if err != nil {
		return nil, "", fmt.Errorf("building kubernetes config: %w", err)
	}

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, "", fmt.Errorf("creating kubernetes client: %w", err)
	}

	return client, currentContext, nil
}

func buildConfig(kubeconfig, kubeContext string) (*rest.Config, string, error) {
	path := kubeconfig
	if path == "" {
		path = os.Getenv("KUBECONFIG")
	}

	// Training pods carry a service account; prefer it over a stray home config.
	if path == "" {
		if restConfig, err := rest.InClusterConfig(); err == nil {
			return restConfig, "", nil
		}
		if home, err := os.UserHomeDir(); err == nil {
			defaultPath := filepath.Join(home, ".kube", "config")
			if _, err := os.Stat(defaultPath); err == nil {
				path = defaultPath
			}
		}
	}
	if path == "" {
		return nil, "", fmt.Errorf("no kubeconfig found and not running in-cluster")
	}

	rules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: path}
	overrides := &clientcmd.ConfigOverrides{}
	if kubeContext != "" {
		overrides.CurrentContext = kubeContext
	}
	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides)

	rawConfig, err := clientConfig.RawConfig()
	if err != nil {
		return nil, "", err
	}
	currentContext := rawConfig.CurrentContext
	if kubeContext != "" {
		currentContext = kubeContext
	}

	restConfig, err := clientConfig.ClientConfig()
	if err != nil {
		return nil, "", err
	}
	return restConfig, currentContext, nil
}
