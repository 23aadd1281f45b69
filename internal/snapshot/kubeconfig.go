package snapshot

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// NewClientset builds a clientset from a kubeconfig path and optional
// context. An empty path uses in-cluster config when available and the
// default loading rules ($KUBECONFIG, ~/.kube/config) otherwise. The second
// return value is the cluster name of the selected context.
func NewClientset(kubeconfigPath, kubeContext string) (kubernetes.Interface, string, error) {
	if kubeconfigPath == "" {
		if cfg, err := rest.InClusterConfig(); err == nil {
			cs, err := kubernetes.NewForConfig(cfg)
			if err != nil {
				return nil, "", fmt.Errorf("failed to create clientset: %w", err)
			}
			return cs, "in-cluster", nil
		}
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfigPath != "" {
		rules.ExplicitPath = kubeconfigPath
	}
	loader := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{
		CurrentContext: kubeContext,
	})

	cfg, err := loader.ClientConfig()
	if err != nil {
		return nil, "", fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create clientset: %w", err)
	}

	return cs, clusterName(loader, kubeContext), nil
}

func clusterName(loader clientcmd.ClientConfig, kubeContext string) string {
	raw, err := loader.RawConfig()
	if err != nil {
		return UnknownName
	}
	name := kubeContext
	if name == "" {
		name = raw.CurrentContext
	}
	if ctx, ok := raw.Contexts[name]; ok && ctx.Cluster != "" {
		return ctx.Cluster
	}
	if name != "" {
		return name
	}
	return UnknownName
}
