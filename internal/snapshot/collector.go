package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/moolen/kubeaudit/internal/logging"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// Collector lists cluster objects read-only and assembles a Snapshot.
// A failed list call is logged and leaves that key empty.
type Collector struct {
	client      kubernetes.Interface
	clusterName string
	eventWindow time.Duration
	limiter     *rate.Limiter
	now         func() time.Time
	logger      *logging.Logger
}

// CollectorOption configures a Collector
type CollectorOption func(*Collector)

// WithClusterName sets the cluster name recorded in the snapshot
func WithClusterName(name string) CollectorOption {
	return func(c *Collector) { c.clusterName = name }
}

// WithEventWindow drops events older than window. Zero keeps all events.
func WithEventWindow(window time.Duration) CollectorOption {
	return func(c *Collector) { c.eventWindow = window }
}

// WithRateLimit throttles list calls to qps with the given burst. A qps of
// 0 or less removes the limit.
func WithRateLimit(qps float64, burst int) CollectorOption {
	return func(c *Collector) {
		if qps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(qps), burst)
	}
}

// NewCollector creates a collector over client
func NewCollector(client kubernetes.Interface, opts ...CollectorOption) *Collector {
	c := &Collector{
		client:      client,
		clusterName: UnknownName,
		eventWindow: 24 * time.Hour,
		now:         time.Now,
		logger:      logging.GetLogger("snapshot.collector"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RateLimit returns the configured qps and burst, zero when unthrottled
func (c *Collector) RateLimit() (float64, int) {
	if c.limiter == nil {
		return 0, 0
	}
	return float64(c.limiter.Limit()), c.limiter.Burst()
}

// Collect lists every snapshot kind. Namespaced kinds are listed per entry
// of namespaces, or cluster-wide when namespaces is empty. Kinds are listed
// concurrently; namespaces within a kind in the given order.
func (c *Collector) Collect(ctx context.Context, namespaces []string) (*Snapshot, error) {
	if len(namespaces) == 0 {
		namespaces = []string{metav1.NamespaceAll}
	}

	start := c.now()
	snap := &Snapshot{
		ClusterName: c.clusterName,
		Timestamp:   start.UTC().Format(time.RFC3339),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		snap.Nodes, err = listCluster(gctx, c, "nodes", func(ctx context.Context, opts metav1.ListOptions) ([]corev1.Node, error) {
			l, err := c.client.CoreV1().Nodes().List(ctx, opts)
			if err != nil {
				return nil, err
			}
			return l.Items, nil
		})
		return err
	})
	g.Go(func() error {
		var err error
		snap.ClusterRoles, err = listCluster(gctx, c, "rbac_roles", func(ctx context.Context, opts metav1.ListOptions) ([]rbacv1.ClusterRole, error) {
			l, err := c.client.RbacV1().ClusterRoles().List(ctx, opts)
			if err != nil {
				return nil, err
			}
			return l.Items, nil
		})
		return err
	})
	g.Go(func() error {
		var err error
		snap.Deployments, err = listNamespaced(gctx, c, "deployments", namespaces, func(ctx context.Context, ns string, opts metav1.ListOptions) ([]appsv1.Deployment, error) {
			l, err := c.client.AppsV1().Deployments(ns).List(ctx, opts)
			if err != nil {
				return nil, err
			}
			return l.Items, nil
		})
		return err
	})
	g.Go(func() error {
		var err error
		snap.ReplicaSets, err = listNamespaced(gctx, c, "replicasets", namespaces, func(ctx context.Context, ns string, opts metav1.ListOptions) ([]appsv1.ReplicaSet, error) {
			l, err := c.client.AppsV1().ReplicaSets(ns).List(ctx, opts)
			if err != nil {
				return nil, err
			}
			return l.Items, nil
		})
		return err
	})
	g.Go(func() error {
		var err error
		snap.Pods, err = listNamespaced(gctx, c, "pods", namespaces, func(ctx context.Context, ns string, opts metav1.ListOptions) ([]corev1.Pod, error) {
			l, err := c.client.CoreV1().Pods(ns).List(ctx, opts)
			if err != nil {
				return nil, err
			}
			return l.Items, nil
		})
		return err
	})
	g.Go(func() error {
		var err error
		snap.Services, err = listNamespaced(gctx, c, "services", namespaces, func(ctx context.Context, ns string, opts metav1.ListOptions) ([]corev1.Service, error) {
			l, err := c.client.CoreV1().Services(ns).List(ctx, opts)
			if err != nil {
				return nil, err
			}
			return l.Items, nil
		})
		return err
	})
	g.Go(func() error {
		events, err := listNamespaced(gctx, c, "events", namespaces, func(ctx context.Context, ns string, opts metav1.ListOptions) ([]corev1.Event, error) {
			l, err := c.client.CoreV1().Events(ns).List(ctx, opts)
			if err != nil {
				return nil, err
			}
			return l.Items, nil
		})
		snap.Events = c.recentEvents(events, start)
		return err
	})
	g.Go(func() error {
		var err error
		snap.HPAs, err = listNamespaced(gctx, c, "hpa", namespaces, func(ctx context.Context, ns string, opts metav1.ListOptions) ([]autoscalingv2.HorizontalPodAutoscaler, error) {
			l, err := c.client.AutoscalingV2().HorizontalPodAutoscalers(ns).List(ctx, opts)
			if err != nil {
				return nil, err
			}
			return l.Items, nil
		})
		return err
	})
	g.Go(func() error {
		var err error
		snap.NetworkPolicies, err = listNamespaced(gctx, c, "networkpolicies", namespaces, func(ctx context.Context, ns string, opts metav1.ListOptions) ([]networkingv1.NetworkPolicy, error) {
			l, err := c.client.NetworkingV1().NetworkPolicies(ns).List(ctx, opts)
			if err != nil {
				return nil, err
			}
			return l.Items, nil
		})
		return err
	})
	g.Go(func() error {
		var err error
		snap.PVCs, err = listNamespaced(gctx, c, "pvcs", namespaces, func(ctx context.Context, ns string, opts metav1.ListOptions) ([]corev1.PersistentVolumeClaim, error) {
			l, err := c.client.CoreV1().PersistentVolumeClaims(ns).List(ctx, opts)
			if err != nil {
				return nil, err
			}
			return l.Items, nil
		})
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("snapshot collection aborted: %w", err)
	}

	c.logger.InfoWithFields("snapshot collected",
		logging.Field("cluster", snap.ClusterName),
		logging.Field("nodes", len(snap.Nodes)),
		logging.Field("deployments", len(snap.Deployments)),
		logging.Field("pods", len(snap.Pods)),
		logging.Field("events", len(snap.Events)),
		logging.Field("duration", c.now().Sub(start).String()),
	)
	return snap, nil
}

// recentEvents keeps events inside the configured window relative to now
func (c *Collector) recentEvents(events []corev1.Event, now time.Time) []corev1.Event {
	if c.eventWindow <= 0 {
		return events
	}
	cutoff := now.Add(-c.eventWindow)
	kept := make([]corev1.Event, 0, len(events))
	for _, ev := range events {
		if ts := EventTime(ev); !ts.IsZero() && ts.Before(cutoff) {
			continue
		}
		kept = append(kept, ev)
	}
	return kept
}

// wait blocks on the rate limiter, if any
func (c *Collector) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// listCluster lists a cluster-scoped kind. Only context cancellation is
// returned as an error; API failures yield an empty list.
func listCluster[T any](ctx context.Context, c *Collector, key string, list func(context.Context, metav1.ListOptions) ([]T, error)) ([]T, error) {
	if err := c.wait(ctx); err != nil {
		return []T{}, err
	}
	items, err := list(ctx, metav1.ListOptions{})
	if err != nil {
		if ctx.Err() != nil {
			return []T{}, ctx.Err()
		}
		c.logger.WarnWithFields("list failed, continuing with empty list",
			logging.Field("kind", key),
			logging.Field("error", err),
		)
		return []T{}, nil
	}
	return items, nil
}

// listNamespaced lists a namespaced kind in every namespace, in order
func listNamespaced[T any](ctx context.Context, c *Collector, key string, namespaces []string, list func(context.Context, string, metav1.ListOptions) ([]T, error)) ([]T, error) {
	out := []T{}
	for _, ns := range namespaces {
		if err := c.wait(ctx); err != nil {
			return out, err
		}
		items, err := list(ctx, ns, metav1.ListOptions{})
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			c.logger.WarnWithFields("list failed, continuing with empty list",
				logging.Field("kind", key),
				logging.Field("namespace", ns),
				logging.Field("error", err),
			)
			continue
		}
		out = append(out, items...)
	}
	return out, nil
}
