package graph

import (
	"errors"

	"github.com/moolen/kubeaudit/internal/logging"
	"github.com/moolen/kubeaudit/internal/snapshot"
	"k8s.io/apimachinery/pkg/labels"
)

// Build constructs the dependency graph of snap:
//  1. one vertex per infrastructure node
//  2. one vertex per deployment, remembering its matchLabels
//  3. one vertex per pod, with runs-on and owns edges
//  4. one vertex per service, with routes-to edges to deployments in the
//     same namespace whose matchLabels satisfy the service selector
//
// Objects whose id is already present are skipped with a warning.
func Build(snap *snapshot.Snapshot) *Graph {
	logger := logging.GetLogger("graph")
	g := New()
	owners := NewOwnerResolver(snap.ReplicaSets)

	add := func(n Node) {
		if err := g.AddNode(n); err != nil {
			logger.Warn("skipping object: %v", err)
		}
	}
	link := func(from, to string, rel Relation) {
		if err := g.AddEdge(from, to, rel); err != nil && !errors.Is(err, ErrMissingEndpoint) {
			logger.Warn("skipping edge %s -> %s: %v", from, to, err)
		}
	}

	for _, n := range snap.Nodes {
		name := snapshot.Name(n.ObjectMeta)
		add(Node{ID: ID(KindNode, "", name), Kind: KindNode, Name: name})
	}

	var deployments []string
	for _, d := range snap.Deployments {
		ns, name := snapshot.Namespace(d.ObjectMeta), snapshot.Name(d.ObjectMeta)
		var matchLabels map[string]string
		if d.Spec.Selector != nil {
			matchLabels = d.Spec.Selector.MatchLabels
		}
		id := ID(KindDeployment, ns, name)
		if g.Has(id) {
			logger.Warn("skipping duplicate deployment %s", id)
			continue
		}
		add(Node{ID: id, Kind: KindDeployment, Namespace: ns, Name: name, Selector: matchLabels})
		deployments = append(deployments, id)
	}

	for _, p := range snap.Pods {
		ns, name := snapshot.Namespace(p.ObjectMeta), snapshot.Name(p.ObjectMeta)
		podID := ID(KindPod, ns, name)
		if g.Has(podID) {
			logger.Warn("skipping duplicate pod %s", podID)
			continue
		}
		add(Node{ID: podID, Kind: KindPod, Namespace: ns, Name: name})

		if p.Spec.NodeName != "" {
			nodeID := ID(KindNode, "", p.Spec.NodeName)
			g.EnsureNode(Node{ID: nodeID, Kind: KindNode, Name: p.Spec.NodeName})
			link(podID, nodeID, RelationRunsOn)
		}

		for _, ref := range p.OwnerReferences {
			depName, ok := owners.Deployment(ns, ref)
			if !ok {
				continue
			}
			depID := ID(KindDeployment, ns, depName)
			if g.Has(depID) {
				link(depID, podID, RelationOwns)
			}
		}
	}

	for _, s := range snap.Services {
		ns, name := snapshot.Namespace(s.ObjectMeta), snapshot.Name(s.ObjectMeta)
		svcID := ID(KindService, ns, name)
		if g.Has(svcID) {
			logger.Warn("skipping duplicate service %s", svcID)
			continue
		}
		add(Node{ID: svcID, Kind: KindService, Namespace: ns, Name: name, Selector: s.Spec.Selector})

		if len(s.Spec.Selector) == 0 {
			continue
		}
		selector := labels.SelectorFromSet(labels.Set(s.Spec.Selector))
		for _, depID := range deployments {
			dep, _ := g.Node(depID)
			if dep.Namespace != ns || len(dep.Selector) == 0 {
				continue
			}
			if selector.Matches(labels.Set(dep.Selector)) {
				link(svcID, depID, RelationRoutesTo)
			}
		}
	}

	logger.DebugWithFields("graph built",
		logging.Field("nodes", g.NodeCount()),
		logging.Field("edges", g.EdgeCount()),
	)
	return g
}
