package graph

// FindSPOFs returns the ids of deployments with at most one pod successor,
// in insertion order. A deployment with zero pods counts as well.
func FindSPOFs(g *Graph) []string {
	spofs := []string{}
	for _, n := range g.nodes {
		if n.Kind != KindDeployment {
			continue
		}
		pods := 0
		for _, s := range g.Successors(n.ID) {
			if succ, _ := g.Node(s); succ.Kind == KindPod {
				pods++
			}
		}
		if pods <= 1 {
			spofs = append(spofs, n.ID)
		}
	}
	return spofs
}

// Summary is a plain description of a graph
type Summary struct {
	NodeCount      int          `json:"node_count"`
	EdgeCount      int          `json:"edge_count"`
	KindCounts     map[Kind]int `json:"kind_counts"`
	SPOFs          []string     `json:"single_points_of_failure"`
	OrphanServices []string     `json:"orphan_services"`
	// NodeFanout counts pods scheduled on each infrastructure node
	NodeFanout map[string]int `json:"node_fanout"`
}

// Summarize computes counts, SPOFs, orphan services and node fan-out.
// Orphan services have a selector but route to no deployment.
func Summarize(g *Graph) Summary {
	s := Summary{
		NodeCount:      g.NodeCount(),
		EdgeCount:      g.EdgeCount(),
		KindCounts:     make(map[Kind]int),
		SPOFs:          FindSPOFs(g),
		OrphanServices: []string{},
		NodeFanout:     make(map[string]int),
	}

	for _, n := range g.nodes {
		s.KindCounts[n.Kind]++
		switch n.Kind {
		case KindNode:
			s.NodeFanout[n.ID] = 0
		case KindService:
			if len(n.Selector) > 0 && len(g.Successors(n.ID)) == 0 {
				s.OrphanServices = append(s.OrphanServices, n.ID)
			}
		}
	}

	for _, e := range g.edges {
		if e.Relation == RelationRunsOn {
			s.NodeFanout[e.To]++
		}
	}
	return s
}
