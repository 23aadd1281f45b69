// Package graph models cluster objects as a directed dependency graph.
//
// Node ids are typed: deployment:{ns}/{name}, pod:{ns}/{name},
// service:{ns}/{name} and node:{name} for infrastructure nodes. Edges carry
// one of three relations:
//
//	pod        -runs-on->   node
//	deployment -owns->      pod
//	service    -routes-to-> deployment
//
// Nodes, edges and successors are always returned in insertion order so
// every query result is deterministic for a given snapshot.
package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateNode is returned when a node id is added twice
	ErrDuplicateNode = errors.New("duplicate node")
	// ErrMissingEndpoint is returned when an edge references an unknown node
	ErrMissingEndpoint = errors.New("edge endpoint does not exist")
)

// Kind is the type of a graph node
type Kind string

const (
	KindNode       Kind = "node"
	KindPod        Kind = "pod"
	KindDeployment Kind = "deployment"
	KindService    Kind = "service"
)

// Relation tags an edge
type Relation string

const (
	RelationRunsOn   Relation = "runs-on"
	RelationOwns     Relation = "owns"
	RelationRoutesTo Relation = "routes-to"
)

// Node is a typed graph vertex
type Node struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`
	// Selector is the service selector or the deployment matchLabels
	Selector map[string]string `json:"selector,omitempty"`
}

// Edge is a directed, tagged connection between two node ids
type Edge struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Relation Relation `json:"relation"`
}

// ID builds the node id for kind, namespace and name. Infrastructure nodes
// are cluster-scoped and carry no namespace segment.
func ID(kind Kind, namespace, name string) string {
	if kind == KindNode {
		return fmt.Sprintf("%s:%s", kind, name)
	}
	return fmt.Sprintf("%s:%s/%s", kind, namespace, name)
}

// Graph is a directed graph with unique node ids and unique
// (from, to, relation) edges. It is not safe for concurrent mutation.
type Graph struct {
	nodes []Node
	index map[string]int
	edges []Edge
	seen  map[Edge]struct{}
	out   map[string][]string
}

// New returns an empty graph
func New() *Graph {
	return &Graph{
		index: make(map[string]int),
		seen:  make(map[Edge]struct{}),
		out:   make(map[string][]string),
	}
}

// AddNode inserts n. A node id can only be added once.
func (g *Graph) AddNode(n Node) error {
	if _, exists := g.index[n.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	g.index[n.ID] = len(g.nodes)
	g.nodes = append(g.nodes, n)
	return nil
}

// EnsureNode inserts n unless its id already exists. It reports whether a
// node was created.
func (g *Graph) EnsureNode(n Node) bool {
	if g.Has(n.ID) {
		return false
	}
	_ = g.AddNode(n)
	return true
}

// AddEdge connects from to to. Both endpoints must exist. Adding an edge
// that is already present is a no-op.
func (g *Graph) AddEdge(from, to string, rel Relation) error {
	if !g.Has(from) {
		return fmt.Errorf("%w: %s", ErrMissingEndpoint, from)
	}
	if !g.Has(to) {
		return fmt.Errorf("%w: %s", ErrMissingEndpoint, to)
	}

	e := Edge{From: from, To: to, Relation: rel}
	if _, dup := g.seen[e]; dup {
		return nil
	}
	g.seen[e] = struct{}{}
	g.edges = append(g.edges, e)
	g.out[from] = append(g.out[from], to)
	return nil
}

// Has reports whether id is a node of the graph
func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Node returns the node with the given id
func (g *Graph) Node(id string) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.nodes[i], true
}

// Nodes returns all nodes in insertion order
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns all edges in insertion order
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Successors returns the distinct targets of id's outgoing edges in
// insertion order
func (g *Graph) Successors(id string) []string {
	targets := g.out[id]
	out := make([]string, 0, len(targets))
	dup := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		if _, ok := dup[t]; ok {
			continue
		}
		dup[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// NodeCount returns the number of nodes
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges
func (g *Graph) EdgeCount() int { return len(g.edges) }
