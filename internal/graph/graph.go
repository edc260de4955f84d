// Package graph accumulates a weighted undirected multigraph keyed by string
// entity ids. Nodes are dense integer indices into flat arrays.
package graph

import (
	"math"

	"github.com/starford/coherence/internal/models"
)

// Edge is an undirected weighted edge between two node indices.
type Edge struct {
	Source int
	Target int
	Weight float64
}

// Graph is the per-window node and edge table. It is not safe for concurrent use.
type Graph struct {
	minEdgeWeight float64
	index         map[string]int
	ids           []string
	edges         []Edge
}

// New returns an empty graph that drops edges lighter than minEdgeWeight.
func New(minEdgeWeight float64) *Graph {
	return &Graph{
		minEdgeWeight: minEdgeWeight,
		index:         make(map[string]int),
	}
}

// AddNode returns the index of id, allocating the next one on first sight.
func (g *Graph) AddNode(id string) int {
	if i, ok := g.index[id]; ok {
		return i
	}
	i := len(g.ids)
	g.index[id] = i
	g.ids = append(g.ids, id)
	return i
}

// AddEdge records an edge between source and target. Edges below the
// configured minimum weight, and non-finite weights, are silently dropped.
func (g *Graph) AddEdge(source, target string, weight float64) {
	if !(weight >= g.minEdgeWeight) || math.IsInf(weight, 0) {
		return
	}
	s := g.AddNode(source)
	t := g.AddNode(target)
	g.edges = append(g.edges, Edge{Source: s, Target: t, Weight: weight})
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.ids) }

// EdgeCount returns the number of stored edges, parallel edges included.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// BuildFromRecords registers every record as a node and every relationship as an edge.
func (g *Graph) BuildFromRecords(records []models.Record) {
	for _, r := range records {
		g.AddNode(r.ID)
		for _, rel := range r.Relationships {
			g.AddEdge(r.ID, rel.TargetID, rel.Weight)
		}
	}
}

// Clear drops all nodes and edges and restarts index allocation at zero.
func (g *Graph) Clear() {
	clear(g.index)
	g.ids = g.ids[:0]
	g.edges = g.edges[:0]
}

// ID returns the entity id for index i.
func (g *Graph) ID(i int) string { return g.ids[i] }

// Index returns the index of id and whether it is known.
func (g *Graph) Index(id string) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// IDs maps indices to entity ids.
func (g *Graph) IDs(indices []int) []string {
	out := make([]string, len(indices))
	for k, i := range indices {
		out[k] = g.ids[i]
	}
	return out
}

// Edges returns the edge list. Callers must not modify it.
func (g *Graph) Edges() []Edge { return g.edges }

// TotalWeight returns the sum of all edge weights.
func (g *Graph) TotalWeight() float64 {
	var sum float64
	for _, e := range g.edges {
		sum += e.Weight
	}
	return sum
}

// Components returns the number of connected components. Zero-weight edges
// connect their endpoints.
func (g *Graph) Components() int {
	ds := NewDisjointSet(len(g.ids))
	for _, e := range g.edges {
		ds.Union(e.Source, e.Target)
	}
	return ds.Count()
}
