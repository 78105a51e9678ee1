// Package graph projects the canonical repository tree into a node/link
// graph for force-directed layout. The projection is derived data and can be
// rebuilt from the tree at any time.
package graph

import (
	"math"

	"github.com/swapisticated/Astro-Repo/pkg/models"
)

// Radius bounds for the layout hint.
const (
	MinRadius = 4.0
	MaxRadius = 40.0
)

// Node is one graph vertex. ID is the tree path.
type Node struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Kind     models.NodeKind `json:"type"`
	Depth    int             `json:"depth"`
	Weight   int64           `json:"weight"`
	Radius   float64         `json:"radius"`
	Expanded bool            `json:"expanded"`

	// Ref is the tree node this vertex wraps.
	Ref *models.Node `json:"-"`
}

// Link is a parent to child edge.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph holds nodes in pre-order and links in the order they were found.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

// Project walks root in provider order and returns every node whose depth
// is at most maxDepth, plus one link per included parent/child pair. A
// negative maxDepth means no limit. Projecting the same tree twice gives
// identical output.
func Project(root *models.Node, maxDepth int) Graph {
	g := Graph{Nodes: []Node{}, Links: []Link{}}
	if root == nil {
		return g
	}
	project(&g, root, 0, maxDepth)
	return g
}

func project(g *Graph, n *models.Node, depth, maxDepth int) int64 {
	idx := len(g.Nodes)
	g.Nodes = append(g.Nodes, Node{
		ID:       n.Path,
		Name:     n.Name,
		Kind:     n.Kind,
		Depth:    depth,
		Expanded: n.IsFolder() && n.Loaded() && (maxDepth < 0 || depth < maxDepth),
		Ref:      n,
	})

	var weight int64
	if !n.IsFolder() {
		weight = n.Size
	} else if maxDepth >= 0 && depth >= maxDepth {
		weight = Weight(n)
	} else {
		for _, c := range n.Children {
			g.Links = append(g.Links, Link{Source: n.Path, Target: c.Path})
			weight += project(g, c, depth+1, maxDepth)
		}
	}

	g.Nodes[idx].Weight = weight
	g.Nodes[idx].Radius = Radius(weight)
	return weight
}

// Weight is the summed size of every currently loaded file under n. A
// folder whose children have not been fetched weighs 0.
func Weight(n *models.Node) int64 {
	if n == nil {
		return 0
	}
	if !n.IsFolder() {
		return n.Size
	}
	var total int64
	for _, c := range n.Children {
		total += Weight(c)
	}
	return total
}

// Radius maps a weight to a display radius on a log scale.
func Radius(weight int64) float64 {
	if weight <= 0 {
		return MinRadius
	}
	r := MinRadius + 2.5*math.Log10(float64(weight)+1)
	return math.Min(r, MaxRadius)
}
