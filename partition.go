package dynsim

// partition.go analyses the connectivity of the active part of a Topology.
// The topology is converted into the graph representation of the gonum
// graph package, whose breadth-first traversal does the flood fills for
// component labeling and the hop counts for eccentricities.

import (
	"fmt"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"
)

// buildGraph returns an undirected graph with a node for every active
// node of the topology, and an edge for every link between two active nodes
func (topo *Topology) buildGraph() *simple.UndirectedGraph {
	g := simple.NewUndirectedGraph()
	for id := range topo.Active {
		g.AddNode(simple.Node(id))
	}
	for _, lnk := range topo.links {
		_, presentA := topo.Active[lnk.A.ID]
		_, presentB := topo.Active[lnk.B.ID]
		if !presentA || !presentB {
			continue
		}
		g.SetEdge(g.NewEdge(simple.Node(lnk.A.ID), simple.Node(lnk.B.ID)))
	}
	return g
}

// Components labels the connected components of the active nodes.  Components
// are discovered by flood fill from the smallest unvisited id, so their
// order, and the order of their members, is deterministic
func (topo *Topology) Components() [][]int {
	g := topo.buildGraph()
	comps := [][]int{}

	var comp []int
	bf := traverse.BreadthFirst{
		Visit: func(n graph.Node) { comp = append(comp, int(n.ID())) },
	}
	for _, id := range topo.ActiveIDs() {
		if bf.Visited(simple.Node(id)) {
			continue
		}
		comp = []int{}
		bf.Walk(g, simple.Node(id), nil)
		comps = append(comps, comp)
	}
	return comps
}

// CheckPartitioning records the size of every connected component, the
// largest one and whether the network is partitioned.  Under a COUNT
// aggregation every active always-counted node must lie in the largest
// component; if one does not, a non-critical NetworkError is returned
func (topo *Topology) CheckPartitioning(agg AggregationKind, now int64) error {
	comps := topo.Components()

	topo.PartitionSizes = make([]int, 0, len(comps))
	topo.MaxPartitionSize = 0
	topo.MaxPartitionNodes = make(map[int]bool)

	var largest []int
	for _, comp := range comps {
		topo.PartitionSizes = append(topo.PartitionSizes, len(comp))
		if len(comp) > topo.MaxPartitionSize {
			topo.MaxPartitionSize = len(comp)
			largest = comp
		}
	}
	for _, id := range largest {
		topo.MaxPartitionNodes[id] = true
	}
	topo.Partitioned = len(comps) > 1

	if agg != CountAggregation {
		return nil
	}
	for _, id := range topo.CloudNodes {
		if _, active := topo.Active[id]; !active {
			continue
		}
		if !topo.MaxPartitionNodes[id] {
			return &NetworkError{Critical: false, Time: now,
				Reason: fmt.Sprintf("always-counted node %d is outside the largest partition (%d nodes)",
					id, topo.MaxPartitionSize)}
		}
	}
	return nil
}

// InMaxPartition reports whether id belongs to the largest component found
// by the last CheckPartitioning
func (topo *Topology) InMaxPartition(id int) bool {
	return topo.MaxPartitionNodes[id]
}

// Eccentricities gives, for every active node, the largest hop count to
// any node it can reach.  Links are unweighted, so a breadth-first walk
// yields the shortest-path distances
func (topo *Topology) Eccentricities() map[int]int {
	g := topo.buildGraph()
	ecc := make(map[int]int, len(topo.Active))
	for id := range topo.Active {
		maxDepth := 0
		bf := traverse.BreadthFirst{}
		bf.Walk(g, simple.Node(id), func(n graph.Node, d int) bool {
			if d > maxDepth {
				maxDepth = d
			}
			return false
		})
		ecc[id] = maxDepth
	}
	return ecc
}

// Diameter gives the largest eccentricity over the active nodes
func (topo *Topology) Diameter() int {
	diameter := 0
	for _, ecc := range topo.Eccentricities() {
		if ecc > diameter {
			diameter = ecc
		}
	}
	return diameter
}
