package dynsim

// overlay.go derives the overlay link sets from the physical topology.
// The overlay is a minimum spanning tree (a forest, if the network is
// partitioned) computed by the gonum path package.

import (
	"math"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// ComputeOverlay rebuilds every active node's overlay link set as its links
// in a spanning tree of the physical topology.  A link pruned from the overlay
// keeps its physical Status, but its AppStatus is decremented once for each
// endpoint that prunes it.  The number of overlay links is returned
func (topo *Topology) ComputeOverlay() int {
	// every link gets a distinct weight, in link order, so the tree is unique
	connGraph := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for id := range topo.Active {
		connGraph.AddNode(simple.Node(id))
	}
	for rank, lnk := range topo.Links() {
		lnk.AppStatus = lnk.Status
		_, presentA := topo.Active[lnk.A.ID]
		_, presentB := topo.Active[lnk.B.ID]
		if !presentA || !presentB {
			continue
		}
		weightedEdge := simple.WeightedEdge{F: simple.Node(lnk.A.ID), T: simple.Node(lnk.B.ID),
			W: 1.0 + float64(rank)*1e-9}
		connGraph.SetWeightedEdge(weightedEdge)
	}

	tree := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	path.Prim(tree, connGraph)
	topo.HasOverlay = true

	treeLinks := 0
	for _, id := range topo.ActiveIDs() {
		node := topo.Active[id]
		node.Overlay = make(map[int]*Link)
		for nbrID, lnk := range node.Physical {
			if tree.HasEdgeBetween(int64(id), int64(nbrID)) {
				node.Overlay[nbrID] = lnk
				if id < nbrID {
					treeLinks += 1
				}
				continue
			}
			if lnk.AppStatus > NotConnected {
				lnk.AppStatus -= 1
			}
		}
	}
	return treeLinks
}
