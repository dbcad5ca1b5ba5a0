package dynsim

// topo-families.go holds the Connectors of the topology families the
// simulator knows, and the registry through which they are found by name.
// Each connector links a newly placed node using only nodes already placed.

import (
	"fmt"
	"math"

	"golang.org/x/exp/slices"
)

// TopoParams carries the already-parsed parameters of a topology family
type TopoParams struct {
	Degree int     // random: links per new node. preferential: links per new node
	Radius float64 // radius: link range
}

// TopoConstructor builds the Connector of a topology family
type TopoConstructor func(params TopoParams) (Connector, error)

var topoRegistry map[string]TopoConstructor = map[string]TopoConstructor{
	"ring": func(params TopoParams) (Connector, error) {
		return &RingConnector{}, nil
	},
	"random": func(params TopoParams) (Connector, error) {
		if params.Degree < 1 {
			return nil, &ConfigError{Param: "topology.degree", Reason: "random topology needs degree >= 1"}
		}
		return &RandomConnector{Degree: params.Degree}, nil
	},
	"radius": func(params TopoParams) (Connector, error) {
		if params.Radius <= 0.0 {
			return nil, &ConfigError{Param: "topology.radius", Reason: "radius topology needs a positive radius"}
		}
		return &RadiusConnector{Radius: params.Radius}, nil
	},
	"preferential": func(params TopoParams) (Connector, error) {
		if params.Degree < 1 {
			return nil, &ConfigError{Param: "topology.degree", Reason: "preferential topology needs degree >= 1"}
		}
		return &PreferentialConnector{Degree: params.Degree}, nil
	},
}

// RegisterTopology binds a topology family name to its constructor
func RegisterTopology(name string, ctor TopoConstructor) {
	_, present := topoRegistry[name]
	if present {
		panic(fmt.Errorf("topology %q registered twice", name))
	}
	topoRegistry[name] = ctor
}

// CreateConnector resolves the named topology family
func CreateConnector(name string, params TopoParams) (Connector, error) {
	ctor, present := topoRegistry[name]
	if !present {
		return nil, &ConfigError{Param: "topology.type", Reason: fmt.Sprintf("unknown topology %q", name)}
	}
	return ctor(params)
}

// placedPeers lists the active nodes other than id, ascending
func placedPeers(topo *Topology, id int) []int {
	peers := topo.ActiveIDs()
	idx := slices.Index(peers, id)
	if idx >= 0 {
		peers = slices.Delete(peers, idx, idx+1)
	}
	return peers
}

// RingConnector keeps the nodes on a single cycle, in order of placement
type RingConnector struct{}

// ConnectNode splices the new node in between the most recently placed
// node and the smallest-id node, which closes the ring
func (rc *RingConnector) ConnectNode(topo *Topology, id int) error {
	peers := placedPeers(topo, id)
	switch len(peers) {
	case 0:
		return nil
	case 1:
		topo.LinkNodes(id, peers[0])
		return nil
	}
	first := peers[0]
	last := peers[len(peers)-1]
	if len(peers) > 2 {
		topo.UnlinkNodes(last, first)
	}
	topo.LinkNodes(last, id)
	topo.LinkNodes(id, first)
	return nil
}

// ReconnectNode re-attaches a node to the ring neighbors by id
func (rc *RingConnector) ReconnectNode(topo *Topology, id int) error {
	peers := placedPeers(topo, id)
	if len(peers) == 0 {
		return nil
	}
	pos, _ := slices.BinarySearch(peers, id)
	prev := peers[(pos+len(peers)-1)%len(peers)]
	next := peers[pos%len(peers)]
	topo.LinkNodes(prev, id)
	topo.LinkNodes(id, next)
	return nil
}

// RandomConnector links each new node to Degree uniformly chosen placed nodes
type RandomConnector struct {
	Degree int
}

func (rdc *RandomConnector) ConnectNode(topo *Topology, id int) error {
	peers := placedPeers(topo, id)
	shuffle(topo.Rng(), peers)
	for idx := 0; idx < rdc.Degree && idx < len(peers); idx++ {
		topo.LinkNodes(id, peers[idx])
	}
	return nil
}

func (rdc *RandomConnector) ReconnectNode(topo *Topology, id int) error {
	return rdc.ConnectNode(topo, id)
}

// RadiusConnector links a new node to every placed node within Radius.  A
// node with nobody in range is linked to its nearest placed node
type RadiusConnector struct {
	Radius float64
}

func (rac *RadiusConnector) ConnectNode(topo *Topology, id int) error {
	node := topo.Active[id]
	nearest := -1
	nearestDist := math.Inf(1)
	linked := false
	for _, peer := range placedPeers(topo, id) {
		dist := node.Pos.Dist(topo.Active[peer].Pos)
		if dist <= rac.Radius {
			topo.LinkNodes(id, peer)
			linked = true
		}
		if dist < nearestDist {
			nearest, nearestDist = peer, dist
		}
	}
	if !linked && nearest >= 0 {
		topo.LinkNodes(id, nearest)
	}
	return nil
}

func (rac *RadiusConnector) ReconnectNode(topo *Topology, id int) error {
	return rac.ConnectNode(topo, id)
}

// PreferentialConnector links each new node to Degree placed nodes, chosen
// with probability proportional to one plus their degree
type PreferentialConnector struct {
	Degree int
}

func (pc *PreferentialConnector) ConnectNode(topo *Topology, id int) error {
	peers := placedPeers(topo, id)
	for cnt := 0; cnt < pc.Degree && len(peers) > 0; cnt++ {
		total := 0
		for _, peer := range peers {
			total += topo.Active[peer].Degree() + 1
		}
		draw := int(topo.Rng().RandU01() * float64(total))
		chosen := len(peers) - 1
		for idx, peer := range peers {
			draw -= topo.Active[peer].Degree() + 1
			if draw < 0 {
				chosen = idx
				break
			}
		}
		topo.LinkNodes(id, peers[chosen])
		peers = slices.Delete(peers, chosen, chosen+1)
	}
	return nil
}

func (pc *PreferentialConnector) ReconnectNode(topo *Topology, id int) error {
	return pc.ConnectNode(topo, id)
}
