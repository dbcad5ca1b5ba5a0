package dynsim

// topology.go holds the container of active and dead nodes and the links
// between them, along with the primitives the dynamics use to mutate it.
// How a newly placed node gets linked is left to a Connector, one per
// topology family.

import (
	"fmt"

	"github.com/iti/rngstream"
	"golang.org/x/exp/slices"
)

// Connector is the strategy a topology family uses to link nodes
type Connector interface {
	// ConnectNode links the newly placed node id to already placed nodes,
	// establishing at least one physical link
	ConnectNode(topo *Topology, id int) error

	// ReconnectNode re-links a node that has lost its links
	ReconnectNode(topo *Topology, id int) error
}

// Topology is the graph the simulation runs over
type Topology struct {
	Name   string
	Width  float64 // extent of the deployment area
	Height float64

	InitialSize  int // number of nodes placed by GenerateNetwork
	TotalCreated int // every node ever placed; the next id to assign
	ActiveCount  int

	Active map[int]*Node
	Dead   map[int]*Node
	links  map[linkKey]*Link

	// nodes that must stay connected under a COUNT aggregation
	CloudNodes []int

	// results of the last CheckPartitioning
	PartitionSizes    []int
	MaxPartitionSize  int
	MaxPartitionNodes map[int]bool
	Partitioned       bool

	// set once ComputeOverlay has pruned the overlay to a spanning tree
	HasOverlay bool

	connector Connector
	dataDist  DataDistribution
	rngstrm   *rngstream.RngStream
}

// CreateTopology is a constructor.  The rng stream name is derived from
// the topology name so that each topology owns its own stream
func CreateTopology(name string, width, height float64, connector Connector) *Topology {
	topo := new(Topology)
	topo.Name = name
	topo.Width = width
	topo.Height = height
	topo.Active = make(map[int]*Node)
	topo.Dead = make(map[int]*Node)
	topo.links = make(map[linkKey]*Link)
	topo.CloudNodes = []int{}
	topo.PartitionSizes = []int{}
	topo.MaxPartitionNodes = make(map[int]bool)
	topo.connector = connector
	topo.rngstrm = rngstream.New(name)
	return topo
}

// Rng gives the topology's random number stream
func (topo *Topology) Rng() *rngstream.RngStream {
	return topo.rngstrm
}

// Connector gives the strategy linking new nodes
func (topo *Topology) Connector() Connector {
	return topo.connector
}

// SetDataDistribution sets the collaborator that assigns node values on placement
func (topo *Topology) SetDataDistribution(dd DataDistribution) {
	topo.dataDist = dd
}

// SetCloudNodes designates the always-counted nodes
func (topo *Topology) SetCloudNodes(ids []int) {
	topo.CloudNodes = slices.Clone(ids)
	slices.Sort(topo.CloudNodes)
}

// IsCloud reports whether id is an always-counted node
func (topo *Topology) IsCloud(id int) bool {
	_, found := slices.BinarySearch(topo.CloudNodes, id)
	return found
}

// Node returns the active node with the given id
func (topo *Topology) Node(id int) (*Node, bool) {
	node, present := topo.Active[id]
	return node, present
}

// IsDead reports whether the node with id has departed
func (topo *Topology) IsDead(id int) bool {
	_, present := topo.Dead[id]
	return present
}

// ActiveIDs lists the ids of the active nodes in ascending order
func (topo *Topology) ActiveIDs() []int {
	ids := make([]int, 0, len(topo.Active))
	for id := range topo.Active {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// RandomPosition draws a position uniformly over the deployment area
func (topo *Topology) RandomPosition() Position {
	return Position{X: topo.rngstrm.RandU01() * topo.Width, Y: topo.rngstrm.RandU01() * topo.Height}
}

// PlaceNode creates a node with the next free id at pos and makes it active.
// The node is not linked
func (topo *Topology) PlaceNode(pos Position) *Node {
	id := topo.TotalCreated
	topo.TotalCreated += 1

	node := createNode(id, pos)
	topo.Active[id] = node
	topo.ActiveCount += 1
	return node
}

// assignValue gives a freshly placed node its data value
func (topo *Topology) assignValue(node *Node) {
	if topo.dataDist != nil {
		topo.dataDist.SetDataDistribution(node)
	}
}

// GenerateNetwork places n nodes at random positions and links each one
// as it is placed, using the topology's connector
func (topo *Topology) GenerateNetwork(n int) error {
	if topo.connector == nil {
		return fmt.Errorf("topology %s has no connector", topo.Name)
	}
	for idx := 0; idx < n; idx++ {
		node := topo.PlaceNode(topo.RandomPosition())
		if err := topo.connector.ConnectNode(topo, node.ID); err != nil {
			return err
		}
		topo.assignValue(node)
	}
	topo.InitialSize = n
	return nil
}

// LinkNodes establishes a bidirectional link between two active nodes.  Linking
// already linked nodes, or a node with itself, is a no-op that returns the
// existing link (or nil)
func (topo *Topology) LinkNodes(a, b int) *Link {
	if a == b {
		return nil
	}
	nodeA, presentA := topo.Active[a]
	nodeB, presentB := topo.Active[b]
	if !presentA || !presentB {
		panic(fmt.Errorf("%w: link %d-%d names a node that is not active", ErrUnknownNode, a, b))
	}

	key := makeLinkKey(a, b)
	lnk, present := topo.links[key]
	if present {
		return lnk
	}
	lnk = &Link{A: nodeA, B: nodeB, Status: Bidirectional, AppStatus: Bidirectional}
	topo.links[key] = lnk
	nodeA.Physical[b] = lnk
	nodeB.Physical[a] = lnk
	if !topo.HasOverlay {
		nodeA.Overlay[b] = lnk
		nodeB.Overlay[a] = lnk
	}
	nodeA.Connected = true
	nodeB.Connected = true
	return lnk
}

// UnlinkNodes drops the link between a and b, returning whether it existed
func (topo *Topology) UnlinkNodes(a, b int) bool {
	key := makeLinkKey(a, b)
	lnk, present := topo.links[key]
	if !present {
		return false
	}
	delete(topo.links, key)
	delete(lnk.A.Physical, lnk.B.ID)
	delete(lnk.B.Physical, lnk.A.ID)
	delete(lnk.A.Overlay, lnk.B.ID)
	delete(lnk.B.Overlay, lnk.A.ID)
	return true
}

// Linked reports whether a and b share a link
func (topo *Topology) Linked(a, b int) bool {
	_, present := topo.links[makeLinkKey(a, b)]
	return present
}

// LinkBetween returns the link between a and b, if any
func (topo *Topology) LinkBetween(a, b int) (*Link, bool) {
	lnk, present := topo.links[makeLinkKey(a, b)]
	return lnk, present
}

// Links lists every link, ordered by endpoint ids
func (topo *Topology) Links() []*Link {
	links := make([]*Link, 0, len(topo.links))
	for _, lnk := range topo.links {
		links = append(links, lnk)
	}
	slices.SortFunc(links, func(x, y *Link) int {
		kx, ky := x.key(), y.key()
		if kx.i != ky.i {
			return kx.i - ky.i
		}
		return kx.j - ky.j
	})
	return links
}

// LinkCount gives the current number of links
func (topo *Topology) LinkCount() int {
	return len(topo.links)
}

// RemoveNodes moves the named nodes from the active to the dead set and
// drops every link touching them.  Ids that are not active are ignored.
// The number of nodes moved is returned
func (topo *Topology) RemoveNodes(ids []int) int {
	moved := 0
	for _, id := range ids {
		node, present := topo.Active[id]
		if !present {
			continue
		}
		delete(topo.Active, id)
		topo.Dead[id] = node
		topo.ActiveCount -= 1
		moved += 1
	}
	for key, lnk := range topo.links {
		if topo.IsDead(lnk.A.ID) || topo.IsDead(lnk.B.ID) {
			delete(topo.links, key)
			delete(lnk.A.Physical, lnk.B.ID)
			delete(lnk.B.Physical, lnk.A.ID)
			delete(lnk.A.Overlay, lnk.B.ID)
			delete(lnk.B.Overlay, lnk.A.ID)
		}
	}
	return moved
}

// Totals sums the message counters over active and dead nodes
func (topo *Topology) Totals() (sent, received, lost int) {
	for _, node := range topo.Active {
		sent += node.Sent
		received += node.Received
		lost += node.Lost
	}
	for _, node := range topo.Dead {
		sent += node.Sent
		received += node.Received
		lost += node.Lost
	}
	return sent, received, lost
}
