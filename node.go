package dynsim

// node.go holds the run-time representation of the simulated
// network's nodes and of the links between them

import (
	"math"

	"golang.org/x/exp/slices"
)

// LinkStatus describes how far a link is established
type LinkStatus int

const (
	NotConnected LinkStatus = iota
	Unidirectional
	Bidirectional
)

var linkStatusToStr map[LinkStatus]string = map[LinkStatus]string{
	NotConnected:   "not-connected",
	Unidirectional: "unidirectional",
	Bidirectional:  "bidirectional",
}

func (ls LinkStatus) String() string {
	return linkStatusToStr[ls]
}

// Position is a node's place in the 2D deployment area
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Dist returns the euclidean distance between two positions
func (p Position) Dist(q Position) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// A Link joins two nodes.  Status is the physical state of the link,
// AppStatus is the state the overlay sees; they diverge once an overlay
// has pruned the link
type Link struct {
	A, B      *Node
	Status    LinkStatus
	AppStatus LinkStatus
}

// linkKey is the unordered pair of endpoint ids, smaller id first
type linkKey struct {
	i, j int
}

func makeLinkKey(a, b int) linkKey {
	if a > b {
		a, b = b, a
	}
	return linkKey{i: a, j: b}
}

func (lnk *Link) key() linkKey {
	return makeLinkKey(lnk.A.ID, lnk.B.ID)
}

// Other returns the endpoint of the link that is not the node with id
func (lnk *Link) Other(id int) *Node {
	if lnk.A.ID == id {
		return lnk.B
	}
	return lnk.A
}

// Touches reports whether the node with the given id is an endpoint
func (lnk *Link) Touches(id int) bool {
	return lnk.A.ID == id || lnk.B.ID == id
}

// Node is one participant in the simulated network
type Node struct {
	ID       int
	Pos      Position
	Physical map[int]*Link // links of the topology, indexed by neighbor id
	Overlay  map[int]*Link // subset of Physical used by overlay-aware algorithms

	// Connected is set once the node has an established physical link
	Connected bool

	// the value assigned when the node is placed. The mutable
	// current value lives with the node's Application
	initValue float64
	valueSet  bool

	App Application

	// received but not yet consumed messages, indexed by message id,
	// and the order of their arrival
	inbox      map[string]*Message
	inboxOrder []string

	Sent     int
	Received int
	Lost     int
}

// createNode is a constructor
func createNode(id int, pos Position) *Node {
	node := new(Node)
	node.ID = id
	node.Pos = pos
	node.Physical = make(map[int]*Link)
	node.Overlay = make(map[int]*Link)
	node.inbox = make(map[string]*Message)
	node.inboxOrder = make([]string, 0)
	return node
}

// InitValue returns the data value assigned at placement
func (node *Node) InitValue() float64 {
	return node.initValue
}

// SetInitValue assigns the node's data value.  Only the first
// assignment takes effect
func (node *Node) SetInitValue(v float64) {
	if node.valueSet {
		return
	}
	node.initValue = v
	node.valueSet = true
}

// Degree gives the number of physical links of the node
func (node *Node) Degree() int {
	return len(node.Physical)
}

// NeighborIDs lists the ids of physical (or, if overlay is set, overlay) neighbors in ascending order
func (node *Node) NeighborIDs(overlay bool) []int {
	links := node.Physical
	if overlay {
		links = node.Overlay
	}
	ids := make([]int, 0, len(links))
	for id := range links {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// deliver puts a message in the node's inbox
func (node *Node) deliver(msg *Message) {
	_, present := node.inbox[msg.ID]
	if !present {
		node.inboxOrder = append(node.inboxOrder, msg.ID)
	}
	node.inbox[msg.ID] = msg
}

// fetch returns the buffered message with the given id
func (node *Node) fetch(msgID string) (*Message, bool) {
	msg, present := node.inbox[msgID]
	return msg, present
}

// discard drops the buffered message with the given id
func (node *Node) discard(msgID string) {
	_, present := node.inbox[msgID]
	if !present {
		return
	}
	delete(node.inbox, msgID)
	idx := slices.Index(node.inboxOrder, msgID)
	if idx >= 0 {
		node.inboxOrder = slices.Delete(node.inboxOrder, idx, idx+1)
	}
}

// drain returns every buffered message in arrival order and empties the inbox
func (node *Node) drain() []*Message {
	msgs := make([]*Message, 0, len(node.inboxOrder))
	for _, msgID := range node.inboxOrder {
		msgs = append(msgs, node.inbox[msgID])
	}
	node.inbox = make(map[string]*Message)
	node.inboxOrder = node.inboxOrder[:0]
	return msgs
}

// Pending gives the number of buffered messages
func (node *Node) Pending() int {
	return len(node.inboxOrder)
}
