package dynsim

// desc-topo.go holds the serializable description of a Topology.  A
// Topology is full of pointers (links point at nodes, nodes at links); its
// description replaces them with node ids so that it can be written to a
// json or yaml file, read back, and rebuilt into an equivalent Topology.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// NodeDesc is the serializable description of a Node
type NodeDesc struct {
	ID       int      `json:"id" yaml:"id"`
	Pos      Position `json:"pos" yaml:"pos"`
	Value    float64  `json:"value" yaml:"value"`
	HasValue bool     `json:"hasvalue" yaml:"hasvalue"`
	Dead     bool     `json:"dead" yaml:"dead"`
	Sent     int      `json:"sent" yaml:"sent"`
	Received int      `json:"received" yaml:"received"`
	Lost     int      `json:"lost" yaml:"lost"`
}

// LinkDesc is the serializable description of a Link, by endpoint ids
type LinkDesc struct {
	A         int        `json:"a" yaml:"a"`
	B         int        `json:"b" yaml:"b"`
	Status    LinkStatus `json:"status" yaml:"status"`
	AppStatus LinkStatus `json:"appstatus" yaml:"appstatus"`
	InOverlay bool       `json:"inoverlay" yaml:"inoverlay"`
}

// TopologyDesc is the serializable description of a Topology
type TopologyDesc struct {
	Name         string     `json:"name" yaml:"name"`
	Width        float64    `json:"width" yaml:"width"`
	Height       float64    `json:"height" yaml:"height"`
	InitialSize  int        `json:"initialsize" yaml:"initialsize"`
	TotalCreated int        `json:"totalcreated" yaml:"totalcreated"`
	CloudNodes   []int      `json:"cloudnodes" yaml:"cloudnodes"`
	HasOverlay   bool       `json:"hasoverlay" yaml:"hasoverlay"`
	Nodes        []NodeDesc `json:"nodes" yaml:"nodes"`
	Links        []LinkDesc `json:"links" yaml:"links"`
}

// Transform returns a serializable description of the topology.  Nodes
// are listed by ascending id, active and dead alike
func (topo *Topology) Transform() TopologyDesc {
	td := TopologyDesc{Name: topo.Name, Width: topo.Width, Height: topo.Height,
		InitialSize: topo.InitialSize, TotalCreated: topo.TotalCreated, HasOverlay: topo.HasOverlay}
	td.CloudNodes = slices.Clone(topo.CloudNodes)

	td.Nodes = make([]NodeDesc, 0, len(topo.Active)+len(topo.Dead))
	for _, node := range topo.Active {
		td.Nodes = append(td.Nodes, node.transform(false))
	}
	for _, node := range topo.Dead {
		td.Nodes = append(td.Nodes, node.transform(true))
	}
	slices.SortFunc(td.Nodes, func(x, y NodeDesc) int { return x.ID - y.ID })

	links := topo.Links()
	td.Links = make([]LinkDesc, 0, len(links))
	for _, lnk := range links {
		_, inOverlay := lnk.A.Overlay[lnk.B.ID]
		td.Links = append(td.Links, LinkDesc{A: lnk.A.ID, B: lnk.B.ID,
			Status: lnk.Status, AppStatus: lnk.AppStatus, InOverlay: inOverlay})
	}
	return td
}

func (node *Node) transform(dead bool) NodeDesc {
	return NodeDesc{ID: node.ID, Pos: node.Pos, Value: node.initValue, HasValue: node.valueSet,
		Dead: dead, Sent: node.Sent, Received: node.Received, Lost: node.Lost}
}

// WriteToFile stores the TopologyDesc struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (td *TopologyDesc) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	switch pathExt {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(*td)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(*td, "", "\t")
	default:
		return fmt.Errorf("topology file %s needs a .yaml or .json extension", filename)
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, bytes, 0644)
}

// ReadTopologyDesc deserializes a byte slice holding a representation of a TopologyDesc struct.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.  A deserialized representation is returned, or an error if one is generated
// from a file read or the deserialization.
func ReadTopologyDesc(filename string, useYAML bool, dict []byte) (*TopologyDesc, error) {
	var err error

	// read from the file only if the byte slice is empty
	if len(dict) == 0 {
		fileInfo, serr := os.Stat(filename)
		if os.IsNotExist(serr) || (serr == nil && fileInfo.IsDir()) {
			return nil, fmt.Errorf("topology %s does not exist or cannot be read", filename)
		}
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := TopologyDesc{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}
	return &example, nil
}

// BuildTopology reconstructs a Topology from its description.  The
// connector is attached for any later arrivals; it is not used to relink
// the described nodes
func BuildTopology(td *TopologyDesc, connector Connector) (*Topology, error) {
	topo := CreateTopology(td.Name, td.Width, td.Height, connector)
	topo.InitialSize = td.InitialSize
	topo.TotalCreated = td.TotalCreated
	topo.HasOverlay = td.HasOverlay
	topo.SetCloudNodes(td.CloudNodes)

	for _, nd := range td.Nodes {
		if nd.ID < 0 || nd.ID >= td.TotalCreated {
			return nil, &ConfigError{Param: "topology.nodes",
				Reason: fmt.Sprintf("node id %d outside [0,%d)", nd.ID, td.TotalCreated)}
		}
		if _, present := topo.Active[nd.ID]; present || topo.IsDead(nd.ID) {
			return nil, &ConfigError{Param: "topology.nodes", Reason: fmt.Sprintf("node id %d listed twice", nd.ID)}
		}
		node := createNode(nd.ID, nd.Pos)
		if nd.HasValue {
			node.SetInitValue(nd.Value)
		}
		node.Sent, node.Received, node.Lost = nd.Sent, nd.Received, nd.Lost
		if nd.Dead {
			topo.Dead[nd.ID] = node
			continue
		}
		topo.Active[nd.ID] = node
		topo.ActiveCount += 1
	}

	for _, ld := range td.Links {
		nodeA, presentA := topo.Active[ld.A]
		nodeB, presentB := topo.Active[ld.B]
		if !presentA || !presentB || ld.A == ld.B {
			return nil, &ConfigError{Param: "topology.links",
				Reason: fmt.Sprintf("link %d-%d does not join two distinct active nodes", ld.A, ld.B)}
		}
		key := makeLinkKey(ld.A, ld.B)
		if _, present := topo.links[key]; present {
			return nil, &ConfigError{Param: "topology.links", Reason: fmt.Sprintf("link %d-%d listed twice", ld.A, ld.B)}
		}
		lnk := &Link{A: nodeA, B: nodeB, Status: ld.Status, AppStatus: ld.AppStatus}
		topo.links[key] = lnk
		nodeA.Physical[ld.B] = lnk
		nodeB.Physical[ld.A] = lnk
		if ld.InOverlay {
			nodeA.Overlay[ld.B] = lnk
			nodeB.Overlay[ld.A] = lnk
		}
		nodeA.Connected = true
		nodeB.Connected = true
	}
	return topo, nil
}

// Clone gives an independent copy of the topology, with the same nodes,
// links and collaborators but no Applications
func (topo *Topology) Clone() (*Topology, error) {
	td := topo.Transform()
	cpy, err := BuildTopology(&td, topo.connector)
	if err != nil {
		return nil, err
	}
	cpy.dataDist = topo.dataDist
	return cpy, nil
}
