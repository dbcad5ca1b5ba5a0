package dynsim

import (
	"errors"
	"testing"
)

var errBoom = errors.New("boom")

func init() {
	RegisterApplication("test-record", recordCtor(recordCfg{broadcast: true, bump: true}))
	RegisterTopology("test-split", func(params TopoParams) (Connector, error) {
		return &splitConnector{}, nil
	})
}

// recordCfg selects what a recordApp does
type recordCfg struct {
	broadcast bool        // broadcast in every MessageGeneration
	bump      bool        // every transition or receipt adds 1 to the value
	sendTo    map[int]int // async: on its first tick node k sends to sendTo[k]
	failOn    string      // callback that returns errBoom
	order     *[]int      // shared record of StateTransition calls
}

// recordApp is an Application that records what the engine asks of it
type recordApp struct {
	cfg    recordCfg
	node   *Node
	engine *ComEngine

	value     float64
	init      float64
	ticks     int
	rounds    int
	received  []*Message
	lastEvent *Event
}

func recordCtor(cfg recordCfg) AppConstructor {
	return func(node *Node, engine *ComEngine) Application {
		return &recordApp{cfg: cfg, node: node, engine: engine}
	}
}

func (ra *recordApp) fail(callback string) error {
	if ra.cfg.failOn == callback {
		return errBoom
	}
	return nil
}

func (ra *recordApp) Init(params AppParams, simIdx, repIdx int) error {
	ra.value = ra.node.InitValue()
	ra.init = ra.node.InitValue()
	return ra.fail("Init")
}

func (ra *recordApp) Init2() error {
	return ra.fail("Init2")
}

func (ra *recordApp) MessageGeneration() error {
	if err := ra.fail("MessageGeneration"); err != nil {
		return err
	}
	if ra.cfg.broadcast {
		_, err := ra.engine.Broadcast(CreateBroadcast(ra.node.ID, ra.value))
		return err
	}
	return nil
}

func (ra *recordApp) StateTransition(msgs []*Message) error {
	if ra.cfg.order != nil {
		*ra.cfg.order = append(*ra.cfg.order, ra.node.ID)
	}
	ra.rounds += 1
	ra.received = append(ra.received, msgs...)
	if ra.cfg.bump {
		ra.value += 1
	}
	return ra.fail("StateTransition")
}

func (ra *recordApp) OnReceive(msg *Message) error {
	ra.received = append(ra.received, msg)
	if ra.cfg.bump {
		ra.value += 1
	}
	return ra.fail("OnReceive")
}

func (ra *recordApp) OnTick() error {
	ra.ticks += 1
	if to, present := ra.cfg.sendTo[ra.node.ID]; present && ra.ticks == 1 {
		if _, err := ra.engine.Send(CreateMessage(ra.node.ID, to, "hello")); err != nil {
			return err
		}
	}
	return ra.fail("OnTick")
}

func (ra *recordApp) Value() float64         { return ra.value }
func (ra *recordApp) InitValue() float64     { return ra.init }
func (ra *recordApp) SetInitValue(v float64) { ra.init = v }
func (ra *recordApp) SetLastEvent(ev *Event) { ra.lastEvent = ev }

func appOf(t *testing.T, topo *Topology, id int) *recordApp {
	t.Helper()
	node, present := topo.Active[id]
	if !present {
		t.Fatalf("node %d is not active", id)
	}
	app, ok := node.App.(*recordApp)
	if !ok {
		t.Fatalf("node %d has no recordApp", id)
	}
	return app
}

// chainConnector links each new node to the most recently placed one,
// which builds a path
type chainConnector struct{}

func (cc *chainConnector) ConnectNode(topo *Topology, id int) error {
	peers := placedPeers(topo, id)
	if len(peers) > 0 {
		topo.LinkNodes(peers[len(peers)-1], id)
	}
	return nil
}

func (cc *chainConnector) ReconnectNode(topo *Topology, id int) error {
	return cc.ConnectNode(topo, id)
}

// splitConnector links node k to node k-2, which builds one path of even
// ids and one of odd ids
type splitConnector struct{}

func (sc *splitConnector) ConnectNode(topo *Topology, id int) error {
	if _, present := topo.Active[id-2]; present {
		topo.LinkNodes(id-2, id)
	}
	return nil
}

func (sc *splitConnector) ReconnectNode(topo *Topology, id int) error {
	return sc.ConnectNode(topo, id)
}

// zeroGenerator always draws 0
type zeroGenerator struct{}

func (zg zeroGenerator) GenerateInteger() (int64, error)  { return 0, nil }
func (zg zeroGenerator) GenerateDouble() (float64, error) { return 0.0, nil }

// buildTopology generates n nodes with value 10, linked by connector
func buildTopology(t *testing.T, name string, n int, connector Connector) *Topology {
	t.Helper()
	topo := CreateTopology(name, 100.0, 100.0, connector)
	topo.SetDataDistribution(&ConstantData{Value: 10.0})
	if err := topo.GenerateNetwork(n); err != nil {
		t.Fatalf("GenerateNetwork(%d) = %v", n, err)
	}
	return topo
}

// startEngine builds an engine over topo and starts it
func startEngine(t *testing.T, topo *Topology, opts EngineOpts) *ComEngine {
	t.Helper()
	engine, err := CreateComEngine(topo, opts)
	if err != nil {
		t.Fatalf("CreateComEngine() = %v", err)
	}
	if err := engine.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	return engine
}
