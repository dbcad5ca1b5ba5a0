package dynsim

// engine.go holds the communication engine that carries one simulation run:
// it owns the schedule of application-visible events, passes messages
// between nodes under loss and latency, and keeps the message statistics.
// The two execution models that consume the schedule are in models.go

import (
	"fmt"
	"strings"

	"github.com/iti/dynsim/internal/logging"
	"github.com/iti/rngstream"
)

// ExecModel selects how the engine advances a run
type ExecModel int

const (
	Synchronous ExecModel = iota
	Asynchronous
)

var execModelToStr map[ExecModel]string = map[ExecModel]string{
	Synchronous:  "synchronous",
	Asynchronous: "asynchronous",
}

func (em ExecModel) String() string {
	return execModelToStr[em]
}

// ExecModelFromStr converts a configuration string to an ExecModel
func ExecModelFromStr(model string) (ExecModel, error) {
	switch strings.ToLower(model) {
	case "sync", "synchronous":
		return Synchronous, nil
	case "async", "asynchronous":
		return Asynchronous, nil
	}
	return Synchronous, &ConfigError{Param: "engine.model", Reason: fmt.Sprintf("unknown execution model %q", model)}
}

// AggregationKind names the aggregation function the applications compute.
// The engine only forwards it; the COUNT kind additionally switches on
// the protection of the always-counted nodes
type AggregationKind string

const CountAggregation AggregationKind = "COUNT"

// EngineOpts carries the already-parsed parameters of a ComEngine
type EngineOpts struct {
	Model          ExecModel
	Aggregation    AggregationKind
	LossProb       float64
	LossToReceiver bool      // when false a lost message is charged to the sender
	TransTime      Generator // ignored by the synchronous model
	RecordLatency  bool
	UseOverlay     bool // broadcast to overlay rather than physical neighbors
	Debug          bool

	App       AppConstructor
	AppParams AppParams
	SimIdx    int
	RepIdx    int

	Logger  logging.Logger
	Metrics *EngineMetrics
	Trace   *TraceManager
}

// ComEngine orchestrates one simulation run over a Topology
type ComEngine struct {
	Model          ExecModel
	Aggregation    AggregationKind
	LossProb       float64
	LossToReceiver bool
	RecordLatency  bool
	UseOverlay     bool
	Debug          bool

	topo      *Topology
	schedule  *EventSchedule
	transTime Generator
	rngstrm   *rngstream.RngStream

	globalTime   int64
	init2Done    bool
	totalMsgs    int
	latencies    map[int64]int
	stateChanged bool

	appCtor   AppConstructor
	appParams AppParams
	simIdx    int
	repIdx    int

	logger   logging.Logger
	metrics  *EngineMetrics
	traceMgr *TraceManager
}

// CreateComEngine is a constructor.  The synchronous model always
// transmits in exactly one round, so it replaces any configured
// transmission-time generator with the constant 1
func CreateComEngine(topo *Topology, opts EngineOpts) (*ComEngine, error) {
	if opts.LossProb < 0.0 || opts.LossProb > 1.0 {
		return nil, &ConfigError{Param: "engine.lossprob", Reason: fmt.Sprintf("%v is not a probability", opts.LossProb)}
	}
	if opts.App == nil {
		return nil, &ConfigError{Param: "application", Reason: "no application constructor"}
	}

	e := new(ComEngine)
	e.Model = opts.Model
	e.Aggregation = opts.Aggregation
	e.LossProb = opts.LossProb
	e.LossToReceiver = opts.LossToReceiver
	e.RecordLatency = opts.RecordLatency
	e.UseOverlay = opts.UseOverlay
	e.Debug = opts.Debug

	e.topo = topo
	e.schedule = CreateEventSchedule()
	e.transTime = opts.TransTime
	if e.Model == Synchronous || e.transTime == nil {
		e.transTime = CreateConstantGenerator(1.0)
	}
	e.rngstrm = rngstream.New(fmt.Sprintf("%s-engine-%d-%d", topo.Name, opts.SimIdx, opts.RepIdx))

	e.latencies = make(map[int64]int)
	e.appCtor = opts.App
	e.appParams = opts.AppParams
	e.simIdx = opts.SimIdx
	e.repIdx = opts.RepIdx

	e.logger = opts.Logger
	if e.logger == nil {
		e.logger = logging.Noop()
	}
	e.logger = e.logger.With(logging.String("model", e.Model.String()),
		logging.Int("sim", e.simIdx), logging.Int("rep", e.repIdx))
	e.metrics = opts.Metrics
	e.traceMgr = opts.Trace
	return e, nil
}

// Topology gives the topology the engine runs over
func (e *ComEngine) Topology() *Topology {
	return e.topo
}

// Start (re)initializes the run: it clears the schedule, builds and
// initializes the Application of every active node, and schedules each
// node's first TICK at time 1.  The second initialization phase is
// deferred to the first Step, after every node has finished the first
func (e *ComEngine) Start() error {
	e.schedule.Clear()
	e.globalTime = 0
	e.init2Done = false
	e.totalMsgs = 0
	e.latencies = make(map[int64]int)
	e.stateChanged = true

	ids := e.topo.ActiveIDs()
	for _, id := range ids {
		if err := e.attachApp(e.topo.Active[id]); err != nil {
			return err
		}
	}
	for _, id := range ids {
		e.scheduleKeyed(1, id, TickEvent, nil)
	}
	e.logger.Info("run started", logging.Int("nodes", len(ids)))
	e.reportNodes()
	return nil
}

// attachApp builds the node's Application and runs its first initialization phase
func (e *ComEngine) attachApp(node *Node) error {
	app := e.appCtor(node, e)
	node.App = app
	if err := app.Init(e.appParams, e.simIdx, e.repIdx); err != nil {
		return &ApplicationError{Node: node.ID, Callback: "Init", Err: err}
	}
	return nil
}

// attachArrivals gives freshly linked nodes their Applications, mirroring the
// two-phase discipline of Start: first phase for all, then second phase for all.
// Each then gets its first TICK at the current time
func (e *ComEngine) attachArrivals(ids []int) error {
	for _, id := range ids {
		if err := e.attachApp(e.topo.Active[id]); err != nil {
			return err
		}
	}
	for _, id := range ids {
		node := e.topo.Active[id]
		if err := node.App.Init2(); err != nil {
			return &ApplicationError{Node: id, Callback: "Init2", Err: err}
		}
	}
	for _, id := range ids {
		e.scheduleKeyed(e.globalTime, id, TickEvent, nil)
	}
	return nil
}

// runInit2 runs the deferred second initialization phase of every node
func (e *ComEngine) runInit2() error {
	e.init2Done = true
	for _, id := range e.topo.ActiveIDs() {
		node := e.topo.Active[id]
		if err := node.App.Init2(); err != nil {
			return &ApplicationError{Node: id, Callback: "Init2", Err: err}
		}
	}
	return nil
}

// scheduleKeyed inserts an event at time t under a fresh dedup key
func (e *ComEngine) scheduleKeyed(t int64, node int, kind EventKind, payload any) EventKey {
	key := EventKey{Time: t, Seq: e.schedule.NextSeq(t)}
	e.schedule.Insert(createKeyedEvent(key, node, kind, payload))
	return key
}

// SetTimeout schedules a TICK for node delay time units from now, and
// returns the key by which it can be cancelled
func (e *ComEngine) SetTimeout(delay int64, node int, payload any) (EventKey, error) {
	if delay <= 0 {
		return EventKey{}, fmt.Errorf("%w: delay %d for node %d", ErrInvalidTimeout, delay, node)
	}
	return e.scheduleKeyed(e.globalTime+delay, node, TickEvent, payload), nil
}

// Cancel removes the TICK scheduled for node under key (a clock reset),
// returning whether it was still pending.  A key held by any other event
// is left alone
func (e *ComEngine) Cancel(key EventKey, node int) bool {
	ev, present := e.schedule.Lookup(key)
	if !present || ev.Node() != node || ev.Kind() != TickEvent {
		return false
	}
	return e.schedule.Remove(ev)
}

// sampleTransTime draws a transmission delay.  A draw below 1 is retried
// once; a second one is a misconfigured generator
func (e *ComEngine) sampleTransTime() (int64, error) {
	delay, err := e.transTime.GenerateInteger()
	if err != nil {
		return 0, err
	}
	if delay >= 1 {
		return delay, nil
	}
	delay, err = e.transTime.GenerateInteger()
	if err != nil {
		return 0, err
	}
	if delay < 1 {
		return 0, fmt.Errorf("%w: sampled %d", ErrInvalidTransmissionTime, delay)
	}
	return delay, nil
}

// lossDraw samples whether a message is lost
func (e *ComEngine) lossDraw() bool {
	if e.LossProb <= 0.0 {
		return false
	}
	return e.rngstrm.RandU01() < e.LossProb
}

// Send passes msg from msg.From to msg.To, and returns the send time stamped on it
func (e *ComEngine) Send(msg *Message) (int64, error) {
	sender, present := e.topo.Active[msg.From]
	if !present {
		return e.globalTime, fmt.Errorf("%w: sender %d", ErrUnknownNode, msg.From)
	}
	msg.ID = msgID(sender.Sent+1, msg.From, msg.To)
	if err := e.transmit(sender, msg, msg.To, msg.ID); err != nil {
		return e.globalTime, err
	}
	msg.SendTime = e.globalTime
	return e.globalTime, nil
}

// Broadcast offers msg to every physical neighbor of the sender (or every
// overlay neighbor when UseOverlay is set).  All copies share one id;
// loss is drawn independently for each neighbor
func (e *ComEngine) Broadcast(msg *Message) (int64, error) {
	sender, present := e.topo.Active[msg.From]
	if !present {
		return e.globalTime, fmt.Errorf("%w: sender %d", ErrUnknownNode, msg.From)
	}
	msg.To = AnyNode
	msg.Dests = sender.NeighborIDs(e.UseOverlay)
	msg.ID = msgID(sender.Sent+1, msg.From, AnyNode)

	for _, to := range msg.Dests {
		if err := e.transmit(sender, msg, to, msg.ID); err != nil {
			return e.globalTime, err
		}
	}
	msg.SendTime = e.globalTime
	return e.globalTime, nil
}

// transmit carries one copy of msg from sender to node to, under the message id given
func (e *ComEngine) transmit(sender *Node, msg *Message, to int, id string) error {
	if e.lossDraw() {
		if !e.LossToReceiver {
			sender.Lost += 1
			e.metrics.lost()
			if e.Debug {
				e.logger.Debug("message lost at sender", logging.String("msg", id), logging.Int("to", to))
			}
			return nil
		}
		delay, err := e.sampleTransTime()
		if err != nil {
			return err
		}
		e.scheduleKeyed(e.globalTime+delay, to, MsgLossEvent, id)
		return nil
	}

	receiver, present := e.topo.Active[to]
	if !present {
		// the receiver has departed; nothing is there to take the message
		sender.Lost += 1
		e.metrics.lost()
		return nil
	}

	delay, err := e.sampleTransTime()
	if err != nil {
		return err
	}

	sender.Sent += 1
	cpy := msg.copyFor(to)
	cpy.ID = id
	cpy.Seq = sender.Sent
	cpy.SendTime = e.globalTime

	if e.Model == Asynchronous {
		e.scheduleKeyed(e.globalTime+delay, to, MsgReceiveEvent, id)
	}
	receiver.deliver(cpy)

	if e.RecordLatency {
		e.latencies[delay] += 1
		e.metrics.latency(delay)
	}
	e.totalMsgs += 1
	e.metrics.sent()

	if e.Debug {
		e.logger.Debug("message sent", logging.String("msg", id),
			logging.Int("to", to), logging.Int64("delay", delay))
	}
	return nil
}

// GlobalTime gives the engine's current simulation time
func (e *ComEngine) GlobalTime() int64 {
	return e.globalTime
}

// HasStateChanged tells the statistics sampler whether anything it observes
// has changed since it last cleared the flag
func (e *ComEngine) HasStateChanged() bool {
	return e.stateChanged
}

// ClearStateChanged is called by the sampler after consuming a sample
func (e *ComEngine) ClearStateChanged() {
	e.stateChanged = false
}

// MarkStateChanged forces the next sample to be recomputed
func (e *ComEngine) MarkStateChanged() {
	e.stateChanged = true
}

// MessageLatencies gives the histogram of transmission delays, delay -> count
func (e *ComEngine) MessageLatencies() map[int64]int {
	hist := make(map[int64]int, len(e.latencies))
	for delay, cnt := range e.latencies {
		hist[delay] = cnt
	}
	return hist
}

// TotalMessages gives the number of messages delivered into receiver buffers
func (e *ComEngine) TotalMessages() int {
	return e.totalMsgs
}

// PendingEvents gives the number of scheduled application events
func (e *ComEngine) PendingEvents() int {
	return e.schedule.Len()
}

// NextEventTime gives the time of the earliest pending event
func (e *ComEngine) NextEventTime() (int64, error) {
	return e.schedule.PeekEarliestTime()
}

// Schedule gives access to the engine's event schedule
func (e *ComEngine) Schedule() *EventSchedule {
	return e.schedule
}

// reportNodes pushes the node gauges to the metrics, if any
func (e *ComEngine) reportNodes() {
	e.metrics.nodes(e.topo.ActiveCount, len(e.topo.Dead), e.topo.LinkCount())
}
