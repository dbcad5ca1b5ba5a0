package dynsim

// dynamics.go holds the generator of network dynamics: node churn (departures
// and arrivals) and changes of the nodes' data values.  Dynamics events are
// computed once per run from rate/period configuration and kept in a
// schedule of their own, separate from the engine's.

import (
	"fmt"
	"math"

	"github.com/iti/dynsim/internal/logging"
	"github.com/iti/rngstream"
	"golang.org/x/exp/slices"
)

// ChurnCfg describes the churn of a run as parallel lists: the i-th
// (Rate, Period, Repetition) tuple asks for Repetition churn events, Period
// time units apart, each changing the network size by Rate percent (negative
// for departures)
type ChurnCfg struct {
	Rate       []float64 `json:"rate" yaml:"rate"`
	Period     []int64   `json:"period" yaml:"period"`
	Repetition []int     `json:"repetition" yaml:"repetition"`

	// replay the tuples cyclically until the time limit
	RepeatPattern bool `json:"repeatpattern" yaml:"repeatpattern"`

	// compute the change from the initial network size rather than the current one
	FromInit bool `json:"frominit" yaml:"frominit"`

	// nodes isolated by a departure leave in addition to the requested ones,
	// rather than being charged against the departure quota
	CountIsolated bool `json:"countisolated" yaml:"countisolated"`
}

// ValueChangeCfg describes the changes of node data values as parallel lists.
// The i-th tuple's events apply Operator ("+" or "*") with Rate to the values
// of a Coverage fraction of the active nodes
type ValueChangeCfg struct {
	Rate          []float64 `json:"rate" yaml:"rate"`
	Period        []int64   `json:"period" yaml:"period"`
	Repetition    []int     `json:"repetition" yaml:"repetition"`
	Coverage      []float64 `json:"coverage" yaml:"coverage"`
	Operator      []string  `json:"operator" yaml:"operator"`
	RepeatPattern bool      `json:"repeatpattern" yaml:"repeatpattern"`
}

// validateTuples checks the parameters the two kinds of dynamics share
func validateTuples(prefix string, rates []float64, periods []int64, reps []int) []error {
	errs := []error{}
	if len(periods) != len(rates) {
		errs = append(errs, &ConfigError{Param: prefix + ".period",
			Reason: fmt.Sprintf("has %d entries, rate has %d", len(periods), len(rates))})
	}
	if len(reps) != len(rates) {
		errs = append(errs, &ConfigError{Param: prefix + ".repetition",
			Reason: fmt.Sprintf("has %d entries, rate has %d", len(reps), len(rates))})
	}
	for idx, rate := range rates {
		if rate == 0.0 {
			errs = append(errs, &ConfigError{Param: prefix + ".rate", Reason: fmt.Sprintf("entry %d is zero", idx)})
		}
	}
	for idx, period := range periods {
		if period <= 0 {
			errs = append(errs, &ConfigError{Param: prefix + ".period", Reason: fmt.Sprintf("entry %d is not positive", idx)})
		}
	}
	for idx, rep := range reps {
		if rep <= 0 {
			errs = append(errs, &ConfigError{Param: prefix + ".repetition", Reason: fmt.Sprintf("entry %d is not positive", idx)})
		}
	}
	return errs
}

// Validate reports every malformed churn parameter
func (cc *ChurnCfg) Validate() error {
	return ReportErrs(validateTuples("churn", cc.Rate, cc.Period, cc.Repetition))
}

// Validate reports every malformed value-change parameter
func (vc *ValueChangeCfg) Validate() error {
	errs := validateTuples("valuechange", vc.Rate, vc.Period, vc.Repetition)
	if len(vc.Coverage) != len(vc.Rate) {
		errs = append(errs, &ConfigError{Param: "valuechange.coverage",
			Reason: fmt.Sprintf("has %d entries, rate has %d", len(vc.Coverage), len(vc.Rate))})
	}
	if len(vc.Operator) != len(vc.Rate) {
		errs = append(errs, &ConfigError{Param: "valuechange.operator",
			Reason: fmt.Sprintf("has %d entries, rate has %d", len(vc.Operator), len(vc.Rate))})
	}
	for idx, cov := range vc.Coverage {
		if cov <= 0.0 || cov > 1.0 {
			errs = append(errs, &ConfigError{Param: "valuechange.coverage",
				Reason: fmt.Sprintf("entry %d (%v) is outside (0,1]", idx, cov)})
		}
	}
	for idx, op := range vc.Operator {
		if op != "+" && op != "*" {
			errs = append(errs, &ConfigError{Param: "valuechange.operator",
				Reason: fmt.Sprintf("entry %d (%q) is neither + nor *", idx, op)})
		}
	}
	return ReportErrs(errs)
}

// Dynamics applies churn and value changes to the topology of an engine
type Dynamics struct {
	churn  ChurnCfg
	change ValueChangeCfg

	topo   *Topology
	engine *ComEngine

	// one event per time; a later-scheduled event overwrites an earlier one
	// at the same time
	slots map[int64]*Event

	rngstrm *rngstream.RngStream
	logger  logging.Logger
	metrics *EngineMetrics
}

// CreateDynamics is a constructor.  Malformed configuration is reported here,
// before any simulation starts
func CreateDynamics(engine *ComEngine, churn ChurnCfg, change ValueChangeCfg) (*Dynamics, error) {
	if err := ReportErrs([]error{churn.Validate(), change.Validate()}); err != nil {
		return nil, err
	}

	d := new(Dynamics)
	d.churn = churn
	d.change = change
	d.engine = engine
	d.topo = engine.Topology()
	d.slots = make(map[int64]*Event)
	d.rngstrm = rngstream.New(fmt.Sprintf("%s-dynamics-%d-%d", d.topo.Name, engine.simIdx, engine.repIdx))
	d.logger = engine.logger.With(logging.String("component", "dynamics"))
	d.metrics = engine.metrics
	return d, nil
}

// ScheduleEvents computes the dynamics events of a run up to timeLimit.
// Churn is scheduled first and value changes second, so when both land on
// the same time only the value change survives
func (d *Dynamics) ScheduleEvents(timeLimit int64) {
	d.slots = make(map[int64]*Event)
	d.playback(ChurnEvent, d.churn.Period, d.churn.Repetition, d.churn.RepeatPattern, timeLimit)
	d.playback(ValueChangeEvent, d.change.Period, d.change.Repetition, d.change.RepeatPattern, timeLimit)
}

// playback walks the (period, repetition) tuples with a running clock,
// emitting one event per repetition.  The payload of each event is the index
// of the tuple it came from
func (d *Dynamics) playback(kind EventKind, periods []int64, reps []int, repeat bool, timeLimit int64) {
	if len(periods) == 0 {
		return
	}
	t := int64(0)
	idx := 0
	for {
		for r := 0; r < reps[idx]; r++ {
			t += periods[idx]
			if t > timeLimit {
				return
			}
			d.slots[t] = createEvent(t, NoNode, kind, idx)
		}
		idx += 1
		if idx == len(periods) {
			if !repeat {
				return
			}
			idx = 0
		}
	}
}

// Pending gives the number of dynamics events not yet handed out
func (d *Dynamics) Pending() int {
	return len(d.slots)
}

// NextEventTime gives the time of the earliest pending dynamics event
func (d *Dynamics) NextEventTime() (int64, bool) {
	first := int64(math.MaxInt64)
	for t := range d.slots {
		if t < first {
			first = t
		}
	}
	return first, len(d.slots) > 0
}

// DueEvents removes and returns, in time order, every dynamics event at or before now
func (d *Dynamics) DueEvents(now int64) []*Event {
	due := []*Event{}
	for t, ev := range d.slots {
		if t <= now {
			due = append(due, ev)
		}
	}
	slices.SortFunc(due, func(x, y *Event) int {
		switch {
		case x.Time() < y.Time():
			return -1
		case x.Time() > y.Time():
			return 1
		}
		return 0
	})
	for _, ev := range due {
		delete(d.slots, ev.Time())
	}
	return due
}

// Apply carries out one dynamics event.  After churn the partitioning is
// re-checked, which may report a non-critical NetworkError.  The count
// returned is the signed size change for churn and the number of nodes
// changed for a value change
func (d *Dynamics) Apply(ev *Event) (int, error) {
	var n int
	var err error

	switch ev.Kind() {
	case ChurnEvent:
		n, err = d.Churn(ev)
		if err != nil {
			return n, err
		}
		d.engine.MarkStateChanged()
		d.metrics.dynamics(ChurnEvent, n)
		d.engine.reportNodes()
		if d.topo.HasOverlay {
			d.topo.ComputeOverlay()
		}
		err = d.topo.CheckPartitioning(d.engine.Aggregation, d.engine.GlobalTime())

	case ValueChangeEvent:
		n = d.ValueChange(ev)
		d.engine.MarkStateChanged()
		d.metrics.dynamics(ValueChangeEvent, n)

	default:
		return 0, &UnknownEventKindError{Model: "dynamics", Event: ev}
	}
	d.logger.Debug("dynamics event applied", logging.String("event", ev.String()), logging.Int("count", n))
	return n, err
}

// Churn changes the network size by the rate of the event's tuple.
// A negative return counts departures, a positive one arrivals
func (d *Dynamics) Churn(ev *Event) (int, error) {
	idx := ev.Payload().(int)
	base := d.topo.ActiveCount
	if d.churn.FromInit {
		base = d.topo.InitialSize
	}
	count := int(math.Round(float64(base) * d.churn.Rate[idx] / 100.0))

	switch {
	case count < 0:
		return -d.nodesLeaving(-count), nil
	case count > 0:
		return d.nodesArriving(count)
	}
	return 0, nil
}

// nodesLeaving removes up to count nodes chosen at random and returns the
// number removed.  Under a COUNT aggregation the always-counted nodes never
// leave, and a node whose departure would strip an always-counted neighbor
// of its last link is skipped, with the candidate pool extended by one.
// Neighbors left without links leave as well; unless CountIsolated is set
// each of them uses up one unit of the quota
func (d *Dynamics) nodesLeaving(count int) int {
	protect := d.engine.Aggregation == CountAggregation

	candidates := make([]int, 0, d.topo.ActiveCount)
	for _, id := range d.topo.ActiveIDs() {
		if protect && d.topo.IsCloud(id) {
			continue
		}
		candidates = append(candidates, id)
	}
	shuffle(d.rngstrm, candidates)

	leaving := []int{}
	leavingSet := make(map[int]bool)
	total := count

	for idx := 0; idx < total && idx < len(candidates); idx++ {
		id := candidates[idx]
		if leavingSet[id] {
			// already gone as an isolated neighbor
			total += 1
			continue
		}
		node := d.topo.Active[id]
		nbrs := node.NeighborIDs(false)

		if protect {
			isolates := false
			for _, nbr := range nbrs {
				if d.topo.IsCloud(nbr) && d.topo.Active[nbr].Degree() == 1 {
					isolates = true
					break
				}
			}
			if isolates {
				total += 1
				continue
			}
		}

		leaving = append(leaving, id)
		leavingSet[id] = true

		for _, nbr := range nbrs {
			d.topo.UnlinkNodes(id, nbr)
			if d.topo.Active[nbr].Degree() > 0 || leavingSet[nbr] {
				continue
			}
			if protect && d.topo.IsCloud(nbr) {
				continue
			}
			leaving = append(leaving, nbr)
			leavingSet[nbr] = true
			if !d.churn.CountIsolated {
				total -= 1
			}
		}
	}

	removed := d.topo.RemoveNodes(leaving)
	d.logger.Debug("nodes left", logging.Int("requested", count), logging.Int("removed", removed))
	return removed
}

// nodesArriving places count new nodes, links every one of them, and only
// then gives them their Applications and first TICKs
func (d *Dynamics) nodesArriving(count int) (int, error) {
	ids := make([]int, 0, count)
	for idx := 0; idx < count; idx++ {
		node := d.topo.PlaceNode(d.topo.RandomPosition())
		if err := d.topo.Connector().ConnectNode(d.topo, node.ID); err != nil {
			return len(ids), fmt.Errorf("connecting arriving node %d: %w", node.ID, err)
		}
		d.topo.assignValue(node)
		ids = append(ids, node.ID)
	}
	if err := d.engine.attachArrivals(ids); err != nil {
		return len(ids), err
	}
	d.logger.Debug("nodes arrived", logging.Int("count", count))
	return len(ids), nil
}

// ValueChange applies the event tuple's operator and rate to the base value
// of a coverage fraction of the active nodes, and returns how many were changed
func (d *Dynamics) ValueChange(ev *Event) int {
	idx := ev.Payload().(int)
	ids := d.topo.ActiveIDs()
	n := int(math.Round(float64(len(ids)) * d.change.Coverage[idx]))
	if n < len(ids) {
		shuffle(d.rngstrm, ids)
		ids = ids[:n]
	}

	rate := d.change.Rate[idx]
	for _, id := range ids {
		app := d.topo.Active[id].App
		if app == nil {
			continue
		}
		v := app.InitValue()
		switch d.change.Operator[idx] {
		case "*":
			v *= rate
		case "+":
			v += rate
		}
		app.SetInitValue(v)
	}
	return n
}

// shuffle permutes ids in place (Fisher-Yates) with draws from rng
func shuffle(rng *rngstream.RngStream, ids []int) {
	for i := len(ids) - 1; i > 0; i-- {
		j := int(rng.RandU01() * float64(i+1))
		if j > i {
			j = i
		}
		ids[i], ids[j] = ids[j], ids[i]
	}
}
