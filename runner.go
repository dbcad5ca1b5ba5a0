package dynsim

// runner.go carries an experiment: it builds the topology, engine and
// dynamics of each repetition, drives them under an evtm event manager
// until the time limit, and gathers periodic samples of the network state.
//
// Each repetition is driven by two self-rescheduling evtm handlers.  The
// step handler applies the dynamics that have come due and runs one engine
// Step, then reschedules itself at the engine's new global time.  The sample
// handler records the network state every sample period.

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/iti/dynsim/internal/logging"
	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"golang.org/x/sync/errgroup"
)

// Sample is the state of the network at one sampling time
type Sample struct {
	Time         int64   `json:"time" yaml:"time"`
	ActiveNodes  int     `json:"activenodes" yaml:"activenodes"`
	DeadNodes    int     `json:"deadnodes" yaml:"deadnodes"`
	Links        int     `json:"links" yaml:"links"`
	Partitions   int     `json:"partitions" yaml:"partitions"`
	MaxPartition int     `json:"maxpartition" yaml:"maxpartition"`
	Sent         int     `json:"sent" yaml:"sent"`
	Received     int     `json:"received" yaml:"received"`
	Lost         int     `json:"lost" yaml:"lost"`
	MeanValue    float64 `json:"meanvalue" yaml:"meanvalue"`
	MinValue     float64 `json:"minvalue" yaml:"minvalue"`
	MaxValue     float64 `json:"maxvalue" yaml:"maxvalue"`
}

// RepetitionResult is what one repetition produced.  A repetition that hit a
// non-critical network error is not Valid and carries that error
type RepetitionResult struct {
	SimIdx    int           `json:"simidx" yaml:"simidx"`
	RepIdx    int           `json:"repidx" yaml:"repidx"`
	Valid     bool          `json:"valid" yaml:"valid"`
	Err       error         `json:"-" yaml:"-"`
	EndTime   int64         `json:"endtime" yaml:"endtime"`
	Samples   []Sample      `json:"samples" yaml:"samples"`
	Latencies map[int64]int `json:"latencies" yaml:"latencies"`
}

// Runner runs the repetitions of one experiment
type Runner struct {
	cfg     *ExperimentCfg
	appCtor AppConstructor
	logger  logging.Logger
	metrics *EngineMetrics
	trace   *TraceManager
}

// CreateRunner is a constructor.  The configuration is validated here;
// metrics and trace may be nil
func CreateRunner(cfg *ExperimentCfg, logger logging.Logger, metrics *EngineMetrics, trace *TraceManager) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctor, err := LookupApplication(cfg.Application)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Noop()
	}

	r := new(Runner)
	r.cfg = cfg
	r.appCtor = ctor
	r.logger = logger.With(logging.String("experiment", cfg.Name))
	r.metrics = metrics
	r.trace = trace
	return r, nil
}

// repetition is the state of one repetition while evtm drives it
type repetition struct {
	engine    *ComEngine
	dynamics  *Dynamics
	timeLimit int64
	period    int64

	result   *RepetitionResult
	err      error // critical error that aborts the experiment
	halted   bool  // an error ended the repetition
	finished bool  // the engine has nothing left to do before the time limit
}

// BuildRepetition generates the initial network of a repetition and the
// engine and dynamics that will run over it
func (r *Runner) BuildRepetition(simIdx, repIdx int) (*ComEngine, *Dynamics, error) {
	cfg := r.cfg
	name := fmt.Sprintf("%s-%d-%d", cfg.Name, simIdx, repIdx)

	connector, err := CreateConnector(cfg.Topology.Type, cfg.topoParams())
	if err != nil {
		return nil, nil, err
	}
	topo := CreateTopology(name, cfg.Topology.Width, cfg.Topology.Height, connector)
	dataDist, err := CreateDataDistribution(cfg.Data, cfg.Topology.Width, name+"-data")
	if err != nil {
		return nil, nil, err
	}
	topo.SetDataDistribution(dataDist)
	if err := topo.GenerateNetwork(cfg.Topology.Size); err != nil {
		return nil, nil, err
	}
	topo.SetCloudNodes(cfg.Topology.CloudNodes)
	if cfg.Topology.Overlay {
		topo.ComputeOverlay()
	}

	model, err := ExecModelFromStr(cfg.Engine.Model)
	if err != nil {
		return nil, nil, err
	}
	var transTime Generator
	if len(cfg.Engine.TransTimeDist) > 0 {
		transTime, err = CreateGenerator(cfg.Engine.TransTimeDist, cfg.Engine.TransTimeParams, name+"-transtime")
		if err != nil {
			return nil, nil, err
		}
	}

	opts := EngineOpts{
		Model:          model,
		Aggregation:    AggregationKind(cfg.Engine.Aggregation),
		LossProb:       cfg.Engine.LossProb,
		LossToReceiver: cfg.Engine.LossToReceiver,
		TransTime:      transTime,
		RecordLatency:  cfg.Engine.RecordLatency,
		UseOverlay:     cfg.Engine.UseOverlay,
		Debug:          cfg.Engine.Debug,
		App:            r.appCtor,
		AppParams:      cfg.AppParams,
		SimIdx:         simIdx,
		RepIdx:         repIdx,
		Logger:         r.logger,
		Metrics:        r.metrics,
		Trace:          r.trace,
	}
	engine, err := CreateComEngine(topo, opts)
	if err != nil {
		return nil, nil, err
	}
	dynamics, err := CreateDynamics(engine, cfg.Churn, cfg.ValueChange)
	if err != nil {
		return nil, nil, err
	}
	return engine, dynamics, nil
}

// RunRepetition builds and runs one repetition.  A non-critical network
// error gives an invalid result; any other error is returned
func (r *Runner) RunRepetition(simIdx, repIdx int) (*RepetitionResult, error) {
	engine, dynamics, err := r.BuildRepetition(simIdx, repIdx)
	if err != nil {
		return nil, err
	}
	return r.run(simIdx, repIdx, engine, dynamics)
}

// run drives an already built repetition to its end
func (r *Runner) run(simIdx, repIdx int, engine *ComEngine, dynamics *Dynamics) (*RepetitionResult, error) {
	rep := &repetition{engine: engine, dynamics: dynamics,
		timeLimit: r.cfg.Runner.TimeLimit, period: r.cfg.Runner.SamplePeriod}
	rep.result = &RepetitionResult{SimIdx: simIdx, RepIdx: repIdx, Valid: true, Samples: []Sample{}}
	logger := r.logger.With(logging.Int("sim", simIdx), logging.Int("rep", repIdx))

	if err := engine.Start(); err != nil {
		return nil, err
	}
	dynamics.ScheduleEvents(rep.timeLimit)

	// the initial network may already break the COUNT requirement
	if err := engine.Topology().CheckPartitioning(engine.Aggregation, 0); err != nil {
		rep.fail(err)
	}

	if !rep.halted {
		evtMgr := evtm.New()
		evtMgr.Schedule(rep, nil, sampleNetwork, vrtime.SecondsToTime(0.0))
		evtMgr.Schedule(rep, nil, stepRepetition, vrtime.SecondsToTime(0.0))
		evtMgr.Run(float64(rep.timeLimit) + 1.0)
	}

	if rep.err != nil {
		logger.Error("repetition aborted", logging.Err(rep.err))
		return nil, rep.err
	}
	rep.result.EndTime = engine.GlobalTime()
	rep.result.Latencies = engine.MessageLatencies()
	if !rep.result.Valid {
		r.metrics.invalidRep()
		logger.Warn("repetition invalid", logging.Err(rep.result.Err))
	} else {
		logger.Info("repetition finished", logging.Int64("time", rep.result.EndTime),
			logging.Int("samples", len(rep.result.Samples)))
	}
	return rep.result, nil
}

// fail ends the repetition.  Non-critical errors only invalidate it
func (rep *repetition) fail(err error) {
	rep.halted = true
	if IsCritical(err) {
		rep.err = err
		return
	}
	rep.result.Valid = false
	rep.result.Err = err
}

// stepRepetition is the evtm handler that advances the engine by one Step
func stepRepetition(evtMgr *evtm.EventManager, cxt any, data any) any {
	rep := cxt.(*repetition)
	if rep.halted || rep.finished {
		return nil
	}
	engine := rep.engine
	before := engine.GlobalTime()

	for _, ev := range rep.dynamics.DueEvents(before) {
		if _, err := rep.dynamics.Apply(ev); err != nil {
			rep.fail(err)
			return nil
		}
	}

	next, err := engine.NextEventTime()
	if errors.Is(err, ErrEmptySchedule) || next > rep.timeLimit {
		// an idle engine can still be revived by pending dynamics
		due, pending := rep.dynamics.NextEventTime()
		if !pending || due > rep.timeLimit {
			rep.finished = true
			return nil
		}
		if err := engine.advanceTo(due); err != nil {
			rep.fail(err)
			return nil
		}
		evtMgr.Schedule(rep, nil, stepRepetition, vrtime.SecondsToTime(float64(engine.GlobalTime()-before)))
		return nil
	}
	if err := engine.Step(); err != nil {
		rep.fail(err)
		return nil
	}

	after := engine.GlobalTime()
	if after > rep.timeLimit {
		rep.finished = true
		return nil
	}
	evtMgr.Schedule(rep, nil, stepRepetition, vrtime.SecondsToTime(float64(after-before)))
	return nil
}

// sampleNetwork is the evtm handler that records the network state once
// per sample period.  When no value has changed since the last sample, its
// network statistics are repeated under the new time; message counters are
// always read afresh
func sampleNetwork(evtMgr *evtm.EventManager, cxt any, data any) any {
	rep := cxt.(*repetition)
	if rep.halted {
		return nil
	}
	now := int64(math.Round(evtMgr.CurrentSeconds()))
	samples := rep.result.Samples

	if len(samples) > 0 && !rep.engine.HasStateChanged() {
		last := samples[len(samples)-1]
		last.Time = now
		last.Sent, last.Received, last.Lost = rep.engine.Topology().Totals()
		rep.result.Samples = append(samples, last)
	} else {
		rep.result.Samples = append(samples, takeSample(rep.engine, now))
		rep.engine.ClearStateChanged()
	}

	if now+rep.period <= rep.timeLimit {
		evtMgr.Schedule(rep, nil, sampleNetwork, vrtime.SecondsToTime(float64(rep.period)))
	}
	return nil
}

// takeSample computes a Sample of the engine's network
func takeSample(engine *ComEngine, now int64) Sample {
	topo := engine.Topology()
	smpl := Sample{Time: now, ActiveNodes: topo.ActiveCount, DeadNodes: len(topo.Dead),
		Links: topo.LinkCount()}
	smpl.Sent, smpl.Received, smpl.Lost = topo.Totals()

	comps := topo.Components()
	smpl.Partitions = len(comps)
	for _, comp := range comps {
		if len(comp) > smpl.MaxPartition {
			smpl.MaxPartition = len(comp)
		}
	}

	n := 0
	sum := 0.0
	smpl.MinValue = math.Inf(1)
	smpl.MaxValue = math.Inf(-1)
	for _, node := range topo.Active {
		if node.App == nil {
			continue
		}
		v := node.App.Value()
		sum += v
		n += 1
		smpl.MinValue = math.Min(smpl.MinValue, v)
		smpl.MaxValue = math.Max(smpl.MaxValue, v)
	}
	if n == 0 {
		smpl.MinValue, smpl.MaxValue = 0.0, 0.0
		return smpl
	}
	smpl.MeanValue = sum / float64(n)
	return smpl
}

// RunExperiment runs every repetition of simulation simIdx and returns their
// results in repetition order.  Repetitions are built one after the other,
// since creating random number streams is not safe for concurrent use, and
// are then run up to Parallel at a time.  The first critical error cancels
// the repetitions not yet started
func (r *Runner) RunExperiment(ctx context.Context, simIdx int) ([]*RepetitionResult, error) {
	reps := r.cfg.Runner.Repetitions
	engines := make([]*ComEngine, reps)
	dynamics := make([]*Dynamics, reps)
	for repIdx := 0; repIdx < reps; repIdx++ {
		var err error
		engines[repIdx], dynamics[repIdx], err = r.BuildRepetition(simIdx, repIdx)
		if err != nil {
			return nil, err
		}
	}

	limit := r.cfg.Runner.Parallel
	if limit < 1 {
		limit = 1
	}
	results := make([]*RepetitionResult, reps)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for repIdx := 0; repIdx < reps; repIdx++ {
		repIdx := repIdx
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result, err := r.run(simIdx, repIdx, engines[repIdx], dynamics[repIdx])
			if err != nil {
				return fmt.Errorf("repetition %d: %w", repIdx, err)
			}
			results[repIdx] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
