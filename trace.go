package dynsim

// trace.go gathers a record of every event the engine dispatches, for
// post-run analysis.  Traces are kept per repetition and written out as
// yaml or json

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sync"

	"gopkg.in/yaml.v3"
)

// EventTrace is the record of one dispatched event
type EventTrace struct {
	Time    int64  `json:"time" yaml:"time"`
	Node    int    `json:"node" yaml:"node"`
	Kind    string `json:"kind" yaml:"kind"`
	Key     string `json:"key,omitempty" yaml:"key,omitempty"`
	Payload string `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// TraceManager gathers traces for the repetitions of an experiment
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// all trace records, indexed by "sim/rep"
	Traces map[string][]EventTrace `json:"traces" yaml:"traces"`

	// repetitions may run in parallel and share the manager
	mu sync.Mutex
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.  By testing this
// flag we can inhibit the activity of gathering a trace when we don't want it,
// while embedding calls to its methods everywhere we need them when it is
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.Traces = make(map[string][]EventTrace)
	return tm
}

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm != nil && tm.InUse
}

func traceIdx(simIdx, repIdx int) string {
	return fmt.Sprintf("%d/%d", simIdx, repIdx)
}

// AddEventTrace creates a record of the dispatched event and stores it
func (tm *TraceManager) AddEventTrace(t int64, simIdx, repIdx int, ev *Event) {
	if !tm.Active() {
		return
	}
	rec := EventTrace{Time: t, Node: ev.Node(), Kind: ev.Kind().String()}
	if key, keyed := ev.Key(); keyed {
		rec.Key = key.String()
	}
	if ev.Payload() != nil {
		rec.Payload = fmt.Sprintf("%v", ev.Payload())
	}
	idx := traceIdx(simIdx, repIdx)
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.Traces[idx] = append(tm.Traces[idx], rec)
}

// RepTraces returns the traces gathered for one repetition
func (tm *TraceManager) RepTraces(simIdx, repIdx int) []EventTrace {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.Traces[traceIdx(simIdx, repIdx)]
}

// WriteToFile stores the Traces struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (tm *TraceManager) WriteToFile(filename string) error {
	if !tm.Active() {
		return nil
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	switch pathExt {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(tm)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(tm, "", "\t")
	default:
		return fmt.Errorf("trace file %s needs a .yaml or .json extension", filename)
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, bytes, 0644)
}
