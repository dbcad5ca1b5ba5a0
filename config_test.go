package dynsim

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func testExperiment() *ExperimentCfg {
	return &ExperimentCfg{
		Name:        "ring-avg",
		Application: "test-record",
		AppParams:   AppParams{"fanout": "2"},
		Engine:      EngineCfg{Model: "sync", LossProb: 0.1, RecordLatency: true},
		Topology:    TopologyCfg{Type: "ring", Size: 8, Width: 100.0, Height: 100.0, CloudNodes: []int{0}},
		Data:        DataDistCfg{Type: "constant", Min: 10.0},
		Churn:       ChurnCfg{Rate: []float64{-10, 10}, Period: []int64{4, 4}, Repetition: []int{1, 1}},
		ValueChange: ValueChangeCfg{Rate: []float64{2}, Period: []int64{6}, Repetition: []int{1},
			Coverage: []float64{0.5}, Operator: []string{"*"}},
		Runner: RunnerCfg{TimeLimit: 12, SamplePeriod: 3, Repetitions: 2, Parallel: 2},
	}
}

func TestExperimentCfgRoundTrip(t *testing.T) {
	for _, ext := range []string{".yaml", ".json"} {
		t.Run(ext, func(t *testing.T) {
			cfg := testExperiment()
			if err := cfg.Validate(); err != nil {
				t.Fatalf("Validate() = %v", err)
			}
			filename := filepath.Join(t.TempDir(), "exp"+ext)
			if err := cfg.WriteToFile(filename); err != nil {
				t.Fatalf("WriteToFile() = %v", err)
			}
			read, err := ReadExperimentCfg(filename, ext == ".yaml", nil)
			if err != nil {
				t.Fatalf("ReadExperimentCfg() = %v", err)
			}
			if !reflect.DeepEqual(read, cfg) {
				t.Fatalf("ReadExperimentCfg() = %+v, want %+v", read, cfg)
			}
		})
	}
}

func TestReadExperimentCfgFromBytes(t *testing.T) {
	dict := []byte(`
name: inline
application: test-record
engine:
  model: async
  transtimedist: uniform
  transtimeparams: "1,4"
topology:
  type: radius
  size: 10
  width: 50
  height: 50
  radius: 12
data:
  type: uniform
  min: 0
  max: 1
runner:
  timelimit: 30
  sampleperiod: 5
  repetitions: 1
`)
	cfg, err := ReadExperimentCfg("", true, dict)
	if err != nil {
		t.Fatalf("ReadExperimentCfg() = %v", err)
	}
	if cfg.Topology.Radius != 12.0 || cfg.Engine.TransTimeParams != "1,4" {
		t.Fatalf("ReadExperimentCfg() = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestExperimentCfgValidateReportsEveryProblem(t *testing.T) {
	cfg := testExperiment()
	cfg.Application = "missing"
	cfg.Engine.Model = "lockstep"
	cfg.Engine.TransTimeDist = "zipf"
	cfg.Topology.Type = "hypercube"
	cfg.Topology.CloudNodes = []int{99}
	cfg.Data.Type = "bimodal"
	cfg.Runner.SamplePeriod = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("Validate() accepted a broken configuration")
	}
	for _, want := range []string{"missing", "lockstep", "zipf", "hypercube", "cloudnodes", "bimodal", "sampleperiod"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Validate() = %v, does not mention %s", err, want)
		}
	}
}
