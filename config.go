package dynsim

// config.go holds the serializable description of an experiment: which
// algorithm runs, over what topology, under what dynamics and for how long.
// It is read from and written to json or yaml files.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// EngineCfg describes the communication engine of every repetition
type EngineCfg struct {
	Model          string  `json:"model" yaml:"model"`
	Aggregation    string  `json:"aggregation" yaml:"aggregation"`
	LossProb       float64 `json:"lossprob" yaml:"lossprob"`
	LossToReceiver bool    `json:"losstoreceiver" yaml:"losstoreceiver"`

	// distribution and comma-separated parameters of the transmission time.
	// An empty distribution means every transmission takes one time unit
	TransTimeDist   string `json:"transtimedist" yaml:"transtimedist"`
	TransTimeParams string `json:"transtimeparams" yaml:"transtimeparams"`

	RecordLatency bool `json:"recordlatency" yaml:"recordlatency"`
	UseOverlay    bool `json:"useoverlay" yaml:"useoverlay"`
	Debug         bool `json:"debug" yaml:"debug"`
}

// TopologyCfg describes how the initial network of every repetition is generated
type TopologyCfg struct {
	Type       string  `json:"type" yaml:"type"`
	Size       int     `json:"size" yaml:"size"`
	Width      float64 `json:"width" yaml:"width"`
	Height     float64 `json:"height" yaml:"height"`
	Degree     int     `json:"degree" yaml:"degree"`
	Radius     float64 `json:"radius" yaml:"radius"`
	CloudNodes []int   `json:"cloudnodes" yaml:"cloudnodes"`

	// compute the spanning-tree overlay once the network is generated
	Overlay bool `json:"overlay" yaml:"overlay"`
}

// RunnerCfg describes the repetitions of an experiment
type RunnerCfg struct {
	TimeLimit    int64 `json:"timelimit" yaml:"timelimit"`
	SamplePeriod int64 `json:"sampleperiod" yaml:"sampleperiod"`
	Repetitions  int   `json:"repetitions" yaml:"repetitions"`

	// largest number of repetitions run at once; 0 or 1 runs them in sequence
	Parallel int `json:"parallel" yaml:"parallel"`
}

// ExperimentCfg is the complete description of an experiment
type ExperimentCfg struct {
	Name        string         `json:"name" yaml:"name"`
	Application string         `json:"application" yaml:"application"`
	AppParams   AppParams      `json:"appparams" yaml:"appparams"`
	Engine      EngineCfg      `json:"engine" yaml:"engine"`
	Topology    TopologyCfg    `json:"topology" yaml:"topology"`
	Data        DataDistCfg    `json:"data" yaml:"data"`
	Churn       ChurnCfg       `json:"churn" yaml:"churn"`
	ValueChange ValueChangeCfg `json:"valuechange" yaml:"valuechange"`
	Runner      RunnerCfg      `json:"runner" yaml:"runner"`
}

// topoParams extracts the parameters of the topology family
func (cfg *ExperimentCfg) topoParams() TopoParams {
	return TopoParams{Degree: cfg.Topology.Degree, Radius: cfg.Topology.Radius}
}

// Validate checks every section of the configuration and reports all the
// problems found at once
func (cfg *ExperimentCfg) Validate() error {
	errs := []error{}

	if len(cfg.Name) == 0 {
		errs = append(errs, &ConfigError{Param: "name", Reason: "experiment needs a name"})
	}
	if _, err := LookupApplication(cfg.Application); err != nil {
		errs = append(errs, err)
	}

	if _, err := ExecModelFromStr(cfg.Engine.Model); err != nil {
		errs = append(errs, err)
	}
	if cfg.Engine.LossProb < 0.0 || cfg.Engine.LossProb > 1.0 {
		errs = append(errs, &ConfigError{Param: "engine.lossprob",
			Reason: fmt.Sprintf("%v is not a probability", cfg.Engine.LossProb)})
	}
	if len(cfg.Engine.TransTimeDist) > 0 {
		if _, err := CreateGenerator(cfg.Engine.TransTimeDist, cfg.Engine.TransTimeParams, cfg.Name+"-check"); err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := CreateConnector(cfg.Topology.Type, cfg.topoParams()); err != nil {
		errs = append(errs, err)
	}
	if cfg.Topology.Size < 1 {
		errs = append(errs, &ConfigError{Param: "topology.size", Reason: "network needs at least one node"})
	}
	if cfg.Topology.Width <= 0.0 || cfg.Topology.Height <= 0.0 {
		errs = append(errs, &ConfigError{Param: "topology.width", Reason: "deployment area needs positive extent"})
	}
	for _, id := range cfg.Topology.CloudNodes {
		if id < 0 || id >= cfg.Topology.Size {
			errs = append(errs, &ConfigError{Param: "topology.cloudnodes",
				Reason: fmt.Sprintf("node %d is not among the %d initial nodes", id, cfg.Topology.Size)})
		}
	}

	if _, present := dataDistRegistry[cfg.Data.Type]; !present {
		errs = append(errs, &ConfigError{Param: "datadist.type", Reason: fmt.Sprintf("unknown data distribution %q", cfg.Data.Type)})
	}

	errs = append(errs, cfg.Churn.Validate(), cfg.ValueChange.Validate())

	if cfg.Runner.TimeLimit < 1 {
		errs = append(errs, &ConfigError{Param: "runner.timelimit", Reason: "time limit must be positive"})
	}
	if cfg.Runner.SamplePeriod < 1 {
		errs = append(errs, &ConfigError{Param: "runner.sampleperiod", Reason: "sample period must be positive"})
	}
	if cfg.Runner.Repetitions < 1 {
		errs = append(errs, &ConfigError{Param: "runner.repetitions", Reason: "at least one repetition is needed"})
	}
	return ReportErrs(errs)
}

// WriteToFile stores the ExperimentCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (cfg *ExperimentCfg) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	switch pathExt {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(*cfg)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(*cfg, "", "\t")
	default:
		return fmt.Errorf("experiment file %s needs a .yaml or .json extension", filename)
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, bytes, 0644)
}

// ReadExperimentCfg deserializes a byte slice holding a representation of an ExperimentCfg struct.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.
func ReadExperimentCfg(filename string, useYAML bool, dict []byte) (*ExperimentCfg, error) {
	var err error

	if len(dict) == 0 {
		fileInfo, serr := os.Stat(filename)
		if os.IsNotExist(serr) || (serr == nil && fileInfo.IsDir()) {
			return nil, fmt.Errorf("experiment %s does not exist or cannot be read", filename)
		}
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := ExperimentCfg{}
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
