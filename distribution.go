package dynsim

// distribution.go holds the spatial data distributions that assign each
// newly placed node its initial data value

import (
	"fmt"

	"github.com/iti/rngstream"
)

// DataDistribution assigns a node's initial data value, typically as a
// function of its position
type DataDistribution interface {
	SetDataDistribution(node *Node)
}

// ConstantData gives every node the same value
type ConstantData struct {
	Value float64
}

func (cd *ConstantData) SetDataDistribution(node *Node) {
	node.SetInitValue(cd.Value)
}

// UniformData draws each node's value uniformly from [Min, Max)
type UniformData struct {
	Min, Max float64
	rngstrm  *rngstream.RngStream
}

// CreateUniformData is a constructor
func CreateUniformData(min, max float64, name string) *UniformData {
	return &UniformData{Min: min, Max: max, rngstrm: rngstream.New(name)}
}

func (ud *UniformData) SetDataDistribution(node *Node) {
	node.SetInitValue(ud.Min + ud.rngstrm.RandU01()*(ud.Max-ud.Min))
}

// GradientData makes the value grow linearly with the node's x position,
// from Min at x=0 to Max at x=Width
type GradientData struct {
	Min, Max float64
	Width    float64
}

func (gd *GradientData) SetDataDistribution(node *Node) {
	frac := 0.0
	if gd.Width > 0.0 {
		frac = node.Pos.X / gd.Width
	}
	node.SetInitValue(gd.Min + frac*(gd.Max-gd.Min))
}

// DataDistCfg is the serializable description of a data distribution
type DataDistCfg struct {
	Type string  `json:"type" yaml:"type"`
	Min  float64 `json:"min" yaml:"min"`
	Max  float64 `json:"max" yaml:"max"`
}

// DataDistConstructor builds a distribution for a topology of the given width
type DataDistConstructor func(cfg DataDistCfg, width float64, name string) DataDistribution

var dataDistRegistry map[string]DataDistConstructor = map[string]DataDistConstructor{
	"constant": func(cfg DataDistCfg, width float64, name string) DataDistribution {
		return &ConstantData{Value: cfg.Min}
	},
	"uniform": func(cfg DataDistCfg, width float64, name string) DataDistribution {
		return CreateUniformData(cfg.Min, cfg.Max, name)
	},
	"gradient": func(cfg DataDistCfg, width float64, name string) DataDistribution {
		return &GradientData{Min: cfg.Min, Max: cfg.Max, Width: width}
	},
}

// RegisterDataDistribution binds a distribution name to its constructor
func RegisterDataDistribution(name string, ctor DataDistConstructor) {
	_, present := dataDistRegistry[name]
	if present {
		panic(fmt.Errorf("data distribution %q registered twice", name))
	}
	dataDistRegistry[name] = ctor
}

// CreateDataDistribution resolves the named distribution
func CreateDataDistribution(cfg DataDistCfg, width float64, name string) (DataDistribution, error) {
	ctor, present := dataDistRegistry[cfg.Type]
	if !present {
		return nil, &ConfigError{Param: "datadist.type", Reason: fmt.Sprintf("unknown data distribution %q", cfg.Type)}
	}
	return ctor(cfg, width, name), nil
}
