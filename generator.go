package dynsim

// generator.go holds the numeric generators used to sample transmission
// times and other configured quantities.  Samples come from gonum's
// univariate distributions, each driven by its own rngstream

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/iti/rngstream"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Generator produces samples of a configured distribution
type Generator interface {
	GenerateInteger() (int64, error)
	GenerateDouble() (float64, error)
}

// sampler is what every gonum univariate distribution offers
type sampler interface {
	Rand() float64
}

type constSampler float64

func (cs constSampler) Rand() float64 { return float64(cs) }

// streamSource lets gonum's samplers draw from an rngstream.  Each
// Uint64 is assembled from two U01 variates
type streamSource struct {
	rngstrm *rngstream.RngStream
}

func (src streamSource) Uint64() uint64 {
	hi := uint64(src.rngstrm.RandU01() * (1 << 32))
	lo := uint64(src.rngstrm.RandU01() * (1 << 32))
	return hi<<32 | lo
}

// Seed is a no-op; an rngstream carries its own seed state
func (src streamSource) Seed(seed uint64) {}

// distGenerator is the Generator for every supported distribution
type distGenerator struct {
	dist   string
	sample sampler
}

// distDesc gives the number of parameters a distribution needs, and builds its sampler
type distDesc struct {
	nParams int
	build   func(p []float64, src rand.Source) sampler
}

var distSamplers map[string]distDesc = map[string]distDesc{
	"constant": {nParams: 1, build: func(p []float64, src rand.Source) sampler { return constSampler(p[0]) }},
	"gaussian": {nParams: 2, build: func(p []float64, src rand.Source) sampler {
		return distuv.Normal{Mu: p[0], Sigma: p[1], Src: src}
	}},
	"poisson": {nParams: 1, build: func(p []float64, src rand.Source) sampler {
		return distuv.Poisson{Lambda: p[0], Src: src}
	}},
	"uniform": {nParams: 2, build: func(p []float64, src rand.Source) sampler {
		return distuv.Uniform{Min: p[0], Max: p[1], Src: src}
	}},
	"exponential": {nParams: 1, build: func(p []float64, src rand.Source) sampler {
		return distuv.Exponential{Rate: p[0], Src: src}
	}},
	"weibull": {nParams: 2, build: func(p []float64, src rand.Source) sampler {
		return distuv.Weibull{K: p[0], Lambda: p[1], Src: src}
	}},
}

// distribution aliases accepted in configurations
var distAliases map[string]string = map[string]string{
	"const":  "constant",
	"normal": "gaussian",
	"gauss":  "gaussian",
	"exp":    "exponential",
	"expon":  "exponential",
}

// CreateGenerator builds a Generator from a distribution name and a
// comma-separated parameter string, e.g. ("gaussian", "10,2").
//   - constant: value
//   - gaussian: mean, standard deviation
//   - poisson: mean
//   - uniform: low, high
//   - exponential: rate
//   - weibull: shape, scale
func CreateGenerator(dist, params string, name string) (Generator, error) {
	dist = strings.ToLower(strings.TrimSpace(dist))
	if alias, present := distAliases[dist]; present {
		dist = alias
	}
	desc, present := distSamplers[dist]
	if !present {
		return nil, &MathError{Dist: dist, Reason: "unknown distribution"}
	}

	values := []float64{}
	for _, field := range strings.Split(params, ",") {
		field = strings.TrimSpace(field)
		if len(field) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, &MathError{Dist: dist, Reason: fmt.Sprintf("parameter %q is not a number", field)}
		}
		values = append(values, v)
	}
	if len(values) != desc.nParams {
		return nil, &MathError{Dist: dist,
			Reason: fmt.Sprintf("expected %d parameters, got %d", desc.nParams, len(values))}
	}
	if err := checkParams(dist, values); err != nil {
		return nil, err
	}

	gen := new(distGenerator)
	gen.dist = dist
	gen.sample = desc.build(values, streamSource{rngstrm: rngstream.New(name)})
	return gen, nil
}

// CreateConstantGenerator gives a generator that always returns v
func CreateConstantGenerator(v float64) Generator {
	return &distGenerator{dist: "constant", sample: constSampler(v)}
}

func checkParams(dist string, p []float64) error {
	bad := ""
	switch dist {
	case "gaussian":
		if p[1] < 0.0 {
			bad = "standard deviation must be non-negative"
		}
	case "poisson":
		if p[0] <= 0.0 {
			bad = "mean must be positive"
		}
	case "uniform":
		if p[1] < p[0] {
			bad = "upper bound is below lower bound"
		}
	case "exponential":
		if p[0] <= 0.0 {
			bad = "rate must be positive"
		}
	case "weibull":
		if p[0] <= 0.0 || p[1] <= 0.0 {
			bad = "shape and scale must be positive"
		}
	}
	if len(bad) > 0 {
		return &MathError{Dist: dist, Reason: bad}
	}
	return nil
}

// GenerateDouble draws one sample
func (gen *distGenerator) GenerateDouble() (float64, error) {
	v := gen.sample.Rand()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0.0, &MathError{Dist: gen.dist, Reason: "sample is not a finite number"}
	}
	return v, nil
}

// GenerateInteger draws one sample, rounded to the nearest integer
func (gen *distGenerator) GenerateInteger() (int64, error) {
	v, err := gen.GenerateDouble()
	if err != nil {
		return 0, err
	}
	if math.Abs(v) > math.MaxInt64/2 {
		return 0, &MathError{Dist: gen.dist, Reason: "sample overflows an integer"}
	}
	return int64(math.Round(v)), nil
}
