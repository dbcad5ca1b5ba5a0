package dynsim

// application.go defines the capability every simulated algorithm offers
// to the engine, and the registry through which algorithms are found by name

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// AppParams carries the already-parsed parameters of an algorithm
type AppParams map[string]string

// Application is implemented once per simulated algorithm, one instance per node.
// The synchronous model calls MessageGeneration and StateTransition; the
// asynchronous model calls OnReceive and OnTick.
type Application interface {
	Init(params AppParams, simIdx, repIdx int) error
	Init2() error
	MessageGeneration() error
	StateTransition(msgs []*Message) error
	OnReceive(msg *Message) error
	OnTick() error
	Value() float64
	InitValue() float64
	SetInitValue(v float64)
	SetLastEvent(ev *Event)
}

// AppConstructor builds the Application for one node.  The engine is
// handed over so the application can send messages and set timeouts
type AppConstructor func(node *Node, engine *ComEngine) Application

var appRegistry map[string]AppConstructor = make(map[string]AppConstructor)

// RegisterApplication binds an algorithm name to its constructor
func RegisterApplication(name string, ctor AppConstructor) {
	_, present := appRegistry[name]
	if present {
		panic(fmt.Errorf("application %q registered twice", name))
	}
	appRegistry[name] = ctor
}

// LookupApplication finds the constructor registered under name
func LookupApplication(name string) (AppConstructor, error) {
	ctor, present := appRegistry[name]
	if !present {
		return nil, &ConfigError{Param: "application", Reason: fmt.Sprintf("no application registered as %q", name)}
	}
	return ctor, nil
}

// ApplicationNames lists the registered algorithms
func ApplicationNames() []string {
	names := make([]string, 0, len(appRegistry))
	for name := range appRegistry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
