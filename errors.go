package dynsim

import (
	"errors"
	"fmt"
)

// sentinel errors for engine-invariant violations.  These are fatal to a run
var (
	ErrEmptySchedule           = errors.New("event schedule is empty")
	ErrInvalidTimeout          = errors.New("timeout delay must be positive")
	ErrInvalidTransmissionTime = errors.New("transmission time generator produced a delay below 1 twice")
	ErrUnknownNode             = errors.New("unknown node")
)

// UnknownEventKindError is raised when a batch holds an event kind the
// executing model does not handle
type UnknownEventKindError struct {
	Model string
	Event *Event
}

func (e *UnknownEventKindError) Error() string {
	return fmt.Sprintf("%s model cannot dispatch event %s", e.Model, e.Event)
}

// ConfigError reports a malformed parameter found while constructing
// a component.  Param names the offending configuration key
type ConfigError struct {
	Param  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration parameter %q: %s", e.Param, e.Reason)
}

// NetworkError reports a condition of the simulated network.  When Critical
// is false the error only invalidates the repetition in which it was raised
type NetworkError struct {
	Critical bool
	Time     int64
	Reason   string
}

func (e *NetworkError) Error() string {
	severity := "critical"
	if !e.Critical {
		severity = "non-critical"
	}
	return fmt.Sprintf("%s network error at time %d: %s", severity, e.Time, e.Reason)
}

// ApplicationError wraps a failure returned by a node's Application callback
type ApplicationError struct {
	Node     int
	Callback string
	Err      error
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("application on node %d failed in %s: %v", e.Node, e.Callback, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}

// MathError is returned by the numeric generators
type MathError struct {
	Dist   string
	Reason string
}

func (e *MathError) Error() string {
	return fmt.Sprintf("generator %q: %s", e.Dist, e.Reason)
}

// IsCritical reports whether err must abort the whole experiment.  Only
// a non-critical NetworkError is allowed to be absorbed by discarding the
// current repetition
func IsCritical(err error) bool {
	if err == nil {
		return false
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Critical
	}
	return true
}

// ReportErrs gathers the non-nil errors of a list into a single error.  The
// constituents stay reachable through errors.Is and errors.As
func ReportErrs(errs []error) error {
	nonNil := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}
	return errors.Join(nonNil...)
}
