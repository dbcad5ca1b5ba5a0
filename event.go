package dynsim

// event.go holds the Event record that flows through both the engine's
// application schedule and the dynamics schedule.

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// EventKind tags what an Event asks the simulation to do
type EventKind int

const (
	TickEvent EventKind = iota
	MsgReceiveEvent
	MsgLossEvent
	ChurnEvent
	ValueChangeEvent
)

var eventKindToStr map[EventKind]string = map[EventKind]string{
	TickEvent:        "TICK",
	MsgReceiveEvent:  "MSG_RECEIVE",
	MsgLossEvent:     "MSG_LOSS",
	ChurnEvent:       "CHURN",
	ValueChangeEvent: "VALUE_CHANGE",
}

func (ek EventKind) String() string {
	str, present := eventKindToStr[ek]
	if present {
		return str
	}
	return "UNKNOWN(" + strconv.Itoa(int(ek)) + ")"
}

// NoNode is the node identifier carried by dynamics events, which
// are not addressed to any one node
const NoNode = -1

// EventKey identifies one scheduled event exactly.  Seq is the sequence
// number the event received among the events grouped at Time
type EventKey struct {
	Time int64
	Seq  int
}

// String gives the "{time}/{seq}" form of the key
func (ek EventKey) String() string {
	return strconv.FormatInt(ek.Time, 10) + "/" + strconv.Itoa(ek.Seq)
}

// ParseEventKey converts the "{time}/{seq}" form back into an EventKey
func ParseEventKey(str string) (EventKey, error) {
	pieces := strings.Split(str, "/")
	if len(pieces) != 2 {
		return EventKey{}, fmt.Errorf("malformed event key %q", str)
	}
	t, terr := strconv.ParseInt(pieces[0], 10, 64)
	if terr != nil {
		return EventKey{}, fmt.Errorf("malformed event key %q: %w", str, terr)
	}
	seq, serr := strconv.Atoi(pieces[1])
	if serr != nil {
		return EventKey{}, fmt.Errorf("malformed event key %q: %w", str, serr)
	}
	return EventKey{Time: t, Seq: seq}, nil
}

// An Event is either keyed, in which case it is matched for removal
// by its key alone, or unkeyed, in which case the (time, kind, node, payload)
// tuple is what identifies it.  Fields are fixed at construction.
type Event struct {
	time    int64
	node    int
	kind    EventKind
	payload any
	key     EventKey
	keyed   bool
}

// createEvent builds an unkeyed event
func createEvent(time int64, node int, kind EventKind, payload any) *Event {
	return &Event{time: time, node: node, kind: kind, payload: payload}
}

// createKeyedEvent builds an event that carries a dedup key
func createKeyedEvent(key EventKey, node int, kind EventKind, payload any) *Event {
	return &Event{time: key.Time, node: node, kind: kind, payload: payload, key: key, keyed: true}
}

// CreateEvent is the exported constructor for an unkeyed event, used by
// callers that need a probe for structural removal
func CreateEvent(time int64, node int, kind EventKind, payload any) *Event {
	return createEvent(time, node, kind, payload)
}

func (ev *Event) Time() int64     { return ev.time }
func (ev *Event) Node() int       { return ev.node }
func (ev *Event) Kind() EventKind { return ev.kind }
func (ev *Event) Payload() any    { return ev.payload }
func (ev *Event) Keyed() bool     { return ev.keyed }

// Key returns the dedup key and whether the event has one
func (ev *Event) Key() (EventKey, bool) {
	return ev.key, ev.keyed
}

// matches reports whether ev identifies the same scheduled event as probe.
// A keyed probe only matches a keyed event with the identical key; an
// unkeyed probe falls back to structural equality
func (ev *Event) matches(probe *Event) bool {
	if probe.keyed {
		return ev.keyed && ev.key == probe.key
	}
	return ev.time == probe.time && ev.kind == probe.kind &&
		ev.node == probe.node && reflect.DeepEqual(ev.payload, probe.payload)
}

func (ev *Event) String() string {
	keyStr := "-"
	if ev.keyed {
		keyStr = ev.key.String()
	}
	return fmt.Sprintf("[%d %s node=%d key=%s payload=%v]", ev.time, ev.kind, ev.node, keyStr, ev.payload)
}
