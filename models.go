package dynsim

// models.go holds the two execution models of the engine.  Both pop the
// earliest batch of events from the engine's schedule, dispatch it to the
// Applications of live nodes, and move the global clock to the time of
// the next pending batch.
//
// The synchronous model follows Lynch's round model: every TICK is a round
// in which nodes generate messages, and every active node then performs one
// state transition on the messages that reached it, in ascending id order.
// The asynchronous model is purely event driven; a node runs only when a
// message or one of its timeouts reaches it.

import (
	"fmt"

	"github.com/iti/dynsim/internal/logging"
)

// Step runs the engine's execution model once
func (e *ComEngine) Step() error {
	if e.globalTime == 0 && !e.init2Done {
		if err := e.runInit2(); err != nil {
			return err
		}
	}

	var err error
	switch e.Model {
	case Synchronous:
		err = e.stepSynchronous()
	case Asynchronous:
		err = e.stepAsynchronous()
	default:
		err = fmt.Errorf("unsupported execution model %d", e.Model)
	}
	e.reportNodes()
	return err
}

// invoke runs one Application callback of node and notes whether the
// node's observable value changed
func (e *ComEngine) invoke(node *Node, callback string, call func(Application) error) error {
	before := node.App.Value()
	if err := call(node.App); err != nil {
		return &ApplicationError{Node: node.ID, Callback: callback, Err: err}
	}
	if node.App.Value() != before {
		e.stateChanged = true
	}
	return nil
}

// liveNode returns the node an event is addressed to, unless it has departed
func (e *ComEngine) liveNode(ev *Event) (*Node, bool) {
	if e.topo.IsDead(ev.Node()) {
		return nil, false
	}
	node, present := e.topo.Active[ev.Node()]
	if !present || node.App == nil {
		return nil, false
	}
	return node, true
}

// stepSynchronous runs one full round
func (e *ComEngine) stepSynchronous() error {
	batch, err := e.schedule.PopEarliestBatch()
	if err != nil {
		return fmt.Errorf("synchronous step at time %d: %w", e.globalTime, err)
	}

	// message generation phase, in batch order
	for _, ev := range batch {
		node, live := e.liveNode(ev)
		if !live {
			continue
		}
		e.traceEvent(ev)

		switch ev.Kind() {
		case TickEvent:
			err := e.invoke(node, "MessageGeneration", func(app Application) error {
				return app.MessageGeneration()
			})
			if err != nil {
				return err
			}
			// rounds advance one time unit at a time, whatever the transmission generator says
			e.scheduleKeyed(e.globalTime+1, node.ID, TickEvent, ev.Payload())

		case MsgLossEvent:
			node.Lost += 1
			e.metrics.lost()

		default:
			return &UnknownEventKindError{Model: Synchronous.String(), Event: ev}
		}
	}

	// state transition phase, for every active node in ascending id order
	for _, id := range e.topo.ActiveIDs() {
		node := e.topo.Active[id]
		if node.App == nil {
			continue
		}
		msgs := node.drain()
		node.Received += len(msgs)
		err := e.invoke(node, "StateTransition", func(app Application) error {
			return app.StateTransition(msgs)
		})
		if err != nil {
			return err
		}
	}

	e.advance()
	return nil
}

// stepAsynchronous dispatches the earliest batch of events
func (e *ComEngine) stepAsynchronous() error {
	batch, err := e.schedule.PopEarliestBatch()
	if err != nil {
		return fmt.Errorf("asynchronous step at time %d: %w", e.globalTime, err)
	}

	for _, ev := range batch {
		node, live := e.liveNode(ev)
		if !live {
			continue
		}
		e.traceEvent(ev)

		switch ev.Kind() {
		case MsgReceiveEvent:
			msgID, _ := ev.Payload().(string)
			msg, present := node.fetch(msgID)
			if !present {
				e.logger.Warn("receive event for a message not in the buffer",
					logging.Int("node", node.ID), logging.String("msg", msgID))
				continue
			}
			node.Received += 1
			err := e.invoke(node, "OnReceive", func(app Application) error {
				return app.OnReceive(msg)
			})
			if err != nil {
				return err
			}
			node.discard(msgID)

		case TickEvent:
			err := e.invoke(node, "OnTick", func(app Application) error {
				app.SetLastEvent(ev)
				return app.OnTick()
			})
			if err != nil {
				return err
			}

		case MsgLossEvent:
			node.Lost += 1
			e.metrics.lost()

		default:
			return &UnknownEventKindError{Model: Asynchronous.String(), Event: ev}
		}
	}

	e.advance()
	return nil
}

// advance moves the clock to the earliest pending batch.  With nothing
// pending the clock stays where it is
func (e *ComEngine) advance() {
	t, err := e.schedule.PeekEarliestTime()
	if err != nil {
		return
	}
	if t > e.globalTime {
		e.globalTime = t
	}
}

// advanceTo moves an idle clock forward to t, running the deferred
// initialization first if no step has happened yet
func (e *ComEngine) advanceTo(t int64) error {
	if !e.init2Done {
		if err := e.runInit2(); err != nil {
			return err
		}
	}
	if t > e.globalTime {
		e.globalTime = t
	}
	return nil
}

// traceEvent logs and records a dispatched event when asked to
func (e *ComEngine) traceEvent(ev *Event) {
	if e.Debug {
		e.logger.Debug("dispatch", logging.Int64("time", e.globalTime), logging.String("event", ev.String()))
	}
	if e.traceMgr != nil {
		e.traceMgr.AddEventTrace(e.globalTime, e.simIdx, e.repIdx, ev)
	}
}
