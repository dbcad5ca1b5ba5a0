package dynsim

// schedule.go holds the time-ordered collection of event batches used
// by the communication engine.  Events are grouped by time; the earliest
// group is always removed as a unit.

import (
	"container/heap"
)

// timeHeap and its methods implement a min-priority heap on
// the times at which some batch of events is grouped.  A time may
// linger in the heap after its batch has been emptied by Remove; such
// stale entries are discarded when they reach the top
type timeHeap []int64

func (h timeHeap) Len() int           { return len(h) }
func (h timeHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h timeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *timeHeap) Push(x any) {
	*h = append(*h, x.(int64))
}

func (h *timeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// EventSchedule groups events by time, in insertion order within a time
type EventSchedule struct {
	times   timeHeap
	batches map[int64][]*Event

	// issued is the high-water mark of sequence numbers handed out for
	// each time.  It outlives the batch, so a fired key is never reissued
	issued map[int64]int
}

// CreateEventSchedule is a constructor
func CreateEventSchedule() *EventSchedule {
	es := new(EventSchedule)
	es.times = timeHeap{}
	es.batches = make(map[int64][]*Event)
	es.issued = make(map[int64]int)
	heap.Init(&es.times)
	return es
}

// Insert adds the event to the batch at its time, creating the batch
// if needed, and returns that time
func (es *EventSchedule) Insert(ev *Event) int64 {
	t := ev.Time()
	batch, present := es.batches[t]
	if !present || len(batch) == 0 {
		heap.Push(&es.times, t)
	}
	es.batches[t] = append(batch, ev)

	if key, keyed := ev.Key(); keyed && key.Seq >= es.issued[t] {
		es.issued[t] = key.Seq + 1
	}
	return t
}

// CountAt gives the number of events currently grouped at time t
func (es *EventSchedule) CountAt(t int64) int {
	return len(es.batches[t])
}

// NextSeq gives the sequence number a new keyed event at time t should
// carry.  It is never smaller than CountAt(t), and never repeats a number
// handed out earlier at t, whether that event is pending, fired or removed
func (es *EventSchedule) NextSeq(t int64) int {
	seq := es.issued[t]
	if count := es.CountAt(t); count > seq {
		seq = count
	}
	return seq
}

// discardStale pops heap entries whose batches no longer exist
func (es *EventSchedule) discardStale() {
	for es.times.Len() > 0 {
		t := es.times[0]
		if len(es.batches[t]) > 0 {
			return
		}
		heap.Pop(&es.times)
	}
}

// PeekEarliestTime returns the smallest time with a non-empty batch
func (es *EventSchedule) PeekEarliestTime() (int64, error) {
	es.discardStale()
	if es.times.Len() == 0 {
		return 0, ErrEmptySchedule
	}
	return es.times[0], nil
}

// PopEarliestBatch removes and returns the batch at the smallest time
func (es *EventSchedule) PopEarliestBatch() ([]*Event, error) {
	t, err := es.PeekEarliestTime()
	if err != nil {
		return nil, err
	}
	heap.Pop(&es.times)
	batch := es.batches[t]
	delete(es.batches, t)
	return batch, nil
}

// Lookup returns the pending event carrying key
func (es *EventSchedule) Lookup(key EventKey) (*Event, bool) {
	for _, ev := range es.batches[key.Time] {
		if k, keyed := ev.Key(); keyed && k == key {
			return ev, true
		}
	}
	return nil, false
}

// Remove deletes the first event in the batch at ev's time that matches ev,
// by key when ev is keyed and structurally otherwise.  The return tells
// whether a match was found
func (es *EventSchedule) Remove(ev *Event) bool {
	t := ev.Time()
	batch, present := es.batches[t]
	if !present {
		return false
	}
	for idx, cand := range batch {
		if !cand.matches(ev) {
			continue
		}
		batch = append(batch[:idx], batch[idx+1:]...)
		if len(batch) == 0 {
			// the heap entry for t goes stale and is dropped lazily
			delete(es.batches, t)
		} else {
			es.batches[t] = batch
		}
		return true
	}
	return false
}

// Clear empties the schedule
func (es *EventSchedule) Clear() {
	es.times = timeHeap{}
	es.batches = make(map[int64][]*Event)
	es.issued = make(map[int64]int)
	heap.Init(&es.times)
}

// Len gives the total number of pending events
func (es *EventSchedule) Len() int {
	n := 0
	for _, batch := range es.batches {
		n += len(batch)
	}
	return n
}

// Empty is true when no event is pending
func (es *EventSchedule) Empty() bool {
	_, err := es.PeekEarliestTime()
	return err != nil
}
