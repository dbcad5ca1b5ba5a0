package dynsim

import (
	"errors"
	"reflect"
	"testing"
)

func TestSynchronousRoundsOnRing(t *testing.T) {
	order := []int{}
	topo := buildTopology(t, "sync-ring", 4, &RingConnector{})
	engine := startEngine(t, topo, EngineOpts{Model: Synchronous,
		App: recordCtor(recordCfg{broadcast: true, order: &order})})

	if err := engine.Step(); err != nil {
		t.Fatalf("Step() = %v", err)
	}
	if got := engine.GlobalTime(); got != 1 {
		t.Fatalf("GlobalTime() after one step = %d, want 1", got)
	}

	for step := 2; step <= 3; step++ {
		if err := engine.Step(); err != nil {
			t.Fatalf("Step() %d = %v", step, err)
		}
	}
	if got := engine.GlobalTime(); got != 3 {
		t.Fatalf("GlobalTime() after three steps = %d, want 3", got)
	}

	wantOrder := []int{0, 1, 2, 3, 0, 1, 2, 3, 0, 1, 2, 3}
	if !reflect.DeepEqual(order, wantOrder) {
		t.Fatalf("state transition order = %v, want %v", order, wantOrder)
	}
	for id := 0; id < 4; id++ {
		app := appOf(t, topo, id)
		if app.rounds != 3 {
			t.Fatalf("node %d ran %d rounds, want 3", id, app.rounds)
		}
		if got := topo.Active[id].Received; got != 6 {
			t.Fatalf("node %d received %d messages, want 6", id, got)
		}
		if got := topo.Active[id].Pending(); got != 0 {
			t.Fatalf("node %d has %d buffered messages after its transition", id, got)
		}
	}
	if got := engine.TotalMessages(); got != 24 {
		t.Fatalf("TotalMessages() = %d, want 24", got)
	}
}

func TestSynchronousLoss(t *testing.T) {
	tests := []struct {
		name           string
		lossProb       float64
		toReceiver     bool
		steps          int
		wantLost       int
		wantReceived   int
		wantTotalMsgs  int
		wantPendingEvs int
	}{
		{"no loss", 0.0, false, 1, 0, 2, 8, 4},
		{"all lost at sender", 1.0, false, 1, 2, 0, 0, 4},
		{"all lost at receiver, pending", 1.0, true, 1, 0, 0, 0, 12},
		{"all lost at receiver, counted", 1.0, true, 2, 2, 0, 0, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo := buildTopology(t, "loss-"+tt.name, 4, &RingConnector{})
			engine := startEngine(t, topo, EngineOpts{Model: Synchronous, LossProb: tt.lossProb,
				LossToReceiver: tt.toReceiver, App: recordCtor(recordCfg{broadcast: true})})

			for step := 0; step < tt.steps; step++ {
				if err := engine.Step(); err != nil {
					t.Fatalf("Step() = %v", err)
				}
			}
			for id := 0; id < 4; id++ {
				node := topo.Active[id]
				if node.Lost != tt.wantLost {
					t.Fatalf("node %d Lost = %d, want %d", id, node.Lost, tt.wantLost)
				}
				if tt.steps == 1 && node.Received != tt.wantReceived {
					t.Fatalf("node %d Received = %d, want %d", id, node.Received, tt.wantReceived)
				}
			}
			if tt.steps == 1 && engine.TotalMessages() != tt.wantTotalMsgs {
				t.Fatalf("TotalMessages() = %d, want %d", engine.TotalMessages(), tt.wantTotalMsgs)
			}
			if got := engine.PendingEvents(); got != tt.wantPendingEvs {
				t.Fatalf("PendingEvents() = %d, want %d", got, tt.wantPendingEvs)
			}
		})
	}
}

func TestAsynchronousDelivery(t *testing.T) {
	topo := buildTopology(t, "async-pair", 2, &chainConnector{})
	engine := startEngine(t, topo, EngineOpts{Model: Asynchronous, TransTime: CreateConstantGenerator(3.0),
		RecordLatency: true, App: recordCtor(recordCfg{sendTo: map[int]int{0: 1}})})

	if err := engine.Step(); err != nil {
		t.Fatalf("Step() = %v", err)
	}
	if got := engine.GlobalTime(); got != 3 {
		t.Fatalf("GlobalTime() = %d, want 3", got)
	}
	receiver := topo.Active[1]
	if got := receiver.Pending(); got != 1 {
		t.Fatalf("receiver buffers %d messages before delivery, want 1", got)
	}
	if ev := appOf(t, topo, 1).lastEvent; ev == nil || ev.Kind() != TickEvent {
		t.Fatalf("last event handed to node 1 = %v, want a TICK", ev)
	}

	if err := engine.Step(); err != nil {
		t.Fatalf("Step() = %v", err)
	}
	app := appOf(t, topo, 1)
	if len(app.received) != 1 || app.received[0].Payload != "hello" || app.received[0].From != 0 {
		t.Fatalf("node 1 received %v", app.received)
	}
	if receiver.Received != 1 || receiver.Pending() != 0 {
		t.Fatalf("receiver Received = %d, Pending = %d, want 1, 0", receiver.Received, receiver.Pending())
	}
	if got := topo.Active[0].Sent; got != 1 {
		t.Fatalf("sender Sent = %d, want 1", got)
	}
	if got := engine.MessageLatencies(); !reflect.DeepEqual(got, map[int64]int{3: 1}) {
		t.Fatalf("MessageLatencies() = %v, want map[3:1]", got)
	}

	if err := engine.Step(); !errors.Is(err, ErrEmptySchedule) {
		t.Fatalf("Step() on empty schedule = %v, want ErrEmptySchedule", err)
	}
}

func TestSetTimeoutAndCancel(t *testing.T) {
	topo := buildTopology(t, "timeouts", 2, &chainConnector{})
	engine := startEngine(t, topo, EngineOpts{Model: Asynchronous, App: recordCtor(recordCfg{})})

	if _, err := engine.SetTimeout(0, 0, nil); !errors.Is(err, ErrInvalidTimeout) {
		t.Fatalf("SetTimeout(0) = %v, want ErrInvalidTimeout", err)
	}
	if _, err := engine.SetTimeout(-2, 0, nil); !errors.Is(err, ErrInvalidTimeout) {
		t.Fatalf("SetTimeout(-2) = %v, want ErrInvalidTimeout", err)
	}

	first, err := engine.SetTimeout(5, 0, "retry")
	if err != nil {
		t.Fatalf("SetTimeout(5) = %v", err)
	}
	second, err := engine.SetTimeout(5, 1, "retry")
	if err != nil {
		t.Fatalf("SetTimeout(5) = %v", err)
	}
	if first.Time != 5 || first == second {
		t.Fatalf("keys %s and %s", first, second)
	}

	if !engine.Cancel(first, 0) {
		t.Fatalf("Cancel(%s) = false for a pending timeout", first)
	}
	if engine.Cancel(first, 0) {
		t.Fatalf("Cancel(%s) = true for a cancelled timeout", first)
	}

	third, err := engine.SetTimeout(5, 0, "retry")
	if err != nil {
		t.Fatalf("SetTimeout(5) = %v", err)
	}
	if third == second {
		t.Fatalf("SetTimeout() reissued pending key %s", second)
	}
	if got := engine.Schedule().CountAt(5); got != 2 {
		t.Fatalf("CountAt(5) = %d, want 2", got)
	}
}

func TestSendWithInvalidTransmissionTime(t *testing.T) {
	topo := buildTopology(t, "zero-delay", 2, &chainConnector{})
	engine := startEngine(t, topo, EngineOpts{Model: Asynchronous, TransTime: zeroGenerator{},
		App: recordCtor(recordCfg{})})

	if _, err := engine.Send(CreateMessage(0, 1, "x")); !errors.Is(err, ErrInvalidTransmissionTime) {
		t.Fatalf("Send() = %v, want ErrInvalidTransmissionTime", err)
	}
}

func TestUnknownEventKindIsFatal(t *testing.T) {
	for _, model := range []ExecModel{Synchronous, Asynchronous} {
		t.Run(model.String(), func(t *testing.T) {
			topo := buildTopology(t, "unknown-"+model.String(), 2, &chainConnector{})
			engine := startEngine(t, topo, EngineOpts{Model: model, App: recordCtor(recordCfg{})})
			engine.Schedule().Insert(CreateEvent(1, 0, ChurnEvent, nil))

			err := engine.Step()
			var kindErr *UnknownEventKindError
			if !errors.As(err, &kindErr) {
				t.Fatalf("Step() = %v, want UnknownEventKindError", err)
			}
			if !IsCritical(err) {
				t.Fatalf("IsCritical(%v) = false", err)
			}
		})
	}
}

func TestBroadcastSharesOneID(t *testing.T) {
	topo := buildTopology(t, "broadcast", 4, &RingConnector{})
	engine := startEngine(t, topo, EngineOpts{Model: Synchronous, App: recordCtor(recordCfg{})})

	msg := CreateBroadcast(0, "x")
	if _, err := engine.Broadcast(msg); err != nil {
		t.Fatalf("Broadcast() = %v", err)
	}
	if msg.ID != "1-0-ANY" {
		t.Fatalf("broadcast ID = %q, want 1-0-ANY", msg.ID)
	}
	if !reflect.DeepEqual(msg.Dests, []int{1, 3}) {
		t.Fatalf("broadcast Dests = %v, want [1 3]", msg.Dests)
	}
	for _, id := range msg.Dests {
		cpy, present := topo.Active[id].fetch("1-0-ANY")
		if !present || !cpy.IsBroadcast() {
			t.Fatalf("node %d did not buffer the broadcast", id)
		}
	}
	if got := topo.Active[0].Sent; got != 2 {
		t.Fatalf("sender Sent = %d, want 2", got)
	}

	next := CreateBroadcast(0, "y")
	if _, err := engine.Broadcast(next); err != nil {
		t.Fatalf("Broadcast() = %v", err)
	}
	if next.ID == msg.ID {
		t.Fatalf("two broadcasts share ID %q", next.ID)
	}
}

func TestSendToDepartedNode(t *testing.T) {
	topo := buildTopology(t, "departed", 4, &RingConnector{})
	engine := startEngine(t, topo, EngineOpts{Model: Synchronous, App: recordCtor(recordCfg{})})
	topo.RemoveNodes([]int{2})

	if _, err := engine.Send(CreateMessage(1, 2, "x")); err != nil {
		t.Fatalf("Send() to departed node = %v", err)
	}
	if got := topo.Active[1].Lost; got != 1 {
		t.Fatalf("sender Lost = %d, want 1", got)
	}
	if _, err := engine.Send(CreateMessage(2, 1, "x")); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("Send() from departed node = %v, want ErrUnknownNode", err)
	}
}

func TestApplicationErrorIsWrapped(t *testing.T) {
	topo := buildTopology(t, "app-error", 3, &RingConnector{})
	engine := startEngine(t, topo, EngineOpts{Model: Synchronous,
		App: recordCtor(recordCfg{failOn: "MessageGeneration"})})

	err := engine.Step()
	var appErr *ApplicationError
	if !errors.As(err, &appErr) || appErr.Callback != "MessageGeneration" {
		t.Fatalf("Step() = %v, want ApplicationError from MessageGeneration", err)
	}
	if !errors.Is(err, errBoom) {
		t.Fatalf("Step() = %v does not wrap the application's error", err)
	}
}

func TestStateChangedFlag(t *testing.T) {
	tests := []struct {
		name string
		bump bool
		want bool
	}{
		{"value changes", true, true},
		{"value steady", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo := buildTopology(t, "state-"+tt.name, 3, &RingConnector{})
			engine := startEngine(t, topo, EngineOpts{Model: Synchronous,
				App: recordCtor(recordCfg{bump: tt.bump})})
			if !engine.HasStateChanged() {
				t.Fatalf("HasStateChanged() = false after Start")
			}
			engine.ClearStateChanged()

			if err := engine.Step(); err != nil {
				t.Fatalf("Step() = %v", err)
			}
			if got := engine.HasStateChanged(); got != tt.want {
				t.Fatalf("HasStateChanged() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCreateComEngineRejectsBadOptions(t *testing.T) {
	topo := buildTopology(t, "bad-opts", 2, &chainConnector{})
	if _, err := CreateComEngine(topo, EngineOpts{LossProb: 1.5, App: recordCtor(recordCfg{})}); err == nil {
		t.Fatalf("CreateComEngine() accepted loss probability 1.5")
	}
	var cfgErr *ConfigError
	if _, err := CreateComEngine(topo, EngineOpts{}); !errors.As(err, &cfgErr) {
		t.Fatalf("CreateComEngine() without application = %v, want ConfigError", err)
	}
}

func TestExecModelFromStr(t *testing.T) {
	tests := []struct {
		in      string
		want    ExecModel
		wantErr bool
	}{
		{"sync", Synchronous, false},
		{"Asynchronous", Asynchronous, false},
		{"async", Asynchronous, false},
		{"lockstep", Synchronous, true},
	}
	for _, tt := range tests {
		got, err := ExecModelFromStr(tt.in)
		if (err != nil) != tt.wantErr || (!tt.wantErr && got != tt.want) {
			t.Fatalf("ExecModelFromStr(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestAsynchronousLoss(t *testing.T) {
	// every node sends once to its ring successor on its first tick
	tests := []struct {
		name         string
		lossProb     float64
		toReceiver   bool
		steps        int
		wantLost     int
		wantReceived int
		wantSent     int
		wantPending  int
	}{
		{"no loss", 0.0, false, 2, 0, 1, 1, 0},
		{"all lost at sender", 1.0, false, 1, 1, 0, 0, 0},
		{"all lost at receiver, in flight", 1.0, true, 1, 0, 0, 0, 4},
		{"all lost at receiver, counted", 1.0, true, 2, 1, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo := buildTopology(t, "async-loss-"+tt.name, 4, &RingConnector{})
			sendTo := map[int]int{0: 1, 1: 2, 2: 3, 3: 0}
			engine := startEngine(t, topo, EngineOpts{Model: Asynchronous, LossProb: tt.lossProb,
				LossToReceiver: tt.toReceiver, App: recordCtor(recordCfg{sendTo: sendTo})})

			for step := 0; step < tt.steps; step++ {
				if err := engine.Step(); err != nil {
					t.Fatalf("Step() = %v", err)
				}
			}
			for id := 0; id < 4; id++ {
				node := topo.Active[id]
				if node.Lost != tt.wantLost || node.Received != tt.wantReceived || node.Sent != tt.wantSent {
					t.Fatalf("node %d Lost, Received, Sent = %d, %d, %d, want %d, %d, %d", id,
						node.Lost, node.Received, node.Sent, tt.wantLost, tt.wantReceived, tt.wantSent)
				}
				if got := len(appOf(t, topo, id).received); got != tt.wantReceived {
					t.Fatalf("node %d application saw %d messages, want %d", id, got, tt.wantReceived)
				}
			}
			if got := engine.PendingEvents(); got != tt.wantPending {
				t.Fatalf("PendingEvents() = %d, want %d", got, tt.wantPending)
			}
			if got := engine.TotalMessages(); got != 4*tt.wantSent {
				t.Fatalf("TotalMessages() = %d, want %d", got, 4*tt.wantSent)
			}
		})
	}
}

func TestBroadcastOverOverlay(t *testing.T) {
	tests := []struct {
		name       string
		useOverlay bool
		wantMsgs   int
		wantAt3    int
	}{
		{"physical", false, 8, 2},
		{"overlay", true, 6, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo := buildTopology(t, "overlay-"+tt.name, 4, &RingConnector{})
			topo.ComputeOverlay()
			engine := startEngine(t, topo, EngineOpts{Model: Synchronous, UseOverlay: tt.useOverlay,
				App: recordCtor(recordCfg{broadcast: true})})
			if err := engine.Step(); err != nil {
				t.Fatalf("Step() = %v", err)
			}
			if got := engine.TotalMessages(); got != tt.wantMsgs {
				t.Fatalf("TotalMessages() = %d, want %d", got, tt.wantMsgs)
			}
			if got := topo.Active[3].Received; got != tt.wantAt3 {
				t.Fatalf("node 3 Received = %d, want %d", got, tt.wantAt3)
			}
		})
	}
}

func TestFiredKeyIsNeverReissued(t *testing.T) {
	topo := buildTopology(t, "stale-keys", 3, &chainConnector{})
	engine := startEngine(t, topo, EngineOpts{Model: Asynchronous, App: recordCtor(recordCfg{})})

	stale, err := engine.SetTimeout(1, 0, "retry")
	if err != nil {
		t.Fatalf("SetTimeout() = %v", err)
	}
	// fires the start TICKs and the timeout, all at time 1
	if err := engine.Step(); err != nil {
		t.Fatalf("Step() = %v", err)
	}

	fresh, err := engine.SetTimeout(1, 2, "retry")
	if err != nil {
		t.Fatalf("SetTimeout() = %v", err)
	}
	if fresh.Time == stale.Time && fresh.Seq <= stale.Seq {
		t.Fatalf("SetTimeout() reissued key %s after %s fired", fresh, stale)
	}
	if engine.Cancel(stale, 0) {
		t.Fatalf("Cancel(%s) = true for a fired timeout", stale)
	}
	if engine.Cancel(EventKey{Time: 1, Seq: 0}, 0) {
		t.Fatalf("Cancel() removed an event through the key of a fired TICK")
	}
	if engine.Cancel(fresh, 0) {
		t.Fatalf("Cancel(%s) for node 0 removed the timeout of node 2", fresh)
	}
	if got := engine.PendingEvents(); got != 1 {
		t.Fatalf("PendingEvents() = %d, want 1", got)
	}
	if !engine.Cancel(fresh, 2) {
		t.Fatalf("Cancel(%s) = false for the owner of the timeout", fresh)
	}
}
