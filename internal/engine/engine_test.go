package engine

import (
	"testing"
	"time"

	"xcomfortd/internal/wire"
)

type fakeTransport struct {
	canSend bool
	sent    [][]byte
}

func (f *fakeTransport) CanSend() bool { return f.canSend }

func (f *fakeTransport) Send(buf []byte) error {
	frame := make([]byte, len(buf))
	copy(frame, buf)
	f.sent = append(f.sent, frame)
	return nil
}

type fakePublisher struct {
	published []publishedStatus
}

type publishedStatus struct {
	datapoint uint8
	value     int32
}

func (f *fakePublisher) PublishStatus(dp uint8, value int32, _ wire.RxDataType) {
	f.published = append(f.published, publishedStatus{dp, value})
}

type fakeLogger struct{}

func (fakeLogger) Infof(string, ...interface{})  {}
func (fakeLogger) Errorf(string, ...interface{}) {}

func newTestEngine() (*Engine, *fakeTransport, *fakePublisher) {
	transport := &fakeTransport{canSend: true}
	publisher := &fakePublisher{}
	e := New(transport, publisher, fakeLogger{}, DefaultWindow)
	return e, transport, publisher
}

func TestWindowIsClamped(t *testing.T) {
	e := New(&fakeTransport{}, &fakePublisher{}, fakeLogger{}, 0)
	if e.window != DefaultWindow {
		t.Errorf("window = %d, want DefaultWindow", e.window)
	}

	e = New(&fakeTransport{}, &fakePublisher{}, fakeLogger{}, 100)
	if e.window != DefaultModulus/2 {
		t.Errorf("window = %d, want %d", e.window, DefaultModulus/2)
	}
}

func TestEnqueueCreatesEntry(t *testing.T) {
	e, _, _ := newTestEngine()
	e.enqueue(7, 1, wire.TxSwitch)

	dp, ok := e.queue[7]
	if !ok {
		t.Fatal("enqueue did not create an entry")
	}
	if dp.NewValue != 1 || dp.Event != wire.TxSwitch {
		t.Errorf("entry = %+v, want NewValue=1 Event=SWITCH", dp)
	}
}

func TestEnqueueCoalescesSupersededValue(t *testing.T) {
	e, _, _ := newTestEngine()
	e.enqueue(7, 1, wire.TxSwitch)
	e.queue[7].SentStatusRequests = 2 // simulate some prior activity
	e.enqueue(7, 0, wire.TxSwitch)

	dp := e.queue[7]
	if dp.NewValue != 0 {
		t.Errorf("NewValue = %d, want 0 (latest intent wins)", dp.NewValue)
	}
	if dp.SentStatusRequests != 0 {
		t.Errorf("SentStatusRequests = %d, want reset to 0", dp.SentStatusRequests)
	}
}

func TestEnqueueRequestDoesNotOverwritePendingValue(t *testing.T) {
	e, _, _ := newTestEngine()
	e.enqueue(7, 1, wire.TxSwitch)
	e.enqueue(7, 0, wire.TxRequest)

	dp := e.queue[7]
	if dp.NewValue != 1 || dp.Event != wire.TxSwitch {
		t.Errorf("entry = %+v, explicit REQUEST must not clobber a pending write", dp)
	}
}

func TestTrySendMoreFirstTransmission(t *testing.T) {
	e, transport, _ := newTestEngine()
	e.enqueue(7, 1, wire.TxSwitch)

	e.trySendMore()

	if len(transport.sent) != 1 {
		t.Fatalf("sent %d telegrams, want 1", len(transport.sent))
	}
	if e.inTransit != 1 {
		t.Errorf("inTransit = %d, want 1", e.inTransit)
	}
	dp := e.queue[7]
	if dp.NewValue != noValue {
		t.Error("NewValue should be cleared after submission")
	}
	if dp.ActiveMessageID == noMessageID {
		t.Error("ActiveMessageID should be set after submission")
	}
}

func TestTrySendMoreRespectsWindow(t *testing.T) {
	e, transport, _ := newTestEngine()
	e.enqueue(7, 1, wire.TxSwitch)
	e.inTransit = e.window // window already full

	e.trySendMore()

	if len(transport.sent) != 0 {
		t.Fatal("should not submit while window is full")
	}
}

func TestTrySendMoreRespectsCanSend(t *testing.T) {
	e, transport, _ := newTestEngine()
	transport.canSend = false
	e.enqueue(7, 1, wire.TxSwitch)

	e.trySendMore()

	if len(transport.sent) != 0 {
		t.Fatal("should not submit while transport cannot send")
	}
}

func TestTrySendMoreRetransmitsOnTimeout(t *testing.T) {
	e, transport, _ := newTestEngine()
	e.enqueue(7, 5, wire.TxDim)
	e.trySendMore() // first transmission
	if len(transport.sent) != 1 {
		t.Fatalf("setup: sent %d, want 1", len(transport.sent))
	}

	e.queue[7].Timeout = time.Now().Add(-time.Millisecond) // force "lost"
	e.trySendMore()

	if len(transport.sent) != 2 {
		t.Fatalf("sent %d telegrams, want 2 (retransmit)", len(transport.sent))
	}
	if e.inTransit != 1 {
		t.Errorf("inTransit = %d, want 1 (retry does not add a slot)", e.inTransit)
	}
}

func TestTrySendMoreOneSubmissionPerCall(t *testing.T) {
	e, transport, _ := newTestEngine()
	e.window = 10
	e.enqueue(1, 1, wire.TxSwitch)
	e.enqueue(2, 1, wire.TxSwitch)

	e.trySendMore()

	if len(transport.sent) != 1 {
		t.Fatalf("sent %d telegrams, want exactly 1 per call", len(transport.sent))
	}
}

func TestHandleAckWithPendingValueTriggersImmediateRetry(t *testing.T) {
	e, _, _ := newTestEngine()
	e.enqueue(7, 1, wire.TxSwitch)
	e.trySendMore()
	id := e.queue[7].ActiveMessageID

	e.enqueue(7, 0, wire.TxSwitch) // superseding value arrives before ack
	e.handleAck(wire.Ack{Success: true, MessageID: id})

	dp := e.queue[7]
	if dp.ActiveMessageID != noMessageID {
		t.Error("ActiveMessageID should be cleared on ack")
	}
	if !dp.Timeout.IsZero() {
		t.Error("pending new value should schedule an immediate retry (zero timeout)")
	}
	if e.inTransit != 0 {
		t.Errorf("inTransit = %d, want 0", e.inTransit)
	}
}

func TestHandleAckWithoutPendingValueEntersStatusConfirmation(t *testing.T) {
	e, _, _ := newTestEngine()
	e.enqueue(7, 1, wire.TxSwitch)
	e.trySendMore()
	id := e.queue[7].ActiveMessageID

	e.handleAck(wire.Ack{Success: true, MessageID: id})

	dp := e.queue[7]
	if dp.Event != wire.TxRequest {
		t.Errorf("event = %v, want TxRequest after confirmed write", dp.Event)
	}
	if dp.SentStatusRequests != 0 {
		t.Errorf("SentStatusRequests = %d, want 0", dp.SentStatusRequests)
	}
	if dp.Timeout.Before(time.Now().Add(900 * time.Millisecond)) {
		t.Error("expected timeout roughly 1000ms out")
	}
}

func TestHandleAckSpuriousIsTolerated(t *testing.T) {
	e, _, _ := newTestEngine()
	e.inTransit = 1
	e.handleAck(wire.Ack{Success: true, MessageID: 9}) // no matching entry
	if e.inTransit != 0 {
		t.Errorf("inTransit = %d, want 0 even for a spurious ack", e.inTransit)
	}
}

func TestHandleStatusPublishesAndMarksRequestDone(t *testing.T) {
	e, _, publisher := newTestEngine()
	e.enqueue(12, 0, wire.TxRequest)
	e.queue[12].SentStatusRequests = 1

	e.handleStatus(wire.Received{Event: wire.RxStatus, Datapoint: 12, Value: 75})

	if len(publisher.published) != 1 || publisher.published[0].value != 75 {
		t.Fatalf("published = %+v, want one entry with value 75", publisher.published)
	}
	if e.queue[12].SentStatusRequests != 3 {
		t.Errorf("SentStatusRequests = %d, want 3 (confirmed)", e.queue[12].SentStatusRequests)
	}
}

func TestTrySendMoreRemovesTerminalEntry(t *testing.T) {
	e, transport, _ := newTestEngine()
	e.enqueue(7, 0, wire.TxRequest)
	dp := e.queue[7]
	dp.SentStatusRequests = 3
	dp.NewValue = noValue
	dp.ActiveMessageID = noMessageID
	dp.Timeout = time.Now().Add(-time.Second)

	e.trySendMore()

	if _, ok := e.queue[7]; ok {
		t.Error("terminal entry should have been removed")
	}
	if len(transport.sent) != 0 {
		t.Error("terminal removal should not submit a telegram")
	}
}

func TestNextTimeoutDefaultsToHeartbeat(t *testing.T) {
	e, _, _ := newTestEngine()
	if d := e.nextTimeout(); d != heartbeat {
		t.Errorf("nextTimeout() = %v, want heartbeat %v", d, heartbeat)
	}
}

func TestNextTimeoutExcludesExhaustedEntries(t *testing.T) {
	e, _, _ := newTestEngine()
	e.enqueue(7, 0, wire.TxRequest)
	dp := e.queue[7]
	dp.SentStatusRequests = 3
	dp.NewValue = noValue
	dp.ActiveMessageID = noMessageID
	dp.Timeout = time.Now().Add(10 * time.Millisecond)

	if d := e.nextTimeout(); d != heartbeat {
		t.Errorf("nextTimeout() = %v, want heartbeat (entry has no pending work)", d)
	}
}

// TestScenarioSwitchOnThenOffQuickly matches spec.md §8 scenario 1: a
// superseded ON is never transmitted, only the final OFF.
func TestScenarioSwitchOnThenOffQuickly(t *testing.T) {
	e, transport, _ := newTestEngine()
	e.enqueue(7, 1, wire.TxSwitch) // on
	e.enqueue(7, 0, wire.TxSwitch) // off, supersedes before any send

	e.trySendMore()

	if len(transport.sent) != 1 {
		t.Fatalf("sent %d telegrams, want 1", len(transport.sent))
	}
	if transport.sent[0][4] != 0 {
		t.Errorf("transmitted value = %d, want 0 (off)", transport.sent[0][4])
	}
}

// TestScenarioDimAndConfirm matches spec.md §8 scenario 2.
func TestScenarioDimAndConfirm(t *testing.T) {
	e, transport, publisher := newTestEngine()
	e.enqueue(12, 75, wire.TxDim)
	e.trySendMore()

	if len(transport.sent) != 1 {
		t.Fatalf("sent %d telegrams, want 1", len(transport.sent))
	}
	// (75<<8)|0x40 = 0x4B40, little-endian.
	if transport.sent[0][4] != 0x40 || transport.sent[0][5] != 0x4B {
		t.Fatalf("value bytes = % x, want 40 4b", transport.sent[0][4:6])
	}

	id := e.queue[12].ActiveMessageID
	e.handleAck(wire.Ack{Success: true, MessageID: id})
	if e.queue[12].Event != wire.TxRequest {
		t.Fatal("expected transition to REQUEST after ack")
	}

	e.queue[12].Timeout = time.Now().Add(-time.Millisecond)
	e.trySendMore()
	if len(transport.sent) != 2 {
		t.Fatalf("sent %d telegrams, want 2 (the status REQUEST)", len(transport.sent))
	}

	e.handleStatus(wire.Received{Event: wire.RxStatus, Datapoint: 12, Value: 75})
	if len(publisher.published) != 1 || publisher.published[0].value != 75 {
		t.Fatalf("published = %+v, want value 75", publisher.published)
	}
}

// TestScenarioStatusConfirmationExhaustion matches spec.md §8 scenario 6:
// three acked REQUESTs with no STATUS leaves the entry removed, silently.
func TestScenarioStatusConfirmationExhaustion(t *testing.T) {
	e, transport, publisher := newTestEngine()
	e.enqueue(7, 1, wire.TxSwitch)
	e.trySendMore()
	id := e.queue[7].ActiveMessageID
	e.handleAck(wire.Ack{Success: true, MessageID: id}) // -> REQUEST mode

	for i := 0; i < 3; i++ {
		e.queue[7].Timeout = time.Now().Add(-time.Millisecond)
		e.trySendMore()
		id := e.queue[7].ActiveMessageID
		e.handleAck(wire.Ack{Success: true, MessageID: id})
	}

	if e.queue[7].SentStatusRequests != 3 {
		t.Fatalf("SentStatusRequests = %d, want 3", e.queue[7].SentStatusRequests)
	}

	e.queue[7].Timeout = time.Now().Add(-time.Millisecond)
	e.trySendMore()

	if _, ok := e.queue[7]; ok {
		t.Error("entry should be removed after exhausting status confirmation")
	}
	if len(publisher.published) != 0 {
		t.Error("no MQTT publish should occur on exhaustion")
	}
	_ = transport
}

func TestSnapshotReflectsQueueState(t *testing.T) {
	e, _, _ := newTestEngine()
	e.enqueue(7, 1, wire.TxSwitch)

	snap := e.snapshot()
	if snap.Window != e.window {
		t.Errorf("snapshot window = %d, want %d", snap.Window, e.window)
	}
	if len(snap.Datapoints) != 1 {
		t.Fatalf("snapshot datapoints = %d, want 1", len(snap.Datapoints))
	}
	if snap.Datapoints[0].NewValue == nil || *snap.Datapoints[0].NewValue != 1 {
		t.Errorf("snapshot NewValue = %v, want 1", snap.Datapoints[0].NewValue)
	}
}

func TestConnectedRequiresBothUSBAndMQTT(t *testing.T) {
	e, _, _ := newTestEngine()

	if e.Connected() {
		t.Fatal("engine should not report connected before either collaborator has reported in")
	}

	e.MarkUSBOpen()
	if e.Connected() {
		t.Fatal("engine should not report connected with only USB open")
	}

	e.MarkMQTTConnected()
	if !e.Connected() {
		t.Fatal("engine should report connected once USB is open and MQTT has connected")
	}

	if snap := e.snapshot(); !snap.Connected {
		t.Error("snapshot should reflect Connected once both collaborators have reported in")
	}
}
