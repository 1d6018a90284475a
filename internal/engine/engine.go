// Package engine implements the xComfort protocol engine (spec.md C3): the
// message-id allocator, in-flight window, ack matching, retry/timeout
// handling, and the datapoint change queue (C4) it drives. It runs as a
// single reactor goroutine; every other goroutine in the gateway only ever
// talks to it through channels.
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"xcomfortd/internal/wire"
)

// retryTimeout is how long the engine waits for an ack before considering a
// telegram lost and retrying with a fresh id.
const retryTimeout = 5500 * time.Millisecond

// statusWaitTimeout is how long the engine waits for a STATUS confirmation
// after a write has been acked before issuing (or re-issuing) a REQUEST.
const statusWaitTimeout = 1000 * time.Millisecond

// heartbeat bounds how long the reactor ever sleeps, regardless of queue
// state, so periodic housekeeping (MQTT keep-alive, status API snapshots)
// never stalls behind a quiet queue.
const heartbeat = 500 * time.Millisecond

// DefaultModulus is the message-id space (16 in the protocol's final
// revision; earlier revisions used 256).
const DefaultModulus = 16

// DefaultWindow is the conservative single-in-flight parallelism the stick
// reliably supports. W > 1 is opt-in (spec.md §9).
const DefaultWindow = 1

// Transport is what the engine needs from the USB transport (C2): whether
// a telegram can be submitted right now, and submitting one.
type Transport interface {
	CanSend() bool
	Send(buf []byte) error
}

// Publisher is what the engine needs from the MQTT bridge: publishing a
// confirmed datapoint value. Kept as a narrow interface (the callback
// record spec.md §9 asks for) rather than a concrete dependency so the
// engine never imports the MQTT package.
type Publisher interface {
	PublishStatus(datapoint uint8, value int32, dataType wire.RxDataType)
}

// Logger is the minimal logging surface the engine needs.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Intent is a requested datapoint change, as delivered by the MQTT bridge
// (or any other caller) via SubmitIntent.
type Intent struct {
	Datapoint uint8
	Value     int32
	Event     wire.TxEvent
}

// Snapshot is a read-only, point-in-time view of engine state for the
// status API and monitor TUI (spec.md SPEC_FULL.md §12).
type Snapshot struct {
	Connected  bool
	InTransit  int
	Window     int
	Datapoints []DatapointSnapshot
}

// DatapointSnapshot mirrors one DatapointChange without exposing mutable
// engine state to callers outside the reactor goroutine.
type DatapointSnapshot struct {
	Datapoint          uint8
	Event              string
	NewValue           *int32
	SentValue          *int32
	ActiveMessageID    *int
	TimeoutMillis      int64
	SentStatusRequests int
}

// Engine owns the datapoint change queue and all protocol state. Only
// Run's goroutine ever reads or writes that state. The other exported
// methods except SetCollaborators are safe to call from any goroutine:
// they either send on a channel Run selects on or touch only atomic
// readiness flags. SetCollaborators writes plain fields and is called
// before Run starts.
type Engine struct {
	transport Transport
	publisher Publisher
	log       Logger

	window    int
	allocator *messageIDAllocator
	queue     map[uint8]*DatapointChange
	inTransit int

	usbEvents chan wire.Event
	usbFatal  chan error
	intents   chan Intent
	snapshots chan chan Snapshot

	usbReady  atomic.Bool
	mqttReady atomic.Bool
}

// SetCollaborators wires the transport and publisher after construction.
// This exists because the USB transport and MQTT bridge both need a
// reference to the engine to report events back to it, creating a
// construction cycle: build the Engine first, then its collaborators,
// then call SetCollaborators before Run starts.
func (e *Engine) SetCollaborators(transport Transport, publisher Publisher) {
	e.transport = transport
	e.publisher = publisher
}

// New constructs an Engine. window must be between 1 and DefaultModulus/2
// inclusive; callers outside tests should use DefaultWindow unless they
// have verified their stick tolerates more in-flight telegrams.
func New(transport Transport, publisher Publisher, log Logger, window int) *Engine {
	if window < 1 {
		window = DefaultWindow
	}
	if window > DefaultModulus/2 {
		window = DefaultModulus / 2
	}
	return &Engine{
		transport: transport,
		publisher: publisher,
		log:       log,
		window:    window,
		allocator: newMessageIDAllocator(DefaultModulus),
		queue:     make(map[uint8]*DatapointChange),
		usbEvents: make(chan wire.Event, 32),
		usbFatal:  make(chan error, 1),
		intents:   make(chan Intent, 64),
		snapshots: make(chan chan Snapshot),
	}
}

// OnUSBEvent delivers a decoded USB event to the reactor. Called from the
// transport's receive goroutine.
func (e *Engine) OnUSBEvent(ev wire.Event) {
	e.usbEvents <- ev
}

// OnUSBFatal signals that the USB transport has failed irrecoverably.
// Called from the transport's receive or send goroutine.
func (e *Engine) OnUSBFatal(err error) {
	select {
	case e.usbFatal <- err:
	default:
	}
}

// SubmitIntent enqueues a requested datapoint change. Called from the MQTT
// bridge's message callback.
func (e *Engine) SubmitIntent(i Intent) {
	e.intents <- i
}

// MarkUSBOpen records that the USB stick has been opened successfully.
// Called once by the entrypoint after usbtransport.Open returns.
func (e *Engine) MarkUSBOpen() {
	e.usbReady.Store(true)
}

// MarkMQTTConnected records that the MQTT bridge has connected to the
// broker at least once. Called from the bridge's on-connect handler.
func (e *Engine) MarkMQTTConnected() {
	e.mqttReady.Store(true)
}

// Connected reports whether the reactor has completed its first full
// pass: the USB stick opened and the MQTT broker connected at least once
// (SPEC_FULL.md §12). Safe to call from any goroutine; it never touches
// queue state.
func (e *Engine) Connected() bool {
	return e.usbReady.Load() && e.mqttReady.Load()
}

// Snapshot asks the reactor for a point-in-time view of engine state and
// blocks until it replies. Safe to call concurrently with Run.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, bool) {
	reply := make(chan Snapshot, 1)
	select {
	case e.snapshots <- reply:
	case <-ctx.Done():
		return Snapshot{}, false
	}
	select {
	case s := <-reply:
		return s, true
	case <-ctx.Done():
		return Snapshot{}, false
	}
}

// Run is the reactor: it owns every byte of protocol state and never
// returns until ctx is cancelled or the USB transport reports a fatal
// error.
func (e *Engine) Run(ctx context.Context) error {
	for {
		timer := time.NewTimer(e.nextTimeout())

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()

		case err := <-e.usbFatal:
			timer.Stop()
			return err

		case ev := <-e.usbEvents:
			timer.Stop()
			e.handleUSBEvent(ev)

		case i := <-e.intents:
			timer.Stop()
			e.enqueue(i.Datapoint, i.Value, i.Event)

		case reply := <-e.snapshots:
			timer.Stop()
			reply <- e.snapshot()

		case <-timer.C:
			// Timer-only wakeup: dispatch to nobody, just fall through to
			// the scheduler below (spec.md §4.5 step 3).
		}

		e.trySendMore()
	}
}

func (e *Engine) handleUSBEvent(ev wire.Event) {
	switch ev.Kind {
	case wire.KindAck:
		e.handleAck(ev.Ack)
	case wire.KindReceived:
		if ev.Received.Event == wire.RxStatus {
			e.handleStatus(ev.Received)
		} else {
			e.log.Infof("received %s: datapoint %d value %d (rssi %s, battery %s)",
				ev.Received.Event, ev.Received.Datapoint, ev.Received.Value,
				wire.RSSIStatus(ev.Received.RSSI), ev.Received.Battery)
		}
	case wire.KindFirmware:
		e.log.Infof("firmware version %d.%02d", ev.Firmware.Major, ev.Firmware.Minor)
	case wire.KindInformational:
		e.log.Infof("status: %s", ev.Info.Description)
	}
}

// enqueue implements spec.md §4.3 "Enqueue (intent)".
func (e *Engine) enqueue(dp uint8, value int32, event wire.TxEvent) {
	if existing, ok := e.queue[dp]; ok {
		if event != wire.TxRequest {
			existing.NewValue = value
			existing.Event = event
		}
		existing.SentStatusRequests = 0
		return
	}

	entry := newDatapointChange(dp, value, event)
	e.queue[dp] = entry
}

// handleAck implements spec.md §4.3 "Ack handling".
func (e *Engine) handleAck(ack wire.Ack) {
	e.inTransit--
	if e.inTransit < 0 {
		e.inTransit = 0
	}

	if ack.MessageID == wire.NoMessageID {
		return
	}

	for _, dp := range e.queue {
		if dp.ActiveMessageID != ack.MessageID {
			continue
		}

		dp.ActiveMessageID = noMessageID

		if dp.NewValue != noValue {
			dp.Timeout = time.Time{}
		} else {
			if dp.Event != wire.TxRequest {
				dp.Event = wire.TxRequest
				dp.SentStatusRequests = 0
			}
			dp.Timeout = time.Now().Add(statusWaitTimeout)
		}
		return
	}

	e.log.Infof("received spurious ack %d; message timeout is possibly too low", ack.MessageID)
}

// handleStatus implements spec.md §4.3 "Receive of STATUS".
func (e *Engine) handleStatus(r wire.Received) {
	e.publisher.PublishStatus(r.Datapoint, r.Value, r.DataType)

	if dp, ok := e.queue[r.Datapoint]; ok && dp.Event == wire.TxRequest {
		dp.SentStatusRequests = 3
	}
}

// trySendMore implements spec.md §4.3 "Send path": at most one telegram is
// submitted per call.
func (e *Engine) trySendMore() {
	if !e.transport.CanSend() {
		return
	}

	now := time.Now()
	windowFull := e.inTransit >= e.window

	for dp, entry := range e.queue {
		if entry.Timeout.After(now) {
			continue
		}

		switch {
		case entry.ActiveMessageID != noMessageID:
			// Previous attempt presumed lost; retry with a fresh id. The
			// retry reuses the lost telegram's slot, so a full window does
			// not hold it back.
			value := entry.SentValue
			if entry.NewValue != noValue {
				value = entry.NewValue
			}
			entry.NewValue = noValue
			entry.SentValue = value
			e.submit(entry, value)
			return

		case windowFull && entry.hasPendingWork():
			// A new transmission would need a free slot.
			continue

		case entry.NewValue != noValue:
			value := entry.NewValue
			entry.NewValue = noValue
			entry.SentValue = value
			e.submit(entry, value)
			e.inTransit++
			return

		case entry.Event == wire.TxRequest && entry.SentStatusRequests < 3:
			entry.SentStatusRequests++
			e.submit(entry, entry.SentValue)
			e.inTransit++
			return

		default:
			delete(e.queue, dp)
			continue
		}
	}
}

func (e *Engine) submit(entry *DatapointChange, value int32) {
	id := e.allocator.Next()
	entry.ActiveMessageID = int(id)
	entry.Timeout = time.Now().Add(retryTimeout)

	var buf [wire.TxFrameSize]byte
	n, err := wire.EncodeTelegram(buf[:], entry.Event, entry.Datapoint, value, id)
	if err != nil {
		e.log.Errorf("encode %s for datapoint %d: %v", entry.Event, entry.Datapoint, err)
		return
	}

	if err := e.transport.Send(buf[:n]); err != nil {
		e.log.Errorf("send %s for datapoint %d: %v", entry.Event, entry.Datapoint, err)
	}
}

// nextTimeout implements spec.md §4.5 step 1.
func (e *Engine) nextTimeout() time.Duration {
	d := heartbeat
	now := time.Now()

	for _, entry := range e.queue {
		if !entry.hasPendingWork() {
			continue
		}
		remain := entry.Timeout.Sub(now)
		if remain < 0 {
			remain = 0
		}
		if remain < d {
			d = remain
		}
	}
	return d
}

func (e *Engine) snapshot() Snapshot {
	s := Snapshot{Connected: e.Connected(), InTransit: e.inTransit, Window: e.window}
	for _, entry := range e.queue {
		ds := DatapointSnapshot{
			Datapoint:          entry.Datapoint,
			Event:              entry.Event.String(),
			TimeoutMillis:      time.Until(entry.Timeout).Milliseconds(),
			SentStatusRequests: entry.SentStatusRequests,
		}
		if entry.NewValue != noValue {
			v := entry.NewValue
			ds.NewValue = &v
		}
		if entry.SentValue != noValue {
			v := entry.SentValue
			ds.SentValue = &v
		}
		if entry.ActiveMessageID != noMessageID {
			id := entry.ActiveMessageID
			ds.ActiveMessageID = &id
		}
		s.Datapoints = append(s.Datapoints, ds)
	}
	return s
}
