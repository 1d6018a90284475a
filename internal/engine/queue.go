package engine

import (
	"time"

	"xcomfortd/internal/wire"
)

// noValue is the "none" sentinel for DatapointChange.NewValue. xComfort
// datapoint values (switch 0/1, dim 0-100, shutter command bytes) never
// approach this range, so it is safe as an out-of-band marker without
// wrapping NewValue in a pointer.
const noValue = int32(-1 << 30)

// noMessageID is the "none" sentinel for DatapointChange.ActiveMessageID.
const noMessageID = -1

// DatapointChange is one pending or in-confirmation datapoint entry in the
// change queue (spec.md §3). At most one entry exists per datapoint at any
// time; the queue enforces this via its map key.
type DatapointChange struct {
	Datapoint           uint8
	Event               wire.TxEvent
	NewValue            int32 // noValue once launched / if none pending
	SentValue           int32 // value carried by the in-flight or last-sent telegram
	ActiveMessageID     int   // noMessageID if nothing outstanding
	Timeout             time.Time
	SentStatusRequests  int
}

func newDatapointChange(dp uint8, value int32, event wire.TxEvent) *DatapointChange {
	return &DatapointChange{
		Datapoint:       dp,
		Event:           event,
		NewValue:        value,
		SentValue:       noValue,
		ActiveMessageID: noMessageID,
		Timeout:         time.Time{},
	}
}

// hasPendingWork reports whether this entry needs the scheduler's attention
// beyond the retry/status-confirmation window it's currently sitting in
// (spec.md §4.5 step 1: which entries contribute a deadline at all).
func (d *DatapointChange) hasPendingWork() bool {
	return d.NewValue != noValue ||
		d.ActiveMessageID != noMessageID ||
		(d.Event == wire.TxRequest && d.SentStatusRequests < 3)
}

// messageIDAllocator hands out monotonically increasing ids modulo MOD
// (16 in the final protocol revision). Collisions are prevented by the
// combination of single-in-flight submission and the small parallelism
// window W, not by the allocator itself.
type messageIDAllocator struct {
	next    uint8
	modulus uint8
}

func newMessageIDAllocator(modulus uint8) *messageIDAllocator {
	return &messageIDAllocator{modulus: modulus}
}

func (a *messageIDAllocator) Next() uint8 {
	id := a.next
	a.next = (a.next + 1) % a.modulus
	return id
}
