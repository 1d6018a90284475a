// Package usbtransport implements the CKOZ-00/14 USB transport (spec.md
// C2): opening the stick, and moving raw interrupt frames between it and
// the protocol engine. It translates the original async libusb transfer
// model into gousb's blocking calls plus a small amount of goroutine and
// atomic-flag bookkeeping so the rest of the gateway still sees "one
// outstanding send at a time".
package usbtransport

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/gousb"

	"xcomfortd/internal/wire"
)

// VendorID is the Eaton/Möhlenhoff vendor id the stick enumerates under.
const VendorID = gousb.ID(0x188a)

// ProductIDs are tried in order; 0x1102 covers later firmware revisions of
// the same stick.
var ProductIDs = []gousb.ID{0x1101, 0x1102}

// Interrupt endpoint addresses and transfer sizes. Older stick firmware
// exposes the interrupt pair on 4-IN/5-OUT instead of 1-IN/2-OUT; Open
// tries the current pair first and falls back to the legacy one.
const (
	endpointIn       = 1
	endpointOut      = 2
	legacyEndpointIn  = 4
	legacyEndpointOut = 5
	interruptInSize   = 19
	interruptOutSize  = 32
)

// Engine is what the transport needs from the protocol engine: a sink for
// decoded events and fatal transport errors.
type Engine interface {
	OnUSBEvent(ev wire.Event)
	OnUSBFatal(err error)
}

// Transport owns the USB device handle and the two interrupt endpoints.
type Transport struct {
	ctx    *gousb.Context
	device *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	epOut  *gousb.OutEndpoint
	epIn   *gousb.InEndpoint

	engine  Engine
	sending atomic.Bool
}

// Open enumerates the bus for the stick and claims its interrupt
// interface. The caller owns the returned Transport and must call Close.
func Open(engine Engine) (*Transport, error) {
	ctx := gousb.NewContext()

	var device *gousb.Device
	var err error
	for _, pid := range ProductIDs {
		device, err = ctx.OpenDeviceWithVIDPID(VendorID, pid)
		if err == nil && device != nil {
			break
		}
	}
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: open device: %w", err)
	}
	if device == nil {
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: CKOZ-00/14 not found (vendor 0x%04x)", VendorID)
	}

	device.SetAutoDetach(true)

	config, err := device.Config(1)
	if err != nil {
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: set config: %w", err)
	}

	intf, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: claim interface: %w", err)
	}

	epOut, err := intf.OutEndpoint(endpointOut)
	if err != nil {
		epOut, err = intf.OutEndpoint(legacyEndpointOut)
	}
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: open OUT endpoint: %w", err)
	}

	epIn, err := intf.InEndpoint(endpointIn)
	if err != nil {
		epIn, err = intf.InEndpoint(legacyEndpointIn)
	}
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: open IN endpoint: %w", err)
	}

	return &Transport{
		ctx:    ctx,
		device: device,
		config: config,
		intf:   intf,
		epOut:  epOut,
		epIn:   epIn,
		engine: engine,
	}, nil
}

// Close releases the interface and closes the device handle.
func (t *Transport) Close() error {
	t.intf.Close()
	t.config.Close()
	t.device.Close()
	t.ctx.Close()
	return nil
}

// CanSend reports whether a telegram may be submitted right now. The
// protocol only ever has one write outstanding at a time regardless of the
// engine's in-flight window, since the stick itself serializes on a single
// interrupt OUT pipe.
func (t *Transport) CanSend() bool {
	return !t.sending.Load()
}

// Send submits buf on the OUT endpoint. It returns immediately; the actual
// write happens on its own goroutine so a slow or hung stick cannot block
// the engine's reactor. A write failure is reported to the engine as fatal
// — the gateway has no way to recover a stick that stops acknowledging
// writes.
func (t *Transport) Send(buf []byte) error {
	if !t.sending.CompareAndSwap(false, true) {
		return fmt.Errorf("usbtransport: send already in flight")
	}

	frame := make([]byte, interruptOutSize)
	copy(frame, buf)

	go func() {
		defer t.sending.Store(false)
		if _, err := t.epOut.Write(frame); err != nil {
			t.engine.OnUSBFatal(fmt.Errorf("usbtransport: write: %w", err))
		}
	}()
	return nil
}

// Run reads interrupt frames until ctx is cancelled or a read fails. Every
// decoded frame is handed to the engine; frames Parse rejects are
// silently dropped (spec.md §4.1). Run blocks, so callers run it on its
// own goroutine.
func (t *Transport) Run(ctx context.Context) error {
	buf := make([]byte, interruptInSize)
	for {
		n, err := t.epIn.ReadContext(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.engine.OnUSBFatal(fmt.Errorf("usbtransport: read: %w", err))
			return err
		}

		if ev, ok := wire.Parse(buf[:n]); ok {
			t.engine.OnUSBEvent(ev)
		}
	}
}
