package wire

import (
	"encoding/binary"
	"fmt"
)

// TxFrameSize is the fixed size of every MGW_PT_TX telegram.
const TxFrameSize = 9

// ConfigFrameSize is the fixed size of an MGW_PT_CONFIG telegram.
const ConfigFrameSize = 4

// status sub-codes (MGW_PT_STATUS, byte offset 2).
const (
	statusConnex      = 0x02
	statusRS232Baud   = 0x03
	statusRS232Flow   = 0x05
	statusRS232CRC    = 0x06
	statusError       = 0x09
	statusTimeAccount = 0x0a
	statusSendOKMRF   = 0x0d
	statusSerial      = 0x0e
	statusLED         = 0x0f
	statusLEDDim      = 0x1a
	statusRelease     = 0x1b
	statusOK          = 0x1c
	statusSendClass   = 0x1d
	statusSendRFSeqNo = 0x1e

	// RX/TX telegram counter reports.
	statusCounterRX = 0x0b
	statusCounterTX = 0x0c
)

// error sub-codes (MGW_PT_STATUS, byte offset 3, when sub-code is statusError).
const (
	errGeneral   = 0x00
	errUnknown   = 0x01
	errDPOOR     = 0x02
	errBusyMRF   = 0x03
	errBusyMRFRx = 0x04
	errTxMsgLost = 0x05
	errNoAck     = 0x06
)

func encodeTxHeader(buf []byte, datapoint uint8, event TxEvent, value int32, messageID uint8) {
	buf[0] = TxFrameSize
	buf[1] = frameTX
	buf[2] = datapoint
	buf[3] = uint8(event)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(value))
	buf[8] = messageID << 4
}

// EncodeSwitch writes a SWITCH telegram for datapoint dp into buf, which
// must be at least TxFrameSize bytes.
func EncodeSwitch(buf []byte, dp uint8, on bool, messageID uint8) (int, error) {
	if len(buf) < TxFrameSize {
		return 0, fmt.Errorf("wire: buffer too small for switch telegram: %d < %d", len(buf), TxFrameSize)
	}
	var value int32
	if on {
		value = 1
	}
	encodeTxHeader(buf, dp, TxSwitch, value, messageID)
	return TxFrameSize, nil
}

// EncodeDim writes a DIM telegram. The wire value carries the "set percent"
// tag (0x40) in its low byte and the percentage in the byte above it.
func EncodeDim(buf []byte, dp uint8, percent int32, messageID uint8) (int, error) {
	if len(buf) < TxFrameSize {
		return 0, fmt.Errorf("wire: buffer too small for dim telegram: %d < %d", len(buf), TxFrameSize)
	}
	value := (percent << 8) | 0x40
	encodeTxHeader(buf, dp, TxDim, value, messageID)
	return TxFrameSize, nil
}

// EncodeJalo writes a JALO (shutter) telegram.
func EncodeJalo(buf []byte, dp uint8, cmd ShutterCommand, messageID uint8) (int, error) {
	if len(buf) < TxFrameSize {
		return 0, fmt.Errorf("wire: buffer too small for jalo telegram: %d < %d", len(buf), TxFrameSize)
	}
	encodeTxHeader(buf, dp, TxJalo, int32(cmd), messageID)
	return TxFrameSize, nil
}

// EncodeRequest writes a status-request telegram.
func EncodeRequest(buf []byte, dp uint8, messageID uint8) (int, error) {
	if len(buf) < TxFrameSize {
		return 0, fmt.Errorf("wire: buffer too small for request telegram: %d < %d", len(buf), TxFrameSize)
	}
	encodeTxHeader(buf, dp, TxRequest, 0, messageID)
	return TxFrameSize, nil
}

// EncodeConfig writes a CONFIG telegram addressed to the stick itself.
func EncodeConfig(buf []byte, ctype, mode uint8) (int, error) {
	if len(buf) < ConfigFrameSize {
		return 0, fmt.Errorf("wire: buffer too small for config telegram: %d < %d", len(buf), ConfigFrameSize)
	}
	buf[0] = ConfigFrameSize
	buf[1] = frameConfig
	buf[2] = ctype
	buf[3] = mode
	return ConfigFrameSize, nil
}

// EncodeTelegram encodes the outbound telegram appropriate for event,
// dispatching to the matching Encode* constructor. Callers must only pass
// events the engine actually issues (TxSwitch, TxDim, TxJalo, TxRequest);
// any other value is an internal error and EncodeTelegram panics, mirroring
// the original engine's "Unsupported event" abort.
func EncodeTelegram(buf []byte, event TxEvent, dp uint8, value int32, messageID uint8) (int, error) {
	switch event {
	case TxSwitch:
		return EncodeSwitch(buf, dp, value != 0, messageID)
	case TxDim:
		return EncodeDim(buf, dp, value, messageID)
	case TxJalo:
		return EncodeJalo(buf, dp, ShutterCommand(value), messageID)
	case TxRequest:
		return EncodeRequest(buf, dp, messageID)
	default:
		panic(fmt.Sprintf("wire: unsupported tx event %v", event))
	}
}

// Parse decodes a single inbound USB frame. It returns ok=false for frames
// that are too short, truncated, or of an unrecognised type — the caller
// silently discards these per spec.md §4.1.
func Parse(buf []byte) (Event, bool) {
	if len(buf) < 2 || len(buf) < int(buf[0]) {
		return Event{}, false
	}

	switch buf[1] {
	case frameRX:
		return parseRX(buf)
	case frameStatus:
		return parseStatus(buf)
	case frameFW:
		return parseFW(buf)
	default:
		return Event{}, false
	}
}

// RX wire layout (offsets from the start of the frame): 0 size, 1 type,
// 2 datapoint, 3 rx_event, 4 rx_data_type, 5-8 value (LE i32), 9 reserved,
// 10 rssi, 11 battery, 12 seqno. The engine never needs seqno, so the
// minimum frame length checked here is 12 rather than 13.
func parseRX(buf []byte) (Event, bool) {
	const rxFrameSize = 12
	if len(buf) < rxFrameSize {
		return Event{}, false
	}
	value := int32(binary.LittleEndian.Uint32(buf[5:9]))
	return Event{
		Kind: KindReceived,
		Received: Received{
			Event:     RxEvent(buf[3]),
			Datapoint: buf[2],
			DataType:  RxDataType(buf[4]),
			Value:     value,
			RSSI:      buf[10],
			Battery:   BatteryLevel(buf[11]),
		},
	}, true
}

func parseStatus(buf []byte) (Event, bool) {
	if len(buf) < 3 {
		return Event{}, false
	}
	switch buf[2] {
	case statusOK:
		if len(buf) < 5 {
			return Event{}, false
		}
		return Event{Kind: KindAck, Ack: Ack{Success: true, MessageID: int(buf[4] >> 4)}}, true

	case statusError:
		if len(buf) < 4 {
			return Event{}, false
		}
		messageID := NoMessageID
		switch buf[3] {
		case errNoAck:
			if len(buf) >= 5 {
				messageID = int(buf[4] >> 4)
			}
		case errGeneral, errUnknown:
			if len(buf) >= 6 {
				messageID = int(buf[5] >> 4)
			}
		case errDPOOR, errBusyMRF, errBusyMRFRx, errTxMsgLost:
			// No correlatable id.
		}
		return Event{Kind: KindAck, Ack: Ack{Success: false, MessageID: messageID}}, true

	case statusSerial:
		return Event{Kind: KindInformational, Info: Informational{Description: "serial number"}}, true
	case statusRelease:
		return Event{Kind: KindInformational, Info: Informational{Description: "release numbers"}}, true
	case statusCounterRX:
		return Event{Kind: KindInformational, Info: Informational{Description: "rx counter"}}, true
	case statusCounterTX:
		return Event{Kind: KindInformational, Info: Informational{Description: "tx counter"}}, true
	case statusTimeAccount:
		return Event{Kind: KindInformational, Info: Informational{Description: "time account"}}, true
	case statusSendRFSeqNo:
		return Event{Kind: KindInformational, Info: Informational{Description: "rf sequence flag"}}, true
	default:
		return Event{}, false
	}
}

func parseFW(buf []byte) (Event, bool) {
	if len(buf) < 13 {
		return Event{}, false
	}
	return Event{
		Kind:     KindFirmware,
		Firmware: FirmwareVersion{Major: buf[11], Minor: buf[12]},
	}, true
}
