// Package wire implements the CKOZ-00/14 on-wire framing: encoding outbound
// telegrams and parsing inbound frames into typed events.
package wire

// Frame type discriminator, byte offset 1 of every telegram.
const (
	frameTX     = 0xB1
	frameConfig = 0xB2
	frameRX     = 0xC1
	frameStatus = 0xC3
	frameFW     = 0xD1
)

// TxEvent is the subset of datapoint commands this gateway actually emits.
// Every other code in the stick's command set is reserved; encoding one is
// a programming error, not a runtime condition.
type TxEvent uint8

const (
	TxSwitch  TxEvent = 0x0a
	TxRequest TxEvent = 0x0b
	TxDim     TxEvent = 0x0d
	TxJalo    TxEvent = 0x0e
)

func (e TxEvent) String() string {
	switch e {
	case TxSwitch:
		return "SWITCH"
	case TxRequest:
		return "REQUEST"
	case TxDim:
		return "DIM"
	case TxJalo:
		return "JALO"
	default:
		return "UNKNOWN_TX_EVENT"
	}
}

// RxEvent enumerates events a datapoint can report. Only RxStatus is acted
// on by the protocol engine; everything else is informational.
type RxEvent uint8

const (
	RxAck            RxEvent = 0x01
	RxStayOnline     RxEvent = 0x09
	RxAllive         RxEvent = 0x11
	RxGetOffline     RxEvent = 0x18
	RxGetEEPROM      RxEvent = 0x30
	RxSetEEPROM      RxEvent = 0x31
	RxGetCRC         RxEvent = 0x32
	RxTime           RxEvent = 0x37
	RxDate           RxEvent = 0x38
	RxPaket          RxEvent = 0x39
	RxKill           RxEvent = 0x43
	RxFactory        RxEvent = 0x44
	RxOn             RxEvent = 0x50
	RxOff            RxEvent = 0x51
	RxSwitchOn       RxEvent = 0x52
	RxSwitchOff      RxEvent = 0x53
	RxUpPressed      RxEvent = 0x54
	RxUpReleased     RxEvent = 0x55
	RxDownPressed    RxEvent = 0x56
	RxDownReleased   RxEvent = 0x57
	RxPWM            RxEvent = 0x59
	RxForced         RxEvent = 0x5a
	RxSingleOn       RxEvent = 0x5b
	RxToggle         RxEvent = 0x61
	RxValue          RxEvent = 0x62
	RxZuKalt         RxEvent = 0x63
	RxZuWarm         RxEvent = 0x64
	RxStatus         RxEvent = 0x70
	RxStatusAppl     RxEvent = 0x71
	RxStatusReqAppl  RxEvent = 0x72
	RxBasicMode      RxEvent = 0x80
)

var rxEventNames = map[RxEvent]string{
	RxAck:           "MSG_ACK",
	RxStayOnline:    "MSG_STAY_ONLINE",
	RxAllive:        "MSG_ALLIVE",
	RxGetOffline:    "MSG_GET_OFFLINE",
	RxGetEEPROM:     "MSG_GET_EEPROM",
	RxSetEEPROM:     "MSG_SET_EEPROM",
	RxGetCRC:        "MSG_GET_CRC",
	RxTime:          "MSG_TIME",
	RxDate:          "MSG_DATE",
	RxPaket:         "MSG_PAKET",
	RxKill:          "MSG_KILL",
	RxFactory:       "MSG_FACTORY",
	RxOn:            "MSG_ON",
	RxOff:           "MSG_OFF",
	RxSwitchOn:      "MSG_SWITCH_ON",
	RxSwitchOff:     "MSG_SWITCH_OFF",
	RxUpPressed:     "MSG_UP_PRESSED",
	RxUpReleased:    "MSG_UP_RELEASED",
	RxDownPressed:   "MSG_DOWN_PRESSED",
	RxDownReleased:  "MSG_DOWN_RELEASED",
	RxPWM:           "MSG_PWM",
	RxForced:        "MSG_FORCED",
	RxSingleOn:      "MSG_SINGLE_ON",
	RxToggle:        "MSG_TOGGLE",
	RxValue:         "MSG_VALUE",
	RxZuKalt:        "MSG_ZU_KALT",
	RxZuWarm:        "MSG_ZU_WARM",
	RxStatus:        "MSG_STATUS",
	RxStatusAppl:    "MSG_STATUS_APPL",
	RxStatusReqAppl: "MSG_STATUS_REQ_APPL",
	RxBasicMode:     "MSG_BASIC_MODE",
}

func (e RxEvent) String() string {
	if name, ok := rxEventNames[e]; ok {
		return name
	}
	return "-- unknown --"
}

// ShutterCommand is the value payload for TxJalo telegrams addressing a
// shutter/blind datapoint.
type ShutterCommand uint8

const (
	ShutterClose     ShutterCommand = 0x00
	ShutterOpen      ShutterCommand = 0x01
	ShutterStop      ShutterCommand = 0x02
	ShutterSetClose  ShutterCommand = 0x10
	ShutterSetOpen   ShutterCommand = 0x11
)

// ShutterStatus is the value field of a RxStatus event for a shutter
// datapoint.
type ShutterStatus uint8

const (
	ShutterStatusStopped ShutterStatus = 0x00
	ShutterStatusUp      ShutterStatus = 0x01
	ShutterStatusDown    ShutterStatus = 0x02
)

func (s ShutterStatus) String() string {
	switch s {
	case ShutterStatusUp:
		return "up"
	case ShutterStatusDown:
		return "down"
	default:
		return "stopped"
	}
}

// BatteryLevel is the battery field of an RxStatus/RxEvent frame.
type BatteryLevel uint8

const (
	BatteryNA       BatteryLevel = 0x0
	Battery0        BatteryLevel = 0x1
	Battery25       BatteryLevel = 0x2
	Battery50       BatteryLevel = 0x3
	Battery75       BatteryLevel = 0x4
	Battery100      BatteryLevel = 0x5
	BatteryPowerline BatteryLevel = 0x10
)

func (b BatteryLevel) String() string {
	switch b {
	case Battery0:
		return "empty"
	case Battery25:
		return "very weak"
	case Battery50:
		return "weak"
	case Battery75:
		return "good"
	case Battery100:
		return "new"
	case BatteryPowerline:
		return "powerline"
	default:
		return "not available"
	}
}

// RSSIStatus classifies a raw RSSI byte (0-120, lower is better) into the
// fixed human-readable buckets the gateway logs.
func RSSIStatus(rssi uint8) string {
	switch {
	case rssi <= 67:
		return "good"
	case rssi <= 75:
		return "normal"
	case rssi <= 90:
		return "weak"
	case rssi <= 120:
		return "very weak"
	default:
		return "unknown"
	}
}

// RxDataType is the data-type field of an inbound RX telegram.
type RxDataType uint8

const (
	DataTypeNone          RxDataType = 0x00
	DataTypePercent       RxDataType = 0x01
	DataTypeUint8         RxDataType = 0x02
	DataTypeInt16_1Point  RxDataType = 0x03
	DataTypeFloat         RxDataType = 0x04
	DataTypeUint16        RxDataType = 0x0d
	DataTypeUint32        RxDataType = 0x0e
)

// Received is emitted for every MGW_PT_RX frame.
type Received struct {
	Event      RxEvent
	Datapoint  uint8
	DataType   RxDataType
	Value      int32
	RSSI       uint8
	Battery    BatteryLevel
}

// Ack is emitted for MGW_PT_STATUS frames carrying MGW_STT_OK or
// MGW_STT_ERROR. MessageID is NoMessageID when the status sub-code carries
// no correlatable id.
type Ack struct {
	Success   bool
	MessageID int
}

// NoMessageID is the sentinel carried by an Ack whose status sub-code does
// not identify an originating telegram (spec.md §4.1, STATUS/ERROR codes
// 2-5).
const NoMessageID = -1

// FirmwareVersion is emitted for MGW_PT_FW frames.
type FirmwareVersion struct {
	Major uint8
	Minor uint8
}

// Informational is emitted for STATUS sub-codes that carry no actionable
// state (serial number, release numbers, RX/TX counters, time account, RF
// sequence flag) — logged, never acted on by the protocol engine.
type Informational struct {
	Description string
}

// Event is the sum type returned by Parse: exactly one of its fields (named
// by Kind) is meaningful.
type Event struct {
	Kind      EventKind
	Received  Received
	Ack       Ack
	Firmware  FirmwareVersion
	Info      Informational
}

type EventKind int

const (
	KindNone EventKind = iota
	KindReceived
	KindAck
	KindFirmware
	KindInformational
)
