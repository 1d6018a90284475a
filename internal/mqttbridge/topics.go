package mqttbridge

import (
	"fmt"
	"strconv"
	"strings"

	"xcomfortd/internal/engine"
	"xcomfortd/internal/wire"
)

// setTopicFilter is the subscription covering every datapoint and
// operation (spec.md §6).
const setTopicFilter = "xcomfort/+/set/+"

// parsedSet is a decoded "xcomfort/N/set/op" message.
type parsedSet struct {
	datapoint uint8
	op        string
	payload   string
}

// parseSetTopic splits a subscribed topic into its datapoint and
// operation tokens. It returns ok=false for anything that doesn't match
// the 4-token xcomfort/N/set/op shape — spec.md §7 requires these to be
// dropped silently, not logged as errors.
func parseSetTopic(topic string, payload []byte) (parsedSet, bool) {
	tokens := strings.Split(topic, "/")
	if len(tokens) != 4 || tokens[0] != "xcomfort" || tokens[2] != "set" {
		return parsedSet{}, false
	}

	dp, err := strconv.ParseUint(tokens[1], 10, 8)
	if err != nil {
		return parsedSet{}, false
	}

	return parsedSet{datapoint: uint8(dp), op: tokens[3], payload: string(payload)}, true
}

// toIntent decodes a parsedSet's payload into an engine.Intent. debug
// messages are handled by the caller before toIntent is reached — they
// don't produce an intent.
func toIntent(p parsedSet) (engine.Intent, bool) {
	switch p.op {
	case "switch":
		on, ok := parseBool(p.payload)
		if !ok {
			return engine.Intent{}, false
		}
		value := int32(0)
		if on {
			value = 1
		}
		return engine.Intent{Datapoint: p.datapoint, Value: value, Event: wire.TxSwitch}, true

	case "dimmer":
		percent, err := strconv.ParseInt(strings.TrimSpace(p.payload), 10, 32)
		if err != nil || percent < 0 || percent > 100 {
			return engine.Intent{}, false
		}
		return engine.Intent{Datapoint: p.datapoint, Value: int32(percent), Event: wire.TxDim}, true

	case "shutter":
		cmd, ok := parseShutterCommand(p.payload)
		if !ok {
			return engine.Intent{}, false
		}
		return engine.Intent{Datapoint: p.datapoint, Value: int32(cmd), Event: wire.TxJalo}, true

	case "requeststatus":
		return engine.Intent{Datapoint: p.datapoint, Event: wire.TxRequest}, true

	default:
		return engine.Intent{}, false
	}
}

func parseBool(payload string) (bool, bool) {
	switch strings.TrimSpace(payload) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}

func parseShutterCommand(payload string) (wire.ShutterCommand, bool) {
	switch strings.TrimSpace(payload) {
	case "up":
		return wire.ShutterOpen, true
	case "down":
		return wire.ShutterClose, true
	case "stop":
		return wire.ShutterStop, true
	default:
		return 0, false
	}
}

// isDebugToggle reports whether p is the datapoint-0 debug switch, and if
// so its requested state.
func isDebugToggle(p parsedSet) (on bool, ok bool) {
	if p.op != "debug" || p.datapoint != 0 {
		return false, false
	}
	return parseBool(p.payload)
}

func dimmerTopic(datapoint uint8) string {
	return fmt.Sprintf("xcomfort/%d/get/dimmer", datapoint)
}

func switchTopic(datapoint uint8) string {
	return fmt.Sprintf("xcomfort/%d/get/switch", datapoint)
}

func shutterTopic(datapoint uint8) string {
	return fmt.Sprintf("xcomfort/%d/get/shutter", datapoint)
}
