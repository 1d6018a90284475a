// Package mqttbridge wires the protocol engine to an MQTT broker: it
// subscribes to operator intent and republishes confirmed datapoint state
// (spec.md §6).
package mqttbridge

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"xcomfortd/internal/engine"
	"xcomfortd/internal/wire"
)

// Engine is what the bridge needs from the protocol engine.
type Engine interface {
	SubmitIntent(i engine.Intent)
	MarkMQTTConnected()
}

// Logger is the minimal logging surface the bridge needs.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// VerbositySetter lets the "xcomfort/0/set/debug" topic toggle log
// verbosity at runtime, matching the original gateway's behaviour.
type VerbositySetter interface {
	SetVerbose(bool)
}

// Config holds the broker connection parameters (spec.md §6: default
// localhost:1883, optional username/password).
type Config struct {
	Broker   string
	Username string
	Password string
}

// Bridge owns the paho client and implements engine.Publisher.
type Bridge struct {
	client  mqtt.Client
	engine  Engine
	log     Logger
	verbose VerbositySetter
}

// New constructs a Bridge and connects to the broker. The connection uses
// paho's built-in auto-reconnect, configured to retry roughly every 15
// seconds to match the original gateway's reconnect cadence.
func New(cfg Config, eng Engine, log Logger, verbose VerbositySetter) (*Bridge, error) {
	b := &Bridge{engine: eng, log: log, verbose: verbose}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID("xcomfort")
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(15 * time.Second)
	opts.SetConnectTimeout(30 * time.Second)
	opts.SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(b.onConnectionLost)

	b.client = mqtt.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqttbridge: connect: %w", token.Error())
	}
	return b, nil
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	b.client.Disconnect(250)
}

func (b *Bridge) onConnect(client mqtt.Client) {
	b.log.Infof("mqtt connected")
	if token := client.Subscribe(setTopicFilter, 0, b.onMessage); token.Wait() && token.Error() != nil {
		b.log.Errorf("mqtt subscribe %s: %v", setTopicFilter, token.Error())
	}
	b.engine.MarkMQTTConnected()
}

func (b *Bridge) onConnectionLost(_ mqtt.Client, err error) {
	b.log.Infof("mqtt disconnected: %v; reconnecting", err)
}

func (b *Bridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	p, ok := parseSetTopic(msg.Topic(), msg.Payload())
	if !ok {
		return
	}

	if on, ok := isDebugToggle(p); ok {
		if b.verbose != nil {
			b.verbose.SetVerbose(on)
		}
		return
	}

	intent, ok := toIntent(p)
	if !ok {
		return
	}
	b.engine.SubmitIntent(intent)
}

// PublishStatus implements engine.Publisher: every confirmed STATUS
// republishes all three derived topics for the datapoint, retained at
// QoS 1 (spec.md §6). The gateway has no way to know from the wire value
// alone whether a datapoint is a switch, dimmer, or shutter, so — as in
// the original gateway — it publishes all three and lets subscribers pick
// the one that matches their device type.
func (b *Bridge) PublishStatus(datapoint uint8, value int32, _ wire.RxDataType) {
	on := "false"
	if value != 0 {
		on = "true"
	}

	b.publish(dimmerTopic(datapoint), fmt.Sprintf("%d", value))
	b.publish(switchTopic(datapoint), on)
	b.publish(shutterTopic(datapoint), wire.ShutterStatus(value).String())
}

func (b *Bridge) publish(topic, payload string) {
	token := b.client.Publish(topic, 1, true, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			b.log.Errorf("mqtt publish %s: %v", topic, err)
		}
	}()
}
