package events

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTSource bridges a broker feed onto the local bus. Each message is a
// JSON envelope {event, data, timestamp}; unknown event names and decode
// failures are logged and dropped.
type MQTTSource struct {
	client mqtt.Client
	topic  string
	bus    *Bus
	log    zerolog.Logger
}

type mqttEnvelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

func NewMQTTSource(broker, topic string, bus *Bus, log zerolog.Logger) (*MQTTSource, error) {
	opts := mqtt.NewClientOptions().AddBroker(broker)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	src := &MQTTSource{client: client, topic: topic, bus: bus, log: log}
	if token := client.Subscribe(topic+"/#", 0, src.handle); token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("mqtt subscribe: %w", token.Error())
	}
	log.Info().Str("broker", broker).Str("topic", topic).Msg("mqtt event source connected")
	return src, nil
}

func (s *MQTTSource) Close() {
	s.client.Disconnect(250)
}

func (s *MQTTSource) handle(_ mqtt.Client, msg mqtt.Message) {
	var env mqttEnvelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil {
		s.log.Error().Err(err).Str("topic", msg.Topic()).Msg("bad event payload")
		return
	}

	var payload Payload
	var err error
	switch env.Event {
	case NameStatusChanged:
		var p StatusChanged
		err = json.Unmarshal(env.Data, &p)
		payload = p
	case NameMeterValues:
		var p MeterValues
		err = json.Unmarshal(env.Data, &p)
		payload = p
	case NameTransactionStarted:
		var p TransactionStarted
		err = json.Unmarshal(env.Data, &p)
		payload = p
	case NameTransactionStopped:
		var p TransactionStopped
		err = json.Unmarshal(env.Data, &p)
		payload = p
	default:
		s.log.Warn().Str("event", env.Event).Msg("unknown event name, dropped")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("event", env.Event).Msg("bad event data")
		return
	}

	ts := time.Now()
	if env.Timestamp != "" {
		if t, perr := time.Parse(time.RFC3339, env.Timestamp); perr == nil {
			ts = t
		}
	}
	s.bus.Emit(New(payload, ts))
}
