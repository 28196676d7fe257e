package bus

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/psantana5/sdd-inspector/pkg/logging"
)

const mqttTimeout = 5 * time.Second

// DialMQTT connects to the broker at cfg.Endpoint and subscribes to cfg.Topic
// with QoS 1. A lost connection is reported by Receive; the listener's
// supervisor reconnects.
func DialMQTT(cfg Config, logger *logging.Logger) (*Channel, error) {
	ch := NewChannel()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Endpoint)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(mqttTimeout)
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logger.Error("MQTT connection lost", map[string]interface{}{"broker": cfg.Endpoint, "error": err.Error()})
		ch.Fail(fmt.Errorf("mqtt connection lost: %w", err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, fmt.Errorf("mqtt connection to %s timed out", cfg.Endpoint)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	token = client.Subscribe(cfg.Topic, 1, func(c mqtt.Client, m mqtt.Message) {
		ch.Publish(m.Topic(), m.Payload())
	})
	if !token.WaitTimeout(mqttTimeout) {
		client.Disconnect(250)
		return nil, fmt.Errorf("mqtt subscription to %q timed out", cfg.Topic)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("mqtt subscription failed: %w", err)
	}

	ch.closer = func() error {
		if client.IsConnected() {
			client.Unsubscribe(cfg.Topic).WaitTimeout(mqttTimeout)
		}
		client.Disconnect(250)
		return nil
	}
	logger.Info("Subscribed to line signal", map[string]interface{}{"transport": TransportMQTT, "endpoint": cfg.Endpoint, "topic": cfg.Topic})
	return ch, nil
}
