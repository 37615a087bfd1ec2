package services

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTLink subscribes to the device's telemetry topic and feeds every
// payload to a LinkSource.
type MQTTLink struct {
	client mqtt.Client
	topic  string
	logger *zap.Logger
}

type MQTTOptions struct {
	Broker   string // host:port
	Topic    string
	Username string
	Password string
	ClientID string
}

func NewMQTTLink(opts MQTTOptions, feed func([]byte), logger *zap.Logger) (*MQTTLink, error) {
	broker := opts.Broker
	if !strings.Contains(broker, "://") {
		broker = fmt.Sprintf("tcp://%s", broker)
	}

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(broker)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetUsername(opts.Username)
	clientOpts.SetPassword(opts.Password)
	clientOpts.SetKeepAlive(60 * time.Second)
	clientOpts.SetPingTimeout(10 * time.Second)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetCleanSession(true)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		feed(msg.Payload())
	}

	// Resubscribe on every (re)connect since the session is clean
	clientOpts.OnConnect = func(c mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", broker))
		if token := c.Subscribe(opts.Topic, 0, handler); token.Wait() && token.Error() != nil {
			logger.Error("Failed to subscribe to telemetry topic",
				zap.String("topic", opts.Topic),
				zap.Error(token.Error()))
			return
		}
		logger.Info("Subscribed to telemetry topic", zap.String("topic", opts.Topic))
	}

	clientOpts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(clientOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", broker, token.Error())
	}

	return &MQTTLink{
		client: client,
		topic:  opts.Topic,
		logger: logger,
	}, nil
}

func (m *MQTTLink) Close() {
	m.client.Unsubscribe(m.topic)
	m.client.Disconnect(250)
	m.logger.Info("MQTT link closed")
}
