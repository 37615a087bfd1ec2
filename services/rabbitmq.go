package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"greenhouse/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQService owns the AMQP connection used both as a telemetry link
// and as an alert channel.
type RabbitMQService struct {
	config    *config.Config
	conn      *amqp.Connection
	channel   *amqp.Channel
	logger    *zap.Logger
	reconnect chan struct{}

	mu        sync.Mutex // guards channel for publishers
	isClosing bool
}

// NewRabbitMQService creates a new RabbitMQ service instance
func NewRabbitMQService(cfg *config.Config, logger *zap.Logger) (*RabbitMQService, error) {
	service := &RabbitMQService{
		config:    cfg,
		logger:    logger,
		reconnect: make(chan struct{}, 1),
	}

	if err := service.connect(); err != nil {
		return nil, err
	}

	return service, nil
}

// connect dials the broker and declares the telemetry and alert topology.
func (r *RabbitMQService) connect() error {
	var (
		conn *amqp.Connection
		err  error
	)

	r.logger.Info("Connecting to RabbitMQ")

	maxRetries := 5
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err = amqp.Dial(r.config.RabbitMQURL)
		if err == nil {
			break
		}

		r.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := r.declare(ch); err != nil {
		conn.Close()
		return err
	}

	r.mu.Lock()
	r.conn = conn
	r.channel = ch
	r.mu.Unlock()

	r.logger.Info("Connected to RabbitMQ successfully")

	go r.handleReconnect(conn)
	return nil
}

func (r *RabbitMQService) declare(ch *amqp.Channel) error {
	// The device publishes one reading per second; a small prefetch is enough
	if err := ch.Qos(10, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := ch.ExchangeDeclare(r.config.RabbitMQAlertExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare alert exchange: %w", err)
	}

	if r.config.TelemetrySource != config.SourceAMQP {
		return nil
	}

	if err := ch.ExchangeDeclare(r.config.RabbitMQExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	queue, err := ch.QueueDeclare(r.config.RabbitMQQueue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(queue.Name, r.config.RabbitMQQueue, r.config.RabbitMQExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	// MQTT plugin publishes to amq.topic with the topic as routing key
	if err := ch.QueueBind(queue.Name, mqttRoutingKey(r.config.MQTTTopic), "amq.topic", false, nil); err != nil {
		return fmt.Errorf("failed to bind queue to MQTT exchange: %w", err)
	}

	r.logger.Info("Telemetry queue bound",
		zap.String("queue", queue.Name),
		zap.String("exchange", r.config.RabbitMQExchange))
	return nil
}

// mqttRoutingKey converts an MQTT topic to the routing key the RabbitMQ
// MQTT plugin uses.
func mqttRoutingKey(topic string) string {
	out := []byte(topic)
	for i, c := range out {
		switch c {
		case '/':
			out[i] = '.'
		case '+':
			out[i] = '*'
		}
	}
	return string(out)
}

// handleReconnect handles automatic reconnection when connection is lost
func (r *RabbitMQService) handleReconnect(conn *amqp.Connection) {
	closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))

	r.mu.Lock()
	closing := r.isClosing
	r.mu.Unlock()
	if closing {
		r.logger.Info("RabbitMQ connection closed gracefully")
		return
	}

	r.logger.Error("RabbitMQ connection lost", zap.Error(closeErr))

	for {
		err := r.connect()
		if err == nil {
			r.logger.Info("Successfully reconnected to RabbitMQ")
			select {
			case r.reconnect <- struct{}{}:
			default:
			}
			return
		}
		r.logger.Error("Failed to reconnect", zap.Error(err))
		time.Sleep(5 * time.Second)
	}
}

// Consume hands every telemetry message body to feed until ctx ends.
func (r *RabbitMQService) Consume(ctx context.Context, feed func([]byte)) error {
	for {
		r.mu.Lock()
		ch := r.channel
		r.mu.Unlock()

		msgs, err := ch.Consume(
			r.config.RabbitMQQueue,
			"greenhouse-service",
			true, // auto-ack: only the latest line per tick is kept anyway
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("failed to register consumer: %w", err)
		}

		r.logger.Info("Started consuming telemetry from RabbitMQ",
			zap.String("queue", r.config.RabbitMQQueue))

	consumeLoop:
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("Stopping RabbitMQ consumer")
				return nil

			case <-r.reconnect:
				r.logger.Info("Reconnection detected, restarting consumer")
				break consumeLoop

			case msg, ok := <-msgs:
				if !ok {
					r.logger.Warn("Message channel closed")
					select {
					case <-ctx.Done():
						return nil
					case <-r.reconnect:
					}
					break consumeLoop
				}
				feed(msg.Body)
			}
		}
	}
}

// Publish sends body to the alert exchange.
func (r *RabbitMQService) Publish(ctx context.Context, routingKey string, body []byte) error {
	r.mu.Lock()
	ch := r.channel
	r.mu.Unlock()

	err := ch.PublishWithContext(ctx,
		r.config.RabbitMQAlertExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close gracefully closes RabbitMQ connection
func (r *RabbitMQService) Close() error {
	r.mu.Lock()
	r.isClosing = true
	ch, conn := r.channel, r.conn
	r.mu.Unlock()

	r.logger.Info("Closing RabbitMQ connection")

	if ch != nil {
		if err := ch.Close(); err != nil {
			r.logger.Error("Error closing channel", zap.Error(err))
		}
	}

	if conn != nil {
		if err := conn.Close(); err != nil {
			r.logger.Error("Error closing connection", zap.Error(err))
			return err
		}
	}

	r.logger.Info("RabbitMQ connection closed")
	return nil
}

// AMQPChannel publishes alerts as JSON on the alert exchange.
type AMQPChannel struct {
	service    *RabbitMQService
	routingKey string
}

func NewAMQPChannel(service *RabbitMQService, routingKey string) *AMQPChannel {
	return &AMQPChannel{service: service, routingKey: routingKey}
}

func (c *AMQPChannel) Name() string { return "amqp" }

func (c *AMQPChannel) Send(ctx context.Context, n Notification) error {
	var (
		body []byte
		err  error
	)
	if n.Event != nil {
		body, err = json.Marshal(n.Event)
	} else {
		body, err = json.Marshal(map[string]string{"title": n.Title, "message": n.Body})
	}
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	key := c.routingKey
	if n.Event != nil {
		key = fmt.Sprintf("%s.%s", c.routingKey, n.Event.Kind)
	}
	return c.service.Publish(ctx, key, body)
}
