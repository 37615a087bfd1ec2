package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"greenhouse/models"

	"go.uber.org/zap"
)

var ErrQueueClosed = errors.New("notification queue closed")

// Notification is one message for the configured channel. Event is nil for
// test pushes.
type Notification struct {
	Title string
	Body  string
	Event *models.AlertEvent
}

// NotificationFromEvent builds the channel message for a fired alert.
func NotificationFromEvent(event models.AlertEvent) Notification {
	body := event.Message
	if event.Kind == models.Reported && event.Reading != nil {
		if sample, err := json.Marshal(event.Reading); err == nil {
			body += "\n\nSample: " + string(sample)
		}
	}
	return Notification{
		Title: event.Title(),
		Body:  body,
		Event: &event,
	}
}

// Channel delivers a notification to one external service.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// NoopChannel is used when no channel is configured. Every send succeeds.
type NoopChannel struct {
	logger *zap.Logger
}

func NewNoopChannel(logger *zap.Logger) *NoopChannel {
	return &NoopChannel{logger: logger}
}

func (c *NoopChannel) Name() string { return "none" }

func (c *NoopChannel) Send(_ context.Context, n Notification) error {
	c.logger.Debug("No notification channel configured", zap.String("title", n.Title))
	return nil
}

// DeliveryOutcome is the result of delivering one notification.
type DeliveryOutcome struct {
	Delivered bool   `json:"delivered"`
	Attempts  int    `json:"attempts"`
	Reason    string `json:"reason,omitempty"`
}

type NotifierOptions struct {
	MaxAttempts int
	QueueSize   int
	Timeout     time.Duration // per attempt
	Backoff     time.Duration // multiplied by the attempt number
}

// NotifierStats counts queue outcomes since start.
type NotifierStats struct {
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Abandoned int64 `json:"abandoned"`
}

// Notifier delivers alerts on a single channel from a bounded queue drained
// by one worker.
type Notifier struct {
	channel Channel
	opts    NotifierOptions
	logger  *zap.Logger

	mu     sync.RWMutex // protects closed and sends on queue
	closed bool
	queue  chan Notification
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	abandoned atomic.Int64
}

// NewNotifier starts the delivery worker. Call Close to stop it.
func NewNotifier(channel Channel, opts NotifierOptions, logger *zap.Logger) *Notifier {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		channel: channel,
		opts:    opts,
		logger:  logger.With(zap.String("channel", channel.Name())),
		queue:   make(chan Notification, opts.QueueSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go n.run()
	return n
}

// ChannelName returns the name of the configured channel.
func (n *Notifier) ChannelName() string {
	return n.channel.Name()
}

// Enqueue schedules delivery of event without blocking. It returns false
// when the queue is full or closed; the event is then dropped.
func (n *Notifier) Enqueue(event models.AlertEvent) bool {
	return n.enqueue(NotificationFromEvent(event)) == nil
}

func (n *Notifier) enqueue(msg Notification) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		n.dropped.Add(1)
		return ErrQueueClosed
	}

	select {
	case n.queue <- msg:
		return nil
	default:
		n.dropped.Add(1)
		n.logger.Warn("Notification queue full, dropping alert",
			zap.String("title", msg.Title),
			zap.Int("queue_size", n.opts.QueueSize))
		return fmt.Errorf("notification queue full (%d)", n.opts.QueueSize)
	}
}

func (n *Notifier) run() {
	defer close(n.done)

	for msg := range n.queue {
		if n.ctx.Err() != nil {
			n.abandoned.Add(1)
			n.logger.Warn("Abandoning notification after shutdown grace period",
				zap.String("title", msg.Title))
			continue
		}
		n.deliver(n.ctx, msg)
	}
}

// Deliver sends event synchronously with retries.
func (n *Notifier) Deliver(ctx context.Context, event models.AlertEvent) DeliveryOutcome {
	return n.deliver(ctx, NotificationFromEvent(event))
}

// SendTest delivers a free-form message synchronously, bypassing the queue.
func (n *Notifier) SendTest(ctx context.Context, title, body string) DeliveryOutcome {
	return n.deliver(ctx, Notification{Title: title, Body: body})
}

func (n *Notifier) deliver(ctx context.Context, msg Notification) DeliveryOutcome {
	var err error

	for attempt := 1; attempt <= n.opts.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, n.opts.Timeout)
		err = n.channel.Send(attemptCtx, msg)
		cancel()

		if err == nil {
			n.delivered.Add(1)
			n.logger.Info("Notification delivered",
				zap.String("title", msg.Title),
				zap.Int("attempt", attempt))
			return DeliveryOutcome{Delivered: true, Attempts: attempt}
		}

		n.logger.Warn("Notification attempt failed",
			zap.String("title", msg.Title),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", n.opts.MaxAttempts),
			zap.Error(err))

		if attempt == n.opts.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			err = fmt.Errorf("%w (after %v)", ctx.Err(), err)
			n.failed.Add(1)
			n.logger.Error("Notification abandoned", zap.String("title", msg.Title), zap.Error(err))
			return DeliveryOutcome{Attempts: attempt, Reason: err.Error()}
		case <-time.After(time.Duration(attempt) * n.opts.Backoff):
		}
	}

	n.failed.Add(1)
	n.logger.Error("Notification failed after all attempts, dropping",
		zap.String("title", msg.Title),
		zap.Int("attempts", n.opts.MaxAttempts),
		zap.Error(err))
	return DeliveryOutcome{Attempts: n.opts.MaxAttempts, Reason: err.Error()}
}

// Close stops intake and waits up to grace for queued deliveries. Whatever
// is still pending afterwards is abandoned.
func (n *Notifier) Close(grace time.Duration) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-n.done:
		n.cancel()
		n.logger.Info("Notifier drained")
		return nil
	case <-timer.C:
		pending := len(n.queue)
		n.cancel()
		n.logger.Warn("Notifier grace period expired",
			zap.Duration("grace", grace),
			zap.Int("pending", pending))
		return fmt.Errorf("notifier: grace period %v expired with %d queued notifications", grace, pending)
	}
}

func (n *Notifier) Stats() NotifierStats {
	return NotifierStats{
		Delivered: n.delivered.Load(),
		Failed:    n.failed.Load(),
		Dropped:   n.dropped.Load(),
		Abandoned: n.abandoned.Load(),
	}
}
