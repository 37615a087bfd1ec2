package services

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"greenhouse/models"

	"go.uber.org/zap"
)

// DefaultListenerQueueSize bounds each listener's outbound queue.
const DefaultListenerQueueSize = 64

// Subscription is one listener's handle on the hub. Messages are serialized
// envelopes; the channel is closed when the listener is removed.
type Subscription struct {
	ch      chan []byte
	once    sync.Once
	dropped atomic.Int64
}

// C returns the listener's message queue.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Dropped returns how many messages were discarded because the queue was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// offer enqueues msg without blocking, discarding the oldest queued message
// when the queue is full.
func (s *Subscription) offer(msg []byte) {
	select {
	case s.ch <- msg:
		return
	default:
	}

	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}

	select {
	case s.ch <- msg:
	default:
		s.dropped.Add(1)
	}
}

// Hub fans out envelopes to every subscribed listener.
//
// Lock ordering: mu, then sendMu, then latestMu.
type Hub struct {
	logger    *zap.Logger
	queueSize int

	mu     sync.RWMutex // protects subs and closed
	subs   map[*Subscription]struct{}
	closed bool

	sendMu sync.Mutex // serializes offers so drop-oldest stays consistent

	latestMu sync.RWMutex
	latest   *models.Reading
}

func NewHub(queueSize int, logger *zap.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultListenerQueueSize
	}
	return &Hub{
		logger:    logger,
		queueSize: queueSize,
		subs:      make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a listener. If a reading has been published, the
// listener's queue starts with an init envelope carrying it.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan []byte, h.queueSize)}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		sub.close()
		return sub
	}
	h.subs[sub] = struct{}{}

	if latest, ok := h.Latest(); ok {
		if msg, err := h.encode(models.EnvelopeInit, latest); err == nil {
			sub.offer(msg)
		}
	}

	h.logger.Debug("Listener subscribed", zap.Int("listeners", len(h.subs)))
	return sub
}

// Unsubscribe removes the listener and closes its queue. Safe to call more
// than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		h.logger.Debug("Listener unsubscribed", zap.Int("listeners", len(h.subs)))
	}
	sub.close()
}

// Publish records reading as the latest and sends a sensors envelope to
// every listener.
func (h *Hub) Publish(reading models.Reading) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.latestMu.Lock()
	h.latest = &reading
	h.latestMu.Unlock()

	h.broadcastLocked(models.EnvelopeSensors, reading)
}

// PublishControl relays an accepted control command to listeners.
func (h *Hub) PublishControl(cmd models.ControlCommand) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.broadcastLocked(models.EnvelopeControl, cmd)
}

// PublishAlert relays a fired alert to listeners.
func (h *Hub) PublishAlert(event models.AlertEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.broadcastLocked(models.EnvelopeAlert, event)
}

// broadcastLocked must be called with mu held for reading.
func (h *Hub) broadcastLocked(typ models.EnvelopeType, payload interface{}) {
	if h.closed || len(h.subs) == 0 {
		return
	}

	msg, err := h.encode(typ, payload)
	if err != nil {
		h.logger.Error("Failed to marshal envelope", zap.String("type", string(typ)), zap.Error(err))
		return
	}

	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	for sub := range h.subs {
		sub.offer(msg)
	}
}

func (h *Hub) encode(typ models.EnvelopeType, payload interface{}) ([]byte, error) {
	return json.Marshal(models.Envelope{Type: typ, Payload: payload})
}

// Latest returns the last published reading.
func (h *Hub) Latest() (models.Reading, bool) {
	h.latestMu.RLock()
	defer h.latestMu.RUnlock()

	if h.latest == nil {
		return models.Reading{}, false
	}
	return *h.latest, true
}

// Count returns the number of subscribed listeners.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close removes every listener and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		sub.close()
		delete(h.subs, sub)
	}
	h.logger.Info("Broadcast hub closed")
}
