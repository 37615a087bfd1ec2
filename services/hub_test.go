package services

import (
	"encoding/json"
	"testing"
	"time"

	"greenhouse/models"

	"go.uber.org/zap/zaptest"
)

type rawEnvelope struct {
	Type    models.EnvelopeType `json:"type"`
	Payload json.RawMessage     `json:"payload"`
}

func receive(t *testing.T, sub *Subscription) rawEnvelope {
	t.Helper()
	select {
	case msg, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		var env rawEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatalf("invalid envelope %s: %v", msg, err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
	return rawEnvelope{}
}

func payloadReading(t *testing.T, env rawEnvelope) models.Reading {
	t.Helper()
	var r models.Reading
	if err := json.Unmarshal(env.Payload, &r); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestHubDeliversInPublishOrder(t *testing.T) {
	hub := NewHub(16, zaptest.NewLogger(t))
	sub := hub.Subscribe()

	for i := 0; i < 5; i++ {
		hub.Publish(withTemp(tick(i), float64(20+i)))
	}

	for i := 0; i < 5; i++ {
		env := receive(t, sub)
		if env.Type != models.EnvelopeSensors {
			t.Fatalf("envelope %d type = %q", i, env.Type)
		}
		if r := payloadReading(t, env); r.Temperature != float64(20+i) {
			t.Errorf("envelope %d temperature = %v, want %v", i, r.Temperature, 20+i)
		}
	}
}

func TestHubLateSubscriberReceivesInit(t *testing.T) {
	hub := NewHub(16, zaptest.NewLogger(t))

	early := hub.Subscribe()
	select {
	case msg := <-early.C():
		t.Fatalf("no init expected before the first reading, got %s", msg)
	default:
	}

	hub.Publish(withTemp(tick(1), 21))
	hub.Publish(withTemp(tick(2), 23))

	late := hub.Subscribe()
	env := receive(t, late)
	if env.Type != models.EnvelopeInit {
		t.Fatalf("first envelope type = %q, want init", env.Type)
	}
	if r := payloadReading(t, env); r.Temperature != 23 {
		t.Errorf("init carries temperature %v, want latest 23", r.Temperature)
	}

	hub.Publish(withTemp(tick(3), 25))
	if env := receive(t, late); env.Type != models.EnvelopeSensors {
		t.Errorf("next envelope type = %q, want sensors", env.Type)
	}
}

func TestHubDropsOldestForSlowListener(t *testing.T) {
	hub := NewHub(2, zaptest.NewLogger(t))
	slow := hub.Subscribe()
	fast := hub.Subscribe()

	done := make(chan int)
	go func() {
		count := 0
		for range fast.C() {
			count++
		}
		done <- count
	}()

	for i := 0; i < 5; i++ {
		hub.Publish(withTemp(tick(i), float64(i)))
	}

	if got := payloadReading(t, receive(t, slow)).Temperature; got != 3 {
		t.Errorf("slow listener oldest kept = %v, want 3", got)
	}
	if got := payloadReading(t, receive(t, slow)).Temperature; got != 4 {
		t.Errorf("slow listener newest = %v, want 4", got)
	}
	if slow.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", slow.Dropped())
	}

	hub.Unsubscribe(fast)
	if n := <-done; n < 2 {
		t.Errorf("fast listener received %d envelopes", n)
	}
}

func TestHubControlAndAlertEnvelopes(t *testing.T) {
	hub := NewHub(8, zaptest.NewLogger(t))
	sub := hub.Subscribe()

	hub.PublishControl(models.EmergencyStopCommand())
	hub.PublishAlert(models.NewAlertEvent(models.WaterLow, "", models.SeverityWarning, "low", nil, t0))

	if env := receive(t, sub); env.Type != models.EnvelopeControl {
		t.Errorf("first envelope = %q, want control", env.Type)
	}
	env := receive(t, sub)
	if env.Type != models.EnvelopeAlert {
		t.Fatalf("second envelope = %q, want alert", env.Type)
	}
	var event models.AlertEvent
	if err := json.Unmarshal(env.Payload, &event); err != nil {
		t.Fatal(err)
	}
	if event.Kind != models.WaterLow {
		t.Errorf("alert kind = %q", event.Kind)
	}
	if _, ok := hub.Latest(); ok {
		t.Error("control and alert envelopes must not set the latest reading")
	}
}

func TestHubUnsubscribeIsIdempotent(t *testing.T) {
	hub := NewHub(4, zaptest.NewLogger(t))
	sub := hub.Subscribe()

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	if hub.Count() != 0 {
		t.Errorf("Count() = %d, want 0", hub.Count())
	}
	if _, ok := <-sub.C(); ok {
		t.Error("queue should be closed after unsubscribe")
	}
	hub.Publish(withTemp(tick(1), 20))
}

func TestHubClose(t *testing.T) {
	hub := NewHub(4, zaptest.NewLogger(t))
	sub := hub.Subscribe()

	hub.Close()
	if _, ok := <-sub.C(); ok {
		t.Error("existing subscription should be closed")
	}

	after := hub.Subscribe()
	if _, ok := <-after.C(); ok {
		t.Error("subscriptions after Close should start closed")
	}
	hub.Publish(withTemp(tick(1), 20))
	hub.Close()
}
