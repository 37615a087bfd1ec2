package services

import (
	"testing"
	"time"

	"greenhouse/models"

	"go.uber.org/zap/zaptest"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testThresholds() Thresholds {
	return Thresholds{
		TemperatureMax:      35,
		TemperatureCooldown: 5 * time.Minute,
		WaterMin:            20,
		WaterCooldown:       5 * time.Minute,
		HumidityMax:         80,
		HumidityMin:         50,
		HumidityHysteresis:  2,
		HumidityCooldown:    5 * time.Minute,
		StaleAfter:          10 * time.Second,
		StaleCooldown:       time.Minute,
		ReportCooldown:      time.Minute,
	}
}

func newTestEvaluator(t *testing.T, th Thresholds) *Evaluator {
	t.Helper()
	return NewEvaluator(th, NewRollingHistory(10), zaptest.NewLogger(t), t0)
}

func nominal(at time.Time) models.Reading {
	return models.NewReading("gh-1", at, 22, 60, 60, 3.9)
}

func withTemp(at time.Time, temp float64) models.Reading {
	r := nominal(at)
	r.Temperature = temp
	return r
}

func withHumidity(at time.Time, h float64) models.Reading {
	r := nominal(at)
	r.Humidity = h
	return r
}

func kinds(events []models.AlertEvent) []models.AlertKind {
	out := make([]models.AlertKind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

func tick(i int) time.Time {
	return t0.Add(time.Duration(i) * time.Second)
}

func TestTemperatureSequenceFiresOnceWithinCooldown(t *testing.T) {
	e := newTestEvaluator(t, testThresholds())

	var fired []int
	for i, temp := range []float64{30, 36, 37, 34, 38} {
		if len(e.Evaluate(withTemp(tick(i+1), temp), tick(i+1))) > 0 {
			fired = append(fired, i+1)
		}
	}

	if len(fired) != 1 || fired[0] != 2 {
		t.Fatalf("fired on ticks %v, want [2]", fired)
	}
}

func TestTemperatureSequenceRefiresOutsideCooldown(t *testing.T) {
	th := testThresholds()
	th.TemperatureCooldown = 2 * time.Second
	e := newTestEvaluator(t, th)

	var fired []int
	for i, temp := range []float64{30, 36, 37, 34, 38} {
		if len(e.Evaluate(withTemp(tick(i+1), temp), tick(i+1))) > 0 {
			fired = append(fired, i+1)
		}
	}

	if len(fired) != 2 || fired[0] != 2 || fired[1] != 5 {
		t.Fatalf("fired on ticks %v, want [2 5]", fired)
	}
}

func TestSustainedHighTemperatureFiresExactlyOnce(t *testing.T) {
	th := testThresholds()
	th.TemperatureCooldown = 10 * time.Second
	e := newTestEvaluator(t, th)

	count := 0
	for i := 0; i < 600; i++ {
		count += len(e.Evaluate(withTemp(tick(i), 40), tick(i)))
	}
	if count != 1 {
		t.Fatalf("fired %d times while above threshold, want 1", count)
	}
	if st := e.States()[models.TemperatureHigh]; st != StateCoolingDown {
		t.Errorf("state = %q, want %q", st, StateCoolingDown)
	}
}

func TestCooldownSpacingPerKind(t *testing.T) {
	e := newTestEvaluator(t, testThresholds())

	var firedAt []time.Time
	// Flap across the threshold every second for 20 minutes
	for i := 0; i < 1200; i++ {
		temp := 34.0
		if i%2 == 0 {
			temp = 36
		}
		for _, ev := range e.Evaluate(withTemp(tick(i), temp), tick(i)) {
			firedAt = append(firedAt, ev.FiredAt)
		}
	}

	if len(firedAt) < 2 {
		t.Fatalf("expected several fires over 20 minutes, got %d", len(firedAt))
	}
	for i := 1; i < len(firedAt); i++ {
		if gap := firedAt[i].Sub(firedAt[i-1]); gap < 5*time.Minute {
			t.Errorf("fires %d and %d only %v apart", i-1, i, gap)
		}
	}
}

func TestKindsHaveIndependentCooldowns(t *testing.T) {
	e := newTestEvaluator(t, testThresholds())

	hot := withTemp(tick(1), 40)
	if got := kinds(e.Evaluate(hot, tick(1))); len(got) != 1 || got[0] != models.TemperatureHigh {
		t.Fatalf("first evaluation fired %v", got)
	}

	dry := nominal(tick(2))
	dry.Temperature = 40
	dry.WaterLevel = 10
	got := kinds(e.Evaluate(dry, tick(2)))
	if len(got) != 1 || got[0] != models.WaterLow {
		t.Fatalf("water low should fire despite the temperature cooldown, got %v", got)
	}
}

func TestSimultaneousKindsAllFire(t *testing.T) {
	e := newTestEvaluator(t, testThresholds())

	r := models.NewReading("gh-1", tick(1), 40, 90, 5, 3.9)
	got := kinds(e.Evaluate(r, tick(1)))

	want := map[models.AlertKind]bool{models.TemperatureHigh: true, models.WaterLow: true, models.HumidityHigh: true}
	if len(got) != len(want) {
		t.Fatalf("fired %v, want %d kinds", got, len(want))
	}
	for _, k := range got {
		if !want[k] {
			t.Errorf("unexpected kind %q", k)
		}
	}
}

func TestHumidityOscillationFiresAtMostOncePerCooldown(t *testing.T) {
	th := testThresholds()
	th.HumidityHysteresis = 0
	e := newTestEvaluator(t, th)

	count := 0
	for i := 0; i < 240; i++ { // 4 minutes, inside the 5 minute cooldown
		h := 79.5
		if i%2 == 0 {
			h = 80.5
		}
		count += len(e.Evaluate(withHumidity(tick(i), h), tick(i)))
	}
	if count != 1 {
		t.Fatalf("fired %d times, want 1", count)
	}
}

func TestHumidityHysteresisRearm(t *testing.T) {
	th := testThresholds()
	th.HumidityCooldown = time.Second
	e := newTestEvaluator(t, th)

	steps := []struct {
		h    float64
		fire bool
	}{
		{81, true},
		{79, false}, // below max but above the re-arm level
		{81, false}, // still armed off
		{77.5, false},
		{81, true},
		{60, false},
	}

	for i, s := range steps {
		at := tick(i * 10)
		fired := len(e.Evaluate(withHumidity(at, s.h), at)) > 0
		if fired != s.fire {
			t.Errorf("step %d (h=%.1f): fired=%v, want %v", i, s.h, fired, s.fire)
		}
	}
}

func TestHumidityLowUsesUpperRearm(t *testing.T) {
	th := testThresholds()
	th.HumidityCooldown = time.Second
	e := newTestEvaluator(t, th)

	seq := []float64{45, 51, 45, 53, 45}
	want := []bool{true, false, false, false, true}

	for i, h := range seq {
		at := tick(i * 10)
		var fired bool
		for _, ev := range e.Evaluate(withHumidity(at, h), at) {
			if ev.Kind == models.HumidityLow {
				fired = true
			}
		}
		if fired != want[i] {
			t.Errorf("step %d (h=%.1f): fired=%v, want %v", i, h, fired, want[i])
		}
	}
}

func TestStaleFiresOncePerGap(t *testing.T) {
	th := testThresholds()
	th.StaleCooldown = 5 * time.Second
	e := newTestEvaluator(t, th)

	e.Evaluate(nominal(t0), t0)

	count := 0
	for s := 5; s <= 60; s += 5 {
		count += len(e.CheckStale(tick(s)))
	}
	if count != 1 {
		t.Fatalf("first gap fired %d stale events, want 1", count)
	}

	// A reading re-arms; a second long gap fires again.
	e.Evaluate(nominal(tick(61)), tick(61))
	if n := len(e.CheckStale(tick(65))); n != 0 {
		t.Fatalf("fired %d right after a reading", n)
	}
	if events := e.CheckStale(tick(80)); len(events) != 1 || events[0].Kind != models.CommunicationStale {
		t.Fatalf("second gap events = %v", kinds(events))
	}
}

func TestStaleWithoutAnyReading(t *testing.T) {
	e := newTestEvaluator(t, testThresholds())

	if n := len(e.CheckStale(tick(5))); n != 0 {
		t.Fatalf("fired %d events before the threshold", n)
	}
	events := e.CheckStale(tick(11))
	if len(events) != 1 {
		t.Fatalf("expected a stale event 11s after start, got %d", len(events))
	}
	if events[0].Severity != models.SeverityCritical || events[0].Reading != nil {
		t.Errorf("unexpected stale event %+v", events[0])
	}
}

func TestStaleSecondGapInsideCooldownIsSuppressed(t *testing.T) {
	e := newTestEvaluator(t, testThresholds()) // 60s stale cooldown

	if len(e.CheckStale(tick(11))) != 1 {
		t.Fatal("first gap should fire")
	}
	e.Evaluate(nominal(tick(12)), tick(12))
	if n := len(e.CheckStale(tick(30))); n != 0 {
		t.Fatalf("second gap inside cooldown fired %d events", n)
	}
	if st := e.States()[models.CommunicationStale]; st != StateSuppressed {
		t.Errorf("state = %q, want %q", st, StateSuppressed)
	}
}

func TestStaleOutageStartingInsideCooldownFiresAfterCooldown(t *testing.T) {
	e := newTestEvaluator(t, testThresholds()) // 60s stale cooldown

	if len(e.CheckStale(tick(11))) != 1 {
		t.Fatal("first gap should fire")
	}
	e.Evaluate(nominal(tick(12)), tick(12))

	var firedAt []time.Time
	for s := 15; s <= 1800; s += 5 {
		for _, ev := range e.CheckStale(tick(s)) {
			firedAt = append(firedAt, ev.FiredAt)
		}
	}

	if len(firedAt) != 1 {
		t.Fatalf("outage fired %d stale events, want exactly 1", len(firedAt))
	}
	if !firedAt[0].Equal(tick(75)) {
		t.Errorf("fired at %v, want first check after the cooldown (%v)", firedAt[0], tick(75))
	}
	if st := e.States()[models.CommunicationStale]; st != StateCoolingDown {
		t.Errorf("state = %q, want %q", st, StateCoolingDown)
	}
}

func TestSuppressedExcursionFiresOnceCooldownElapses(t *testing.T) {
	e := newTestEvaluator(t, testThresholds()) // 5 minute temperature cooldown

	var firedAt []time.Time
	record := func(events []models.AlertEvent) {
		for _, ev := range events {
			firedAt = append(firedAt, ev.FiredAt)
		}
	}

	record(e.Evaluate(withTemp(tick(0), 36), tick(0)))
	record(e.Evaluate(withTemp(tick(1), 34), tick(1)))
	for i := 2; i < 3600; i++ {
		record(e.Evaluate(withTemp(tick(i), 45), tick(i)))
	}

	if len(firedAt) != 2 {
		t.Fatalf("fired %d times over an hour at 45C, want 2", len(firedAt))
	}
	if !firedAt[1].Equal(tick(300)) {
		t.Errorf("second fire at %v, want %v", firedAt[1], tick(300))
	}
	if st := e.States()[models.TemperatureHigh]; st != StateCoolingDown {
		t.Errorf("state = %q, want %q", st, StateCoolingDown)
	}
}

func TestSuppressedHumidityRearmsOnClear(t *testing.T) {
	th := testThresholds()
	th.HumidityCooldown = time.Minute
	e := newTestEvaluator(t, th)

	e.Evaluate(withHumidity(tick(0), 85), tick(0))
	e.Evaluate(withHumidity(tick(1), 70), tick(1))
	e.Evaluate(withHumidity(tick(2), 85), tick(2))
	if st := e.States()[models.HumidityHigh]; st != StateSuppressed {
		t.Fatalf("state = %q, want %q", st, StateSuppressed)
	}

	e.Evaluate(withHumidity(tick(3), 70), tick(3))
	if st := e.States()[models.HumidityHigh]; st != StateIdle {
		t.Errorf("state = %q, want %q after clearing", st, StateIdle)
	}
}

func TestReportCooldownPerType(t *testing.T) {
	e := newTestEvaluator(t, testThresholds())

	event, outcome := e.Report(ReportRequest{Type: "door_open", Level: "critical", Message: "Door open"}, tick(0))
	if outcome != OutcomeEmitted {
		t.Fatalf("first report outcome = %q", outcome)
	}
	if event.Kind != models.Reported || event.Type != "door_open" || event.Severity != models.SeverityCritical {
		t.Errorf("unexpected event %+v", event)
	}

	if _, outcome := e.Report(ReportRequest{Type: "door_open"}, tick(30)); outcome != OutcomeSuppressed {
		t.Errorf("repeat within cooldown outcome = %q, want %q", outcome, OutcomeSuppressed)
	}
	if _, outcome := e.Report(ReportRequest{Type: "pump_fault"}, tick(30)); outcome != OutcomeEmitted {
		t.Errorf("other type outcome = %q, want emitted", outcome)
	}
	if _, outcome := e.Report(ReportRequest{Type: "door_open"}, tick(60)); outcome != OutcomeEmitted {
		t.Errorf("report after cooldown outcome = %q, want emitted", outcome)
	}
}

func TestReportDefaults(t *testing.T) {
	e := newTestEvaluator(t, testThresholds())

	event, outcome := e.Report(ReportRequest{}, t0)
	if outcome != OutcomeEmitted {
		t.Fatalf("outcome = %q", outcome)
	}
	if event.Type != DefaultReportType || event.Severity != models.SeverityWarning || event.Message == "" {
		t.Errorf("defaults not applied: %+v", event)
	}
}

func TestEvaluationIsReproducible(t *testing.T) {
	seq := []float64{20, 36, 36, 30, 41, 20, 36, 37, 12, 36}
	run := func() []time.Time {
		th := testThresholds()
		th.TemperatureCooldown = 3 * time.Second
		e := newTestEvaluator(t, th)
		var out []time.Time
		for i, temp := range seq {
			for _, ev := range e.Evaluate(withTemp(tick(i), temp), tick(i)) {
				out = append(out, ev.FiredAt)
			}
		}
		return out
	}

	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("runs differ: %v vs %v", a, b)
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			t.Errorf("fire %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestAlertMessageIncludesDelta(t *testing.T) {
	history := NewRollingHistory(10)
	e := NewEvaluator(testThresholds(), history, zaptest.NewLogger(t), t0)

	prev := withTemp(tick(1), 33)
	cur := withTemp(tick(2), 36.5)
	history.Append(prev)
	history.Append(cur)

	events := e.Evaluate(cur, tick(2))
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	want := "Device gh-1: temperature 36.50 °C (limit 35.0 °C). Change since previous reading: +3.50."
	if events[0].Message != want {
		t.Errorf("Message = %q\nwant      %q", events[0].Message, want)
	}
}
