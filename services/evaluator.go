package services

import (
	"fmt"
	"sync"
	"time"

	"greenhouse/config"
	"greenhouse/models"

	"go.uber.org/zap"
)

// AlertState is the per-kind edge-trigger state.
type AlertState string

const (
	StateIdle        AlertState = "idle"
	StateFiring      AlertState = "firing"
	StateCoolingDown AlertState = "cooling_down"
	// StateSuppressed means the predicate became true inside the cooldown
	// window; the edge is consumed without an event.
	StateSuppressed AlertState = "firing_suppressed"
)

// Outcome tells a reporter what happened to its alert.
type Outcome string

const (
	OutcomeEmitted    Outcome = "emitted"
	OutcomeSuppressed Outcome = "cooldown"
)

// DefaultReportType is used when a reported alert carries no type.
const DefaultReportType = "reported"

// Thresholds configures every alert kind the evaluator watches.
type Thresholds struct {
	TemperatureMax      float64
	TemperatureCooldown time.Duration
	WaterMin            float64
	WaterCooldown       time.Duration
	HumidityMax         float64
	HumidityMin         float64
	HumidityHysteresis  float64
	HumidityCooldown    time.Duration
	StaleAfter          time.Duration
	StaleCooldown       time.Duration
	ReportCooldown      time.Duration
}

func ThresholdsFromConfig(cfg *config.Config) Thresholds {
	return Thresholds{
		TemperatureMax:      cfg.TemperatureMax,
		TemperatureCooldown: cfg.TemperatureCooldown,
		WaterMin:            cfg.WaterMin,
		WaterCooldown:       cfg.WaterCooldown,
		HumidityMax:         cfg.HumidityMax,
		HumidityMin:         cfg.HumidityMin,
		HumidityHysteresis:  cfg.HumidityHysteresis,
		HumidityCooldown:    cfg.HumidityCooldown,
		StaleAfter:          cfg.StaleThreshold,
		StaleCooldown:       cfg.StaleCooldown,
		ReportCooldown:      cfg.ReportCooldown,
	}
}

// ReportRequest is an externally supplied alert.
type ReportRequest struct {
	Type    string          `json:"type"`
	Level   string          `json:"level"`
	Message string          `json:"message"`
	Sample  *models.Reading `json:"sample,omitempty"`
}

// rule is a threshold predicate on one reading field. The kind fires when
// the value goes past limit and re-arms once it is back past rearm.
type rule struct {
	kind     models.AlertKind
	severity models.Severity
	field    string
	above    bool
	limit    float64
	rearm    float64
	cooldown time.Duration
}

func (r rule) fires(v float64) bool {
	if r.above {
		return v > r.limit
	}
	return v < r.limit
}

func (r rule) clears(v float64) bool {
	if r.above {
		return v <= r.rearm
	}
	return v >= r.rearm
}

type kindState struct {
	state     AlertState
	lastFired time.Time
	fired     bool
}

// step advances the state machine and reports whether an event is emitted.
// An edge inside the cooldown is held in StateSuppressed and fires once the
// cooldown elapses if the predicate still holds. A fired excursion stays in
// StateCoolingDown until the clear condition, so it never re-fires.
func (ks *kindState) step(active, clear bool, now time.Time, cooldown time.Duration) bool {
	switch ks.state {
	case StateIdle:
		if !active {
			return false
		}
		if ks.fired && now.Sub(ks.lastFired) < cooldown {
			ks.state = StateSuppressed
			return false
		}
		return ks.fire(now)
	case StateSuppressed:
		if active && now.Sub(ks.lastFired) >= cooldown {
			return ks.fire(now)
		}
		if clear {
			ks.state = StateIdle
		}
		return false
	default:
		if clear {
			ks.state = StateIdle
		}
		return false
	}
}

func (ks *kindState) fire(now time.Time) bool {
	ks.state = StateFiring
	ks.lastFired = now
	ks.fired = true
	ks.state = StateCoolingDown
	return true
}

// Evaluator decides when alerts fire. It owns the cooldown state; every
// method is safe for concurrent use.
type Evaluator struct {
	mu      sync.Mutex
	logger  *zap.Logger
	history *RollingHistory

	rules  []rule
	states map[models.AlertKind]*kindState

	staleAfter    time.Duration
	staleCooldown time.Duration
	stale         kindState
	lastObserved  time.Time
	lastDeviceID  string

	reportCooldown time.Duration
	reported       map[string]time.Time
}

// NewEvaluator creates an evaluator. start is the baseline for staleness
// until the first reading is observed.
func NewEvaluator(th Thresholds, history *RollingHistory, logger *zap.Logger, start time.Time) *Evaluator {
	rules := []rule{
		{
			kind:     models.TemperatureHigh,
			severity: models.SeverityCritical,
			field:    models.FieldTemperature,
			above:    true,
			limit:    th.TemperatureMax,
			rearm:    th.TemperatureMax,
			cooldown: th.TemperatureCooldown,
		},
		{
			kind:     models.WaterLow,
			severity: models.SeverityWarning,
			field:    models.FieldWaterLevel,
			above:    false,
			limit:    th.WaterMin,
			rearm:    th.WaterMin,
			cooldown: th.WaterCooldown,
		},
		{
			kind:     models.HumidityHigh,
			severity: models.SeverityWarning,
			field:    models.FieldHumidity,
			above:    true,
			limit:    th.HumidityMax,
			rearm:    th.HumidityMax - th.HumidityHysteresis,
			cooldown: th.HumidityCooldown,
		},
		{
			kind:     models.HumidityLow,
			severity: models.SeverityWarning,
			field:    models.FieldHumidity,
			above:    false,
			limit:    th.HumidityMin,
			rearm:    th.HumidityMin + th.HumidityHysteresis,
			cooldown: th.HumidityCooldown,
		},
	}

	states := make(map[models.AlertKind]*kindState, len(rules))
	for _, r := range rules {
		states[r.kind] = &kindState{state: StateIdle}
	}

	return &Evaluator{
		logger:         logger,
		history:        history,
		rules:          rules,
		states:         states,
		staleAfter:     th.StaleAfter,
		staleCooldown:  th.StaleCooldown,
		stale:          kindState{state: StateIdle},
		lastObserved:   start,
		reportCooldown: th.ReportCooldown,
		reported:       make(map[string]time.Time),
	}
}

// Evaluate checks reading against every threshold kind and returns the
// events that fired. Observing a reading also clears communication staleness.
func (e *Evaluator) Evaluate(reading models.Reading, now time.Time) []models.AlertEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastObserved = now
	e.lastDeviceID = reading.DeviceID
	if e.stale.state != StateIdle {
		e.stale.state = StateIdle
		e.logger.Info("Telemetry resumed", zap.String("device_id", reading.DeviceID))
	}

	var prev *models.Reading
	if e.history != nil {
		if p, ok := e.history.Previous(); ok && p.Timestamp.Before(reading.Timestamp) {
			prev = &p
		}
	}

	var events []models.AlertEvent
	for _, r := range e.rules {
		v, _ := reading.Field(r.field)
		ks := e.states[r.kind]
		before := ks.state

		if ks.step(r.fires(v), r.clears(v), now, r.cooldown) {
			snapshot := reading
			events = append(events, models.NewAlertEvent(r.kind, "", r.severity, describe(r, reading, prev), &snapshot, now))
			e.logger.Info("Alert fired",
				zap.String("kind", string(r.kind)),
				zap.String("device_id", reading.DeviceID),
				zap.Float64("value", v),
				zap.Float64("threshold", r.limit))
			continue
		}

		if before == StateIdle && ks.state == StateSuppressed {
			e.logger.Debug("Alert suppressed by cooldown",
				zap.String("kind", string(r.kind)),
				zap.Time("last_fired", ks.lastFired),
				zap.Duration("cooldown", r.cooldown))
		}
	}
	return events
}

// CheckStale fires communication_stale once per silence longer than the
// staleness threshold.
func (e *Evaluator) CheckStale(now time.Time) []models.AlertEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	silence := now.Sub(e.lastObserved)
	active := silence > e.staleAfter
	if !e.stale.step(active, !active, now, e.staleCooldown) {
		return nil
	}

	deviceID := e.lastDeviceID
	if deviceID == "" {
		deviceID = "unknown"
	}
	msg := fmt.Sprintf("No update received from device %s for %.1fs.", deviceID, silence.Seconds())
	e.logger.Warn("Telemetry stale",
		zap.String("device_id", deviceID),
		zap.Duration("silence", silence))

	return []models.AlertEvent{
		models.NewAlertEvent(models.CommunicationStale, "", models.SeverityCritical, msg, nil, now),
	}
}

// Report accepts an externally originated alert, subject to a cooldown keyed
// by its type string. A suppressed report is not an error.
func (e *Evaluator) Report(req ReportRequest, now time.Time) (models.AlertEvent, Outcome) {
	typ := req.Type
	if typ == "" {
		typ = DefaultReportType
	}

	e.mu.Lock()
	last, seen := e.reported[typ]
	if seen && now.Sub(last) < e.reportCooldown {
		e.mu.Unlock()
		e.logger.Debug("Reported alert suppressed by cooldown",
			zap.String("type", typ),
			zap.Time("last_fired", last))
		return models.AlertEvent{}, OutcomeSuppressed
	}
	e.reported[typ] = now
	e.mu.Unlock()

	msg := req.Message
	if msg == "" {
		msg = fmt.Sprintf("Event %s reported by the dashboard", typ)
	}

	event := models.NewAlertEvent(models.Reported, typ, models.ParseSeverity(req.Level), msg, req.Sample, now)
	e.logger.Info("Reported alert accepted",
		zap.String("type", typ),
		zap.String("severity", string(event.Severity)))
	return event, OutcomeEmitted
}

// States returns a snapshot of every kind's state.
func (e *Evaluator) States() map[models.AlertKind]AlertState {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[models.AlertKind]AlertState, len(e.states)+1)
	for kind, ks := range e.states {
		out[kind] = ks.state
	}
	out[models.CommunicationStale] = e.stale.state
	return out
}

// LastObserved returns when the evaluator last saw a reading, or the start
// baseline if none has arrived.
func (e *Evaluator) LastObserved() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastObserved
}

func describe(r rule, reading models.Reading, prev *models.Reading) string {
	var msg string
	switch r.kind {
	case models.TemperatureHigh:
		msg = fmt.Sprintf("Device %s: temperature %.2f °C (limit %.1f °C).", reading.DeviceID, reading.Temperature, r.limit)
	case models.WaterLow:
		msg = fmt.Sprintf("Device %s: water level %.2f%% (limit %.1f%%).", reading.DeviceID, reading.WaterLevel, r.limit)
	case models.HumidityHigh:
		msg = fmt.Sprintf("Device %s: humidity %.2f%% above %.1f%%.", reading.DeviceID, reading.Humidity, r.limit)
	case models.HumidityLow:
		msg = fmt.Sprintf("Device %s: humidity %.2f%% below %.1f%%.", reading.DeviceID, reading.Humidity, r.limit)
	}

	if prev != nil {
		cur, _ := reading.Field(r.field)
		old, _ := prev.Field(r.field)
		msg += fmt.Sprintf(" Change since previous reading: %+.2f.", cur-old)
	}
	return msg
}

// StaleAfter returns the silence that triggers communication_stale.
func (e *Evaluator) StaleAfter() time.Duration {
	return e.staleAfter
}
