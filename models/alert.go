package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertKind represents the different conditions the evaluator watches
type AlertKind string

const (
	TemperatureHigh    AlertKind = "temperature_high"
	WaterLow           AlertKind = "water_low"
	HumidityHigh       AlertKind = "humidity_high"
	HumidityLow        AlertKind = "humidity_low"
	CommunicationStale AlertKind = "communication_stale"
	Reported           AlertKind = "reported"
)

// Severity of an alert event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity maps a reported level to a Severity, defaulting to warning.
func ParseSeverity(level string) Severity {
	switch Severity(level) {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return Severity(level)
	default:
		return SeverityWarning
	}
}

// AlertEvent is emitted when an alert kind transitions into firing.
type AlertEvent struct {
	ID       string    `json:"id"`
	Kind     AlertKind `json:"kind"`
	Type     string    `json:"type"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Reading  *Reading  `json:"reading,omitempty"`
	FiredAt  time.Time `json:"fired_at"`
}

// NewAlertEvent creates an event for kind. Type is the dedupe key and
// defaults to the kind name.
func NewAlertEvent(kind AlertKind, typ string, severity Severity, message string, reading *Reading, firedAt time.Time) AlertEvent {
	if typ == "" {
		typ = string(kind)
	}
	return AlertEvent{
		ID:       uuid.NewString(),
		Kind:     kind,
		Type:     typ,
		Severity: severity,
		Message:  message,
		Reading:  reading,
		FiredAt:  firedAt,
	}
}

// GetAlertEmoji returns appropriate emoji for the alert kind
func (e *AlertEvent) GetAlertEmoji() string {
	switch e.Kind {
	case TemperatureHigh:
		return "🔥"
	case WaterLow:
		return "💧"
	case HumidityHigh:
		return "💦"
	case HumidityLow:
		return "🏜️"
	case CommunicationStale:
		return "📡"
	default:
		return "⚠️"
	}
}

// Title is the short headline used by notification channels.
func (e *AlertEvent) Title() string {
	switch e.Kind {
	case TemperatureHigh:
		return "🔥 Alert: temperature high"
	case WaterLow:
		return "💧 Alert: water level low"
	case HumidityHigh:
		return "💦 Alert: humidity high"
	case HumidityLow:
		return "🏜️ Alert: humidity low"
	case CommunicationStale:
		return "⚠️ Communication failure"
	}
	if e.Severity == SeverityCritical {
		return "⚠️ CRITICAL: " + e.Type
	}
	return "⚠️ Alert: " + e.Type
}
