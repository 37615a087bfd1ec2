package services

import (
	"context"
	"sync"

	"greenhouse/models"

	"go.uber.org/zap"
)

// Reported alert types raised by operator commands.
const (
	ReportSystemPaused  = "system_paused"
	ReportSystemResumed = "system_resumed"
	ReportEmergencyStop = "emergency_stop"
)

// Reporter accepts externally originated alerts.
type Reporter interface {
	Report(req ReportRequest) Outcome
}

// ControlResult describes what happened to an accepted command.
type ControlResult struct {
	Intent       models.Intent         `json:"intent"`
	Applied      models.ControlCommand `json:"applied"`
	Forwarded    bool                  `json:"forwarded"`
	ForwardError string                `json:"forward_error,omitempty"`
	// Alert is set for intents that raise a reported alert.
	Alert Outcome `json:"alert,omitempty"`
}

// ControlGateway classifies operator commands, forwards them to the
// actuator and relays them to stream listeners.
type ControlGateway struct {
	actuator Actuator
	hub      *Hub
	reporter Reporter
	logger   *zap.Logger

	mu     sync.Mutex
	paused bool
}

func NewControlGateway(actuator Actuator, hub *Hub, reporter Reporter, logger *zap.Logger) *ControlGateway {
	return &ControlGateway{
		actuator: actuator,
		hub:      hub,
		reporter: reporter,
		logger:   logger,
	}
}

// Apply handles one command. Actuator failures are reported in the result
// and never prevent the command from reaching listeners.
func (g *ControlGateway) Apply(ctx context.Context, cmd models.ControlCommand) ControlResult {
	intent := cmd.Intent()
	result := ControlResult{Intent: intent, Applied: cmd}

	if intent == models.IntentNone {
		g.logger.Debug("Ignoring empty control command")
		return result
	}

	var report *ReportRequest
	switch intent {
	case models.IntentEmergencyStop:
		result.Applied = models.EmergencyStopCommand()
		report = &ReportRequest{
			Type:    ReportEmergencyStop,
			Level:   string(models.SeverityCritical),
			Message: "Emergency stop requested: all actuators switched off",
		}
	case models.IntentPause:
		report = &ReportRequest{
			Type:    ReportSystemPaused,
			Level:   string(models.SeverityWarning),
			Message: "Greenhouse automation paused by operator",
		}
	case models.IntentResume:
		report = &ReportRequest{
			Type:    ReportSystemResumed,
			Level:   string(models.SeverityInfo),
			Message: "Greenhouse automation resumed by operator",
		}
	}

	g.mu.Lock()
	switch intent {
	case models.IntentPause:
		g.paused = true
	case models.IntentResume:
		g.paused = false
	}
	g.mu.Unlock()

	if err := g.actuator.Apply(ctx, result.Applied); err != nil {
		result.ForwardError = err.Error()
		g.logger.Warn("Failed to forward control command",
			zap.String("intent", string(intent)),
			zap.Error(err))
	} else {
		result.Forwarded = true
	}

	g.hub.PublishControl(result.Applied)

	if report != nil && g.reporter != nil {
		result.Alert = g.reporter.Report(*report)
	}

	g.logger.Info("Control command applied",
		zap.String("intent", string(intent)),
		zap.Bool("forwarded", result.Forwarded),
		zap.String("alert", string(result.Alert)))
	return result
}

// Paused reports whether the last pause/resume command was a pause.
func (g *ControlGateway) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}
