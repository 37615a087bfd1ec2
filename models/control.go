package models

// ControlCommand is an operator command. All fields are optional; the
// command is classified into a single Intent.
type ControlCommand struct {
	Mode       *string  `json:"mode,omitempty"`
	Irrigation *float64 `json:"irrigation,omitempty"`
	Fans       *float64 `json:"fans,omitempty"`
	Lights     *bool    `json:"lights,omitempty"`
	Paused     *bool    `json:"paused,omitempty"`
	Command    *string  `json:"command,omitempty"`
}

// Intent is what a ControlCommand asks the actuation layer to do.
type Intent string

const (
	IntentNone          Intent = "none"
	IntentPause         Intent = "pause"
	IntentResume        Intent = "resume"
	IntentSetActuator   Intent = "set_actuator"
	IntentEmergencyStop Intent = "emergency_stop"
)

// CommandEmergencyStop is the explicit command string for an emergency stop.
const CommandEmergencyStop = "emergency_stop"

// Intent classifies the command. An explicit emergency stop wins over
// everything else, then pause/resume, then actuator changes.
func (c ControlCommand) Intent() Intent {
	if c.Command != nil && *c.Command == CommandEmergencyStop {
		return IntentEmergencyStop
	}
	if c.Paused != nil {
		if *c.Paused {
			return IntentPause
		}
		return IntentResume
	}
	if c.Mode != nil || c.Irrigation != nil || c.Fans != nil || c.Lights != nil {
		return IntentSetActuator
	}
	return IntentNone
}

// EmergencyStopCommand returns the actuator settings applied on emergency
// stop: manual mode, everything off.
func EmergencyStopCommand() ControlCommand {
	mode := "manual"
	zero := 0.0
	off := false
	cmd := CommandEmergencyStop
	return ControlCommand{
		Mode:       &mode,
		Irrigation: &zero,
		Fans:       &zero,
		Lights:     &off,
		Command:    &cmd,
	}
}
