package models

// EnvelopeType identifies the kind of message on the real-time stream.
type EnvelopeType string

const (
	EnvelopeInit    EnvelopeType = "init"
	EnvelopeSensors EnvelopeType = "sensors"
	EnvelopeControl EnvelopeType = "control"
	EnvelopeAlert   EnvelopeType = "alert"
)

// Envelope wraps every message pushed to stream listeners.
type Envelope struct {
	Type    EnvelopeType `json:"type"`
	Payload interface{}  `json:"payload"`
}
