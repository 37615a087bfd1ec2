package models

import (
	"time"
)

// LinkHealthStatus represents whether readings are still arriving
type LinkHealthStatus string

const (
	LinkHealthy LinkHealthStatus = "healthy"
	LinkStale   LinkHealthStatus = "stale"
	LinkWaiting LinkHealthStatus = "waiting" // no reading observed yet
)

// LinkStatus is the telemetry link health reported by /status
type LinkStatus struct {
	DeviceID   string           `json:"device_id"`
	Status     LinkHealthStatus `json:"status"`
	LastSeen   *time.Time       `json:"last_seen,omitempty"`
	SilenceFor string           `json:"silence_for,omitempty"`
	Listeners  int              `json:"listeners"`
	History    int              `json:"history"`
	Skipped    int64            `json:"skipped_ticks"`
	Malformed  int64            `json:"malformed_lines"`
}
