package models

import (
	"math"
	"time"
)

// Reading is one timestamped snapshot of the greenhouse sensors.
type Reading struct {
	DeviceID    string    `json:"device_id"`
	Timestamp   time.Time `json:"ts"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	WaterLevel  float64   `json:"water_level"`
	Battery     float64   `json:"battery"`
}

// Sensor field names accepted by spike injection and used in alert messages.
const (
	FieldTemperature = "temperature"
	FieldHumidity    = "humidity"
	FieldWaterLevel  = "water_level"
	FieldBattery     = "battery"
)

// NewReading builds a Reading with the water level clamped to [0, 100].
func NewReading(deviceID string, ts time.Time, temperature, humidity, waterLevel, battery float64) Reading {
	return Reading{
		DeviceID:    deviceID,
		Timestamp:   ts,
		Temperature: temperature,
		Humidity:    humidity,
		WaterLevel:  ClampPercent(waterLevel),
		Battery:     battery,
	}
}

// ClampPercent limits v to [0, 100].
func ClampPercent(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// Field returns the named sensor value.
func (r Reading) Field(name string) (float64, bool) {
	switch name {
	case FieldTemperature:
		return r.Temperature, true
	case FieldHumidity:
		return r.Humidity, true
	case FieldWaterLevel:
		return r.WaterLevel, true
	case FieldBattery:
		return r.Battery, true
	default:
		return 0, false
	}
}

// WithField returns a copy of r with the named field replaced.
func (r Reading) WithField(name string, v float64) (Reading, bool) {
	switch name {
	case FieldTemperature:
		r.Temperature = v
	case FieldHumidity:
		r.Humidity = v
	case FieldWaterLevel:
		r.WaterLevel = ClampPercent(v)
	case FieldBattery:
		r.Battery = v
	default:
		return r, false
	}
	return r, true
}
