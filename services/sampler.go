package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"greenhouse/models"

	"go.uber.org/zap"
)

var (
	ErrUnknownField  = errors.New("unknown sensor field")
	ErrMalformedLine = errors.New("malformed telemetry line")
)

// Source produces the reading for one tick. ok is false when the tick has
// nothing to report.
type Source interface {
	Sample(now time.Time) (models.Reading, bool)
}

type spike struct {
	value float64
	until time.Time
}

// Sampler turns a Source into one reading per tick, applying any active
// spike injections.
type Sampler struct {
	source  Source
	logger  *zap.Logger
	mu      sync.Mutex
	spikes  map[string]spike
	skipped atomic.Int64
}

func NewSampler(source Source, logger *zap.Logger) *Sampler {
	return &Sampler{
		source: source,
		logger: logger,
		spikes: make(map[string]spike),
	}
}

// Tick samples the source. A skipped tick returns ok=false and is only
// counted, never reported as an error.
func (s *Sampler) Tick(now time.Time) (models.Reading, bool) {
	reading, ok := s.source.Sample(now)
	if !ok {
		s.skipped.Add(1)
		return models.Reading{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for field, sp := range s.spikes {
		if !now.Before(sp.until) {
			delete(s.spikes, field)
			continue
		}
		reading, _ = reading.WithField(field, sp.value)
	}
	return reading, true
}

// Inject overrides field with value on every reading until d has elapsed.
func (s *Sampler) Inject(field string, value float64, d time.Duration, now time.Time) error {
	if _, ok := (models.Reading{}).Field(field); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	s.mu.Lock()
	s.spikes[field] = spike{value: value, until: now.Add(d)}
	s.mu.Unlock()

	s.logger.Info("Spike injected",
		zap.String("field", field),
		zap.Float64("value", value),
		zap.Duration("duration", d))
	return nil
}

// Skipped returns the number of ticks that produced no reading.
func (s *Sampler) Skipped() int64 {
	return s.skipped.Load()
}

// Malformed returns how many lines the source rejected, or zero when the
// source does not parse raw lines.
func (s *Sampler) Malformed() int64 {
	if m, ok := s.source.(interface{ Malformed() int64 }); ok {
		return m.Malformed()
	}
	return 0
}

// SyntheticSource models each field as a slow sinusoid with bounded noise.
type SyntheticSource struct {
	deviceID string
	start    time.Time
	mu       sync.Mutex
	rng      *rand.Rand
}

// NewSyntheticSource creates a source whose phase starts at start. The same
// seed and tick instants always yield the same readings.
func NewSyntheticSource(deviceID string, start time.Time, seed int64) *SyntheticSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SyntheticSource{
		deviceID: deviceID,
		start:    start,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func (s *SyntheticSource) Sample(now time.Time) (models.Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec := now.Sub(s.start).Seconds()
	temp := 22 + 2*math.Sin(sec*0.05) + (s.rng.Float64()-0.5)*0.4
	hum := 55 + 8*math.Sin(sec*0.03+1.2) + (s.rng.Float64()-0.5)*1.2
	water := 60 + 20*math.Sin(sec*0.01+2.5) + (s.rng.Float64()-0.5)*2
	battery := 3.9 - 0.00005*sec + (s.rng.Float64()-0.5)*0.001

	return models.NewReading(
		s.deviceID,
		now,
		round(temp, 2),
		round(hum, 2),
		round(water, 2),
		round(battery, 3),
	), true
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// LinkSource holds the most recent raw telemetry line received from a
// physical link. Each tick consumes at most one line.
type LinkSource struct {
	deviceID    string
	logger      *zap.Logger
	mu          sync.Mutex
	pending     []byte
	hasPending  bool
	overwritten atomic.Int64
	malformed   atomic.Int64
}

func NewLinkSource(deviceID string, logger *zap.Logger) *LinkSource {
	return &LinkSource{
		deviceID: deviceID,
		logger:   logger,
	}
}

// Feed stores line as the pending telemetry, replacing an unconsumed one.
func (l *LinkSource) Feed(line []byte) {
	buf := make([]byte, len(line))
	copy(buf, line)

	l.mu.Lock()
	if l.hasPending {
		l.overwritten.Add(1)
	}
	l.pending = buf
	l.hasPending = true
	l.mu.Unlock()
}

func (l *LinkSource) Sample(now time.Time) (models.Reading, bool) {
	l.mu.Lock()
	line, ok := l.pending, l.hasPending
	l.pending, l.hasPending = nil, false
	l.mu.Unlock()

	if !ok {
		return models.Reading{}, false
	}

	reading, err := ParseTelemetryLine(line, l.deviceID, now)
	if err != nil {
		l.malformed.Add(1)
		l.logger.Warn("Skipping malformed telemetry line",
			zap.Error(err),
			zap.Int("length", len(line)))
		return models.Reading{}, false
	}
	return reading, true
}

// Overwritten returns how many lines were replaced before a tick consumed them.
func (l *LinkSource) Overwritten() int64 {
	return l.overwritten.Load()
}

// Malformed returns how many consumed lines failed to parse. Ticks with no
// pending line are not counted.
func (l *LinkSource) Malformed() int64 {
	return l.malformed.Load()
}

// telemetryLine accepts both the snake_case fields of the ESP32 firmware and
// the camelCase fields of the cloud relay.
type telemetryLine struct {
	DeviceID      *string  `json:"device_id"`
	DeviceIDAlt   *string  `json:"deviceId"`
	Temperature   *float64 `json:"temperature"`
	Humidity      *float64 `json:"humidity"`
	WaterLevel    *float64 `json:"water_level"`
	WaterLevelAlt *float64 `json:"waterLevel"`
	Battery       *float64 `json:"battery"`
}

// ParseTelemetryLine decodes one JSON telemetry line. Temperature, humidity
// and water level are required; battery defaults to zero. The reading is
// stamped with ts, not with any device-reported time.
func ParseTelemetryLine(line []byte, defaultDeviceID string, ts time.Time) (models.Reading, error) {
	var tl telemetryLine
	if err := json.Unmarshal(line, &tl); err != nil {
		return models.Reading{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}

	water := tl.WaterLevel
	if water == nil {
		water = tl.WaterLevelAlt
	}
	if tl.Temperature == nil || tl.Humidity == nil || water == nil {
		return models.Reading{}, fmt.Errorf("%w: missing temperature, humidity or water level", ErrMalformedLine)
	}

	deviceID := defaultDeviceID
	switch {
	case tl.DeviceID != nil && *tl.DeviceID != "":
		deviceID = *tl.DeviceID
	case tl.DeviceIDAlt != nil && *tl.DeviceIDAlt != "":
		deviceID = *tl.DeviceIDAlt
	}

	battery := 0.0
	if tl.Battery != nil {
		battery = *tl.Battery
	}

	return models.NewReading(deviceID, ts, *tl.Temperature, *tl.Humidity, *water, battery), nil
}
