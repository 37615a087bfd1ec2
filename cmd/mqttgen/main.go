package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"greenhouse/services"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var (
	rps        = flag.Int("rps", 1, "Messages per second")
	deviceID   = flag.String("device", "mock-esp32-01", "Device ID for mock data")
	anomaly    = flag.Float64("anomaly", 0.05, "Probability of an out-of-range reading (0.0-1.0)")
	malformed  = flag.Float64("malformed", 0.0, "Probability of publishing a malformed line (0.0-1.0)")
	mqttBroker = flag.String("broker", "localhost:1883", "MQTT broker address (host:port)")
	mqttUser   = flag.String("user", "", "MQTT username")
	mqttPass   = flag.String("pass", "", "MQTT password")
	mqttTopic  = flag.String("topic", "greenhouse/sensors", "MQTT topic to publish to")
	seed       = flag.Int64("seed", 0, "Random seed (0 = time based)")
)

// MockDataGenerator emits the same waveform as the synthetic source, with
// occasional threshold violations and broken lines.
type MockDataGenerator struct {
	source        *services.SyntheticSource
	anomalyProb   float64
	malformedProb float64
	rng           *rand.Rand
}

func NewMockDataGenerator(deviceID string, anomalyProb, malformedProb float64, seed int64) *MockDataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MockDataGenerator{
		source:        services.NewSyntheticSource(deviceID, time.Now(), seed),
		anomalyProb:   anomalyProb,
		malformedProb: malformedProb,
		rng:           rand.New(rand.NewSource(seed + 1)),
	}
}

// Generate returns the payload to publish and whether it is an anomaly.
func (m *MockDataGenerator) Generate(now time.Time) ([]byte, bool, error) {
	if m.rng.Float64() < m.malformedProb {
		return []byte(`{"device_id":"broken","temperature":`), false, nil
	}

	reading, _ := m.source.Sample(now)
	isAnomaly := m.rng.Float64() < m.anomalyProb
	if isAnomaly {
		switch m.rng.Intn(3) {
		case 0:
			reading.Temperature = 36 + m.rng.Float64()*5 // above 35 °C
		case 1:
			reading.WaterLevel = m.rng.Float64() * 15 // below 20 %
		default:
			reading.Humidity = 82 + m.rng.Float64()*10 // above 80 %
		}
	}

	payload, err := json.Marshal(reading)
	return payload, isAnomaly, err
}

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if *rps < 1 {
		logger.Fatal("rps must be at least 1")
	}

	logger.Info("MQTT mock telemetry generator started",
		zap.String("device_id", *deviceID),
		zap.Int("rps", *rps),
		zap.Float64("anomaly_probability", *anomaly),
		zap.Float64("malformed_probability", *malformed),
		zap.String("mqtt_broker", *mqttBroker),
		zap.String("mqtt_topic", *mqttTopic),
	)

	// Simulates the ESP32 publishing its readings
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", *mqttBroker))
	opts.SetClientID(fmt.Sprintf("%s-generator", *deviceID))
	opts.SetUsername(*mqttUser)
	opts.SetPassword(*mqttPass)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", *mqttBroker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	mqttClient := mqtt.NewClient(opts)
	if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(token.Error()))
	}
	defer mqttClient.Disconnect(250)

	gen := NewMockDataGenerator(*deviceID, *anomaly, *malformed, *seed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping generator")
		cancel()
	}()

	interval := time.Second / time.Duration(*rps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(60 * time.Second)
	defer statsTicker.Stop()

	messageCount := 0
	anomalyCount := 0
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Generator stopped",
				zap.Int("total_messages", messageCount),
				zap.Int("anomalies_generated", anomalyCount),
				zap.Duration("total_uptime", time.Since(startTime)),
			)
			return

		case now := <-ticker.C:
			payload, isAnomaly, err := gen.Generate(now)
			if err != nil {
				logger.Error("Failed to marshal reading", zap.Error(err))
				continue
			}

			token := mqttClient.Publish(*mqttTopic, 0, false, payload)
			if token.Wait() && token.Error() != nil {
				logger.Error("Failed to publish MQTT message",
					zap.Error(token.Error()),
					zap.Int("message_count", messageCount))
				continue
			}

			messageCount++
			if isAnomaly {
				anomalyCount++
			}
			logger.Debug("Published telemetry",
				zap.String("topic", *mqttTopic),
				zap.Bool("is_anomaly", isAnomaly),
				zap.ByteString("payload", payload))

		case <-statsTicker.C:
			anomalyRate := 0.0
			if messageCount > 0 {
				anomalyRate = float64(anomalyCount) / float64(messageCount) * 100
			}
			logger.Info("Statistics",
				zap.Int("total_messages", messageCount),
				zap.Int("anomalies", anomalyCount),
				zap.Float64("anomaly_rate_percent", anomalyRate),
				zap.Float64("avg_rate_msg_per_sec", float64(messageCount)/time.Since(startTime).Seconds()),
			)
		}
	}
}
