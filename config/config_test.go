package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.SampleInterval != time.Second {
		t.Errorf("SampleInterval = %v, want 1s", cfg.SampleInterval)
	}
	if cfg.HistoryCapacity != 300 {
		t.Errorf("HistoryCapacity = %d, want 300", cfg.HistoryCapacity)
	}
	if cfg.TemperatureMax != 35 || cfg.TemperatureCooldown != 5*time.Minute {
		t.Errorf("temperature threshold = %.1f/%v, want 35/5m", cfg.TemperatureMax, cfg.TemperatureCooldown)
	}
	if cfg.WaterMin != 20 {
		t.Errorf("WaterMin = %.1f, want 20", cfg.WaterMin)
	}
	if cfg.StaleThreshold != 10*time.Second || cfg.StaleCooldown != time.Minute || cfg.StaleCheckInterval != 5*time.Second {
		t.Errorf("stale settings = %v/%v/%v", cfg.StaleThreshold, cfg.StaleCooldown, cfg.StaleCheckInterval)
	}
	if cfg.ReportCooldown != time.Minute {
		t.Errorf("ReportCooldown = %v, want 1m", cfg.ReportCooldown)
	}
	if cfg.NotifyChannel != ChannelNone {
		t.Errorf("NotifyChannel = %q, want %q", cfg.NotifyChannel, ChannelNone)
	}
	if cfg.TelemetrySource != SourceSynthetic {
		t.Errorf("TelemetrySource = %q, want %q", cfg.TelemetrySource, SourceSynthetic)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("INTERVAL_MS", "250")
	t.Setenv("TEMP_THRESHOLD", "30.5")
	t.Setenv("HUMIDITY_COOLDOWN_MS", "1500")
	t.Setenv("HISTORY_CAPACITY", "10")
	t.Setenv("NOTIFY_CHANNEL", "Webhook")
	t.Setenv("WEBHOOK_URL", "http://hooks.invalid/hook")
	t.Setenv("ESP_BASE", "http://192.168.4.1/")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.SampleInterval != 250*time.Millisecond {
		t.Errorf("SampleInterval = %v, want 250ms", cfg.SampleInterval)
	}
	if cfg.TemperatureMax != 30.5 {
		t.Errorf("TemperatureMax = %v, want 30.5", cfg.TemperatureMax)
	}
	if cfg.HumidityCooldown != 1500*time.Millisecond {
		t.Errorf("HumidityCooldown = %v, want 1.5s", cfg.HumidityCooldown)
	}
	if cfg.HistoryCapacity != 10 {
		t.Errorf("HistoryCapacity = %d, want 10", cfg.HistoryCapacity)
	}
	if cfg.NotifyChannel != ChannelWebhook {
		t.Errorf("NotifyChannel = %q, want %q", cfg.NotifyChannel, ChannelWebhook)
	}
	if cfg.ActuatorURL != "http://192.168.4.1" {
		t.Errorf("ActuatorURL = %q, want trailing slash trimmed", cfg.ActuatorURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoadConfigIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("INTERVAL_MS", "fast")
	t.Setenv("TEMP_THRESHOLD", "hot")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}
	if cfg.SampleInterval != time.Second {
		t.Errorf("SampleInterval = %v, want default 1s", cfg.SampleInterval)
	}
	if cfg.TemperatureMax != 35 {
		t.Errorf("TemperatureMax = %v, want default 35", cfg.TemperatureMax)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero interval", func(c *Config) { c.SampleInterval = 0 }, "INTERVAL_MS"},
		{"inverted humidity band", func(c *Config) { c.HumidityMin = 90 }, "HUMIDITY_MIN"},
		{"hysteresis wider than band", func(c *Config) { c.HumidityHysteresis = 20 }, "HUMIDITY_HYSTERESIS"},
		{"unknown source", func(c *Config) { c.TelemetrySource = "carrier-pigeon" }, "TELEMETRY_SOURCE"},
		{"unknown channel", func(c *Config) { c.NotifyChannel = "fax" }, "NOTIFY_CHANNEL"},
		{"telegram without token", func(c *Config) { c.NotifyChannel = ChannelTelegram }, "TELEGRAM_BOT_TOKEN"},
		{"pushbullet without token", func(c *Config) { c.NotifyChannel = ChannelPushbullet }, "PUSHBULLET_TOKEN"},
		{"sns without topic", func(c *Config) { c.NotifyChannel = ChannelSNS }, "AWS_SNS_TOPIC_ARN"},
		{"firebase without credentials", func(c *Config) { c.FirebaseDbUrl = "https://x.firebaseio.com" }, "FIREBASE_SERVICE_ACCOUNT_JSON"},
		{"no attempts", func(c *Config) { c.NotifyMaxAttempts = 0 }, "NOTIFY_MAX_ATTEMPTS"},
		{"zero stale check", func(c *Config) { c.StaleCheckInterval = 0 }, "STALE_CHECK_MS"},
		{"zero history", func(c *Config) { c.HistoryCapacity = 0 }, "HISTORY_CAPACITY"},
		{"zero listener queue", func(c *Config) { c.ListenerQueueSize = 0 }, "WS_QUEUE_SIZE"},
		{"zero notify queue", func(c *Config) { c.NotifyQueueSize = 0 }, "NOTIFY_QUEUE_SIZE"},
		{"webhook without url", func(c *Config) { c.NotifyChannel = ChannelWebhook; c.WebhookURL = "" }, "WEBHOOK_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig()
			if err != nil {
				t.Fatalf("LoadConfig() failed: %v", err)
			}
			tt.mutate(cfg)

			err = cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil, want error mentioning %s", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
