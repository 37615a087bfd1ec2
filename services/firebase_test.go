package services

import (
	"context"
	"testing"

	"greenhouse/config"
	"greenhouse/models"

	"go.uber.org/zap/zaptest"
)

func TestReadingKeySortsByTime(t *testing.T) {
	early := readingKey(nominal(tick(1)))
	late := readingKey(nominal(tick(100)))
	if early >= late {
		t.Errorf("keys out of order: %q >= %q", early, late)
	}
	if len(early) != len(late) {
		t.Errorf("keys should be fixed width: %q %q", early, late)
	}
}

func TestSortReadings(t *testing.T) {
	data := map[string]models.Reading{
		"c": nominal(tick(3)),
		"a": nominal(tick(1)),
		"b": nominal(tick(2)),
	}
	got := sortReadings(data)
	for i := range got {
		if !got[i].Timestamp.Equal(tick(i + 1)) {
			t.Errorf("reading %d at %v", i, got[i].Timestamp)
		}
	}
}

func TestNewChannelSelection(t *testing.T) {
	tests := []struct {
		channel string
		want    string
		wantErr bool
	}{
		{"", "none", false},
		{config.ChannelPushbullet, "pushbullet", false},
		{config.ChannelWhatsApp, "whatsapp", false},
		{config.ChannelWebhook, "webhook", false},
		{config.ChannelAMQP, "", true},
		{"carrier-pigeon", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			cfg := &config.Config{NotifyChannel: tt.channel, WebhookURL: "http://localhost/hook"}
			ch, err := NewChannel(context.Background(), cfg, nil, zaptest.NewLogger(t))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if ch.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", ch.Name(), tt.want)
			}
		})
	}
}
