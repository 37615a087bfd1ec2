package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"greenhouse/config"
	"greenhouse/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const (
	readingsPath = "sensor-data"
	alertsPath   = "alerts"
)

// FirebaseMirror archives readings and fired alerts in the Realtime Database.
type FirebaseMirror struct {
	client *db.Client
	logger *zap.Logger
}

func NewFirebaseMirror(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*FirebaseMirror, error) {
	conf := &firebase.Config{
		DatabaseURL: cfg.FirebaseDbUrl,
	}

	opt := option.WithCredentialsJSON([]byte(cfg.FirebaseServiceAccountJSON))
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	fm := &FirebaseMirror{
		client: client,
		logger: logger,
	}

	if err := fm.testConnection(ctx); err != nil {
		logger.Error("Firebase connection test failed", zap.Error(err))
		return nil, fmt.Errorf("firebase connection test failed: %w", err)
	}

	return fm, nil
}

// testConnection tests Firebase connection with retry logic
func (fm *FirebaseMirror) testConnection(ctx context.Context) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		var data interface{}
		err := fm.client.NewRef(readingsPath).OrderByKey().LimitToLast(1).Get(ctx, &data)
		if err == nil {
			fm.logger.Info("Firebase connection successful")
			return nil
		}

		fm.logger.Warn("Firebase connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Firebase after %d attempts", maxRetries)
}

// readingKey sorts lexically in time order.
func readingKey(r models.Reading) string {
	return fmt.Sprintf("%013d-%s", r.Timestamp.UnixMilli(), r.DeviceID)
}

// WriteBatch stores readings in one multi-path update.
func (fm *FirebaseMirror) WriteBatch(ctx context.Context, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	updates := make(map[string]interface{}, len(readings))
	for _, r := range readings {
		updates[readingKey(r)] = r
	}

	if err := fm.client.NewRef(readingsPath).Update(ctx, updates); err != nil {
		return fmt.Errorf("error writing %d readings: %w", len(readings), err)
	}
	return nil
}

// LogAlert appends a fired alert under alerts/.
func (fm *FirebaseMirror) LogAlert(ctx context.Context, event models.AlertEvent) error {
	if _, err := fm.client.NewRef(alertsPath).Push(ctx, event); err != nil {
		return fmt.Errorf("error logging alert %s: %w", event.ID, err)
	}
	return nil
}

// RecentReadings returns up to limit archived readings, oldest first.
func (fm *FirebaseMirror) RecentReadings(ctx context.Context, limit int) ([]models.Reading, error) {
	var data map[string]models.Reading
	if err := fm.client.NewRef(readingsPath).OrderByKey().LimitToLast(limit).Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("error getting sensor data: %w", err)
	}
	return sortReadings(data), nil
}

// RecentAlerts returns up to limit archived alerts, oldest first.
func (fm *FirebaseMirror) RecentAlerts(ctx context.Context, limit int) ([]models.AlertEvent, error) {
	var data map[string]models.AlertEvent
	if err := fm.client.NewRef(alertsPath).OrderByKey().LimitToLast(limit).Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("error getting alerts: %w", err)
	}

	out := make([]models.AlertEvent, 0, len(data))
	for _, e := range data {
		out = append(out, e)
	}
	sortAlerts(out)
	return out, nil
}

func sortReadings(data map[string]models.Reading) []models.Reading {
	out := make([]models.Reading, 0, len(data))
	for _, r := range data {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func sortAlerts(events []models.AlertEvent) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].FiredAt.Before(events[j].FiredAt)
	})
}
