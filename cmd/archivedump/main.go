package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"greenhouse/config"
	"greenhouse/services"

	"go.uber.org/zap"
)

var (
	limit  = flag.Int("limit", 50, "Number of most recent entries to print")
	alerts = flag.Bool("alerts", false, "Print archived alerts instead of readings")
)

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if !cfg.FirebaseEnabled() {
		logger.Fatal("FIREBASE_DB_URL and FIREBASE_SERVICE_ACCOUNT_JSON must be set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mirror, err := services.NewFirebaseMirror(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Firebase", zap.Error(err))
	}

	var entries interface{}
	var count int
	if *alerts {
		events, err := mirror.RecentAlerts(ctx, *limit)
		if err != nil {
			logger.Fatal("Failed to read alerts", zap.Error(err))
		}
		entries, count = events, len(events)
	} else {
		readings, err := mirror.RecentReadings(ctx, *limit)
		if err != nil {
			logger.Fatal("Failed to read readings", zap.Error(err))
		}
		entries, count = readings, len(readings)
	}

	fmt.Fprintf(os.Stderr, "Total entries found: %d\n", count)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		logger.Fatal("Failed to print entries", zap.Error(err))
	}
}
