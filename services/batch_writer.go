package services

import (
	"context"
	"time"

	"greenhouse/models"

	"go.uber.org/zap"
)

// Archive is where the batch writer persists data.
type Archive interface {
	WriteBatch(ctx context.Context, readings []models.Reading) error
	LogAlert(ctx context.Context, event models.AlertEvent) error
}

// BatchWriter buffers readings and writes them to the archive in batches,
// flushing when the batch is full or the timeout expires. Alerts are written
// as they arrive. Offer and Record never block the caller.
type BatchWriter struct {
	archive      Archive
	logger       *zap.Logger
	readings     chan models.Reading
	alerts       chan models.AlertEvent
	buffer       []models.Reading
	maxBatchSize int
	batchTimeout time.Duration
	retryDelay   time.Duration
	done         chan struct{}
}

func NewBatchWriter(archive Archive, maxBatchSize int, batchTimeout time.Duration, logger *zap.Logger) *BatchWriter {
	if maxBatchSize <= 0 {
		maxBatchSize = 20
	}
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Second
	}
	return &BatchWriter{
		archive:      archive,
		logger:       logger,
		readings:     make(chan models.Reading, maxBatchSize*4),
		alerts:       make(chan models.AlertEvent, 64),
		buffer:       make([]models.Reading, 0, maxBatchSize),
		maxBatchSize: maxBatchSize,
		batchTimeout: batchTimeout,
		retryDelay:   time.Second,
		done:         make(chan struct{}),
	}
}

// Offer queues a reading for archiving, dropping it if the writer is behind.
func (bw *BatchWriter) Offer(r models.Reading) {
	select {
	case bw.readings <- r:
	default:
		bw.logger.Warn("Archive buffer full, dropping reading", zap.Time("ts", r.Timestamp))
	}
}

// Record queues a fired alert for archiving.
func (bw *BatchWriter) Record(event models.AlertEvent) {
	select {
	case bw.alerts <- event:
	default:
		bw.logger.Warn("Archive alert queue full, dropping alert", zap.String("id", event.ID))
	}
}

// Start runs until ctx is cancelled, then flushes what is buffered.
func (bw *BatchWriter) Start(ctx context.Context) {
	defer close(bw.done)

	bw.logger.Info("Starting batch writer",
		zap.Int("max_batch_size", bw.maxBatchSize),
		zap.Duration("batch_timeout", bw.batchTimeout))

	flushTimer := time.NewTimer(bw.batchTimeout)
	defer flushTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			bw.logger.Info("Batch writer received shutdown signal")
			bw.drain()
			flushCtx, cancel := context.WithTimeout(context.Background(), bw.batchTimeout)
			bw.flushBuffer(flushCtx)
			cancel()
			return

		case reading := <-bw.readings:
			bw.buffer = append(bw.buffer, reading)
			if len(bw.buffer) < bw.maxBatchSize {
				continue
			}

			if !flushTimer.Stop() {
				select {
				case <-flushTimer.C:
				default:
				}
			}
			bw.flushBuffer(ctx)
			flushTimer.Reset(bw.batchTimeout)

		case event := <-bw.alerts:
			if err := bw.archive.LogAlert(ctx, event); err != nil {
				bw.logger.Error("Failed to archive alert", zap.String("id", event.ID), zap.Error(err))
			}

		case <-flushTimer.C:
			if len(bw.buffer) > 0 {
				bw.logger.Debug("Batch timeout reached, flushing", zap.Int("buffer_size", len(bw.buffer)))
				bw.flushBuffer(ctx)
			}
			flushTimer.Reset(bw.batchTimeout)
		}
	}
}

// drain moves queued readings into the buffer without blocking.
func (bw *BatchWriter) drain() {
	for {
		select {
		case r := <-bw.readings:
			bw.buffer = append(bw.buffer, r)
		default:
			return
		}
	}
}

// flushBuffer writes the current buffer and clears it
func (bw *BatchWriter) flushBuffer(ctx context.Context) {
	if len(bw.buffer) == 0 {
		return
	}

	batch := make([]models.Reading, len(bw.buffer))
	copy(batch, bw.buffer)
	bw.buffer = bw.buffer[:0]

	maxRetries := 3
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = bw.archive.WriteBatch(ctx, batch)
		if err == nil {
			bw.logger.Debug("Flushed readings to archive", zap.Int("batch_size", len(batch)))
			return
		}

		bw.logger.Warn("Failed to flush readings",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Int("batch_size", len(batch)),
			zap.Error(err))

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				attempt = maxRetries
			case <-time.After(time.Duration(attempt) * bw.retryDelay):
			}
		}
	}

	bw.logger.Error("Failed to flush batch after all retries, data lost",
		zap.Int("batch_size", len(batch)),
		zap.Error(err))
}

// WaitForShutdown waits for the writer to finish its final flush.
func (bw *BatchWriter) WaitForShutdown(timeout time.Duration) bool {
	select {
	case <-bw.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
