package services

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// maxLineSize caps one telemetry line read from a serial device.
const maxLineSize = 4096

// ReadLines scans newline-delimited telemetry from r and feeds each
// non-empty line until r is exhausted or ctx ends.
func ReadLines(ctx context.Context, r io.Reader, feed func([]byte)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256), maxLineSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if line := scanner.Bytes(); len(line) > 0 {
			feed(line)
		}
	}
	return scanner.Err()
}

// SerialLink reads telemetry lines from a character device such as
// /dev/ttyUSB0. The port is expected to be configured (baud rate) by the OS.
type SerialLink struct {
	path   string
	file   *os.File
	logger *zap.Logger
}

func OpenSerialLink(path string, logger *zap.Logger) (*SerialLink, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial device %s: %w", path, err)
	}
	return &SerialLink{path: path, file: f, logger: logger}, nil
}

// Run feeds lines until ctx ends or the device is closed.
func (s *SerialLink) Run(ctx context.Context, feed func([]byte)) {
	go func() {
		<-ctx.Done()
		s.file.Close()
	}()

	s.logger.Info("Reading telemetry from serial device", zap.String("path", s.path))
	if err := ReadLines(ctx, s.file, feed); err != nil && ctx.Err() == nil {
		s.logger.Error("Serial link stopped", zap.String("path", s.path), zap.Error(err))
		return
	}
	s.logger.Info("Serial link closed", zap.String("path", s.path))
}
