package services

import (
	"context"
	"errors"
	"time"

	"greenhouse/models"

	"go.uber.org/zap"
)

var ErrNoReading = errors.New("no reading available yet")

// ArchiveSink receives every reading and fired alert for archiving. It must
// not block.
type ArchiveSink interface {
	Offer(r models.Reading)
	Record(event models.AlertEvent)
}

type PipelineOptions struct {
	DeviceID           string
	SampleInterval     time.Duration
	StaleCheckInterval time.Duration
	ShutdownGrace      time.Duration
	Clock              func() time.Time
}

// Pipeline drives sampling and staleness checks from a single goroutine and
// fans the results out to the hub, the notifier and the archive.
type Pipeline struct {
	sampler   *Sampler
	history   *RollingHistory
	hub       *Hub
	evaluator *Evaluator
	notifier  *Notifier
	archive   ArchiveSink
	opts      PipelineOptions
	logger    *zap.Logger
}

func NewPipeline(sampler *Sampler, history *RollingHistory, hub *Hub, evaluator *Evaluator, notifier *Notifier, opts PipelineOptions, logger *zap.Logger) *Pipeline {
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = time.Second
	}
	if opts.StaleCheckInterval <= 0 {
		opts.StaleCheckInterval = 5 * time.Second
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Pipeline{
		sampler:   sampler,
		history:   history,
		hub:       hub,
		evaluator: evaluator,
		notifier:  notifier,
		opts:      opts,
		logger:    logger,
	}
}

// SetArchive attaches an archive sink. Call before Run.
func (p *Pipeline) SetArchive(a ArchiveSink) {
	p.archive = a
}

// Run ticks until ctx is cancelled, then closes the hub and gives the
// notifier its shutdown grace period.
func (p *Pipeline) Run(ctx context.Context) error {
	sampleTicker := time.NewTicker(p.opts.SampleInterval)
	defer sampleTicker.Stop()
	staleTicker := time.NewTicker(p.opts.StaleCheckInterval)
	defer staleTicker.Stop()

	p.logger.Info("Pipeline started",
		zap.Duration("sample_interval", p.opts.SampleInterval),
		zap.Duration("stale_check_interval", p.opts.StaleCheckInterval))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Pipeline stopping")
			p.hub.Close()
			if err := p.notifier.Close(p.opts.ShutdownGrace); err != nil {
				p.logger.Warn("Notifier did not drain", zap.Error(err))
			}
			return nil

		case <-sampleTicker.C:
			p.Tick(p.opts.Clock())

		case <-staleTicker.C:
			p.CheckStale(p.opts.Clock())
		}
	}
}

// Tick runs one sampling step: history, then hub, then evaluation. It
// returns the alerts that fired.
func (p *Pipeline) Tick(now time.Time) []models.AlertEvent {
	reading, ok := p.sampler.Tick(now)
	if !ok {
		return nil
	}

	p.history.Append(reading)
	p.hub.Publish(reading)
	if p.archive != nil {
		p.archive.Offer(reading)
	}

	events := p.evaluator.Evaluate(reading, now)
	p.Dispatch(events...)
	return events
}

// CheckStale runs the staleness check and dispatches what fired.
func (p *Pipeline) CheckStale(now time.Time) []models.AlertEvent {
	events := p.evaluator.CheckStale(now)
	p.Dispatch(events...)
	return events
}

// Report submits an external alert through the evaluator's cooldown.
func (p *Pipeline) Report(req ReportRequest) Outcome {
	event, outcome := p.evaluator.Report(req, p.opts.Clock())
	if outcome == OutcomeEmitted {
		p.Dispatch(event)
	}
	return outcome
}

// Dispatch sends fired alerts to listeners, the notifier and the archive.
func (p *Pipeline) Dispatch(events ...models.AlertEvent) {
	for _, event := range events {
		p.hub.PublishAlert(event)
		if !p.notifier.Enqueue(event) {
			p.logger.Warn("Alert not queued for notification",
				zap.String("id", event.ID),
				zap.String("kind", string(event.Kind)))
		}
		if p.archive != nil {
			p.archive.Record(event)
		}
	}
}

// Latest returns the most recent reading.
func (p *Pipeline) Latest() (models.Reading, error) {
	reading, ok := p.history.Latest()
	if !ok {
		return models.Reading{}, ErrNoReading
	}
	return reading, nil
}

// Status summarizes link health for the health endpoint.
func (p *Pipeline) Status() models.LinkStatus {
	now := p.opts.Clock()
	status := models.LinkStatus{
		DeviceID:  p.opts.DeviceID,
		Status:    models.LinkWaiting,
		Listeners: p.hub.Count(),
		History:   p.history.Len(),
		Skipped:   p.sampler.Skipped(),
		Malformed: p.sampler.Malformed(),
	}

	latest, ok := p.history.Latest()
	if !ok {
		return status
	}

	lastSeen := p.evaluator.LastObserved()
	silence := now.Sub(lastSeen)
	status.DeviceID = latest.DeviceID
	status.LastSeen = &lastSeen
	status.SilenceFor = silence.Round(time.Millisecond).String()
	status.Status = models.LinkHealthy
	if silence > p.evaluator.StaleAfter() {
		status.Status = models.LinkStale
	}
	return status
}
