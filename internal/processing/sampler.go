package processing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SizeSource reports the current dataset and its size in whole kilobytes.
type SizeSource interface {
	SizeOfCurrent() (string, int64, error)
}

type sampler struct {
	samplingFrequency time.Duration
	source            SizeSource
	processor         *Processor
	logger            *zap.Logger
}

// NewSampler periodically logs the current dataset size together with the queue counters.
func NewSampler(samplingFrequency time.Duration, source SizeSource, processor *Processor, logger *zap.Logger) *sampler {
	return &sampler{
		samplingFrequency: samplingFrequency,
		source:            source,
		processor:         processor,
		logger:            logger,
	}
}

func (s *sampler) SampleAndLog() {
	name, kb, err := s.source.SizeOfCurrent()
	if err != nil {
		s.logger.Warn("[sampler] could not read dataset size", zap.Error(err), zap.String("dataset", name))
		return
	}

	stats := s.processor.Stats()
	s.logger.Info(
		"[sampler] dataset size",
		zap.String("dataset", name),
		zap.String("size", FormatSize(kb)),
		zap.Int("queued", stats.Queued),
		zap.Uint64("written", stats.Written),
		zap.Uint64("dropped", stats.Dropped),
	)
}

func (s *sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.samplingFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SampleAndLog()
		case <-ctx.Done():
			return nil
		}
	}
}

// FormatSize renders a kilobyte count, switching to megabytes above 10240 KB.
func FormatSize(kb int64) string {
	if kb > 10240 {
		return fmt.Sprintf("%dMB", kb/1024)
	}
	return fmt.Sprintf("%dKB", kb)
}
