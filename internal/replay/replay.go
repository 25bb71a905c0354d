// Package replay re-emits recorded price samples as a live sample source,
// optionally paced to the recorded time gaps.
package replay

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/internal/model"
)

// maxGap caps the pause between two samples at any speed.
const maxGap = 5 * time.Second

// Source reads every sample after From for its symbols and emits them in
// timestamp order. Speed scales the recorded gaps: 1 is real time, 10 is
// ten times faster and 0 emits as fast as the consumer takes them.
type Source struct {
	reader  model.PriceReader
	symbols []string
	from    time.Time
	speed   float64
	log     *zap.Logger

	sleep func(context.Context, time.Duration) error
}

// New creates a replay source. With no symbols every recorded symbol is
// replayed.
func New(reader model.PriceReader, symbols []string, from time.Time, speed float64, log *zap.Logger) *Source {
	return &Source{
		reader:  reader,
		symbols: symbols,
		from:    from,
		speed:   speed,
		log:     log.Named("replay"),
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Load returns the samples Run would emit, oldest first. Samples with equal
// timestamps keep their per-symbol order.
func (s *Source) Load(ctx context.Context) ([]model.PriceSample, error) {
	symbols := s.symbols
	if len(symbols) == 0 {
		var err error
		if symbols, err = s.reader.Symbols(ctx); err != nil {
			return nil, err
		}
	}
	var all []model.PriceSample
	for _, sym := range symbols {
		samples, err := s.reader.ReadPrices(ctx, sym, s.from)
		if err != nil {
			return nil, err
		}
		all = append(all, samples...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].TS.Before(all[j].TS) })
	return all, nil
}

// Run emits the recorded samples into out and returns nil once all of them
// were delivered.
func (s *Source) Run(ctx context.Context, out chan<- model.PriceSample) error {
	samples, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		s.log.Warn("nothing recorded to replay", zap.Time("from", s.from))
		return nil
	}
	s.log.Info("replay started", zap.Int("samples", len(samples)), zap.Float64("speed", s.speed))

	var prev time.Time
	for i, smp := range samples {
		if s.speed > 0 && !prev.IsZero() {
			if gap := smp.TS.Sub(prev); gap > 0 {
				if err := s.sleep(ctx, min(time.Duration(float64(gap)/s.speed), maxGap)); err != nil {
					s.log.Info("replay cancelled", zap.Int("emitted", i))
					return err
				}
			}
		}
		prev = smp.TS

		select {
		case out <- smp:
		case <-ctx.Done():
			s.log.Info("replay cancelled", zap.Int("emitted", i))
			return ctx.Err()
		}
	}
	s.log.Info("replay completed", zap.Int("samples", len(samples)))
	return nil
}

// Close closes the underlying reader.
func (s *Source) Close() error { return s.reader.Close() }
