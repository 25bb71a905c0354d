package redis

import (
	"context"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/internal/model"
)

const defaultLatestTTL = 30 * time.Minute

// Writer publishes results to Redis: XADD to the per-symbol result stream,
// SET of the latest value and PUBLISH on the live channel.
type Writer struct {
	client *goredis.Client
	cfg    Config
	log    *zap.Logger
}

// NewWriter connects and pings the server.
func NewWriter(cfg Config, log *zap.Logger) (*Writer, error) {
	cfg = cfg.withDefaults()
	client, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	log = log.Named("redis")
	log.Info("connected", zap.String("addr", cfg.Addr), zap.String("channel", cfg.Channel))
	return &Writer{client: client, cfg: cfg, log: log}, nil
}

// Client returns the underlying Redis client.
func (w *Writer) Client() *goredis.Client { return w.client }

// Ping is the health probe.
func (w *Writer) Ping(ctx context.Context) error {
	return w.client.Ping(ctx).Err()
}

// WriteResults sends the whole batch in one pipeline round trip.
func (w *Writer) WriteResults(ctx context.Context, results []model.Result) error {
	if len(results) == 0 {
		return nil
	}

	pipe := w.client.Pipeline()
	for i := range results {
		r := &results[i]
		data := string(r.JSON())

		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: w.cfg.ResultKey(r.Symbol),
			MaxLen: w.cfg.MaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Set(ctx, w.cfg.LatestKey(r.Symbol), data, defaultLatestTTL)
		pipe.Publish(ctx, w.cfg.Channel, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "redis result pipeline (%d results)", len(results))
	}
	return nil
}

// WritePrices appends samples to their price streams. Feeders and the
// backtest tool use it to stage input for a live engine.
func (w *Writer) WritePrices(ctx context.Context, samples []model.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}

	pipe := w.client.Pipeline()
	for i := range samples {
		s := &samples[i]
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: w.cfg.PriceKey(s.Symbol),
			MaxLen: w.cfg.MaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": string(s.JSON())},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "redis price pipeline (%d samples)", len(samples))
	}
	return nil
}

// Latest returns the last result written for symbol. ok is false when
// there is none or it expired.
func (w *Writer) Latest(ctx context.Context, symbol string) (r model.Result, ok bool, err error) {
	data, err := w.client.Get(ctx, w.cfg.LatestKey(symbol)).Bytes()
	if err == goredis.Nil {
		return r, false, nil
	}
	if err != nil {
		return r, false, errors.Wrap(err, "redis get latest")
	}
	r, err = model.DecodeResult(data)
	return r, err == nil, err
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
