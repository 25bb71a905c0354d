package redis

import (
	"context"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/internal/model"
)

const (
	readCount       = 100
	readBlock       = 2 * time.Second
	reclaimInterval = 30 * time.Second
	reclaimMinIdle  = time.Minute
	ackTimeout      = 5 * time.Second
)

// Source reads price samples from per-symbol Redis streams through a
// consumer group. Messages are ACKed once handed to the engine, so a crash
// between read and hand-off redelivers them (at-least-once).
type Source struct {
	client  *goredis.Client
	cfg     Config
	streams []string
	log     *zap.Logger

	// OnReclaim is called with the number of stale messages taken over
	// from dead consumers.
	OnReclaim func(n int)
}

// NewSource connects and prepares the stream list for symbols.
func NewSource(cfg Config, symbols []string, log *zap.Logger) (*Source, error) {
	if len(symbols) == 0 {
		return nil, errors.New("redis source: no symbols configured")
	}
	cfg = cfg.withDefaults()
	client, err := dial(cfg)
	if err != nil {
		return nil, err
	}

	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = cfg.PriceKey(s)
	}

	log = log.Named("redis-source")
	log.Info("connected",
		zap.String("addr", cfg.Addr),
		zap.String("group", cfg.ConsumerGroup),
		zap.String("consumer", cfg.ConsumerName),
		zap.Strings("streams", streams))
	return &Source{client: client, cfg: cfg, streams: streams, log: log}, nil
}

// Ping is the health probe.
func (s *Source) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Run ensures the consumer group, redelivers this consumer's pending
// messages, then blocks on XREADGROUP until ctx is cancelled.
func (s *Source) Run(ctx context.Context, out chan<- model.PriceSample) error {
	if err := s.ensureGroup(ctx); err != nil {
		return err
	}
	if err := s.recoverPending(ctx, out); err != nil {
		return err
	}

	args := make([]string, len(s.streams)*2)
	for i, st := range s.streams {
		args[i] = st
		args[len(s.streams)+i] = ">"
	}

	lastReclaim := time.Now()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if time.Since(lastReclaim) >= reclaimInterval {
			if err := s.reclaimStale(ctx, out); err != nil && ctx.Err() == nil {
				s.log.Warn("reclaim failed", zap.Error(err))
			}
			lastReclaim = time.Now()
		}

		res, err := s.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    s.cfg.ConsumerGroup,
			Consumer: s.cfg.ConsumerName,
			Streams:  args,
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			s.log.Error("xreadgroup failed", zap.Error(err))
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
			}
			continue
		}

		for _, st := range res {
			if err := s.deliver(ctx, st.Stream, st.Messages, out); err != nil {
				return err
			}
		}
	}
}

// deliver decodes and forwards msgs, ACKing each after hand-off. Bad
// messages are ACKed and skipped.
func (s *Source) deliver(ctx context.Context, stream string, msgs []goredis.XMessage, out chan<- model.PriceSample) error {
	for _, msg := range msgs {
		sample, err := decodeMessage(s.cfg.PriceStream, stream, msg)
		if err != nil {
			s.log.Warn("dropping bad message", zap.String("stream", stream), zap.String("id", msg.ID), zap.Error(err))
			s.ack(stream, msg.ID)
			continue
		}

		select {
		case out <- sample:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.ack(stream, msg.ID)
	}
	return nil
}

// ack runs on its own deadline: a sample handed off as Run is cancelled
// must still leave the pending list.
func (s *Source) ack(stream, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	if err := s.client.XAck(ctx, stream, s.cfg.ConsumerGroup, id).Err(); err != nil {
		s.log.Warn("xack failed", zap.String("stream", stream), zap.String("id", id), zap.Error(err))
	}
}

func (s *Source) ensureGroup(ctx context.Context) error {
	for _, st := range s.streams {
		err := s.client.XGroupCreateMkStream(ctx, st, s.cfg.ConsumerGroup, "$").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return errors.Wrapf(err, "xgroup create %s", st)
		}
	}
	return nil
}

// recoverPending redelivers messages this consumer read but never ACKed.
func (s *Source) recoverPending(ctx context.Context, out chan<- model.PriceSample) error {
	total := 0
	for _, st := range s.streams {
		for {
			res, err := s.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
				Group:    s.cfg.ConsumerGroup,
				Consumer: s.cfg.ConsumerName,
				Streams:  []string{st, "0"},
				Count:    readCount,
			}).Result()
			if err != nil && err != goredis.Nil {
				return errors.Wrapf(err, "read pending %s", st)
			}
			if len(res) == 0 || len(res[0].Messages) == 0 {
				break
			}
			if err := s.deliver(ctx, st, res[0].Messages, out); err != nil {
				return err
			}
			total += len(res[0].Messages)
		}
	}
	if total > 0 {
		s.log.Info("recovered pending messages", zap.Int("count", total))
	}
	return nil
}

// reclaimStale takes over entries idle longer than reclaimMinIdle in other
// consumers' pending lists.
func (s *Source) reclaimStale(ctx context.Context, out chan<- model.PriceSample) error {
	total := 0
	for _, st := range s.streams {
		pending, err := s.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
			Stream: st,
			Group:  s.cfg.ConsumerGroup,
			Start:  "-",
			End:    "+",
			Count:  50,
			Idle:   reclaimMinIdle,
		}).Result()
		if err != nil {
			return errors.Wrapf(err, "xpending %s", st)
		}

		var ids []string
		for _, p := range pending {
			if p.Consumer != s.cfg.ConsumerName {
				ids = append(ids, p.ID)
			}
		}
		if len(ids) == 0 {
			continue
		}

		claimed, err := s.client.XClaim(ctx, &goredis.XClaimArgs{
			Stream:   st,
			Group:    s.cfg.ConsumerGroup,
			Consumer: s.cfg.ConsumerName,
			MinIdle:  reclaimMinIdle,
			Messages: ids,
		}).Result()
		if err != nil {
			return errors.Wrapf(err, "xclaim %s", st)
		}
		if err := s.deliver(ctx, st, claimed, out); err != nil {
			return err
		}
		total += len(claimed)
	}
	if total > 0 {
		s.log.Info("reclaimed stale messages", zap.Int("count", total))
		if s.OnReclaim != nil {
			s.OnReclaim(total)
		}
	}
	return nil
}

// decodeMessage accepts either a JSON sample under "data" or a bare
// "price" field. In the bare form the symbol comes from the stream key and
// the timestamp from the entry ID.
func decodeMessage(prefix, stream string, msg goredis.XMessage) (model.PriceSample, error) {
	if data, ok := msg.Values["data"].(string); ok {
		return model.DecodeSample([]byte(data))
	}

	raw, ok := msg.Values["price"].(string)
	if !ok {
		return model.PriceSample{}, errors.New("message has neither data nor price")
	}
	price, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return model.PriceSample{}, errors.Wrap(err, "parse price")
	}
	symbol := strings.TrimPrefix(stream, prefix)
	if symbol == "" || (prefix != "" && symbol == stream) {
		return model.PriceSample{}, errors.Errorf("stream %q has no symbol", stream)
	}
	return model.PriceSample{Symbol: symbol, Price: price, TS: idTime(msg.ID)}, nil
}

// idTime extracts the millisecond timestamp from a stream entry ID.
func idTime(id string) time.Time {
	ms, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}

// Close closes the Redis client.
func (s *Source) Close() error {
	return s.client.Close()
}
