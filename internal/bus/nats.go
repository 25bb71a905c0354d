// Package bus carries samples and results over NATS core subjects. Samples
// arrive on <price_subject>.<symbol> and results leave on
// <result_subject>.<symbol>, both JSON encoded.
package bus

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/internal/model"
)

// Config holds NATS connection settings.
type Config struct {
	URL           string
	PriceSubject  string // prefix, ".<symbol>" appended
	ResultSubject string // prefix, ".<symbol>" appended
}

func (c Config) withDefaults() Config {
	if c.PriceSubject == "" {
		c.PriceSubject = "prices"
	}
	if c.ResultSubject == "" {
		c.ResultSubject = "rsi"
	}
	return c
}

// Subject joins a prefix and a symbol.
func Subject(prefix, symbol string) string { return prefix + "." + symbol }

// Conn is a NATS connection that is both a SampleSource and a ResultWriter.
type Conn struct {
	nc  *nats.Conn
	cfg Config
	log *zap.Logger

	symbols []string
	dropped atomic.Uint64
}

// Connect dials url with bounded reconnects.
func Connect(cfg Config, symbols []string, log *zap.Logger) (*Conn, error) {
	cfg = cfg.withDefaults()
	log = log.Named("nats")

	nc, err := nats.Connect(cfg.URL,
		nats.Name("rsiengine"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}

	log.Info("connected", zap.String("url", nc.ConnectedUrl()))
	return &Conn{nc: nc, cfg: cfg, log: log, symbols: symbols}, nil
}

// Ping is the health probe. It flushes the connection to the server.
func (c *Conn) Ping(ctx context.Context) error {
	return c.nc.FlushWithContext(ctx)
}

// Dropped returns the number of undecodable messages skipped so far.
func (c *Conn) Dropped() uint64 { return c.dropped.Load() }

// subjects returns one subject per configured symbol, or the wildcard when
// no symbols are configured.
func (c *Conn) subjects() []string {
	if len(c.symbols) == 0 {
		return []string{c.cfg.PriceSubject + ".>"}
	}
	out := make([]string, len(c.symbols))
	for i, s := range c.symbols {
		out[i] = Subject(c.cfg.PriceSubject, s)
	}
	return out
}

// Run subscribes to the price subjects and forwards samples to out until
// ctx is cancelled. Messages without a symbol take it from the subject.
func (c *Conn) Run(ctx context.Context, out chan<- model.PriceSample) error {
	msgs := make(chan *nats.Msg, 1024)

	var subs []*nats.Subscription
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()
	for _, subj := range c.subjects() {
		sub, err := c.nc.ChanSubscribe(subj, msgs)
		if err != nil {
			return errors.Wrapf(err, "nats subscribe %s", subj)
		}
		subs = append(subs, sub)
	}
	c.log.Info("subscribed", zap.Strings("subjects", c.subjects()))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-msgs:
			s, err := decode(c.cfg.PriceSubject, m.Subject, m.Data)
			if err != nil {
				c.dropped.Add(1)
				c.log.Warn("dropping bad message", zap.String("subject", m.Subject), zap.Error(err))
				continue
			}
			select {
			case out <- s:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// decode parses a JSON sample. A sample without a symbol takes it from the
// subject suffix.
func decode(prefix, subject string, data []byte) (model.PriceSample, error) {
	sym, ok := strings.CutPrefix(subject, prefix+".")
	if !ok {
		sym = ""
	}
	return model.DecodeSampleFor(data, sym)
}

// WriteResults publishes each result on its symbol subject.
func (c *Conn) WriteResults(_ context.Context, results []model.Result) error {
	for i := range results {
		r := &results[i]
		if err := c.nc.Publish(Subject(c.cfg.ResultSubject, r.Symbol), r.JSON()); err != nil {
			return errors.Wrapf(err, "nats publish %s", r.Symbol)
		}
	}
	return nil
}

// WritePrices publishes samples on their price subjects.
func (c *Conn) WritePrices(_ context.Context, samples []model.PriceSample) error {
	for i := range samples {
		s := &samples[i]
		if err := c.nc.Publish(Subject(c.cfg.PriceSubject, s.Symbol), s.JSON()); err != nil {
			return errors.Wrapf(err, "nats publish %s", s.Symbol)
		}
	}
	return nil
}

// Close drains subscriptions and closes the connection.
func (c *Conn) Close() error {
	if c.nc == nil {
		return nil
	}
	err := c.nc.Drain()
	if err != nil {
		c.nc.Close()
	}
	return err
}
