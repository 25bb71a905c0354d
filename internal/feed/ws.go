// Package feed provides a websocket sample source for price feeds that push
// one JSON sample per message:
//
//	{"symbol":"BTCUSD","price":6512345,"ts":"2026-03-02T09:15:00Z"}
package feed

import (
	"context"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/internal/model"
)

// Config holds the feed endpoint and reconnect backoff.
type Config struct {
	// URL of the feed, e.g. "ws://localhost:9001/ws".
	URL string

	// ReconnectDelay is the first backoff step. Defaults to 2s.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	return c
}

// WS reads samples from a websocket feed and reconnects with exponential
// backoff when the connection drops.
type WS struct {
	cfg     Config
	log     *zap.Logger
	dropped atomic.Uint64

	// OnReconnect is called before every reconnect attempt.
	OnReconnect func()
}

// New validates the URL.
func New(cfg Config, log *zap.Logger) (*WS, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "feed: parse url")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.Errorf("feed: url scheme must be ws or wss, got %q", u.Scheme)
	}
	return &WS{cfg: cfg.withDefaults(), log: log.Named("wsfeed")}, nil
}

// Dropped counts messages that could not be decoded.
func (f *WS) Dropped() uint64 { return f.dropped.Load() }

// Run streams samples into out until ctx is cancelled.
func (f *WS) Run(ctx context.Context, out chan<- model.PriceSample) error {
	delay := f.cfg.ReconnectDelay
	for {
		connected, err := f.runOnce(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = f.cfg.ReconnectDelay
		}

		f.log.Warn("feed disconnected, reconnecting", zap.Error(err), zap.Duration("in", delay))
		if f.OnReconnect != nil {
			f.OnReconnect()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, f.cfg.MaxReconnectDelay)
	}
}

// runOnce reads from one connection. It reports whether the dial succeeded.
func (f *WS) runOnce(ctx context.Context, out chan<- model.PriceSample) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	f.log.Info("feed connected", zap.String("url", f.cfg.URL))

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"), time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		s, err := model.DecodeSample(raw)
		if err != nil {
			f.dropped.Add(1)
			f.log.Warn("dropping bad message", zap.ByteString("raw", raw), zap.Error(err))
			continue
		}
		select {
		case out <- s:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

// Close is a no-op; Run owns the connection.
func (f *WS) Close() error { return nil }
