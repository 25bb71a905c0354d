package redis

import (
	"context"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

const pingTimeout = 5 * time.Second

// Config holds the connection and key layout shared by the source and
// the writer.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	PriceStream   string // stream key prefix for samples, symbol appended
	ResultStream  string // stream key prefix for results, symbol appended
	Channel       string // PUBLISH channel for live results
	ConsumerGroup string
	ConsumerName  string
	MaxLen        int64 // approximate MAXLEN for result streams
}

func (c Config) withDefaults() Config {
	if c.PriceStream == "" {
		c.PriceStream = "prices:"
	}
	if c.ResultStream == "" {
		c.ResultStream = "rsi:"
	}
	if c.Channel == "" {
		c.Channel = "rsi:live"
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "rsiengine"
	}
	if c.ConsumerName == "" {
		c.ConsumerName = "worker-1"
	}
	if c.MaxLen <= 0 {
		c.MaxLen = 100000
	}
	return c
}

// PriceKey is the sample stream for symbol.
func (c Config) PriceKey(symbol string) string { return c.PriceStream + symbol }

// ResultKey is the result stream for symbol.
func (c Config) ResultKey(symbol string) string { return c.ResultStream + symbol }

// LatestKey holds the most recent result for symbol.
func (c Config) LatestKey(symbol string) string { return c.ResultStream + "latest:" + symbol }

// dial creates a client and pings it.
func dial(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "redis ping %s", cfg.Addr)
	}
	return client, nil
}
