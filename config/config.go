// Package config loads service configuration with viper: built-in defaults,
// an optional YAML file, then RSI_* environment variables on top.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/hegdemanu/FPGA-RSI/internal/circuit"
	"github.com/hegdemanu/FPGA-RSI/internal/divider"
	"github.com/hegdemanu/FPGA-RSI/internal/logger"
	"github.com/hegdemanu/FPGA-RSI/internal/session"
)

// EnvPrefix prefixes every environment override, e.g. RSI_CIRCUIT_PERIOD.
const EnvPrefix = "RSI"

// Config holds all application configuration.
type Config struct {
	Circuit  circuit.Params `mapstructure:"circuit"`
	Divider  DividerConfig  `mapstructure:"divider"`
	Clock    ClockConfig    `mapstructure:"clock"`
	Symbols  []string       `mapstructure:"symbols"`
	Redis    RedisConfig    `mapstructure:"redis"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Replay   ReplayConfig   `mapstructure:"replay"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Log      logger.Config  `mapstructure:"log"`
}

// DividerConfig selects the division unit. Depth only applies to "fixed".
type DividerConfig struct {
	Kind  divider.Kind `mapstructure:"kind"`
	Depth int          `mapstructure:"depth"`
}

// ClockConfig controls the service-level clocking around the circuits.
type ClockConfig struct {
	// FlushInterval asserts the end-of-period flush on every circuit. 0 disables.
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	// QueueSize is the buffered sample queue in front of the process loop.
	QueueSize int `mapstructure:"queue_size"`
	// Session flushes every circuit at the daily session close.
	Session session.Config `mapstructure:"session"`
}

type RedisConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	PriceStream   string `mapstructure:"price_stream"`  // prefix, symbol appended
	ResultStream  string `mapstructure:"result_stream"` // prefix, symbol appended
	Channel       string `mapstructure:"channel"`       // live PUBLISH channel
	ConsumerGroup string `mapstructure:"consumer_group"`
	ConsumerName  string `mapstructure:"consumer_name"`
	MaxLen        int64  `mapstructure:"max_len"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"` // empty disables
	// Warmup replays the tail of each recorded symbol on startup so the
	// circuits come up already holding a full window.
	Warmup bool `mapstructure:"warmup"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"` // empty disables
}

type NATSConfig struct {
	URL           string `mapstructure:"url"` // empty disables
	PriceSubject  string `mapstructure:"price_subject"`
	ResultSubject string `mapstructure:"result_subject"`
}

type FeedConfig struct {
	URL string `mapstructure:"url"` // websocket price feed, empty disables
}

// ReplayConfig re-emits prices recorded in sqlite.path as a sample source.
type ReplayConfig struct {
	Enabled bool      `mapstructure:"enabled"`
	From    string  `mapstructure:"from"`  // RFC3339, empty replays everything
	Speed   float64 `mapstructure:"speed"` // 0 is as fast as possible
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"` // empty: signals are only logged
	ChatID int64  `mapstructure:"chat_id"`
}

func setDefaults(v *viper.Viper) {
	p := circuit.DefaultParams()
	v.SetDefault("circuit.price_width", p.PriceWidth)
	v.SetDefault("circuit.rsi_width", p.RSIWidth)
	v.SetDefault("circuit.period", p.Period)
	v.SetDefault("circuit.buy_threshold", p.BuyThreshold)
	v.SetDefault("circuit.sell_threshold", p.SellThreshold)
	v.SetDefault("circuit.fixed_point_bits", p.FracBits)
	v.SetDefault("circuit.buffer_strategy", string(p.BufferStrategy))

	v.SetDefault("divider.kind", string(divider.KindSerial))
	v.SetDefault("divider.depth", 0)

	v.SetDefault("clock.flush_interval", time.Duration(0))
	v.SetDefault("clock.queue_size", 5000)
	v.SetDefault("clock.session.enabled", false)
	v.SetDefault("clock.session.timezone", "UTC")
	v.SetDefault("clock.session.open", "00:00")
	v.SetDefault("clock.session.close", "23:59")
	v.SetDefault("clock.session.weekends", true)
	v.SetDefault("clock.session.holidays", []string{})

	v.SetDefault("symbols", []string{})

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.price_stream", "prices:")
	v.SetDefault("redis.result_stream", "rsi:")
	v.SetDefault("redis.channel", "rsi:live")
	v.SetDefault("redis.consumer_group", "rsiengine")
	v.SetDefault("redis.consumer_name", "worker-1")
	v.SetDefault("redis.max_len", 100000)

	v.SetDefault("sqlite.path", "data/rsi.db")
	v.SetDefault("sqlite.warmup", true)
	v.SetDefault("postgres.dsn", "")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.price_subject", "prices")
	v.SetDefault("nats.result_subject", "rsi")

	v.SetDefault("feed.url", "")

	v.SetDefault("replay.enabled", false)
	v.SetDefault("replay.from", "")
	v.SetDefault("replay.speed", 0.0)

	v.SetDefault("http.addr", ":9095")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "config: read %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// CircuitParams merges the circuit and divider sections and validates them.
func (c *Config) CircuitParams() (circuit.Params, error) {
	p := c.Circuit
	p.DividerKind = c.Divider.Kind
	p.DividerDepth = c.Divider.Depth
	if err := p.Validate(); err != nil {
		return p, errors.Wrap(err, "config")
	}
	return p, nil
}
