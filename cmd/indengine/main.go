// cmd/indengine runs one RSI circuit per symbol against the configured
// sample sources and publishes every retired result to the configured
// sinks.
//
// Usage:
//
//	go run ./cmd/indengine -config configs/indengine.yaml
package main

import (
	"flag"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/config"
	"github.com/hegdemanu/FPGA-RSI/internal/indengine"
	"github.com/hegdemanu/FPGA-RSI/internal/logger"
)

func main() {
	path := flag.String("config", "", "Path to a YAML config file (defaults and RSI_* env apply without one)")
	flag.Parse()

	app := fx.New(
		fx.Provide(
			func() (*config.Config, error) { return config.Load(*path) },
			func(cfg *config.Config) (*zap.Logger, error) { return logger.New("indengine", cfg.Log) },
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		indengine.Module(),
		fx.Invoke(func(cfg *config.Config, log *zap.Logger) {
			p, _ := cfg.CircuitParams()
			log.Info("starting",
				zap.Int("period", p.Period),
				zap.Uint("price_width", p.PriceWidth),
				zap.Uint("fixed_point_bits", p.FracBits),
				zap.String("divider", string(p.DividerKind)),
				zap.Strings("symbols", cfg.Symbols))
		}),
	)
	app.Run()
}
