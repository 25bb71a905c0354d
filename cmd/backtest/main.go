// cmd/backtest clocks a recorded or scripted price series through a single
// circuit and prints every retired sample. It needs no live services.
//
// Usage:
//
//	go run ./cmd/backtest -stimulus testdata/rising.yaml -trace
//	go run ./cmd/backtest -db data/rsi.db -symbol BTCUSD -from 2026-03-02T09:15:00Z
//	go run ./cmd/backtest -db data/rsi.db -symbol BTCUSD -publish redis
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/config"
	"github.com/hegdemanu/FPGA-RSI/internal/bus"
	"github.com/hegdemanu/FPGA-RSI/internal/circuit"
	"github.com/hegdemanu/FPGA-RSI/internal/divider"
	"github.com/hegdemanu/FPGA-RSI/internal/logger"
	"github.com/hegdemanu/FPGA-RSI/internal/model"
	"github.com/hegdemanu/FPGA-RSI/internal/replay"
	"github.com/hegdemanu/FPGA-RSI/internal/sim"
	rstore "github.com/hegdemanu/FPGA-RSI/internal/store/redis"
	"github.com/hegdemanu/FPGA-RSI/internal/store/sqlite"
)

func main() {
	cfgPath := flag.String("config", "", "Config file for circuit params and connections")
	stimulus := flag.String("stimulus", "", "YAML or CSV stimulus file (overrides -db)")
	dbPath := flag.String("db", "", "SQLite database with recorded prices (default: sqlite.path)")
	symbol := flag.String("symbol", "", "Symbol to replay from -db")
	from := flag.String("from", "", "RFC3339 time to replay from (default: everything)")
	trace := flag.Bool("trace", false, "Print every clock tick")
	save := flag.Bool("save", false, "Write results back to -db")
	publish := flag.String("publish", "", "Instead of simulating, publish the prices to redis or nats")
	speed := flag.Float64("speed", 0, "Playback speed for -publish (0=max, 1=realtime, 100=100x)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.Must("backtest", cfg.Log)
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *dbPath == "" {
		*dbPath = cfg.SQLite.Path
	}

	if *publish != "" {
		if err := publishPrices(ctx, cfg, log, *dbPath, *symbol, *from, *speed, *publish); err != nil {
			log.Fatal("publish failed", zap.Error(err))
		}
		return
	}

	p, err := cfg.CircuitParams()
	if err != nil {
		log.Fatal("bad circuit params", zap.Error(err))
	}
	var opts []sim.Option
	if *trace {
		opts = append(opts, sim.WithTrace(func(tick uint64, in circuit.Inputs, out circuit.Outputs) {
			fmt.Printf("tick=%-6d in={price:%d new:%t rst:%t flush:%t} state=%-11s acc=%t ign=%t ret=%t rsi=%d buy=%t sell=%t\n",
				tick, in.Price, in.NewSample, in.Reset, in.Flush, out.State, out.Accepted, out.Ignored, out.Retired, out.RSI, out.Buy, out.Sell)
		}))
	}
	d, err := sim.New(p, append(opts, sim.WithLogger(log))...)
	if err != nil {
		log.Fatal("circuit init failed", zap.Error(err))
	}

	if *stimulus != "" {
		st, err := sim.LoadStimulus(*stimulus)
		if err != nil {
			log.Fatal("stimulus load failed", zap.Error(err))
		}
		if st.Params != nil {
			if d, err = sim.New(*st.Params, append(opts, sim.WithLogger(log))...); err != nil {
				log.Fatal("stimulus params rejected", zap.Error(err))
			}
		}
		rep, err := sim.Run(d, st)
		printRetired(rep.Retired)
		log.Info("stimulus done",
			zap.Int("retired", len(rep.Retired)),
			zap.Int("cleared", rep.Cleared),
			zap.Uint64("ticks", rep.Ticks))
		if err != nil {
			log.Fatal("stimulus stalled", zap.Error(err))
		}
		return
	}

	if *symbol == "" {
		log.Fatal("need -stimulus or -symbol")
	}
	samples, err := readPrices(ctx, *dbPath, *symbol, *from, log)
	if err != nil {
		log.Fatal("read prices failed", zap.Error(err))
	}

	mask := divider.Mask(p.PriceWidth)
	results := make([]model.Result, 0, len(samples))
	start := time.Now()
	for i, s := range samples {
		if ctx.Err() != nil {
			break
		}
		ret, err := d.Feed(s.Price)
		if err != nil {
			log.Fatal("sample stalled", zap.Int("index", i), zap.Error(err))
		}
		out := ret.Outputs
		results = append(results, model.Result{
			Symbol: s.Symbol, Seq: uint64(i + 1), TS: s.TS, Price: s.Price & mask,
			RSI: out.RSI, Buy: out.Buy, Sell: out.Sell, Ready: out.Ready,
			Count: out.Count, Ticks: ret.Ticks, Overflow: out.Overflow,
		})
	}
	printResults(results)
	log.Info("replay done",
		zap.String("symbol", *symbol),
		zap.Int("samples", len(results)),
		zap.Uint64("ticks", d.Ticks()),
		zap.Duration("took", time.Since(start)))

	if *save && len(results) > 0 {
		w, err := sqlite.New(sqlite.WriterConfig{DBPath: *dbPath}, log)
		if err != nil {
			log.Fatal("sqlite open failed", zap.Error(err))
		}
		defer w.Close()
		if err := w.WriteResults(ctx, results); err != nil {
			log.Fatal("save failed", zap.Error(err))
		}
		log.Info("results saved", zap.String("db", *dbPath))
	}
}

func readPrices(ctx context.Context, dbPath, symbol, from string, log *zap.Logger) ([]model.PriceSample, error) {
	after, err := parseFrom(from)
	if err != nil {
		return nil, err
	}
	r, err := sqlite.NewReader(dbPath, log)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ReadPrices(ctx, symbol, after)
}

// publishPrices pushes recorded prices onto a live transport so a running
// engine replays them, paced by speed.
func publishPrices(ctx context.Context, cfg *config.Config, log *zap.Logger, dbPath, symbol, from string, speed float64, target string) error {
	if symbol == "" {
		return errors.New("-publish needs -symbol")
	}
	after, err := parseFrom(from)
	if err != nil {
		return err
	}
	r, err := sqlite.NewReader(dbPath, log)
	if err != nil {
		return err
	}
	src := replay.New(r, []string{symbol}, after, speed, log)
	defer src.Close()

	var w model.PriceWriter
	switch target {
	case "redis":
		w, err = rstore.NewWriter(rstore.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PriceStream:  cfg.Redis.PriceStream,
			ResultStream: cfg.Redis.ResultStream,
			Channel:      cfg.Redis.Channel,
			MaxLen:       cfg.Redis.MaxLen,
		}, log)
	case "nats":
		w, err = bus.Connect(bus.Config{
			URL:           cfg.NATS.URL,
			PriceSubject:  cfg.NATS.PriceSubject,
			ResultSubject: cfg.NATS.ResultSubject,
		}, nil, log)
	default:
		return errors.Errorf("unknown -publish target %q (redis, nats)", target)
	}
	if err != nil {
		return err
	}
	defer w.Close()

	ch := make(chan model.PriceSample, 1000)
	errc := make(chan error, 1)
	go func() {
		errc <- src.Run(ctx, ch)
		close(ch)
	}()

	const maxBatch = 500
	batch := make([]model.PriceSample, 0, maxBatch)
	sent := 0
	for s := range ch {
		batch = append(batch, s)
		if len(batch) < maxBatch && len(ch) > 0 {
			continue
		}
		if err := w.WritePrices(ctx, batch); err != nil {
			return errors.Wrapf(err, "publish after %d samples", sent)
		}
		sent += len(batch)
		batch = batch[:0]
	}
	if err := <-errc; err != nil {
		return err
	}
	log.Info("published", zap.String("target", target), zap.String("symbol", symbol), zap.Int("samples", sent))
	return nil
}

func parseFrom(from string) (time.Time, error) {
	if from == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, from)
	return t, errors.Wrap(err, "parse -from")
}

func printRetired(rets []sim.Retirement) {
	fmt.Printf("%-6s %-14s %-6s %-5s %-5s %-5s %-6s\n", "#", "price", "rsi", "buy", "sell", "ready", "ticks")
	for i, r := range rets {
		o := r.Outputs
		fmt.Printf("%-6d %-14d %-6d %-5t %-5t %-5t %-6d\n", i+1, r.Price, o.RSI, o.Buy, o.Sell, o.Ready, r.Ticks)
	}
}

func printResults(results []model.Result) {
	fmt.Printf("%-6s %-30s %-14s %-6s %-5s %-5s %-5s\n", "#", "ts", "price", "rsi", "buy", "sell", "ready")
	for _, r := range results {
		fmt.Printf("%-6d %-30s %-14d %-6d %-5t %-5t %-5t\n",
			r.Seq, r.TS.Format(time.RFC3339Nano), r.Price, r.RSI, r.Buy, r.Sell, r.Ready)
	}
}
