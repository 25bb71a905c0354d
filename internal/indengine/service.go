package indengine

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/config"
	"github.com/hegdemanu/FPGA-RSI/internal/bus"
	"github.com/hegdemanu/FPGA-RSI/internal/feed"
	"github.com/hegdemanu/FPGA-RSI/internal/gateway"
	"github.com/hegdemanu/FPGA-RSI/internal/metrics"
	"github.com/hegdemanu/FPGA-RSI/internal/model"
	"github.com/hegdemanu/FPGA-RSI/internal/notification"
	"github.com/hegdemanu/FPGA-RSI/internal/replay"
	"github.com/hegdemanu/FPGA-RSI/internal/session"
	"github.com/hegdemanu/FPGA-RSI/internal/store/guard"
	"github.com/hegdemanu/FPGA-RSI/internal/store/postgres"
	rstore "github.com/hegdemanu/FPGA-RSI/internal/store/redis"
	"github.com/hegdemanu/FPGA-RSI/internal/store/sqlite"
)

const (
	publishBatch    = 100
	publishInterval = 200 * time.Millisecond
	sinkQueue       = 64
	sinkTimeout     = 5 * time.Second
	breakerFailures = 5
	breakerCooldown = 30 * time.Second
	signalQueue     = 256
	livenessEvery   = 10 * time.Second
	warmupPeriods   = 10
)

// Service feeds samples from every configured source through the engine
// and fans the results out to the configured sinks.
//
// A single goroutine owns the engine: samples, the period flush and HTTP
// control requests are all serialized through it.
type Service struct {
	cfg     *config.Config
	engine  *Engine
	log     *zap.Logger
	metrics *metrics.Metrics
	health  *metrics.HealthStatus
	hub     *gateway.Hub

	symbols map[string]bool // empty accepts every symbol
	samples chan model.PriceSample
	control chan func(*Engine)

	sources map[string]model.SampleSource
	results []*sink[model.Result]
	prices  []*sink[model.PriceSample]
	store   *sqlite.Writer
	stored  chan model.Result

	calendar *session.Calendar // nil without a session close flush

	edges    *notification.EdgeDetector
	dispatch *notification.Dispatcher

	pendingResults []model.Result
	pendingPrices  []model.PriceSample
	lanes          int
}

// New builds the engine and connects every enabled source and sink.
func New(cfg *config.Config, log *zap.Logger, m *metrics.Metrics, health *metrics.HealthStatus) (*Service, error) {
	p, err := cfg.CircuitParams()
	if err != nil {
		return nil, err
	}
	engine, err := NewEngine(p, log, m)
	if err != nil {
		return nil, err
	}

	queue := cfg.Clock.QueueSize
	if queue <= 0 {
		queue = 5000
	}
	s := &Service{
		cfg:     cfg,
		engine:  engine,
		log:     log.Named("indengine"),
		metrics: m,
		health:  health,
		hub:     gateway.NewHub(log),
		symbols: make(map[string]bool, len(cfg.Symbols)),
		samples: make(chan model.PriceSample, queue),
		control: make(chan func(*Engine)),
		sources: make(map[string]model.SampleSource),
		edges:   notification.NewEdgeDetector(),
	}
	for _, sym := range cfg.Symbols {
		s.symbols[sym] = true
	}
	if cfg.Clock.Session.Enabled {
		if s.calendar, err = session.New(cfg.Clock.Session); err != nil {
			return nil, err
		}
	}
	s.hub.OnClientsChange = func(n int) { m.WSClients.Set(float64(n)) }
	s.AddSink("gateway", s.hub)

	if err := s.connect(); err != nil {
		s.closeAll()
		return nil, err
	}
	s.dispatch = notification.NewDispatcher(signalQueue, log, s.notifiers()...)
	s.dispatch.OnDrop = func(model.Signal) { m.DroppedSamples.WithLabelValues("signal_queue").Inc() }
	return s, nil
}

func (s *Service) connect() error {
	cfg := s.cfg
	if cfg.SQLite.Path != "" {
		w, err := sqlite.New(sqlite.WriterConfig{DBPath: cfg.SQLite.Path}, s.log)
		if err != nil {
			return err
		}
		s.store = w
		s.stored = make(chan model.Result, cap(s.samples))
		s.prices = append(s.prices, newSink("sqlite", w.WritePrices, nil))
		s.health.AddProbe("sqlite", w.Ping)
	}

	if cfg.Redis.Enabled {
		rc := rstore.Config{
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			PriceStream:   cfg.Redis.PriceStream,
			ResultStream:  cfg.Redis.ResultStream,
			Channel:       cfg.Redis.Channel,
			ConsumerGroup: cfg.Redis.ConsumerGroup,
			ConsumerName:  cfg.Redis.ConsumerName,
			MaxLen:        cfg.Redis.MaxLen,
		}
		w, err := rstore.NewWriter(rc, s.log)
		if err != nil {
			return err
		}
		s.AddSink("redis", s.guarded("redis", w))
		s.health.AddProbe("redis", w.Ping)

		if len(cfg.Symbols) > 0 {
			src, err := rstore.NewSource(rc, cfg.Symbols, s.log)
			if err != nil {
				return err
			}
			src.OnReclaim = func(n int) { s.log.Info("reclaimed stale samples", zap.Int("count", n)) }
			s.AddSource("redis", src)
		} else {
			s.log.Warn("redis enabled without symbols, not consuming price streams")
		}
	}

	if cfg.Postgres.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		w, err := postgres.New(ctx, cfg.Postgres.DSN, s.log)
		cancel()
		if err != nil {
			return err
		}
		s.AddSink("postgres", s.guarded("postgres", w))
		s.health.AddProbe("postgres", w.Ping)
	}

	if cfg.NATS.URL != "" {
		nc, err := bus.Connect(bus.Config{
			URL:           cfg.NATS.URL,
			PriceSubject:  cfg.NATS.PriceSubject,
			ResultSubject: cfg.NATS.ResultSubject,
		}, cfg.Symbols, s.log)
		if err != nil {
			return err
		}
		s.AddSink("nats", s.guarded("nats", nc))
		s.AddSource("nats", shared{nc})
		s.health.AddProbe("nats", nc.Ping)
	}

	if cfg.Feed.URL != "" {
		f, err := feed.New(feed.Config{URL: cfg.Feed.URL}, s.log)
		if err != nil {
			return err
		}
		s.AddSource("ws", f)
	}

	if cfg.Replay.Enabled {
		if cfg.SQLite.Path == "" {
			return errors.New("indengine: replay needs sqlite.path")
		}
		var from time.Time
		if cfg.Replay.From != "" {
			t, err := time.Parse(time.RFC3339Nano, cfg.Replay.From)
			if err != nil {
				return errors.Wrap(err, "indengine: replay.from")
			}
			from = t
		}
		r, err := sqlite.NewReader(cfg.SQLite.Path, s.log)
		if err != nil {
			return err
		}
		s.AddSource("replay", replay.New(r, cfg.Symbols, from, cfg.Replay.Speed, s.log))
	}
	return nil
}

// shared is a source whose connection is closed by the sink side.
type shared struct{ model.SampleSource }

func (shared) Close() error { return nil }

func (s *Service) guarded(name string, w model.ResultWriter) *guard.Writer {
	br := guard.NewBreaker(breakerFailures, breakerCooldown, guard.OnStateChange(func(from, to guard.State) {
		s.log.Warn("sink breaker", zap.String("sink", name), zap.Stringer("from", from), zap.Stringer("to", to))
	}))
	gw := guard.NewWriter(name, w, br, 0, s.log)
	gw.OnDrop = func(n int) { s.metrics.DroppedSamples.WithLabelValues("backlog_full").Add(float64(n)) }
	return gw
}

func (s *Service) notifiers() []notification.Notifier {
	out := []notification.Notifier{notification.NewLogNotifier(s.log)}
	tg := s.cfg.Telegram
	if tg.Token == "" || tg.ChatID == 0 {
		return out
	}
	n, err := notification.NewTelegramNotifier(tg.Token, tg.ChatID, s.log)
	if err != nil {
		s.log.Warn("telegram disabled", zap.Error(err))
		return out
	}
	return append(out, n)
}

// AddSource registers a sample source. Call before Run.
func (s *Service) AddSource(name string, src model.SampleSource) {
	s.sources[name] = src
}

// AddSink registers a result sink. Call before Run.
func (s *Service) AddSink(name string, w model.ResultWriter) {
	s.results = append(s.results, newSink(name, w.WriteResults, w.Close))
}

// Engine exposes the engine for tests. It must not be used while Run is
// active.
func (s *Service) Engine() *Engine { return s.engine }

// Hub returns the websocket hub that receives every result.
func (s *Service) Hub() *gateway.Hub { return s.hub }

// Submit queues a sample for processing. It blocks while the queue is full.
func (s *Service) Submit(ctx context.Context, smp model.PriceSample) error {
	select {
	case s.samples <- smp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes samples until ctx is cancelled. On return every source has
// stopped, queued samples have been processed and every sink has been
// flushed and closed.
func (s *Service) Run(ctx context.Context) error {
	if err := s.warmup(ctx); err != nil {
		s.log.Warn("warm-up failed, starting cold", zap.Error(err))
	}

	var sinks sync.WaitGroup
	for _, k := range s.results {
		sinks.Add(1)
		go func(k *sink[model.Result]) {
			defer sinks.Done()
			k.run(s.log, s.metrics)
		}(k)
	}
	for _, k := range s.prices {
		sinks.Add(1)
		go func(k *sink[model.PriceSample]) {
			defer sinks.Done()
			k.run(s.log, s.metrics)
		}(k)
	}
	if s.store != nil {
		sinks.Add(1)
		go func() {
			defer sinks.Done()
			s.store.Run(context.Background(), s.stored)
		}()
	}

	dctx, stopDispatch := context.WithCancel(context.Background())
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		s.dispatch.Run(dctx)
	}()

	if len(s.sources) == 0 {
		s.log.Warn("no sample source configured")
	}
	var sources sync.WaitGroup
	for name, src := range s.sources {
		sources.Add(1)
		go func(name string, src model.SampleSource) {
			defer sources.Done()
			if err := src.Run(ctx, s.samples); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("source stopped", zap.String("source", name), zap.Error(err))
			}
		}(name, src)
	}

	s.health.StartLivenessChecker(ctx, livenessEvery)
	s.log.Info("service started",
		zap.Int("sources", len(s.sources)),
		zap.Int("sinks", len(s.results)),
		zap.Int("sample_ticks", s.engine.SampleTicks()),
		zap.Duration("flush_interval", s.cfg.Clock.FlushInterval))

	s.loop(ctx)

	sources.Wait()
	for name, src := range s.sources {
		if err := src.Close(); err != nil {
			s.log.Warn("source close", zap.String("source", name), zap.Error(err))
		}
	}
	s.drain()
	s.publish()

	for _, k := range s.results {
		close(k.ch)
	}
	for _, k := range s.prices {
		close(k.ch)
	}
	if s.stored != nil {
		close(s.stored)
	}
	sinks.Wait()
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Warn("sqlite close", zap.Error(err))
		}
	}
	stopDispatch()
	<-dispatched

	s.log.Info("service stopped", zap.Strings("symbols", s.engine.Symbols()))
	return nil
}

func (s *Service) loop(ctx context.Context) {
	publish := time.NewTicker(publishInterval)
	defer publish.Stop()

	var flush <-chan time.Time
	if d := s.cfg.Clock.FlushInterval; d > 0 {
		t := time.NewTicker(d)
		defer t.Stop()
		flush = t.C
	}

	var closeTimer *time.Timer
	var sessionClose <-chan time.Time
	if s.calendar != nil {
		now := time.Now()
		s.log.Info("session calendar", zap.String("status", s.calendar.Status(now)), zap.Time("next_close", s.calendar.NextClose(now)))
		closeTimer = time.NewTimer(time.Until(s.calendar.NextClose(now)))
		defer closeTimer.Stop()
		sessionClose = closeTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case smp := <-s.samples:
			s.handle(smp)
		case fn := <-s.control:
			fn(s.engine)
		case <-publish.C:
			s.publish()
		case <-flush:
			s.flushAll("interval")
		case now := <-sessionClose:
			s.flushAll("session_close")
			closeTimer.Reset(time.Until(s.calendar.NextClose(now)))
		}
	}
}

// flushAll retires what is pending, then asserts the flush on every circuit.
func (s *Service) flushAll(cause string) {
	s.publish()
	n := s.engine.FlushAll()
	for _, sym := range s.engine.Symbols() {
		s.edges.Forget(sym)
	}
	s.log.Info("period flush", zap.String("cause", cause), zap.Int("circuits", n))
}

// drain processes whatever the sources queued before they stopped.
func (s *Service) drain() {
	for {
		select {
		case smp := <-s.samples:
			s.handle(smp)
		default:
			return
		}
	}
}

func (s *Service) handle(smp model.PriceSample) {
	m := s.metrics
	m.QueueSaturation.Set(float64(len(s.samples)) / float64(cap(s.samples)) * 100)

	if smp.Symbol == "" {
		m.DroppedSamples.WithLabelValues("no_symbol").Inc()
		return
	}
	if len(s.symbols) > 0 && !s.symbols[smp.Symbol] {
		m.DroppedSamples.WithLabelValues("unknown_symbol").Inc()
		return
	}
	if smp.TS.IsZero() {
		smp.TS = time.Now()
	}

	res, err := s.engine.Process(smp)
	if err != nil {
		m.DroppedSamples.WithLabelValues("stall").Inc()
		return
	}
	s.health.SetLastSampleTime(time.Now())
	if n := len(s.engine.lanes); n != s.lanes {
		s.lanes = n
		s.health.SetSymbols(s.engine.Symbols())
	}

	s.pendingResults = append(s.pendingResults, res)
	s.pendingPrices = append(s.pendingPrices, smp)
	if s.stored != nil {
		select {
		case s.stored <- res:
		default:
			m.DroppedSamples.WithLabelValues("sink_full").Inc()
		}
	}

	for _, sig := range s.edges.Observe(res) {
		m.SignalsTotal.WithLabelValues(sig.Symbol, string(sig.Side)).Inc()
		s.dispatch.Enqueue(sig)
	}

	if len(s.pendingResults) >= publishBatch {
		s.publish()
	}
}

// publish hands the pending batches to every sink. Sinks only read the
// batch, so one slice is shared between them.
func (s *Service) publish() {
	if len(s.pendingResults) > 0 {
		batch := s.pendingResults
		s.pendingResults = nil
		for _, k := range s.results {
			if !k.offer(batch) {
				s.metrics.DroppedSamples.WithLabelValues("sink_full").Add(float64(len(batch)))
				s.log.Warn("sink queue full, dropping batch", zap.String("sink", k.name), zap.Int("results", len(batch)))
			}
		}
	}
	if len(s.pendingPrices) > 0 {
		batch := s.pendingPrices
		s.pendingPrices = nil
		for _, k := range s.prices {
			if !k.offer(batch) {
				s.log.Warn("price recorder queue full, dropping batch", zap.String("sink", k.name), zap.Int("samples", len(batch)))
			}
		}
	}
}

// warmup replays the tail of each symbol's recorded prices so the circuits
// start with a full window. The smoothed averages forget their seed by a
// factor (N-1)/N per sample, so warmupPeriods windows bring them within
// rounding of an uninterrupted run. Warm-up results are not published or
// counted in the sample metrics.
func (s *Service) warmup(ctx context.Context) error {
	// a replay source brings its own history
	if !s.cfg.SQLite.Warmup || s.cfg.SQLite.Path == "" || s.cfg.Replay.Enabled {
		return nil
	}
	r, err := sqlite.NewReader(s.cfg.SQLite.Path, s.log)
	if err != nil {
		return err
	}
	defer r.Close()

	syms, err := r.Symbols(ctx)
	if err != nil {
		return err
	}
	keep := warmupPeriods * s.engine.Params().Period
	replayed := 0
	for _, sym := range syms {
		if len(s.symbols) > 0 && !s.symbols[sym] {
			continue
		}
		prices, err := r.ReadPrices(ctx, sym, time.Time{})
		if err != nil {
			return errors.Wrapf(err, "warm-up %s", sym)
		}
		if len(prices) > keep {
			prices = prices[len(prices)-keep:]
		}
		var last model.Result
		for _, p := range prices {
			if last, err = s.engine.Warm(p); err != nil {
				return errors.Wrapf(err, "warm-up %s", sym)
			}
		}
		if len(prices) > 0 {
			// a symbol that is still oversold should not alert again
			s.edges.Observe(last)
		}
		replayed += len(prices)
	}
	s.lanes = len(s.engine.lanes)
	s.health.SetSymbols(s.engine.Symbols())
	s.log.Info("warm-up done", zap.Int("symbols", s.lanes), zap.Int("samples", replayed))
	return nil
}

// do runs fn on the process loop and waits for it.
func (s *Service) do(ctx context.Context, fn func(*Engine)) error {
	done := make(chan struct{})
	select {
	case s.control <- func(e *Engine) { fn(e); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) closeAll() {
	for _, k := range s.results {
		if k.close != nil {
			k.close()
		}
	}
	if s.store != nil {
		s.store.Close()
	}
	for _, src := range s.sources {
		src.Close()
	}
}

// sink serializes batches to one backend on its own goroutine so a slow
// backend never stalls the process loop.
type sink[T any] struct {
	name  string
	write func(context.Context, []T) error
	close func() error
	ch    chan []T
}

func newSink[T any](name string, write func(context.Context, []T) error, closeFn func() error) *sink[T] {
	return &sink[T]{name: name, write: write, close: closeFn, ch: make(chan []T, sinkQueue)}
}

func (k *sink[T]) offer(batch []T) bool {
	select {
	case k.ch <- batch:
		return true
	default:
		return false
	}
}

// run writes batches until ch is closed, then closes the backend.
func (k *sink[T]) run(log *zap.Logger, m *metrics.Metrics) {
	for batch := range k.ch {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		start := time.Now()
		err := k.write(ctx, batch)
		cancel()
		m.SinkWriteDur.WithLabelValues(k.name).Observe(time.Since(start).Seconds())
		if err != nil {
			m.SinkErrors.WithLabelValues(k.name).Inc()
			log.Warn("sink write failed", zap.String("sink", k.name), zap.Int("batch", len(batch)), zap.Error(err))
		}
	}
	if k.close != nil {
		if err := k.close(); err != nil {
			log.Warn("sink close", zap.String("sink", k.name), zap.Error(err))
		}
	}
}
