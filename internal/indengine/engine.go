// Package indengine runs one RSI circuit per symbol behind the sample
// sources and in front of the result sinks.
package indengine

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/internal/circuit"
	"github.com/hegdemanu/FPGA-RSI/internal/divider"
	"github.com/hegdemanu/FPGA-RSI/internal/logger"
	"github.com/hegdemanu/FPGA-RSI/internal/metrics"
	"github.com/hegdemanu/FPGA-RSI/internal/model"
	"github.com/hegdemanu/FPGA-RSI/internal/sim"
)

type lane struct {
	d   *sim.Driver
	seq uint64 // retirements since the last clear
}

// Engine owns a circuit per symbol, created on first sight. It is not safe
// for concurrent use; the service drives it from a single goroutine.
type Engine struct {
	params      circuit.Params
	sampleTicks int
	priceMask   uint64
	lanes       map[string]*lane
	log         *zap.Logger
	m           *metrics.Metrics
}

// NewEngine validates p up front so a bad configuration fails at startup
// rather than on the first sample. m may be nil.
func NewEngine(p circuit.Params, log *zap.Logger, m *metrics.Metrics) (*Engine, error) {
	c, err := circuit.New(p)
	if err != nil {
		return nil, err
	}
	return &Engine{
		params:      p,
		sampleTicks: c.SampleTicks(),
		priceMask:   divider.Mask(p.PriceWidth),
		lanes:       make(map[string]*lane),
		log:         log.Named("engine"),
		m:           m,
	}, nil
}

// Params returns the circuit parameters every lane is built with.
func (e *Engine) Params() circuit.Params { return e.params }

// SampleTicks is the clock count from acceptance to Decide for a sample
// that finds the circuit idle.
func (e *Engine) SampleTicks() int { return e.sampleTicks }

func (e *Engine) lane(symbol string) *lane {
	if l, ok := e.lanes[symbol]; ok {
		return l
	}
	// params were validated in NewEngine
	d, err := sim.New(e.params, sim.WithLogger(e.log.With(zap.String("symbol", symbol))))
	if err != nil {
		panic(errors.Wrap(err, "indengine: params changed after validation"))
	}
	l := &lane{d: d}
	e.lanes[symbol] = l
	e.log.Info("new circuit", zap.String("symbol", symbol), zap.Int("sample_ticks", e.sampleTicks))
	return l
}

// Process clocks one sample through its symbol's circuit until it retires.
func (e *Engine) Process(s model.PriceSample) (model.Result, error) {
	return e.process(s, e.m)
}

// Warm is Process without metrics, for history replayed at startup.
func (e *Engine) Warm(s model.PriceSample) (model.Result, error) {
	return e.process(s, nil)
}

func (e *Engine) process(s model.PriceSample, m *metrics.Metrics) (model.Result, error) {
	start := time.Now()
	l := e.lane(s.Symbol)
	before := l.d.Ticks()

	ret, err := l.d.Feed(s.Price)
	if m != nil {
		m.TicksTotal.Add(float64(l.d.Ticks() - before))
	}
	if err != nil {
		e.log.Error("sample stalled", zap.String("trace_id", logger.GenerateTraceID(s.Symbol, s.TS)), zap.Error(err))
		return model.Result{}, err
	}
	l.seq++

	out := ret.Outputs
	res := model.Result{
		Symbol:   s.Symbol,
		Seq:      l.seq,
		TS:       s.TS,
		Price:    s.Price & e.priceMask,
		RSI:      out.RSI,
		Buy:      out.Buy,
		Sell:     out.Sell,
		Ready:    out.Ready,
		Count:    out.Count,
		Ticks:    ret.Ticks,
		Overflow: out.Overflow,
	}

	if m != nil {
		m.SamplesTotal.WithLabelValues(s.Symbol).Inc()
		m.SampleWaitTicks.Add(float64(ret.Waited))
		m.SampleTicks.Observe(float64(ret.Ticks))
		if out.Ready {
			m.DivisionsTotal.Inc()
			m.RSIValue.WithLabelValues(s.Symbol).Set(float64(out.RSI))
		}
		if out.Overflow {
			m.DivOverflowTotal.Inc()
		}
		m.ProcessDur.Observe(time.Since(start).Seconds())
	}
	return res, nil
}

// Flush asserts the end-of-period flush on symbol. It reports whether the
// symbol had a circuit.
func (e *Engine) Flush(symbol string) bool {
	return e.clear(symbol, "flush")
}

// Reset asserts reset on symbol.
func (e *Engine) Reset(symbol string) bool {
	return e.clear(symbol, "reset")
}

func (e *Engine) clear(symbol, reason string) bool {
	l, ok := e.lanes[symbol]
	if !ok {
		return false
	}
	if reason == "reset" {
		l.d.Reset()
	} else {
		l.d.Flush()
	}
	l.seq = 0
	if e.m != nil {
		e.m.TicksTotal.Inc()
		e.m.ClearsTotal.WithLabelValues(reason).Inc()
	}
	return true
}

// FlushAll flushes every circuit and returns how many there were.
func (e *Engine) FlushAll() int {
	for sym := range e.lanes {
		e.Flush(sym)
	}
	return len(e.lanes)
}

// Snapshot returns symbol's circuit registers.
func (e *Engine) Snapshot(symbol string) (circuit.Snapshot, bool) {
	l, ok := e.lanes[symbol]
	if !ok {
		return circuit.Snapshot{}, false
	}
	return l.d.Snapshot(), true
}

// Ticks returns the clocks issued to symbol's circuit.
func (e *Engine) Ticks(symbol string) uint64 {
	if l, ok := e.lanes[symbol]; ok {
		return l.d.Ticks()
	}
	return 0
}

// Symbols lists the symbols with a circuit, sorted.
func (e *Engine) Symbols() []string {
	out := make([]string, 0, len(e.lanes))
	for s := range e.lanes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
