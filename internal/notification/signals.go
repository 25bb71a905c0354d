package notification

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/internal/model"
)

// EdgeDetector turns the per-result buy/sell flags into signals, raising
// one only when a flag goes from false to true for a symbol. A run of
// oversold results therefore alerts once.
type EdgeDetector struct {
	mu   sync.Mutex
	last map[string]model.Result
}

// NewEdgeDetector creates a detector with no history.
func NewEdgeDetector() *EdgeDetector {
	return &EdgeDetector{last: make(map[string]model.Result)}
}

// Observe records r and returns the signals it raises.
func (d *EdgeDetector) Observe(r model.Result) []model.Signal {
	d.mu.Lock()
	prev := d.last[r.Symbol]
	d.last[r.Symbol] = r
	d.mu.Unlock()

	var out []model.Signal
	if r.Buy && !prev.Buy {
		out = append(out, model.Signal{Symbol: r.Symbol, Side: model.SideBuy, RSI: r.RSI, Price: r.Price, TS: r.TS})
	}
	if r.Sell && !prev.Sell {
		out = append(out, model.Signal{Symbol: r.Symbol, Side: model.SideSell, RSI: r.RSI, Price: r.Price, TS: r.TS})
	}
	return out
}

// Forget drops the history of symbol, e.g. after its circuit was reset.
func (d *EdgeDetector) Forget(symbol string) {
	d.mu.Lock()
	delete(d.last, symbol)
	d.mu.Unlock()
}

const sendTimeout = 10 * time.Second

// Dispatcher delivers signals to notifiers off the hot path. Signals that
// do not fit in the queue are dropped and logged.
type Dispatcher struct {
	notifiers []Notifier
	queue     chan model.Signal
	log       *zap.Logger

	// OnDrop is called for every signal that did not fit in the queue.
	OnDrop func(model.Signal)
}

// NewDispatcher creates a dispatcher with a queue of size.
func NewDispatcher(size int, log *zap.Logger, notifiers ...Notifier) *Dispatcher {
	if size <= 0 {
		size = 64
	}
	return &Dispatcher{
		notifiers: notifiers,
		queue:     make(chan model.Signal, size),
		log:       log.Named("dispatch"),
	}
}

// Enqueue queues s without blocking.
func (d *Dispatcher) Enqueue(s model.Signal) {
	select {
	case d.queue <- s:
	default:
		d.log.Warn("signal queue full, dropping", zap.String("symbol", s.Symbol), zap.String("side", string(s.Side)))
		if d.OnDrop != nil {
			d.OnDrop(s)
		}
	}
}

// Run delivers queued signals until ctx is cancelled, then drains what is
// already queued.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case s := <-d.queue:
					d.deliver(context.Background(), s)
				default:
					return
				}
			}
		case s := <-d.queue:
			d.deliver(ctx, s)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, s model.Signal) {
	alert := SignalAlert(s)
	for _, n := range d.notifiers {
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		if err := n.Send(sctx, alert); err != nil {
			d.log.Error("notify failed", zap.String("title", alert.Title), zap.Error(err))
		}
		cancel()
	}
}
