package guard

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/internal/model"
)

const defaultMaxPending = 10000

// Writer wraps a ResultWriter with a Breaker. Results that could not be
// written, because the breaker was open or the sink failed, are kept and
// written ahead of the next batch. The backlog is bounded; when full the
// oldest results are dropped.
type Writer struct {
	name string
	next model.ResultWriter
	br   *Breaker
	log  *zap.Logger

	mu      sync.Mutex
	pending []model.Result
	max     int

	// OnDrop is called with the number of results dropped from a full backlog.
	OnDrop func(n int)
}

// NewWriter wraps next. maxPending <= 0 selects the default backlog size.
func NewWriter(name string, next model.ResultWriter, br *Breaker, maxPending int, log *zap.Logger) *Writer {
	if maxPending <= 0 {
		maxPending = defaultMaxPending
	}
	return &Writer{
		name: name,
		next: next,
		br:   br,
		log:  log.Named("guard").With(zap.String("sink", name)),
		max:  maxPending,
	}
}

// Name returns the sink name used in logs and metrics.
func (w *Writer) Name() string { return w.name }

// Breaker exposes the breaker for health reporting.
func (w *Writer) Breaker() *Breaker { return w.br }

// WriteResults writes the backlog followed by results. A rejected call is
// not an error: the batch is kept for later. A sink failure is returned
// and the batch is kept as well.
func (w *Writer) WriteResults(ctx context.Context, results []model.Result) error {
	batch := w.take(results)
	if len(batch) == 0 {
		return nil
	}

	err := w.br.Do(func() error { return w.next.WriteResults(ctx, batch) })
	if err != nil {
		w.keep(batch)
		if errors.Is(err, ErrOpen) {
			return nil
		}
		return errors.Wrapf(err, "%s sink", w.name)
	}

	if replayed := len(batch) - len(results); replayed > 0 {
		w.log.Info("replayed buffered results", zap.Int("count", replayed))
	}
	return nil
}

// Pending returns the backlog size.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *Writer) take(results []model.Result) []model.Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return results
	}
	batch := append(w.pending, results...)
	w.pending = nil
	return batch
}

func (w *Writer) keep(batch []model.Result) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, batch...)
	if over := len(w.pending) - w.max; over > 0 {
		w.pending = append([]model.Result(nil), w.pending[over:]...)
		w.log.Warn("backlog full, dropped oldest results", zap.Int("dropped", over))
		if w.OnDrop != nil {
			w.OnDrop(over)
		}
	}
}

// Close makes one last attempt at the backlog, then closes the sink.
func (w *Writer) Close() error {
	if w.Pending() > 0 {
		ctx := context.Background()
		if err := w.WriteResults(ctx, nil); err != nil || w.Pending() > 0 {
			w.log.Warn("closing with unwritten results", zap.Int("count", w.Pending()), zap.Error(err))
		}
	}
	return w.next.Close()
}
