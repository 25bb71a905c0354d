package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/internal/model"
)

type flakySink struct {
	fail    bool
	written []model.Result
	closed  bool
}

func (s *flakySink) WriteResults(_ context.Context, rs []model.Result) error {
	if s.fail {
		return errors.New("connection refused")
	}
	s.written = append(s.written, rs...)
	return nil
}

func (s *flakySink) Close() error {
	s.closed = true
	return nil
}

func results(from, n int) []model.Result {
	out := make([]model.Result, n)
	for i := range out {
		out[i] = model.Result{Symbol: "BTCUSD", Seq: uint64(from + i)}
	}
	return out
}

func TestWriter_BuffersWhileDownAndReplaysInOrder(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	sink := &flakySink{fail: true}
	w := NewWriter("redis", sink, newTestBreaker(2, clk), 0, zap.NewNop())
	ctx := context.Background()

	if err := w.WriteResults(ctx, results(1, 2)); err == nil {
		t.Fatal("expected sink error")
	}
	if err := w.WriteResults(ctx, results(3, 1)); err == nil {
		t.Fatal("expected sink error")
	}
	if w.Breaker().State() != StateOpen {
		t.Fatalf("expected open, got %v", w.Breaker().State())
	}
	// open breaker: kept silently
	if err := w.WriteResults(ctx, results(4, 1)); err != nil {
		t.Fatalf("rejected write should not error, got %v", err)
	}
	if w.Pending() != 4 {
		t.Fatalf("expected 4 pending, got %d", w.Pending())
	}

	sink.fail = false
	clk.advance(2 * time.Second)
	if err := w.WriteResults(ctx, results(5, 1)); err != nil {
		t.Fatalf("probe write: %v", err)
	}
	if w.Pending() != 0 {
		t.Errorf("expected empty backlog, got %d", w.Pending())
	}
	if len(sink.written) != 5 {
		t.Fatalf("expected 5 written, got %d", len(sink.written))
	}
	for i, r := range sink.written {
		if r.Seq != uint64(i+1) {
			t.Errorf("position %d: expected seq %d, got %d", i, i+1, r.Seq)
		}
	}
}

func TestWriter_DropsOldestWhenFull(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	sink := &flakySink{fail: true}
	w := NewWriter("postgres", sink, newTestBreaker(1, clk), 3, zap.NewNop())
	dropped := 0
	w.OnDrop = func(n int) { dropped += n }

	w.WriteResults(context.Background(), results(1, 2))
	w.WriteResults(context.Background(), results(3, 3))
	if w.Pending() != 3 {
		t.Fatalf("expected 3 pending, got %d", w.Pending())
	}
	if dropped != 2 {
		t.Errorf("expected 2 dropped, got %d", dropped)
	}

	sink.fail = false
	clk.advance(2 * time.Second)
	w.WriteResults(context.Background(), nil)
	if len(sink.written) != 3 || sink.written[0].Seq != 3 {
		t.Errorf("expected seqs 3..5, got %+v", sink.written)
	}
}

func TestWriter_CloseFlushes(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	sink := &flakySink{fail: true}
	w := NewWriter("redis", sink, newTestBreaker(5, clk), 0, zap.NewNop())
	w.WriteResults(context.Background(), results(1, 2))

	sink.fail = false
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if len(sink.written) != 2 {
		t.Errorf("expected backlog written on close, got %d", len(sink.written))
	}
	if !sink.closed {
		t.Error("expected sink closed")
	}
}
