package ringbuf

import (
	"math/rand"
	"reflect"
	"testing"
)

func strategies(depth int) map[string]History {
	return map[string]History{
		"indexed": NewRing(depth),
		"shift":   NewShift(depth),
	}
}

func TestHistory_WarmUp(t *testing.T) {
	for name, h := range strategies(4) {
		if h.Ready() || h.Count() != 0 || h.Oldest() != 0 {
			t.Fatalf("%s: fresh history not empty", name)
		}

		h.Push(10)
		h.Push(11)
		h.Push(12)
		if h.Count() != 3 || h.Ready() {
			t.Fatalf("%s: expected count=3 not ready, got count=%d ready=%v", name, h.Count(), h.Ready())
		}
		// Before the window fills, oldest is the first sample ever pushed.
		if h.Oldest() != 10 {
			t.Fatalf("%s: expected oldest=10, got %d", name, h.Oldest())
		}

		h.Push(13)
		if !h.Ready() || h.Count() != 4 {
			t.Fatalf("%s: expected ready at 4th push", name)
		}
		if h.Oldest() != 10 {
			t.Fatalf("%s: expected oldest=10 when just full, got %d", name, h.Oldest())
		}
	}
}

func TestHistory_Wraparound(t *testing.T) {
	for name, h := range strategies(3) {
		// 1..10: after each push beyond 3, oldest is the sample 3 pushes back.
		for i := uint64(1); i <= 10; i++ {
			h.Push(i)
			if i >= 3 && h.Oldest() != i-2 {
				t.Fatalf("%s: push %d: expected oldest=%d, got %d", name, i, i-2, h.Oldest())
			}
			if h.Count() > 3 {
				t.Fatalf("%s: count %d exceeds depth", name, h.Count())
			}
		}
		if got := h.Values(); !reflect.DeepEqual(got, []uint64{8, 9, 10}) {
			t.Fatalf("%s: expected values [8 9 10], got %v", name, got)
		}
	}
}

func TestHistory_DepthOne(t *testing.T) {
	for name, h := range strategies(1) {
		h.Push(5)
		h.Push(6)
		if !h.Ready() || h.Oldest() != 6 || h.Count() != 1 {
			t.Fatalf("%s: depth 1 should hold only the newest sample, got oldest=%d count=%d", name, h.Oldest(), h.Count())
		}
	}
}

func TestHistory_Reset(t *testing.T) {
	for name, h := range strategies(5) {
		for i := uint64(0); i < 7; i++ {
			h.Push(i + 100)
		}
		h.Reset()
		if h.Count() != 0 || h.Ready() || h.Oldest() != 0 || len(h.Values()) != 0 {
			t.Fatalf("%s: reset left state behind", name)
		}
		fresh := strategies(5)[name]
		if !reflect.DeepEqual(h, fresh) {
			t.Fatalf("%s: reset history differs from a fresh one", name)
		}
	}
}

func TestHistory_StrategiesAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, depth := range []int{1, 2, 3, 14, 16} {
		ring, shift := NewRing(depth), NewShift(depth)
		for i := 0; i < 200; i++ {
			if rng.Intn(50) == 0 {
				ring.Reset()
				shift.Reset()
			}
			v := rng.Uint64() >> 14
			ring.Push(v)
			shift.Push(v)
			if ring.Oldest() != shift.Oldest() || ring.Count() != shift.Count() || ring.Ready() != shift.Ready() {
				t.Fatalf("depth %d step %d: indexed and shift diverged", depth, i)
			}
			if !reflect.DeepEqual(ring.Values(), shift.Values()) {
				t.Fatalf("depth %d step %d: values diverged: %v vs %v", depth, i, ring.Values(), shift.Values())
			}
		}
	}
}

func TestNew(t *testing.T) {
	h, err := New("", 14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := h.(*Ring); !ok {
		t.Fatalf("default strategy should be indexed, got %T", h)
	}
	if h, _ = New(StrategyShift, 14); h.Cap() != 14 {
		t.Fatalf("expected cap 14, got %d", h.Cap())
	}
	if _, err := New(StrategyShift, 0); err == nil {
		t.Fatal("depth 0 should be rejected")
	}
	if _, err := New("fifo", 4); err == nil {
		t.Fatal("unknown strategy should be rejected")
	}
}
