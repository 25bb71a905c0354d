package guard

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, clk *fakeClock, opts ...BreakerOption) *Breaker {
	return NewBreaker(maxFailures, time.Second, append([]BreakerOption{WithClock(clk.now)}, opts...)...)
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := NewBreaker(3, time.Second)
	if b.State() != StateClosed {
		t.Errorf("expected closed, got %v", b.State())
	}
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(3, clk)
	errFail := errors.New("fail")

	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}
	if b.State() != StateOpen {
		t.Errorf("expected open after 3 failures, got %v", b.State())
	}

	called := false
	if err := b.Do(func() error { called = true; return nil }); err != ErrOpen {
		t.Errorf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Error("open breaker must not call through")
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(2, clk)
	errFail := errors.New("fail")
	b.Do(func() error { return errFail })
	b.Do(func() error { return errFail })

	clk.advance(999 * time.Millisecond)
	if err := b.Do(func() error { return nil }); err != ErrOpen {
		t.Fatalf("still cooling down, got %v", err)
	}

	clk.advance(time.Millisecond)
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe should pass, got %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed after successful probe, got %v", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(2, clk)
	errFail := errors.New("fail")
	b.Do(func() error { return errFail })
	b.Do(func() error { return errFail })

	clk.advance(2 * time.Second)
	b.Do(func() error { return errFail })
	if b.State() != StateOpen {
		t.Errorf("expected open after failed probe, got %v", b.State())
	}
	// the cooldown restarts from the failed probe
	clk.advance(500 * time.Millisecond)
	if err := b.Do(func() error { return nil }); err != ErrOpen {
		t.Errorf("expected ErrOpen, got %v", err)
	}
}

func TestBreaker_OnlyOneProbe(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(1, clk)
	b.Do(func() error { return errors.New("fail") })
	clk.advance(2 * time.Second)

	var inner error
	err := b.Do(func() error {
		inner = b.Do(func() error { return nil })
		return nil
	})
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if inner != ErrOpen {
		t.Errorf("second call during probe: expected ErrOpen, got %v", inner)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Second)
	errFail := errors.New("fail")

	b.Do(func() error { return errFail })
	b.Do(func() error { return errFail })
	b.Do(func() error { return nil })
	b.Do(func() error { return errFail })
	b.Do(func() error { return errFail })

	if b.State() != StateClosed {
		t.Errorf("expected closed, got %v", b.State())
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	var transitions []State
	b := newTestBreaker(1, clk, OnStateChange(func(_, to State) {
		transitions = append(transitions, to)
	}))

	b.Do(func() error { return errors.New("fail") })
	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Fatalf("expected [open], got %v", transitions)
	}

	clk.advance(2 * time.Second)
	b.Do(func() error { return nil })
	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %v, got %v", i, want[i], transitions[i])
		}
	}
}
