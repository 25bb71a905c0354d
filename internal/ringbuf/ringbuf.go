// Package ringbuf provides the fixed-depth price history read by the RSI
// circuit. Once full, every push overwrites the oldest retained sample.
//
// Two storage strategies are available and are observably identical:
// a shift register that re-indexes every slot on each push, and an indexed
// ring that only moves a write cursor. Neither is safe for concurrent use;
// the circuit that owns a History mutates it from a single tick loop.
package ringbuf

import (
	"github.com/pkg/errors"
)

// Strategy selects the storage layout of a History.
type Strategy string

const (
	StrategyShift   Strategy = "shift"
	StrategyIndexed Strategy = "indexed"
)

// History is a fixed-capacity, overwrite-oldest sample window.
type History interface {
	// Push appends a sample, evicting the oldest one when full.
	Push(sample uint64)

	// Oldest returns the least recently pushed retained sample, or 0 when
	// nothing has been pushed yet.
	Oldest() uint64

	// Count is the number of retained samples; it saturates at Cap.
	Count() int

	// Cap is the configured depth.
	Cap() int

	// Ready reports Count() == Cap().
	Ready() bool

	// Values returns the retained samples, oldest first.
	Values() []uint64

	// Reset empties the history.
	Reset()
}

// New creates an empty History of the given depth.
func New(strategy Strategy, depth int) (History, error) {
	if depth < 1 {
		return nil, errors.Errorf("ringbuf: depth %d < 1", depth)
	}
	switch strategy {
	case StrategyIndexed, "":
		return NewRing(depth), nil
	case StrategyShift:
		return NewShift(depth), nil
	default:
		return nil, errors.Errorf("ringbuf: unknown strategy %q", strategy)
	}
}

// Ring is the indexed circular strategy. The write cursor advances modulo
// the depth; the read cursor is derived from it.
type Ring struct {
	buf   []uint64
	wr    int
	count int
}

// NewRing creates an indexed ring of the given depth (>= 1).
func NewRing(depth int) *Ring {
	return &Ring{buf: make([]uint64, depth)}
}

func (r *Ring) Push(sample uint64) {
	r.buf[r.wr] = sample
	r.wr++
	if r.wr == len(r.buf) {
		r.wr = 0
	}
	if r.count < len(r.buf) {
		r.count++
	}
}

// rd is the least recently written slot. Until the ring wraps, that is the
// first slot ever written.
func (r *Ring) rd() int {
	if r.count < len(r.buf) {
		return 0
	}
	return r.wr
}

func (r *Ring) Oldest() uint64 {
	if r.count == 0 {
		return 0
	}
	return r.buf[r.rd()]
}

func (r *Ring) Count() int  { return r.count }
func (r *Ring) Cap() int    { return len(r.buf) }
func (r *Ring) Ready() bool { return r.count == len(r.buf) }

func (r *Ring) Values() []uint64 {
	out := make([]uint64, r.count)
	start := r.rd()
	for i := range out {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

func (r *Ring) Reset() {
	clear(r.buf)
	r.wr = 0
	r.count = 0
}

// Shift is the shift-register strategy: the newest sample always sits in the
// last slot and every push moves each element one slot towards the front.
type Shift struct {
	buf   []uint64
	count int
}

// NewShift creates a shift register of the given depth (>= 1).
func NewShift(depth int) *Shift {
	return &Shift{buf: make([]uint64, depth)}
}

func (s *Shift) Push(sample uint64) {
	n := len(s.buf)
	copy(s.buf[:n-1], s.buf[1:])
	s.buf[n-1] = sample
	if s.count < n {
		s.count++
	}
}

func (s *Shift) Oldest() uint64 {
	if s.count == 0 {
		return 0
	}
	return s.buf[len(s.buf)-s.count]
}

func (s *Shift) Count() int  { return s.count }
func (s *Shift) Cap() int    { return len(s.buf) }
func (s *Shift) Ready() bool { return s.count == len(s.buf) }

func (s *Shift) Values() []uint64 {
	out := make([]uint64, s.count)
	copy(out, s.buf[len(s.buf)-s.count:])
	return out
}

func (s *Shift) Reset() {
	clear(s.buf)
	s.count = 0
}
