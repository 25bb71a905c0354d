// Package divider provides clocked, multi-cycle unsigned integer dividers.
//
// A division is requested with Start and completes with a Done pulse that is
// visible for exactly one tick. Only one division may be in flight; Start is
// rejected while the unit is busy. A zero denominator is never divided: the
// unit reports Overflow and returns the largest value representable in its
// operand width, after the same latency as a normal division.
package divider

import (
	"github.com/pkg/errors"
)

// Kind selects a divider implementation.
type Kind string

const (
	// KindSerial is the bit-serial restoring divider (latency = width).
	KindSerial Kind = "serial"
	// KindFixed delivers results after a configured pipeline depth.
	KindFixed Kind = "fixed"
)

// MaxWidth is the widest operand a unit accepts.
const MaxWidth = 64

// ErrInvalidConfig is returned by New for unusable width/kind/depth values.
var ErrInvalidConfig = errors.New("divider: invalid config")

// Result is the outcome of one retired division.
type Result struct {
	Quotient  uint64 `json:"quotient"`
	Remainder uint64 `json:"remainder"`
	Overflow  bool   `json:"overflow"`
}

// Unit is a clocked divider with a start/done handshake.
type Unit interface {
	// Start latches operands and begins a division. Returns false (and
	// changes nothing) if a division is already in flight.
	Start(numerator, denominator uint64) bool

	// Tick advances the unit by one clock.
	Tick()

	// Busy reports whether a division is in flight.
	Busy() bool

	// Done is true for the single tick after the division completed.
	Done() bool

	// Result returns the most recently retired division.
	Result() Result

	// Latency is the number of ticks between Start and Done.
	Latency() int

	// Width is the operand width in bits.
	Width() uint

	// Reset aborts any in-flight division and clears every register.
	Reset()
}

// New builds a divider of the given kind. depth is only used by KindFixed.
func New(kind Kind, width uint, depth int) (Unit, error) {
	if width == 0 || width > MaxWidth {
		return nil, errors.Wrapf(ErrInvalidConfig, "width %d out of range 1..%d", width, MaxWidth)
	}
	switch kind {
	case KindSerial, "":
		return NewSerial(width), nil
	case KindFixed:
		if depth < 1 {
			return nil, errors.Wrapf(ErrInvalidConfig, "fixed divider depth %d < 1", depth)
		}
		return NewPipelined(width, depth), nil
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown kind %q", kind)
	}
}

// Mask returns a mask of the low width bits.
func Mask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << width) - 1
}
