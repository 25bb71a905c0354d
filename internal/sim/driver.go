// Package sim drives a circuit from the outside: it owns the clock, holds a
// sample until the automaton is back in Idle, and replays stimulus files.
package sim

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/internal/circuit"
)

// ErrStalled is returned when a sample is neither accepted nor retired
// within the bound derived from the circuit's latency.
var ErrStalled = errors.New("sim: circuit stalled")

// Retirement describes one sample from acceptance to its Decide tick.
type Retirement struct {
	Price   uint64          `json:"price"`
	Outputs circuit.Outputs `json:"outputs"`
	// Ticks counts from the accepting tick to Decide, inclusive.
	Ticks int `json:"ticks"`
	// Waited counts ticks the sample was held before the circuit took it.
	Waited int `json:"waited"`
}

// TraceFunc observes every tick the driver issues.
type TraceFunc func(tick uint64, in circuit.Inputs, out circuit.Outputs)

// Option configures a Driver.
type Option func(*Driver)

// WithTrace installs a per-tick observer.
func WithTrace(fn TraceFunc) Option {
	return func(d *Driver) { d.trace = fn }
}

// WithLogger sets the logger used for resets and stalls.
func WithLogger(log *zap.Logger) Option {
	return func(d *Driver) { d.log = log }
}

// Driver is the tick source for one circuit. Not safe for concurrent use.
type Driver struct {
	c     *circuit.Circuit
	tick  uint64
	trace TraceFunc
	log   *zap.Logger
}

// New builds a circuit from p and wraps it.
func New(p circuit.Params, opts ...Option) (*Driver, error) {
	c, err := circuit.New(p)
	if err != nil {
		return nil, err
	}
	return Wrap(c, opts...), nil
}

// Wrap drives an existing circuit.
func Wrap(c *circuit.Circuit, opts ...Option) *Driver {
	d := &Driver{c: c, log: zap.NewNop()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Circuit returns the driven circuit.
func (d *Driver) Circuit() *circuit.Circuit { return d.c }

// Ticks is the number of clocks issued so far.
func (d *Driver) Ticks() uint64 { return d.tick }

// Snapshot copies the circuit registers.
func (d *Driver) Snapshot() circuit.Snapshot { return d.c.Snapshot() }

// Tick issues one clock with the given inputs.
func (d *Driver) Tick(in circuit.Inputs) circuit.Outputs {
	out := d.c.Tick(in)
	d.tick++
	if d.trace != nil {
		d.trace(d.tick, in, out)
	}
	return out
}

// Idle issues n clocks with no inputs and returns the last outputs.
func (d *Driver) Idle(n int) circuit.Outputs {
	var out circuit.Outputs
	for i := 0; i < n; i++ {
		out = d.Tick(circuit.Inputs{})
	}
	return out
}

// Reset asserts reset for one tick.
func (d *Driver) Reset() circuit.Outputs {
	d.log.Debug("circuit reset", zap.Uint64("tick", d.tick))
	return d.Tick(circuit.Inputs{Reset: true})
}

// Flush asserts the end-of-period flush for one tick.
func (d *Driver) Flush() circuit.Outputs {
	d.log.Debug("circuit flush", zap.Uint64("tick", d.tick))
	return d.Tick(circuit.Inputs{Flush: true})
}

// limit bounds both the wait for Idle and the wait for Decide. An in-flight
// sample always finishes within SampleTicks.
func (d *Driver) limit() int { return d.c.SampleTicks() + 1 }

// Feed presents price until the circuit accepts it, then clocks until the
// sample retires.
func (d *Driver) Feed(price uint64) (Retirement, error) {
	r := Retirement{Price: price}
	in := circuit.Inputs{Price: price, NewSample: true}

	for {
		out := d.Tick(in)
		if out.Accepted {
			break
		}
		r.Waited++
		if r.Waited > d.limit() {
			d.log.Warn("sample never accepted", zap.Uint64("price", price), zap.Int("waited", r.Waited))
			return r, errors.Wrapf(ErrStalled, "price %d not accepted after %d ticks", price, r.Waited)
		}
	}

	for r.Ticks = 2; r.Ticks <= d.limit(); r.Ticks++ {
		out := d.Tick(circuit.Inputs{})
		if out.Retired {
			r.Outputs = out
			return r, nil
		}
	}
	d.log.Warn("sample never retired", zap.Uint64("price", price), zap.Stringer("state", d.c.State()))
	return r, errors.Wrapf(ErrStalled, "price %d not retired after %d ticks", price, r.Ticks)
}

// FeedAll feeds prices in order and stops at the first error.
func (d *Driver) FeedAll(prices []uint64) ([]Retirement, error) {
	out := make([]Retirement, 0, len(prices))
	for _, p := range prices {
		r, err := d.Feed(p)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}
