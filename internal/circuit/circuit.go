// Package circuit implements the clocked RSI control loop: a five-state
// automaton that sequences a price sample through the history buffer, the
// fixed-point accumulator, a multi-cycle divider and the decision engine.
//
// Every register lives inside one Circuit value and is advanced only by
// Tick, so any number of independent circuits can run side by side. A
// Circuit is not safe for concurrent use.
package circuit

import (
	"github.com/pkg/errors"

	"github.com/hegdemanu/FPGA-RSI/internal/divider"
	"github.com/hegdemanu/FPGA-RSI/internal/indicator"
	"github.com/hegdemanu/FPGA-RSI/internal/ringbuf"
)

// Inputs are the signals sampled on one tick.
type Inputs struct {
	Price     uint64
	NewSample bool
	Reset     bool
	Flush     bool
}

// Outputs are the registers after a tick, plus per-tick event flags.
type Outputs struct {
	RSI   uint64 `json:"rsi"`
	Buy   bool   `json:"buy"`
	Sell  bool   `json:"sell"`
	State State  `json:"state"`
	Ready bool   `json:"ready"`
	Count int    `json:"count"`

	// Accepted: the sample on this tick was latched.
	Accepted bool `json:"accepted,omitempty"`
	// Ignored: a sample was flagged outside Idle and dropped.
	Ignored bool `json:"ignored,omitempty"`
	// Retired: Decide ran on this tick and the sample is complete.
	Retired bool `json:"retired,omitempty"`
	// Cleared: reset or flush was applied on this tick.
	Cleared bool `json:"cleared,omitempty"`
	// Overflow: the divider result consumed on this tick flagged overflow.
	Overflow bool `json:"overflow,omitempty"`
}

// Circuit owns every register of one RSI instance.
type Circuit struct {
	params    Params
	priceMask uint64

	hist ringbuf.History
	acc  *indicator.Accumulator
	div  divider.Unit
	dec  *indicator.DecisionEngine

	state    State
	latched  uint64
	current  uint64
	previous uint64
	valid    bool

	issued   bool
	rs       uint64
	overflow bool

	out indicator.Decision
}

// New validates p and builds a circuit in its reset state.
func New(p Params) (*Circuit, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	hist, err := ringbuf.New(p.BufferStrategy, p.Period)
	if err != nil {
		return nil, errors.Wrap(err, "circuit: history")
	}
	div, err := divider.New(p.DividerKind, p.AccumulatorWidth(), p.DividerDepth)
	if err != nil {
		return nil, errors.Wrap(err, "circuit: divider")
	}
	return &Circuit{
		params:    p,
		priceMask: divider.Mask(p.PriceWidth),
		hist:      hist,
		acc:       indicator.NewAccumulator(p.Period, p.FracBits),
		div:       div,
		dec:       indicator.NewDecisionEngine(p.FracBits, p.BuyThreshold, p.SellThreshold),
	}, nil
}

// Params returns the construction parameters.
func (c *Circuit) Params() Params { return c.params }

// DividerLatency is the number of ticks a division spends in flight.
func (c *Circuit) DividerLatency() int { return c.div.Latency() }

// SampleTicks is the number of ticks from the accepting Idle tick to the
// Decide tick, inclusive, once the history is ready. During warm-up no
// division is issued and a sample takes 5 ticks.
func (c *Circuit) SampleTicks() int { return 4 + c.div.Latency() }

// State is the current control state.
func (c *Circuit) State() State { return c.state }

// Tick advances the circuit by one clock. Reset and flush take priority
// over everything else; otherwise the current state's action runs on the
// registers left by the previous tick, the next state is committed and the
// divider is clocked once.
func (c *Circuit) Tick(in Inputs) Outputs {
	if in.Reset || in.Flush {
		c.clear()
		out := c.outputs()
		out.Cleared = true
		return out
	}

	var ev Outputs
	next := c.state

	switch c.state {
	case Idle:
		c.out.Buy, c.out.Sell = false, false
		if in.NewSample {
			c.latched = in.Price & c.priceMask
			ev.Accepted = true
			next = Fetch
		}

	case Fetch:
		c.hist.Push(c.latched)
		c.previous = c.current
		c.current = c.latched
		c.valid = true
		next = Compute

	case Compute:
		c.acc.Step(c.current, c.previous, c.hist.Count())
		if c.hist.Ready() {
			den := c.acc.AvgLoss()
			if den == 0 {
				den = 1
			}
			c.issued = c.div.Start(c.acc.AvgGain(), den)
		}
		next = WaitDivide

	case WaitDivide:
		switch {
		case !c.issued:
			next = Decide
		case c.div.Done():
			res := c.div.Result()
			c.rs = res.Quotient
			c.overflow = res.Overflow
			ev.Overflow = res.Overflow
			next = Decide
		}

	case Decide:
		if c.hist.Ready() {
			c.out = c.dec.Decide(c.rs, c.acc.AvgLoss())
		}
		c.issued = false
		ev.Retired = true
		next = Idle
	}

	if in.NewSample && !ev.Accepted {
		ev.Ignored = true
	}

	c.state = next
	c.div.Tick()

	out := c.outputs()
	out.Accepted, out.Ignored, out.Retired, out.Overflow = ev.Accepted, ev.Ignored, ev.Retired, ev.Overflow
	return out
}

func (c *Circuit) outputs() Outputs {
	return Outputs{
		RSI:   c.out.RSI,
		Buy:   c.out.Buy,
		Sell:  c.out.Sell,
		State: c.state,
		Ready: c.hist.Ready(),
		Count: c.hist.Count(),
	}
}

// clear returns every register to its construction value.
func (c *Circuit) clear() {
	c.hist.Reset()
	c.acc.Reset()
	c.div.Reset()
	c.state = Idle
	c.latched, c.current, c.previous = 0, 0, 0
	c.valid = false
	c.issued = false
	c.rs = 0
	c.overflow = false
	c.out = indicator.Decision{}
}
