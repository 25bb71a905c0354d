package divider

// Pipelined models a fixed-depth divider: the quotient is formed when the
// operands are latched and emerges depth ticks later. It still holds a single
// division in flight, which is all the RSI control loop ever issues.
type Pipelined struct {
	width uint
	mask  uint64
	depth int

	remaining int
	pending   Result

	busy   bool
	done   bool
	result Result
}

// NewPipelined returns an idle fixed-latency divider. depth must be >= 1.
func NewPipelined(width uint, depth int) *Pipelined {
	return &Pipelined{width: width, mask: Mask(width), depth: depth}
}

func (p *Pipelined) Start(numerator, denominator uint64) bool {
	if p.busy {
		return false
	}
	n, d := numerator&p.mask, denominator&p.mask
	if d == 0 {
		p.pending = Result{Quotient: p.mask, Overflow: true}
	} else {
		p.pending = Result{Quotient: n / d, Remainder: n % d}
	}
	p.remaining = p.depth
	p.busy = true
	p.done = false
	return true
}

func (p *Pipelined) Tick() {
	p.done = false
	if !p.busy {
		return
	}
	p.remaining--
	if p.remaining > 0 {
		return
	}
	p.busy = false
	p.done = true
	p.result = p.pending
}

func (p *Pipelined) Busy() bool     { return p.busy }
func (p *Pipelined) Done() bool     { return p.done }
func (p *Pipelined) Result() Result { return p.result }
func (p *Pipelined) Latency() int   { return p.depth }
func (p *Pipelined) Width() uint    { return p.width }

func (p *Pipelined) Reset() {
	*p = Pipelined{width: p.width, mask: p.mask, depth: p.depth}
}
