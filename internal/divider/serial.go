package divider

// Serial is a restoring shift-and-subtract divider. The partial remainder
// and the dividend share one double-width shift register (rem:quo); each
// tick shifts it left by one bit, trial-subtracts the denominator from the
// upper half and shifts the resulting quotient bit into the lower half.
// A division therefore takes exactly Width ticks and needs no multiplier.
type Serial struct {
	width uint
	mask  uint64

	rem   uint64 // upper half: partial remainder
	quo   uint64 // lower half: dividend bits out, quotient bits in
	den   uint64
	steps uint
	zero  bool

	busy   bool
	done   bool
	result Result
}

// NewSerial returns an idle serial divider for width-bit operands.
// width must be in 1..64; New validates it for callers taking config input.
func NewSerial(width uint) *Serial {
	return &Serial{width: width, mask: Mask(width)}
}

func (s *Serial) Start(numerator, denominator uint64) bool {
	if s.busy {
		return false
	}
	s.rem = 0
	s.quo = numerator & s.mask
	s.den = denominator & s.mask
	s.zero = s.den == 0
	s.steps = 0
	s.busy = true
	s.done = false
	return true
}

func (s *Serial) Tick() {
	s.done = false
	if !s.busy {
		return
	}
	if !s.zero {
		s.shiftSubtract()
	}
	s.steps++
	if s.steps < s.width {
		return
	}

	s.busy = false
	s.done = true
	if s.zero {
		s.result = Result{Quotient: s.mask, Overflow: true}
		return
	}
	s.result = Result{Quotient: s.quo, Remainder: s.rem}
}

// shiftSubtract performs one restoring step on the rem:quo register pair.
func (s *Serial) shiftSubtract() {
	top := (s.quo >> (s.width - 1)) & 1
	s.quo = (s.quo << 1) & s.mask

	// At width 64 the shifted remainder needs a 65th bit; carry holds it.
	carry := s.rem >> 63
	s.rem = s.rem<<1 | top
	if carry == 1 || s.rem >= s.den {
		s.rem -= s.den
		s.quo |= 1
	}
}

func (s *Serial) Busy() bool     { return s.busy }
func (s *Serial) Done() bool     { return s.done }
func (s *Serial) Result() Result { return s.result }
func (s *Serial) Latency() int   { return int(s.width) }
func (s *Serial) Width() uint    { return s.width }

func (s *Serial) Reset() {
	*s = Serial{width: s.width, mask: s.mask}
}
