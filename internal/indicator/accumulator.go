// Package indicator is the RSI datapath: the Wilder accumulator and the
// decision stage that turns a divider quotient into RSI and signals.
package indicator

// AccumulatorState holds the running gain/loss registers. During warm-up the
// sums grow and the averages are zero until seeded; once smoothing is active
// the averages carry FracBits of fraction.
type AccumulatorState struct {
	GainSum uint64 `json:"gain_sum"`
	LossSum uint64 `json:"loss_sum"`
	AvgGain uint64 `json:"avg_gain"`
	AvgLoss uint64 `json:"avg_loss"`
}

// Accumulator maintains Wilder-smoothed average gain and loss in integer
// fixed point. The first period is a plain mean over the warm-up sums; from
// the N-th sample on each step applies
//
//	avg = (avg*(N-1) + (diff << F)) / N
//
// with a zero increment for the side that did not move. The seeded mean is
// not shifted by F, so the transition step mixes scales; callers relying on
// exact values see that in the first smoothed outputs.
type Accumulator struct {
	period   uint64
	fracBits uint
	state    AccumulatorState
}

// NewAccumulator returns a zeroed accumulator for a period of at least 2.
func NewAccumulator(period int, fracBits uint) *Accumulator {
	return &Accumulator{period: uint64(period), fracBits: fracBits}
}

// Diff returns |current - previous| and whether the price went up.
// An unchanged price counts as a (zero) loss.
func Diff(current, previous uint64) (diff uint64, increased bool) {
	if current > previous {
		return current - previous, true
	}
	return previous - current, false
}

// Step folds one price pair into the registers. count is the number of
// samples in the history after the current one was pushed; with fewer than
// two there is no pair yet and only the seeding rule can apply.
func (a *Accumulator) Step(current, previous uint64, count int) {
	c := uint64(count)
	diff, increased := Diff(current, previous)

	if c < a.period {
		if c >= 2 {
			if increased {
				a.state.GainSum += diff
			} else {
				a.state.LossSum += diff
			}
		}
		if c == a.period-1 {
			a.state.AvgGain = a.state.GainSum / a.period
			a.state.AvgLoss = a.state.LossSum / a.period
		}
		return
	}

	var gain, loss uint64
	if increased {
		gain = diff << a.fracBits
	} else {
		loss = diff << a.fracBits
	}
	a.state.AvgGain = (a.state.AvgGain*(a.period-1) + gain) / a.period
	a.state.AvgLoss = (a.state.AvgLoss*(a.period-1) + loss) / a.period
}

// State returns a copy of the registers.
func (a *Accumulator) State() AccumulatorState { return a.state }

func (a *Accumulator) AvgGain() uint64 { return a.state.AvgGain }
func (a *Accumulator) AvgLoss() uint64 { return a.state.AvgLoss }

// Reset clears every register.
func (a *Accumulator) Reset() { a.state = AccumulatorState{} }
