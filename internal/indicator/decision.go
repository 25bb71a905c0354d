package indicator

// MaxRSI is the upper bound of every committed RSI value.
const MaxRSI = 100

// Decision is the committed output of one Decide step.
type Decision struct {
	RSI  uint64 `json:"rsi"`
	Buy  bool   `json:"buy"`
	Sell bool   `json:"sell"`
}

// DecisionEngine maps a relative-strength quotient onto the 0..100 RSI scale
// and compares it against the buy/sell thresholds. It has no state of its
// own; signals are recomputed on every call with no hysteresis.
type DecisionEngine struct {
	fracBits  uint
	buyBelow  uint64
	sellAbove uint64
}

// NewDecisionEngine returns an engine for F fraction bits. buy fires when the
// RSI is strictly below buyThreshold, sell when strictly above sellThreshold.
func NewDecisionEngine(fracBits uint, buyThreshold, sellThreshold uint64) *DecisionEngine {
	return &DecisionEngine{fracBits: fracBits, buyBelow: buyThreshold, sellAbove: sellThreshold}
}

// RSI computes
//
//	(100*2^F - 100*2^(2F)/(2^F + rs)) >> F
//
// saturated at 100. With no average loss the ratio is meaningless and the
// result is pinned at 100.
func (e *DecisionEngine) RSI(rs, avgLoss uint64) uint64 {
	if avgLoss == 0 {
		return MaxRSI
	}
	one := uint64(1) << e.fracBits
	denom := one + rs
	if denom < rs {
		// 2^F + rs wrapped: the subtracted term is zero at any representable width.
		return MaxRSI
	}
	calc := MaxRSI*one - (MaxRSI<<(2*e.fracBits))/denom
	rsi := calc >> e.fracBits
	if rsi > MaxRSI {
		rsi = MaxRSI
	}
	return rsi
}

// Decide computes the RSI and both threshold signals.
func (e *DecisionEngine) Decide(rs, avgLoss uint64) Decision {
	rsi := e.RSI(rs, avgLoss)
	return Decision{
		RSI:  rsi,
		Buy:  rsi < e.buyBelow,
		Sell: rsi > e.sellAbove,
	}
}
