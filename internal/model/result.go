package model

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// Result is one retired sample: the price that went in and the circuit
// outputs committed on its Decide tick.
type Result struct {
	Symbol   string    `json:"symbol"`
	Seq      uint64    `json:"seq"`   // retirement number since the last reset
	TS       time.Time `json:"ts"`    // sample timestamp
	Price    uint64    `json:"price"` // price as latched (masked to price width)
	RSI      uint64    `json:"rsi"`
	Buy      bool      `json:"buy"`
	Sell     bool      `json:"sell"`
	Ready    bool      `json:"ready"`
	Count    int       `json:"count"` // history fill after the push
	Ticks    int       `json:"ticks"` // clock ticks from accept to Decide
	Overflow bool      `json:"overflow,omitempty"`
}

// JSON returns the JSON-encoded result (ignoring errors for hot-path usage).
func (r *Result) JSON() []byte {
	b, _ := sonic.Marshal(r)
	return b
}

// DecodeResult parses a JSON result.
func DecodeResult(b []byte) (Result, error) {
	var r Result
	if err := sonic.Unmarshal(b, &r); err != nil {
		return r, errors.Wrap(err, "model: decode result")
	}
	return r, nil
}

// Side is the direction of a trading signal.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Signal is raised when buy or sell becomes true for an instrument.
type Signal struct {
	Symbol string    `json:"symbol"`
	Side   Side      `json:"side"`
	RSI    uint64    `json:"rsi"`
	Price  uint64    `json:"price"`
	TS     time.Time `json:"ts"`
}
