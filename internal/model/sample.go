package model

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// PriceSample is one unsigned integer price for one instrument. The engine
// never scales or rounds it; producers pick the unit (ticks, cents, satoshi).
type PriceSample struct {
	Symbol string    `json:"symbol"`
	Price  uint64    `json:"price"`
	TS     time.Time `json:"ts"`
}

// JSON returns the JSON-encoded sample (ignoring errors for hot-path usage).
func (s *PriceSample) JSON() []byte {
	b, _ := sonic.Marshal(s)
	return b
}

// DecodeSample parses a JSON price sample. A missing symbol is an error.
func DecodeSample(b []byte) (PriceSample, error) {
	return DecodeSampleFor(b, "")
}

// DecodeSampleFor parses a JSON price sample, using symbol when the payload
// carries none. A sample that ends up without a symbol is an error.
func DecodeSampleFor(b []byte, symbol string) (PriceSample, error) {
	var s PriceSample
	if err := sonic.Unmarshal(b, &s); err != nil {
		return s, errors.Wrap(err, "model: decode sample")
	}
	if s.Symbol == "" {
		s.Symbol = symbol
	}
	if s.Symbol == "" {
		return s, errors.New("model: sample without symbol")
	}
	return s, nil
}
