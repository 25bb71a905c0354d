package circuit

import (
	"math/bits"

	"github.com/pkg/errors"

	"github.com/hegdemanu/FPGA-RSI/internal/divider"
	"github.com/hegdemanu/FPGA-RSI/internal/ringbuf"
)

// ErrInvalidParams is the cause of every Params validation failure.
var ErrInvalidParams = errors.New("circuit: invalid params")

// Params is the construction-time parameter block. It is copied into the
// circuit and never changes afterwards.
type Params struct {
	PriceWidth     uint             `mapstructure:"price_width" json:"price_width" yaml:"price_width"`
	RSIWidth       uint             `mapstructure:"rsi_width" json:"rsi_width" yaml:"rsi_width"`
	Period         int              `mapstructure:"period" json:"period" yaml:"period"`
	BuyThreshold   uint64           `mapstructure:"buy_threshold" json:"buy_threshold" yaml:"buy_threshold"`
	SellThreshold  uint64           `mapstructure:"sell_threshold" json:"sell_threshold" yaml:"sell_threshold"`
	FracBits       uint             `mapstructure:"fixed_point_bits" json:"fixed_point_bits" yaml:"fixed_point_bits"`
	BufferStrategy ringbuf.Strategy `mapstructure:"buffer_strategy" json:"buffer_strategy" yaml:"buffer_strategy"`

	// DividerKind picks the division unit. DividerDepth is the latency of
	// the fixed-latency unit and is ignored by the serial one, whose latency
	// is the accumulator width.
	DividerKind  divider.Kind `mapstructure:"divider_kind" json:"divider_kind" yaml:"divider_kind"`
	DividerDepth int          `mapstructure:"divider_depth" json:"divider_depth" yaml:"divider_depth"`
}

// DefaultParams returns the reference parameter block.
func DefaultParams() Params {
	return Params{
		PriceWidth:     50,
		RSIWidth:       10,
		Period:         14,
		BuyThreshold:   30,
		SellThreshold:  70,
		FracBits:       8,
		BufferStrategy: ringbuf.StrategyIndexed,
		DividerKind:    divider.KindSerial,
	}
}

// AccumulatorWidth is the register width shared by the accumulator and the
// divider operands: price_width + F + ceil(log2 N) + 1. Smoothed averages stay
// below 2^(price_width+F) and the widest intermediate is N times that.
func (p Params) AccumulatorWidth() uint {
	return p.PriceWidth + p.FracBits + ceilLog2(p.Period) + 1
}

func ceilLog2(n int) uint {
	if n <= 1 {
		return 0
	}
	return uint(bits.Len(uint(n - 1)))
}

// Validate checks that every register fits in 64 bits and that the enums
// are known.
func (p Params) Validate() error {
	switch {
	case p.PriceWidth < 1:
		return errors.Wrap(ErrInvalidParams, "price_width must be at least 1")
	case p.Period < 2:
		return errors.Wrapf(ErrInvalidParams, "period %d must be at least 2", p.Period)
	case 2*p.FracBits+7 > 64:
		return errors.Wrapf(ErrInvalidParams, "fixed_point_bits %d: 100<<2F does not fit in 64 bits", p.FracBits)
	case p.AccumulatorWidth() > divider.MaxWidth:
		return errors.Wrapf(ErrInvalidParams, "accumulator width %d exceeds %d bits (price_width=%d F=%d N=%d)",
			p.AccumulatorWidth(), divider.MaxWidth, p.PriceWidth, p.FracBits, p.Period)
	case p.RSIWidth < 7 || p.RSIWidth > 64:
		return errors.Wrapf(ErrInvalidParams, "rsi_width %d must be in 7..64", p.RSIWidth)
	case p.BuyThreshold > divider.Mask(p.RSIWidth) || p.SellThreshold > divider.Mask(p.RSIWidth):
		return errors.Wrapf(ErrInvalidParams, "thresholds %d/%d do not fit in rsi_width %d",
			p.BuyThreshold, p.SellThreshold, p.RSIWidth)
	}
	switch p.BufferStrategy {
	case ringbuf.StrategyShift, ringbuf.StrategyIndexed, "":
	default:
		return errors.Wrapf(ErrInvalidParams, "unknown buffer_strategy %q", p.BufferStrategy)
	}
	switch p.DividerKind {
	case divider.KindSerial, "":
	case divider.KindFixed:
		if p.DividerDepth < 1 {
			return errors.Wrapf(ErrInvalidParams, "divider_depth %d must be at least 1", p.DividerDepth)
		}
	default:
		return errors.Wrapf(ErrInvalidParams, "unknown divider_kind %q", p.DividerKind)
	}
	return nil
}
