package indengine

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/internal/circuit"
	"github.com/hegdemanu/FPGA-RSI/internal/metrics"
	"github.com/hegdemanu/FPGA-RSI/internal/model"
)

func newTestEngine(t *testing.T) (*Engine, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	e, err := NewEngine(circuit.DefaultParams(), zap.NewNop(), m)
	require.NoError(t, err)
	return e, m
}

func feedRising(t *testing.T, e *Engine, symbol string, n int) []model.Result {
	t.Helper()
	base := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	out := make([]model.Result, 0, n)
	for i := 0; i < n; i++ {
		r, err := e.Process(model.PriceSample{Symbol: symbol, Price: 100 + uint64(i), TS: base.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func TestNewEngine_RejectsBadParams(t *testing.T) {
	p := circuit.DefaultParams()
	p.Period = 1
	_, err := NewEngine(p, zap.NewNop(), nil)
	assert.ErrorIs(t, err, circuit.ErrInvalidParams)
}

func TestEngine_ProcessRisingWindow(t *testing.T) {
	e, m := newTestEngine(t)
	assert.Equal(t, 67, e.SampleTicks())

	res := feedRising(t, e, "BTCUSD", 14)
	for i, r := range res[:13] {
		assert.Equal(t, uint64(i+1), r.Seq)
		assert.False(t, r.Ready)
		assert.Equal(t, 5, r.Ticks)
	}

	last := res[13]
	assert.Equal(t, "BTCUSD", last.Symbol)
	assert.Equal(t, uint64(14), last.Seq)
	assert.Equal(t, uint64(113), last.Price)
	assert.True(t, last.Ready)
	assert.Equal(t, uint64(100), last.RSI)
	assert.True(t, last.Sell)
	assert.False(t, last.Buy)
	assert.Equal(t, 14, last.Count)
	assert.Equal(t, 67, last.Ticks)

	assert.Equal(t, float64(13*5+67), testutil.ToFloat64(m.TicksTotal))
	assert.Equal(t, 14.0, testutil.ToFloat64(m.SamplesTotal.WithLabelValues("BTCUSD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DivisionsTotal))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.RSIValue.WithLabelValues("BTCUSD")))
	assert.Equal(t, e.Ticks("BTCUSD"), uint64(13*5+67))
}

func TestEngine_MasksPriceToWidth(t *testing.T) {
	e, _ := newTestEngine(t)
	r, err := e.Process(model.PriceSample{Symbol: "X", Price: 1<<50 | 7})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), r.Price)

	snap, ok := e.Snapshot("X")
	require.True(t, ok)
	assert.Equal(t, uint64(7), snap.Current)
}

func TestEngine_SymbolsAreIndependent(t *testing.T) {
	e, _ := newTestEngine(t)
	feedRising(t, e, "ETHUSD", 3)
	feedRising(t, e, "BTCUSD", 14)

	assert.Equal(t, []string{"BTCUSD", "ETHUSD"}, e.Symbols())

	btc, _ := e.Snapshot("BTCUSD")
	eth, _ := e.Snapshot("ETHUSD")
	assert.True(t, btc.Ready)
	assert.Equal(t, 3, eth.Count)
	assert.False(t, eth.Ready)
}

func TestEngine_FlushAndReset(t *testing.T) {
	e, m := newTestEngine(t)
	feedRising(t, e, "BTCUSD", 14)
	feedRising(t, e, "ETHUSD", 5)

	assert.True(t, e.Flush("BTCUSD"))
	snap, _ := e.Snapshot("BTCUSD")
	assert.Zero(t, snap.Count)
	assert.Equal(t, circuit.Idle, snap.State)

	r := feedRising(t, e, "BTCUSD", 1)[0]
	assert.Equal(t, uint64(1), r.Seq, "sequence restarts after a clear")

	assert.True(t, e.Reset("ETHUSD"))
	assert.False(t, e.Reset("NOPE"))
	assert.False(t, e.Flush("NOPE"))

	assert.Equal(t, 2, e.FlushAll())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ClearsTotal.WithLabelValues("flush")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClearsTotal.WithLabelValues("reset")))

	_, ok := e.Snapshot("NOPE")
	assert.False(t, ok)
	assert.Zero(t, e.Ticks("NOPE"))
}

func TestEngine_WarmSkipsMetrics(t *testing.T) {
	e, m := newTestEngine(t)
	base := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	for i := 0; i < 14; i++ {
		_, err := e.Warm(model.PriceSample{Symbol: "BTCUSD", Price: 100 + uint64(i), TS: base.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}

	snap, ok := e.Snapshot("BTCUSD")
	require.True(t, ok)
	assert.True(t, snap.Ready)
	assert.Zero(t, testutil.ToFloat64(m.TicksTotal))
	assert.Zero(t, testutil.ToFloat64(m.SamplesTotal.WithLabelValues("BTCUSD")))
	assert.Zero(t, testutil.ToFloat64(m.DivisionsTotal))

	r, err := e.Process(model.PriceSample{Symbol: "BTCUSD", Price: 114, TS: base.Add(14 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, uint64(15), r.Seq)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SamplesTotal.WithLabelValues("BTCUSD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DivisionsTotal))
	assert.Equal(t, float64(67), testutil.ToFloat64(m.TicksTotal))
}

func TestEngine_NilMetrics(t *testing.T) {
	e, err := NewEngine(circuit.DefaultParams(), zap.NewNop(), nil)
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		feedRising(t, e, "BTCUSD", 14)
		e.FlushAll()
	})
}
