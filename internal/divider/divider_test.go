package divider

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run starts a division and clocks until Done, returning the result and the
// number of ticks it took. It fails the test if Done never fires.
func run(t *testing.T, u Unit, n, d uint64) (Result, int) {
	t.Helper()
	require.True(t, u.Start(n, d), "start rejected on idle unit")
	limit := u.Latency() + 2
	for ticks := 1; ticks <= limit; ticks++ {
		u.Tick()
		if u.Done() {
			return u.Result(), ticks
		}
	}
	t.Fatalf("done never fired within %d ticks (n=%d d=%d)", limit, n, d)
	return Result{}, 0
}

func units(width uint) map[string]Unit {
	return map[string]Unit{
		"serial":  NewSerial(width),
		"fixed-1": NewPipelined(width, 1),
		"fixed-5": NewPipelined(width, 5),
	}
}

func TestSerial_Exhaustive8Bit(t *testing.T) {
	u := NewSerial(8)
	for n := uint64(0); n < 256; n++ {
		for d := uint64(1); d < 256; d++ {
			res, ticks := run(t, u, n, d)
			if ticks != 8 || res.Quotient != n/d || res.Remainder != n%d || res.Overflow {
				t.Fatalf("%d/%d: got q=%d r=%d ovf=%v after %d ticks", n, d, res.Quotient, res.Remainder, res.Overflow, ticks)
			}
		}
	}
}

func TestUnits_RandomWideOperands(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, width := range []uint{16, 55, 63, 64} {
		mask := Mask(width)
		for name, u := range units(width) {
			for i := 0; i < 500; i++ {
				n := rng.Uint64() & mask
				d := (rng.Uint64() >> uint(rng.Intn(64))) & mask
				if d == 0 {
					d = 1
				}
				res, ticks := run(t, u, n, d)
				require.Equal(t, u.Latency(), ticks, "%s w=%d", name, width)
				require.Equal(t, n/d, res.Quotient, "%s w=%d %d/%d", name, width, n, d)
				require.Equal(t, n%d, res.Remainder, "%s w=%d %d/%d", name, width, n, d)
				require.False(t, res.Overflow)
			}
		}
	}
}

func TestSerial_64BitCarryPath(t *testing.T) {
	u := NewSerial(64)
	cases := [][2]uint64{
		{^uint64(0), 1},
		{^uint64(0), ^uint64(0)},
		{^uint64(0), 1 << 63},
		{^uint64(0) - 1, (1 << 63) + 1},
		{1 << 63, 3},
	}
	for _, c := range cases {
		res, _ := run(t, u, c[0], c[1])
		assert.Equal(t, c[0]/c[1], res.Quotient, "%d/%d", c[0], c[1])
		assert.Equal(t, c[0]%c[1], res.Remainder, "%d/%d", c[0], c[1])
	}
}

func TestUnits_ZeroDenominatorOverflows(t *testing.T) {
	for name, u := range units(12) {
		res, ticks := run(t, u, 1234, 0)
		assert.Equal(t, u.Latency(), ticks, name)
		assert.True(t, res.Overflow, name)
		assert.Equal(t, uint64(0xFFF), res.Quotient, name)
	}
}

func TestUnits_StartRejectedWhileBusy(t *testing.T) {
	for name, u := range units(8) {
		require.True(t, u.Start(200, 7), name)
		u.Tick()
		if u.Latency() > 1 {
			require.True(t, u.Busy(), name)
			assert.False(t, u.Start(9, 3), "%s: second start accepted while busy", name)
		}
		for !u.Done() {
			u.Tick()
		}
		assert.Equal(t, uint64(200/7), u.Result().Quotient, "%s: in-flight operands replaced", name)
	}
}

func TestUnits_DonePulsesOnce(t *testing.T) {
	for name, u := range units(8) {
		_, _ = run(t, u, 100, 9)
		assert.False(t, u.Busy(), name)
		for i := 0; i < 3*u.Latency(); i++ {
			u.Tick()
			require.False(t, u.Done(), "%s: done fired again on idle tick %d", name, i)
		}
		// the retired result stays readable
		assert.Equal(t, uint64(11), u.Result().Quotient, name)
	}
}

func TestUnits_ResetAbortsInFlight(t *testing.T) {
	for name, u := range units(10) {
		require.True(t, u.Start(999, 3), name)
		u.Tick()
		u.Reset()
		assert.False(t, u.Busy(), name)
		assert.False(t, u.Done(), name)
		assert.Equal(t, Result{}, u.Result(), name)
		for i := 0; i < 2*u.Latency(); i++ {
			u.Tick()
			require.False(t, u.Done(), "%s: aborted division completed", name)
		}
		res, _ := run(t, u, 10, 4)
		assert.Equal(t, uint64(2), res.Quotient, name)
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(KindSerial, 0, 0)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = New(KindSerial, 65, 0)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = New(KindFixed, 32, 0)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = New("radix4", 32, 0)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	u, err := New(KindSerial, 63, 0)
	require.NoError(t, err)
	assert.Equal(t, 63, u.Latency())

	u, err = New(KindFixed, 63, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, u.Latency())
	assert.Equal(t, uint(63), u.Width())
}

func TestMask(t *testing.T) {
	assert.Equal(t, uint64(1), Mask(1))
	assert.Equal(t, uint64(0xFF), Mask(8))
	assert.Equal(t, ^uint64(0)>>1, Mask(63))
	assert.Equal(t, ^uint64(0), Mask(64))
}
