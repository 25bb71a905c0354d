package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	s, err := decode("prices", "prices.BTCUSD", []byte(`{"symbol":"BTCUSD","price":42}`))
	require.NoError(t, err)
	assert.Equal(t, "BTCUSD", s.Symbol)
	assert.Equal(t, uint64(42), s.Price)

	s, err = decode("prices", "prices.ETHUSD", []byte(`{"price":7}`))
	require.NoError(t, err)
	assert.Equal(t, "ETHUSD", s.Symbol, "symbol from subject")

	s, err = decode("prices", "prices.ETHUSD", []byte(`{"symbol":"SOLUSD","price":7}`))
	require.NoError(t, err)
	assert.Equal(t, "SOLUSD", s.Symbol, "payload symbol wins")

	_, err = decode("prices", "other.ETHUSD", []byte(`{"price":7}`))
	assert.Error(t, err)
	_, err = decode("prices", "prices.X", []byte(`not json`))
	assert.Error(t, err)
}

func TestSubjects(t *testing.T) {
	c := &Conn{cfg: Config{}.withDefaults()}
	assert.Equal(t, []string{"prices.>"}, c.subjects())

	c.symbols = []string{"BTCUSD", "ETHUSD"}
	assert.Equal(t, []string{"prices.BTCUSD", "prices.ETHUSD"}, c.subjects())
	assert.Equal(t, "rsi.BTCUSD", Subject(c.cfg.ResultSubject, "BTCUSD"))
}
