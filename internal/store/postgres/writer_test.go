package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/internal/model"
)

func TestResultRow_MatchesColumns(t *testing.T) {
	ts := time.Unix(1700000000, 0).UTC()
	r := model.Result{Symbol: "BTCUSD", Seq: 14, TS: ts, Price: 123, RSI: 71, Sell: true, Ready: true, Count: 14, Ticks: 67}

	row := resultRow(&r)
	require.Len(t, row, len(columns))
	assert.Equal(t, "BTCUSD", row[0])
	assert.Equal(t, int64(14), row[1])
	assert.Equal(t, ts, row[2])
	assert.Equal(t, int16(71), row[4])
	assert.Equal(t, false, row[5])
	assert.Equal(t, true, row[6])
	assert.Equal(t, int32(67), row[9])
}

// Runs against a real server when RSI_TEST_POSTGRES_DSN is set.
func TestWriter_Integration(t *testing.T) {
	dsn := os.Getenv("RSI_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RSI_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	w, err := New(ctx, dsn, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Ping(ctx))

	sym := "TEST" + time.Now().Format("150405.000000")
	batch := []model.Result{
		{Symbol: sym, Seq: 1, TS: time.Now().UTC(), Price: 10, RSI: 0, Count: 1, Ticks: 5},
		{Symbol: sym, Seq: 2, TS: time.Now().UTC(), Price: 11, RSI: 100, Sell: true, Ready: true, Count: 2, Ticks: 67},
	}
	require.NoError(t, w.WriteResults(ctx, batch))

	var n int
	require.NoError(t, w.pool.QueryRow(ctx, `SELECT count(*) FROM rsi_results WHERE symbol = $1`, sym).Scan(&n))
	assert.Equal(t, 2, n)

	_, err = w.pool.Exec(ctx, `DELETE FROM rsi_results WHERE symbol = $1`, sym)
	require.NoError(t, err)
}
