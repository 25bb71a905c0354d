package sqlite

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/internal/model"
)

// Reader provides read-only access to recorded prices and results for
// replay and backtests.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string, log *zap.Logger) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "sqlite open reader")
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Named("sqlite-reader").Info("opened database", zap.String("path", dbPath))
	return &Reader{db: db}, nil
}

// ReadPrices returns samples for symbol with TS > after, oldest first.
func (r *Reader) ReadPrices(ctx context.Context, symbol string, after time.Time) ([]model.PriceSample, error) {
	afterNS := int64(-1 << 63)
	if !after.IsZero() {
		afterNS = after.UnixNano()
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, ts, price
		FROM prices
		WHERE symbol = ? AND ts > ?
		ORDER BY ts ASC
	`, symbol, afterNS)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite query prices")
	}
	defer rows.Close()

	var out []model.PriceSample
	for rows.Next() {
		var s model.PriceSample
		var ts, price int64
		if err := rows.Scan(&s.Symbol, &ts, &price); err != nil {
			return nil, errors.Wrap(err, "sqlite scan prices")
		}
		s.TS = time.Unix(0, ts).UTC()
		s.Price = uint64(price)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Symbols lists every symbol with recorded prices.
func (r *Reader) Symbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM prices ORDER BY symbol`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite query symbols")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, errors.Wrap(err, "sqlite scan symbols")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReadResults returns the last limit results for symbol, oldest first.
func (r *Reader) ReadResults(ctx context.Context, symbol string, limit int) ([]model.Result, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, seq, ts, price, rsi, buy, sell, ready, count, ticks, overflow
		FROM (
			SELECT rowid, * FROM rsi_results
			WHERE symbol = ?
			ORDER BY rowid DESC
			LIMIT ?
		)
		ORDER BY rowid ASC
	`, symbol, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite query rsi_results")
	}
	defer rows.Close()

	var out []model.Result
	for rows.Next() {
		var res model.Result
		var seq, ts, price, rsi int64
		if err := rows.Scan(&res.Symbol, &seq, &ts, &price, &rsi,
			&res.Buy, &res.Sell, &res.Ready, &res.Count, &res.Ticks, &res.Overflow); err != nil {
			return nil, errors.Wrap(err, "sqlite scan rsi_results")
		}
		res.Seq = uint64(seq)
		res.TS = time.Unix(0, ts).UTC()
		res.Price = uint64(price)
		res.RSI = uint64(rsi)
		out = append(out, res)
	}
	return out, rows.Err()
}

// Close closes the reader's database connection.
func (r *Reader) Close() error {
	return r.db.Close()
}
