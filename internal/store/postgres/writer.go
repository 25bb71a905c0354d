// Package postgres archives retired results in PostgreSQL through pgx.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS rsi_results (
	symbol   TEXT        NOT NULL,
	seq      BIGINT      NOT NULL,
	ts       TIMESTAMPTZ NOT NULL,
	price    BIGINT      NOT NULL,
	rsi      SMALLINT    NOT NULL,
	buy      BOOLEAN     NOT NULL,
	sell     BOOLEAN     NOT NULL,
	ready    BOOLEAN     NOT NULL,
	count    INTEGER     NOT NULL,
	ticks    INTEGER     NOT NULL,
	overflow BOOLEAN     NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_rsi_results_symbol_ts ON rsi_results (symbol, ts);
`

var columns = []string{"symbol", "seq", "ts", "price", "rsi", "buy", "sell", "ready", "count", "ticks", "overflow"}

// Writer copies result batches into rsi_results.
type Writer struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// New opens a pool on dsn and creates the schema.
func New(ctx context.Context, dsn string, log *zap.Logger) (*Writer, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres pool")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres ping")
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres schema")
	}

	log = log.Named("postgres")
	log.Info("connected", zap.String("host", pool.Config().ConnConfig.Host))
	return &Writer{pool: pool, log: log}, nil
}

// Ping is the health probe.
func (w *Writer) Ping(ctx context.Context) error {
	return w.pool.Ping(ctx)
}

// WriteResults copies the batch inside one read-committed transaction.
func (w *Writer) WriteResults(ctx context.Context, results []model.Result) error {
	if len(results) == 0 {
		return nil
	}
	return w.inTx(ctx, func(tx pgx.Tx) error {
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"rsi_results"}, columns,
			pgx.CopyFromSlice(len(results), func(i int) ([]any, error) {
				return resultRow(&results[i]), nil
			}))
		if err != nil {
			return errors.Wrap(err, "copy rsi_results")
		}
		if int(n) != len(results) {
			return errors.Errorf("copied %d of %d results", n, len(results))
		}
		return nil
	})
}

func (w *Writer) inTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := w.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = errors.Wrap(tx.Commit(ctx), "commit")
	}()
	return fn(tx)
}

// resultRow orders r's fields like columns.
func resultRow(r *model.Result) []any {
	return []any{
		r.Symbol,
		int64(r.Seq),
		r.TS,
		int64(r.Price),
		int16(r.RSI),
		r.Buy,
		r.Sell,
		r.Ready,
		int32(r.Count),
		int32(r.Ticks),
		r.Overflow,
	}
}

// Close closes the pool.
func (w *Writer) Close() error {
	w.pool.Close()
	return nil
}
