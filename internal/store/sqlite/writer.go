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

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/rsi.db"
}

// Writer is a single-connection SQLite writer with transaction batching.
// It records raw prices for replay and every retired result.
type Writer struct {
	db  *sql.DB
	log *zap.Logger
}

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

// New opens the database in WAL mode and creates the schema.
func New(cfg WriterConfig, log *zap.Logger) (*Writer, error) {
	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return nil, errors.Wrap(err, "sqlite open")
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "sqlite schema")
	}

	log = log.Named("sqlite")
	log.Info("opened database", zap.String("path", cfg.DBPath))
	return &Writer{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS prices (
			symbol TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			price  INTEGER NOT NULL,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS rsi_results (
			symbol   TEXT    NOT NULL,
			seq      INTEGER NOT NULL,
			ts       INTEGER NOT NULL,
			price    INTEGER NOT NULL,
			rsi      INTEGER NOT NULL,
			buy      INTEGER NOT NULL,
			sell     INTEGER NOT NULL,
			ready    INTEGER NOT NULL,
			count    INTEGER NOT NULL,
			ticks    INTEGER NOT NULL,
			overflow INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_rsi_results_symbol_ts ON rsi_results (symbol, ts);
	`)
	return err
}

// DB returns the underlying sql.DB.
func (w *Writer) DB() *sql.DB { return w.db }

// Ping is the health probe.
func (w *Writer) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// Run drains results from ch into batched transactions. It flushes every
// defaultBatchSize results or every defaultFlushDelay, whichever comes
// first, and returns when ctx is cancelled or ch is closed.
func (w *Writer) Run(ctx context.Context, ch <-chan model.Result) {
	batch := make([]model.Result, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		// the run context may already be gone; the final flush still lands
		if err := w.WriteResults(context.Background(), batch); err != nil {
			w.log.Error("batch insert failed", zap.Int("results", len(batch)), zap.Error(err))
		} else {
			w.log.Debug("committed results", zap.Int("results", len(batch)), zap.Duration("took", time.Since(start)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case r, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// WriteResults inserts results in a single transaction.
func (w *Writer) WriteResults(ctx context.Context, results []model.Result) error {
	if len(results) == 0 {
		return nil
	}
	return w.inTx(ctx, `
		INSERT INTO rsi_results (symbol, seq, ts, price, rsi, buy, sell, ready, count, ticks, overflow)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, func(stmt *sql.Stmt) error {
		for _, r := range results {
			if _, err := stmt.ExecContext(ctx,
				r.Symbol, int64(r.Seq), r.TS.UnixNano(), int64(r.Price), int64(r.RSI),
				b2i(r.Buy), b2i(r.Sell), b2i(r.Ready), r.Count, r.Ticks, b2i(r.Overflow),
			); err != nil {
				return errors.Wrapf(err, "insert result %s#%d", r.Symbol, r.Seq)
			}
		}
		return nil
	})
}

// WritePrices records raw samples. A sample with a timestamp already stored
// for its symbol replaces the earlier one.
func (w *Writer) WritePrices(ctx context.Context, samples []model.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}
	return w.inTx(ctx, `
		INSERT OR REPLACE INTO prices (symbol, ts, price) VALUES (?, ?, ?)
	`, func(stmt *sql.Stmt) error {
		for _, s := range samples {
			if _, err := stmt.ExecContext(ctx, s.Symbol, s.TS.UnixNano(), int64(s.Price)); err != nil {
				return errors.Wrapf(err, "insert price %s", s.Symbol)
			}
		}
		return nil
	})
}

func (w *Writer) inTx(ctx context.Context, query string, fn func(*sql.Stmt) error) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "prepare")
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// Close closes the database connection.
func (w *Writer) Close() error {
	return w.db.Close()
}
