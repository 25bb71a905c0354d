package model

import (
	"context"
	"time"
)

// ── Port Interfaces ──
// These interfaces decouple the engine from concrete transports and stores
// (Redis, NATS, SQLite, Postgres). Each implementation satisfies one or more.

// SampleSource delivers price samples from a transport.
type SampleSource interface {
	// Run forwards samples to out until ctx is cancelled or the transport
	// fails. It does not close out.
	Run(ctx context.Context, out chan<- PriceSample) error

	// Close releases underlying resources.
	Close() error
}

// ResultWriter persists or publishes retired results.
type ResultWriter interface {
	// WriteResults writes results in a single batch where the backend allows.
	WriteResults(ctx context.Context, results []Result) error

	// Close releases underlying resources.
	Close() error
}

// PriceWriter records raw samples so a run can be replayed later.
type PriceWriter interface {
	WritePrices(ctx context.Context, samples []PriceSample) error
	Close() error
}

// PriceReader reads recorded samples for replay and backtests.
type PriceReader interface {
	// ReadPrices returns samples for symbol with TS > after, oldest first.
	ReadPrices(ctx context.Context, symbol string, after time.Time) ([]PriceSample, error)

	// Symbols lists every symbol with recorded samples.
	Symbols(ctx context.Context) ([]string, error)

	Close() error
}
