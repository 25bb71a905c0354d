package circuit

import (
	"github.com/hegdemanu/FPGA-RSI/internal/divider"
	"github.com/hegdemanu/FPGA-RSI/internal/indicator"
)

// Snapshot is a value copy of every register in a circuit.
type Snapshot struct {
	State    State    `json:"state"`
	History  []uint64 `json:"history"`
	Count    int      `json:"count"`
	Ready    bool     `json:"ready"`
	Latched  uint64   `json:"latched"`
	Current  uint64   `json:"current"`
	Previous uint64   `json:"previous"`
	Valid    bool     `json:"valid"`

	Accumulator indicator.AccumulatorState `json:"accumulator"`

	DivBusy    bool           `json:"div_busy"`
	DivIssued  bool           `json:"div_issued"`
	DivResult  divider.Result `json:"div_result"`
	RS         uint64         `json:"rs"`
	RSOverflow bool           `json:"rs_overflow"`

	Output indicator.Decision `json:"output"`
}

// Snapshot copies the registers. It does not advance the clock.
func (c *Circuit) Snapshot() Snapshot {
	return Snapshot{
		State:       c.state,
		History:     c.hist.Values(),
		Count:       c.hist.Count(),
		Ready:       c.hist.Ready(),
		Latched:     c.latched,
		Current:     c.current,
		Previous:    c.previous,
		Valid:       c.valid,
		Accumulator: c.acc.State(),
		DivBusy:     c.div.Busy(),
		DivIssued:   c.issued,
		DivResult:   c.div.Result(),
		RS:          c.rs,
		RSOverflow:  c.overflow,
		Output:      c.out,
	}
}
