package sim

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/hegdemanu/FPGA-RSI/internal/circuit"
)

// Step is one stimulus action. Exactly one field is set.
type Step struct {
	Price  *uint64  `yaml:"price,omitempty"`
	Prices []uint64 `yaml:"prices,omitempty"`
	Reset  bool     `yaml:"reset,omitempty"`
	Flush  bool     `yaml:"flush,omitempty"`
	Idle   int      `yaml:"idle,omitempty"`
}

func (s Step) validate() error {
	n := 0
	if s.Price != nil {
		n++
	}
	if len(s.Prices) > 0 {
		n++
	}
	if s.Reset {
		n++
	}
	if s.Flush {
		n++
	}
	if s.Idle > 0 {
		n++
	}
	if n != 1 {
		return errors.Errorf("step must set exactly one of price, prices, reset, flush, idle (got %d)", n)
	}
	return nil
}

// Stimulus is a replayable sequence of steps. Params, when present,
// overrides the defaults field by field.
type Stimulus struct {
	Name   string
	Params *circuit.Params
	Steps  []Step
}

type stimulusFile struct {
	Name   string    `yaml:"name"`
	Params yaml.Node `yaml:"params"`
	Steps  []Step    `yaml:"steps"`
}

// LoadStimulus reads a .yaml/.yml or .csv stimulus file.
func LoadStimulus(path string) (*Stimulus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "sim: open stimulus")
	}
	defer f.Close()

	var st *Stimulus
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		st, err = ParseYAML(f)
	case ".csv":
		st, err = ParseCSV(f)
	default:
		return nil, errors.Errorf("sim: unsupported stimulus extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "sim: %s", path)
	}
	if st.Name == "" {
		st.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return st, nil
}

// ParseYAML decodes a YAML stimulus:
//
//	name: rising
//	params: {period: 14}
//	steps:
//	  - prices: [100, 101, 102]
//	  - idle: 3
//	  - reset: true
func ParseYAML(r io.Reader) (*Stimulus, error) {
	var raw stimulusFile
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decode yaml")
	}
	st := &Stimulus{Name: raw.Name, Steps: raw.Steps}
	if !raw.Params.IsZero() {
		p := circuit.DefaultParams()
		if err := raw.Params.Decode(&p); err != nil {
			return nil, errors.Wrap(err, "decode params")
		}
		st.Params = &p
	}
	for i, s := range st.Steps {
		if err := s.validate(); err != nil {
			return nil, errors.Wrapf(err, "step %d", i)
		}
	}
	return st, nil
}

// ParseCSV reads one action per row from the first column: an unsigned
// price, "reset", "flush" or "idle:<n>". A non-numeric first row is taken
// as a header. Blank rows are skipped.
func ParseCSV(r io.Reader) (*Stimulus, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	st := &Stimulus{}
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "csv row %d", row)
		}
		if len(rec) == 0 {
			continue
		}
		field := strings.ToLower(strings.TrimSpace(rec[0]))
		if field == "" {
			continue
		}

		switch {
		case field == "reset":
			st.Steps = append(st.Steps, Step{Reset: true})
		case field == "flush":
			st.Steps = append(st.Steps, Step{Flush: true})
		case strings.HasPrefix(field, "idle:"):
			n, err := strconv.Atoi(strings.TrimPrefix(field, "idle:"))
			if err != nil || n < 1 {
				return nil, errors.Errorf("csv row %d: bad idle count %q", row, rec[0])
			}
			st.Steps = append(st.Steps, Step{Idle: n})
		default:
			v, err := strconv.ParseUint(field, 10, 64)
			if err != nil {
				if row == 0 {
					continue
				}
				return nil, errors.Wrapf(err, "csv row %d", row)
			}
			st.Steps = append(st.Steps, Step{Price: &v})
		}
	}
	return st, nil
}

// Prices returns every price the stimulus feeds, in order.
func (s *Stimulus) Prices() []uint64 {
	var out []uint64
	for _, step := range s.Steps {
		if step.Price != nil {
			out = append(out, *step.Price)
		}
		out = append(out, step.Prices...)
	}
	return out
}

// Report summarises a stimulus run.
type Report struct {
	Retired []Retirement
	Cleared int
	Ticks   uint64
}

// Run replays st on d. It stops at the first stalled sample.
func Run(d *Driver, st *Stimulus) (*Report, error) {
	rep := &Report{}
	start := d.Ticks()
	for i, step := range st.Steps {
		switch {
		case step.Reset:
			d.Reset()
			rep.Cleared++
		case step.Flush:
			d.Flush()
			rep.Cleared++
		case step.Idle > 0:
			d.Idle(step.Idle)
		default:
			prices := step.Prices
			if step.Price != nil {
				prices = []uint64{*step.Price}
			}
			rets, err := d.FeedAll(prices)
			rep.Retired = append(rep.Retired, rets...)
			if err != nil {
				rep.Ticks = d.Ticks() - start
				return rep, errors.Wrapf(err, "step %d", i)
			}
		}
	}
	rep.Ticks = d.Ticks() - start
	return rep, nil
}
