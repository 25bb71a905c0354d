// Package session is a trading-session calendar. The engine asserts the
// end-of-period flush when a session closes so no window spans two
// sessions.
package session

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/pkg/errors"
)

// Config describes one daily session. Open and Close are "HH:MM" wall
// clock times in Timezone; Holidays are "YYYY-MM-DD" dates.
type Config struct {
	Enabled  bool     `mapstructure:"enabled"`
	Timezone string   `mapstructure:"timezone"`
	Open     string   `mapstructure:"open"`
	Close    string   `mapstructure:"close"`
	Weekends bool     `mapstructure:"weekends"` // trade Saturday and Sunday too
	Holidays []string `mapstructure:"holidays"`
}

// Calendar answers session questions for one Config.
type Calendar struct {
	loc         *time.Location
	open, close int // minutes after midnight
	weekends    bool
	holidays    map[string]bool
}

// New parses cfg. Close must be after Open; overnight sessions are not
// supported.
func New(cfg Config) (*Calendar, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.Wrapf(err, "session: timezone %q", tz)
	}
	open, err := parseHM(cfg.Open)
	if err != nil {
		return nil, errors.Wrap(err, "session: open")
	}
	cl, err := parseHM(cfg.Close)
	if err != nil {
		return nil, errors.Wrap(err, "session: close")
	}
	if cl <= open {
		return nil, errors.Errorf("session: close %s must be after open %s", cfg.Close, cfg.Open)
	}

	c := &Calendar{loc: loc, open: open, close: cl, weekends: cfg.Weekends, holidays: make(map[string]bool, len(cfg.Holidays))}
	for _, h := range cfg.Holidays {
		d, err := time.ParseInLocation(time.DateOnly, h, loc)
		if err != nil {
			return nil, errors.Wrapf(err, "session: holiday %q", h)
		}
		c.holidays[d.Format(time.DateOnly)] = true
	}
	return c, nil
}

func parseHM(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Location returns the session timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// IsTradingDay reports whether the day containing t has a session.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	lt := t.In(c.loc)
	if wd := lt.Weekday(); !c.weekends && (wd == time.Saturday || wd == time.Sunday) {
		return false
	}
	return !c.holidays[lt.Format(time.DateOnly)]
}

// IsOpen reports whether t falls inside a session.
func (c *Calendar) IsOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	lt := t.In(c.loc)
	hm := lt.Hour()*60 + lt.Minute()
	return hm >= c.open && hm < c.close
}

func (c *Calendar) at(day time.Time, minutes int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, c.loc)
}

// next returns the first session boundary at the given minute that is
// strictly after t.
func (c *Calendar) next(t time.Time, minutes int) time.Time {
	lt := t.In(c.loc)
	for i := 0; i < 30; i++ {
		d := lt.AddDate(0, 0, i)
		if b := c.at(d, minutes); b.After(t) && c.IsTradingDay(b) {
			return b
		}
	}
	// a month without a trading day: fall back to tomorrow
	return c.at(lt.AddDate(0, 0, 1), minutes)
}

// NextOpen returns the next session open after t.
func (c *Calendar) NextOpen(t time.Time) time.Time { return c.next(t, c.open) }

// NextClose returns the next session close after t.
func (c *Calendar) NextClose(t time.Time) time.Time { return c.next(t, c.close) }

// Status returns a human-readable session status.
func (c *Calendar) Status(t time.Time) string {
	if c.IsOpen(t) {
		return fmt.Sprintf("session open, closes in %s", fmtDur(c.NextClose(t).Sub(t)))
	}
	next := c.NextOpen(t)
	lt := next.In(c.loc)
	return fmt.Sprintf("session closed, opens %s %s (%s)", lt.Weekday().String()[:3], lt.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
