// Package window selects which calendar dates an ingestion run requests.
package window

import (
	"fmt"
	"strings"
	"time"
)

// Mode names an ingestion strategy.
type Mode string

const (
	// ModeDaily ingests exactly one date, yesterday by default.
	ModeDaily Mode = "daily"
	// ModeBackfill walks backwards one day at a time with no lower bound.
	ModeBackfill Mode = "backfill"
)

// ParseMode validates a mode name.
func ParseMode(v string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(v))) {
	case ModeDaily:
		return ModeDaily, nil
	case ModeBackfill:
		return ModeBackfill, nil
	default:
		return "", fmt.Errorf("unknown ingestion mode %q", v)
	}
}

// Window yields dates lazily. A descending window never runs dry on its own;
// the caller decides when to stop. Restart by building a new Window.
type Window struct {
	mode       Mode
	next       time.Time
	descending bool
	done       bool
}

// Single yields exactly one date.
func Single(date time.Time) *Window {
	return &Window{mode: ModeDaily, next: Truncate(date)}
}

// Descending yields start, start-1d, start-2d, ... forever.
func Descending(start time.Time) *Window {
	return &Window{mode: ModeBackfill, next: Truncate(start), descending: true}
}

// ForMode builds the default window for mode relative to now: yesterday for
// daily runs, today for backfill. Days are UTC calendar days whatever now's zone.
func ForMode(mode Mode, now time.Time) (*Window, error) {
	today := Truncate(now.UTC())
	switch mode {
	case ModeDaily:
		return Single(today.AddDate(0, 0, -1)), nil
	case ModeBackfill:
		return Descending(today), nil
	default:
		return nil, fmt.Errorf("unknown ingestion mode %q", mode)
	}
}

// Mode reports the strategy this window was built for.
func (w *Window) Mode() Mode {
	return w.mode
}

// Next returns the next date and true, or false once a single-date window is spent.
func (w *Window) Next() (time.Time, bool) {
	if w.done {
		return time.Time{}, false
	}
	current := w.next
	if w.descending {
		w.next = current.AddDate(0, 0, -1)
	} else {
		w.done = true
	}
	return current, true
}

// Truncate maps t to midnight UTC of the calendar day t falls on in its own location.
func Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
