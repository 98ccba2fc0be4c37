package harvester

import (
	"fmt"
	"time"

	"github.com/blockedby/tg-warehouse/internal/warehouse"
)

// Mode selects how the run's date window is resolved.
type Mode string

// run modes
const (
	// ModeDaily ingests the current UTC calendar day.
	ModeDaily Mode = "daily"
	// ModeBackload ingests an explicit historical date range, day by day.
	ModeBackload Mode = "backload"
	// ModeRecent ingests everything newer than the warehouse's newest message.
	ModeRecent Mode = "recent"
)

// ParseMode parses a run mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDaily, ModeBackload, ModeRecent:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Window is an inclusive [Start, End] time range over which messages are
// fetched.
type Window struct {
	Start time.Time
	End   time.Time
}

// dailyWindow covers the current UTC calendar day.
func dailyWindow(now time.Time) Window {
	start := warehouse.DayOf(now)
	return Window{
		Start: start,
		End:   start.Add(24*time.Hour - time.Microsecond),
	}
}

// recentWindow covers everything past the newest warehoused message.
// An empty warehouse falls back to the last 24 hours. A computed start past
// the end (clock skew, or a max date in the future) clamps to end-24h.
func recentWindow(now time.Time, maxDate *time.Time) Window {
	end := now
	var start time.Time
	if maxDate == nil {
		start = end.Add(-24 * time.Hour)
	} else {
		start = maxDate.Add(time.Second)
	}
	if start.After(end) {
		start = end.Add(-24 * time.Hour)
	}
	return Window{Start: start, End: end}
}

// backloadWindow covers the explicit date range, inclusive of both days.
func backloadWindow(startDate, endDate time.Time) Window {
	return Window{
		Start: warehouse.DayOf(startDate),
		End:   warehouse.DayOf(endDate).Add(24*time.Hour - time.Microsecond),
	}
}

// Split breaks the window into fetch units: backload walks day by day,
// the other modes fetch the window in one piece.
func (w Window) Split(mode Mode) []Window {
	if mode != ModeBackload {
		return []Window{w}
	}
	return w.splitDays()
}

// splitDays slices the window into per-day windows clipped to its bounds,
// oldest first.
func (w Window) splitDays() []Window {
	var out []Window
	for day := warehouse.DayOf(w.Start); !day.After(w.End); day = day.Add(24 * time.Hour) {
		dw := Window{
			Start: day,
			End:   day.Add(24*time.Hour - time.Microsecond),
		}
		if dw.Start.Before(w.Start) {
			dw.Start = w.Start
		}
		if dw.End.After(w.End) {
			dw.End = w.End
		}
		out = append(out, dw)
	}
	return out
}

// Dates returns the calendar days the window touches, oldest first.
func (w Window) Dates() []time.Time {
	var out []time.Time
	for day := warehouse.DayOf(w.Start); !day.After(w.End); day = day.Add(24 * time.Hour) {
		out = append(out, day)
	}
	return out
}
