package harvester

import (
	"errors"
	"fmt"
	"time"
)

// validation errors
var (
	ErrNoChats               = errors.New("no chat handles configured and none registered in the progress store")
	ErrUnknownMode           = errors.New(`run mode must be "daily", "backload" or "recent"`)
	ErrBackloadDatesRequired = errors.New("backload requires both start and end dates")
	ErrInvalidDate           = errors.New("dates must be in YYYY-MM-DD format")
	ErrFutureDate            = errors.New("backload dates cannot be in the future")
	ErrStartAfterEnd         = errors.New("start date must not be after end date")
)

// RunRequest describes one harvest run.
type RunRequest struct {
	// Chats - handles to process. Empty means every chat already
	// registered in the progress store.
	Chats []string

	// Mode - daily, backload or recent.
	Mode Mode

	// StartDate / EndDate - backload bounds, YYYY-MM-DD.
	// Ignored by the other modes.
	StartDate string
	EndDate   string
}

// Validate performs request validation against the given current time.
// Backload with a future bound is rejected here, before any fetch occurs.
func (r *RunRequest) Validate(now time.Time) error {
	if _, err := ParseMode(string(r.Mode)); err != nil {
		return err
	}

	if r.Mode != ModeBackload {
		return nil
	}

	if r.StartDate == "" || r.EndDate == "" {
		return ErrBackloadDatesRequired
	}
	start, end, err := r.backloadBounds()
	if err != nil {
		return err
	}
	if start.After(end) {
		return ErrStartAfterEnd
	}
	if start.After(now) || end.After(now) {
		return ErrFutureDate
	}
	return nil
}

// backloadBounds parses the backload dates as UTC days.
func (r *RunRequest) backloadBounds() (start, end time.Time, err error) {
	start, err = time.ParseInLocation("2006-01-02", r.StartDate, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, r.StartDate)
	}
	end, err = time.ParseInLocation("2006-01-02", r.EndDate, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, r.EndDate)
	}
	return start, end, nil
}
