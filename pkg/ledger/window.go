package ledger

import (
	"fmt"
	"time"
)

const windowTimeLayout = "2006-01-02T15:04:05Z07:00"

// Window is a half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds a window normalized to UTC at second precision.
// It does not validate ordering; see ValidateWindow.
func NewWindow(start time.Time, end time.Time) Window {
	return Window{
		Start: start.UTC().Truncate(time.Second),
		End:   end.UTC().Truncate(time.Second),
	}
}

// Duration returns End minus Start.
func (window Window) Duration() time.Duration {
	return window.End.Sub(window.Start)
}

// Contains reports whether instant falls inside the window.
func (window Window) Contains(instant time.Time) bool {
	return !instant.Before(window.Start) && instant.Before(window.End)
}

// Intersects reports whether two half-open windows share any instant.
func (window Window) Intersects(other Window) bool {
	return window.Start.Before(other.End) && other.Start.Before(window.End)
}

// String renders the window as [start, end).
func (window Window) String() string {
	return fmt.Sprintf("[%s, %s)", window.Start.Format(windowTimeLayout), window.End.Format(windowTimeLayout))
}

// Overlaps reports whether candidate intersects any of the existing windows.
func Overlaps(existing []Window, candidate Window) bool {
	for _, window := range existing {
		if candidate.Intersects(window) {
			return true
		}
	}
	return false
}

// ValidateWindow applies the structural checks a window must pass before any
// overlap check: ordering, same calendar day in location, and not in the past.
func ValidateWindow(window Window, now time.Time, location *time.Location) error {
	if location == nil {
		location = time.UTC
	}
	if !window.End.After(window.Start) {
		return ErrInvalidWindow
	}
	startYear, startMonth, startDay := window.Start.In(location).Date()
	endYear, endMonth, endDay := window.End.In(location).Date()
	if startYear != endYear || startMonth != endMonth || startDay != endDay {
		return ErrCrossDayWindow
	}
	if window.Start.Before(now) {
		return ErrPastWindow
	}
	return nil
}
