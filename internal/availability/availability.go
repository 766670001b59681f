// Package availability computes whether live support is currently staffed.
// The backend endpoint is authoritative; this local clock math is a
// best-effort fallback and preview. Check is a pure function: given the same
// now, timezone, schedule, holidays, and override it always returns the same
// result.
package availability

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/real-rm/livechat/internal/constants"
)

var (
	// ErrInvalidTimezone is returned when the schedule timezone cannot be loaded
	ErrInvalidTimezone = errors.New("invalid schedule timezone")
	// ErrInvalidWindow is returned when a working-hours window is malformed
	ErrInvalidWindow = errors.New("invalid working-hours window")
)

// Window is one working-hours interval within a weekday, in minutes from
// midnight in the schedule's timezone. End is exclusive.
type Window struct {
	StartMinute int
	EndMinute   int
}

// Schedule is the configured availability state: an enabled flag, an explicit
// online override, weekly working-hours windows with a timezone, holiday
// exception dates, and an optional custom message shown while closed.
type Schedule struct {
	Enabled        bool
	OverrideOnline bool
	Timezone       string
	Weekly         map[time.Weekday][]Window
	OfflineMessage string
	Holidays       []string // dates in constants.HolidayDateLayout, schedule-local
}

// Result is the outcome of an availability check.
type Result struct {
	IsOpen        bool       `json:"is_open"`
	Message       string     `json:"message"`
	NextAvailable *time.Time `json:"next_available,omitempty"`
}

// Validate checks the schedule for malformed windows and an unknown timezone.
func (s *Schedule) Validate() error {
	if _, err := s.location(); err != nil {
		return err
	}
	for day, windows := range s.Weekly {
		for _, w := range windows {
			// No else needed: early return pattern (guard clause)
			if w.StartMinute < 0 || w.EndMinute > 24*60 || w.StartMinute >= w.EndMinute {
				return fmt.Errorf("%w: %s %d-%d", ErrInvalidWindow, day, w.StartMinute, w.EndMinute)
			}
		}
	}
	for _, h := range s.Holidays {
		// No else needed: early return pattern (guard clause)
		if _, err := time.Parse(constants.HolidayDateLayout, h); err != nil {
			return fmt.Errorf("%w: bad holiday date %q", ErrInvalidWindow, h)
		}
	}
	return nil
}

func (s *Schedule) location() (*time.Location, error) {
	tz := s.Timezone
	if tz == "" {
		tz = constants.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	return loc, nil
}

// Check derives the current availability from the schedule.
// Derivation: enabled AND (override-online OR (within window AND not a holiday)).
// A holiday overrides the weekly window even inside working hours; the
// override flag, if true, always wins regardless of schedule.
func Check(now time.Time, s Schedule) (Result, error) {
	if !s.Enabled {
		return Result{IsOpen: false, Message: s.closedMessage("Live support is not enabled")}, nil
	}

	// Override always wins
	// No else needed: early return pattern (guard clause)
	if s.OverrideOnline {
		return Result{IsOpen: true, Message: "Live support is online"}, nil
	}

	loc, err := s.location()
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return Result{}, err
	}

	local := now.In(loc)
	if s.withinWindow(local) && !s.isHoliday(local) {
		return Result{IsOpen: true, Message: "Live support is online"}, nil
	}

	result := Result{IsOpen: false, Message: s.closedMessage("Live support is currently closed")}
	if next, ok := s.nextOpen(local); ok {
		utc := next.UTC()
		result.NextAvailable = &utc
		if s.OfflineMessage == "" {
			result.Message = fmt.Sprintf("Live support opens at %s", next.Format("Mon 15:04 MST"))
		}
	}
	return result, nil
}

// closedMessage prefers the configured offline message over the generic one.
func (s *Schedule) closedMessage(fallback string) string {
	if s.OfflineMessage != "" {
		return s.OfflineMessage
	}
	return fallback
}

// withinWindow reports whether the local time falls inside any weekly window.
func (s *Schedule) withinWindow(local time.Time) bool {
	minute := local.Hour()*60 + local.Minute()
	for _, w := range s.Weekly[local.Weekday()] {
		if minute >= w.StartMinute && minute < w.EndMinute {
			return true
		}
	}
	return false
}

// isHoliday reports whether the local date is a configured holiday exception.
func (s *Schedule) isHoliday(local time.Time) bool {
	date := local.Format(constants.HolidayDateLayout)
	for _, h := range s.Holidays {
		if h == date {
			return true
		}
	}
	return false
}

// nextOpen scans forward for the next non-holiday window opening, up to two
// weeks out. Returns false when the schedule has no windows at all.
func (s *Schedule) nextOpen(local time.Time) (time.Time, bool) {
	for dayOffset := 0; dayOffset < 14; dayOffset++ {
		day := local.AddDate(0, 0, dayOffset)
		midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
		if s.isHoliday(midnight) {
			continue
		}

		windows := append([]Window(nil), s.Weekly[midnight.Weekday()]...)
		sort.Slice(windows, func(i, j int) bool { return windows[i].StartMinute < windows[j].StartMinute })

		for _, w := range windows {
			opens := midnight.Add(time.Duration(w.StartMinute) * time.Minute)
			if opens.After(local) {
				return opens, true
			}
		}
	}
	return time.Time{}, false
}
