package fix

import (
	"time"
)

// -------------------------------------------------------------------------
// Schedule — session activity windows
// -------------------------------------------------------------------------

// Schedule decides whether a moment falls inside the session's active
// window and whether a new session period has begun between two moments.
//
// Three variants exist: non-stop (always active), daily (a time-of-day
// window), and weekly (a day+time window). Times are evaluated in the
// schedule's location: an explicit timezone, local time, or UTC.
type Schedule interface {
	// IsSessionTime reports whether now falls inside the active window.
	IsSessionTime(now time.Time) bool

	// IsNewSession reports whether a scheduled end boundary lies in the
	// half-open interval (prev, now]. IsNewSession(t, t) is always false.
	IsNewSession(prev, now time.Time) bool
}

// -------------------------------------------------------------------------
// Non-stop
// -------------------------------------------------------------------------

// NonStopSchedule is always active and never rolls over.
type NonStopSchedule struct{}

// IsSessionTime implements Schedule.
func (NonStopSchedule) IsSessionTime(time.Time) bool { return true }

// IsNewSession implements Schedule.
func (NonStopSchedule) IsNewSession(time.Time, time.Time) bool { return false }

// -------------------------------------------------------------------------
// Daily
// -------------------------------------------------------------------------

// TimeOfDay is a wall-clock time within a day.
type TimeOfDay struct {
	Hour, Minute, Second int
}

// seconds returns the offset from midnight.
func (t TimeOfDay) seconds() int {
	return t.Hour*3600 + t.Minute*60 + t.Second
}

// DailySchedule is active between StartTime and EndTime each day. A
// window whose end precedes its start wraps midnight; equal start and
// end means always active.
type DailySchedule struct {
	StartTime TimeOfDay
	EndTime   TimeOfDay

	// Location is the evaluation timezone; nil means UTC.
	Location *time.Location
}

// IsSessionTime implements Schedule.
func (s *DailySchedule) IsSessionTime(now time.Time) bool {
	local := now.In(s.loc())
	return inTimeWindow(secondsOfDay(local), s.StartTime.seconds(), s.EndTime.seconds())
}

// IsNewSession implements Schedule.
func (s *DailySchedule) IsNewSession(prev, now time.Time) bool {
	if !prev.Before(now) {
		return false
	}
	end := s.nextEnd(prev)
	return end.After(prev) && !end.After(now)
}

// nextEnd returns the first end boundary strictly after t.
func (s *DailySchedule) nextEnd(t time.Time) time.Time {
	local := t.In(s.loc())
	end := time.Date(local.Year(), local.Month(), local.Day(),
		s.EndTime.Hour, s.EndTime.Minute, s.EndTime.Second, 0, s.loc())
	if !end.After(local) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

func (s *DailySchedule) loc() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.UTC
}

// -------------------------------------------------------------------------
// Weekly
// -------------------------------------------------------------------------

// WeeklySchedule is active from (StartDay, StartTime) to (EndDay,
// EndTime) each week. Day ordering is Monday-indexed. When StartDay
// equals EndDay, interpretation depends on whether StartTime precedes
// EndTime: a forward window is a single-day session, a backward one is
// active all week except the gap on that day.
type WeeklySchedule struct {
	StartDay  time.Weekday
	EndDay    time.Weekday
	StartTime TimeOfDay
	EndTime   TimeOfDay

	// Location is the evaluation timezone; nil means UTC.
	Location *time.Location
}

// IsSessionTime implements Schedule.
func (s *WeeklySchedule) IsSessionTime(now time.Time) bool {
	local := now.In(s.loc())
	d := mondayIndex(local.Weekday())
	sd := mondayIndex(s.StartDay)
	ed := mondayIndex(s.EndDay)
	sec := secondsOfDay(local)
	start := s.StartTime.seconds()
	end := s.EndTime.seconds()

	switch {
	case sd < ed:
		if d < sd || d > ed {
			return false
		}
		if d > sd && d < ed {
			return true
		}
		if d == sd {
			return sec >= start
		}
		return sec <= end

	case sd > ed:
		// Window wraps the week boundary.
		if d > sd || d < ed {
			return true
		}
		if d == sd {
			return sec >= start
		}
		if d == ed {
			return sec <= end
		}
		return false

	default: // sd == ed
		if start <= end {
			return d == sd && inTimeWindow(sec, start, end)
		}
		return d != sd || inTimeWindow(sec, start, end)
	}
}

// IsNewSession implements Schedule.
func (s *WeeklySchedule) IsNewSession(prev, now time.Time) bool {
	if !prev.Before(now) {
		return false
	}
	end := s.nextEnd(prev)
	return end.After(prev) && !end.After(now)
}

// nextEnd returns the first (EndDay, EndTime) boundary strictly after t.
func (s *WeeklySchedule) nextEnd(t time.Time) time.Time {
	local := t.In(s.loc())
	daysAhead := (mondayIndex(s.EndDay) - mondayIndex(local.Weekday()) + 7) % 7
	end := time.Date(local.Year(), local.Month(), local.Day(),
		s.EndTime.Hour, s.EndTime.Minute, s.EndTime.Second, 0, s.loc())
	end = end.AddDate(0, 0, daysAhead)
	if !end.After(local) {
		end = end.AddDate(0, 0, 7)
	}
	return end
}

func (s *WeeklySchedule) loc() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.UTC
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// mondayIndex maps time.Weekday (Sunday=0) onto Monday=0..Sunday=6.
func mondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// secondsOfDay returns t's offset from local midnight.
func secondsOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// inTimeWindow checks sec against a possibly midnight-wrapping window.
// Equal bounds mean the window covers the whole day.
func inTimeWindow(sec, start, end int) bool {
	switch {
	case start < end:
		return sec >= start && sec <= end
	case end < start:
		return sec >= start || sec <= end
	default:
		return true
	}
}
