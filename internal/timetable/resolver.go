package timetable

import "time"

// DefaultWindow is how long after a session's start time the attendance
// action remains worth attempting.
const DefaultWindow = 15 * time.Minute

// Current returns the session whose start window contains now: the row's day
// matches today and startTime <= now <= startTime+window. If several rows
// qualify (photographed timetables do contain duplicates), the earliest start
// wins; that is a deliberate tie-break, not an error. Returns nil when
// nothing qualifies.
func (tt *Timetable) Current(now time.Time, window time.Duration) *Session {
	if tt == nil {
		return nil
	}
	if window <= 0 {
		window = DefaultWindow
	}
	today := DayName(now.Weekday())

	var best *Session
	for i := range tt.Sessions {
		s := &tt.Sessions[i]
		if s.Day != today {
			continue
		}
		start := s.Start.At(now)
		if now.Before(start) || now.After(start.Add(window)) {
			continue
		}
		if best == nil || s.Start.Minutes() < best.Start.Minutes() {
			best = s
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

// Next returns the upcoming session with the smallest start time strictly
// after now, comparing time-of-day only. Day-of-week is intentionally
// ignored: this only names the target of a one-time pause. A pause issued
// late at night can therefore target a same-start-time session on another
// day; known simplification.
func (tt *Timetable) Next(now time.Time) *Session {
	if tt == nil {
		return nil
	}
	var best *Session
	for i := range tt.Sessions {
		s := &tt.Sessions[i]
		start := s.Start.At(now)
		if !start.After(now) {
			continue
		}
		if best == nil || s.Start.Minutes() < best.Start.Minutes() {
			best = s
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}
